// Package cart owns the current cart contents for one client session and keeps
// them consistent with whichever backing store matches the session identity:
// local durable storage while anonymous, the remote store once signed in.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/identity"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

// LocalCartKey is the single local storage key holding the anonymous cart.
const LocalCartKey = "it-select-cart"

type State int

const (
	StateUninitialized State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// EventPublisher receives completed checkouts.
type EventPublisher interface {
	PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompleted) error
}

type Deps struct {
	Identity identity.Provider
	Remote   repository.RemoteStore
	Local    localstore.Storage
	Catalog  catalog.Catalog
	Events   EventPublisher
	Logger   *zap.Logger
}

type Option func(*Service)

// WithCheckoutConcurrency bounds the number of purchase records submitted at once.
func WithCheckoutConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.checkoutConcurrency = n
		}
	}
}

// WithRetainFailed controls what checkout does with lines whose purchase
// record failed. When false the whole cart is cleared regardless.
func WithRetainFailed(retain bool) Option {
	return func(s *Service) { s.retainFailed = retain }
}

// WithMergeOnLogin re-adds the anonymous cart into the remote cart on sign in
// instead of discarding it.
func WithMergeOnLogin(merge bool) Option {
	return func(s *Service) { s.mergeOnLogin = merge }
}

// WithRemoteTimeout bounds every remote store call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	identity identity.Provider
	remote   repository.RemoteStore
	local    localstore.Storage
	catalog  catalog.Catalog
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time

	checkoutConcurrency int
	retainFailed        bool
	mergeOnLogin        bool
	remoteTimeout       time.Duration

	// writeMu serializes hydrations, mutations and checkout so remote writes
	// land in the order they were issued.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	current    domain.Identity
	generation uint64
	lines      []domain.CartLine
	rowIDs     map[string][]string
	hydrateErr error
	// pendingDeletes holds, per user, remote row ids of purchased lines whose
	// delete failed. They are retried and hidden on every remote hydration.
	pendingDeletes map[string]map[string]struct{}

	published   atomic.Pointer[domain.CartSnapshot]
	unsubscribe func()
}

func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		identity:            deps.Identity,
		remote:              deps.Remote,
		local:               deps.Local,
		catalog:             deps.Catalog,
		events:              deps.Events,
		log:                 deps.Logger,
		now:                 time.Now,
		checkoutConcurrency: 4,
		retainFailed:        true,
		remoteTimeout:       5 * time.Second,
		rowIDs:              make(map[string][]string),
		pendingDeletes:      make(map[string]map[string]struct{}),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.published.Store(&domain.CartSnapshot{UpdatedAt: s.now()})
	return s
}

// Start subscribes to identity changes and runs the first hydration. The
// returned error is a non-fatal hydration warning.
func (s *Service) Start(ctx context.Context) error {
	s.unsubscribe = s.identity.OnIdentityChange(s.handleIdentityChange)
	return s.Hydrate(ctx)
}

func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Hydrate reloads the cart from the store matching the current identity. A
// failed remote fetch leaves the snapshot untouched and is returned wrapped in
// domain.ErrRemoteUnavailable; callers should treat it as a warning.
func (s *Service) Hydrate(ctx context.Context) error {
	id, err := s.identity.CurrentIdentity(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}
	gen, prev := s.transition(id, false)
	return s.hydrate(ctx, gen, id, prev)
}

func (s *Service) handleIdentityChange(id domain.Identity) {
	gen, prev := s.transition(id, true)
	if gen == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.remoteTimeout)
	defer cancel()
	_ = s.hydrate(ctx, gen, id, prev)
}

// transition moves the state machine to id and returns the generation the
// following hydration must carry. With changedOnly set, a notification for
// the identity already held returns generation 0 and triggers nothing.
func (s *Service) transition(id domain.Identity, changedOnly bool) (uint64, []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if changedOnly && s.state != StateUninitialized && s.current == id {
		return 0, nil
	}

	var prevAnon []domain.CartLine
	if s.state == StateAnonymous && id.IsAuthenticated() {
		prevAnon = append(prevAnon, s.lines...)
	}

	s.generation++
	s.current = id
	if id.IsAuthenticated() {
		s.state = StateAuthenticated
	} else {
		s.state = StateAnonymous
	}
	return s.generation, prevAnon
}

func (s *Service) hydrate(ctx context.Context, gen uint64, id domain.Identity, anonLines []domain.CartLine) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.stale(gen) {
		return nil
	}

	if !id.IsAuthenticated() {
		lines := s.readLocal()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen {
			return nil
		}
		s.lines = lines
		s.rowIDs = make(map[string][]string)
		s.hydrateErr = nil
		s.publishLocked()
		return nil
	}

	lines, rowIDs, err := s.fetchRemote(ctx, id.UserID)
	if err != nil {
		err = fmt.Errorf("%w: hydrate cart: %w", domain.ErrRemoteUnavailable, err)
		s.log.Warn("cart hydration failed, keeping previous snapshot",
			zap.String("user_id", id.UserID), zap.Error(err))
		s.mu.Lock()
		if s.generation == gen {
			s.hydrateErr = err
		}
		s.mu.Unlock()
		return err
	}

	if s.mergeOnLogin && len(anonLines) > 0 {
		lines = s.mergeAnonymous(ctx, id.UserID, lines, rowIDs, anonLines)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.log.Debug("discarding stale hydration", zap.Uint64("generation", gen))
		return nil
	}
	s.lines = lines
	s.rowIDs = rowIDs
	s.hydrateErr = nil
	s.publishLocked()
	return nil
}

// fetchRemote lists the user's rows and joins them with the catalog. Rows for
// the same product are folded into one line.
func (s *Service) fetchRemote(ctx context.Context, userID string) ([]domain.CartLine, map[string][]string, error) {
	pending := s.flushPendingDeletes(ctx, userID)

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	rows, err := s.remote.ListCartRows(rctx, userID)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]domain.CartLine, 0, len(rows))
	index := make(map[string]int, len(rows))
	rowIDs := make(map[string][]string, len(rows))
	for _, row := range rows {
		if _, ok := pending[row.ID]; ok || row.Quantity <= 0 {
			continue
		}
		if i, ok := index[row.ProductID]; ok {
			lines[i].Quantity += row.Quantity
			rowIDs[row.ProductID] = append(rowIDs[row.ProductID], row.ID)
			continue
		}

		p, err := s.catalog.GetProductByID(ctx, row.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			s.log.Warn("remote cart row references unknown product",
				zap.String("row_id", row.ID), zap.String("product_id", row.ProductID))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("catalog lookup %s: %w", row.ProductID, err)
		}

		index[row.ProductID] = len(lines)
		lines = append(lines, domain.NewCartLine(p, row.Quantity))
		rowIDs[row.ProductID] = []string{row.ID}
	}
	return lines, rowIDs, nil
}

// flushPendingDeletes retries the deletes left over from earlier checkouts
// and returns the row ids that still could not be removed.
func (s *Service) flushPendingDeletes(ctx context.Context, userID string) map[string]struct{} {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pendingDeletes[userID]))
	for id := range s.pendingDeletes[userID] {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	var done []string
	for _, id := range ids {
		err := s.remote.DeleteCartRow(rctx, userID, id)
		if err == nil || errors.Is(err, repository.ErrRowNotFound) {
			done = append(done, id)
			continue
		}
		s.log.Warn("retry of purchased row delete failed",
			zap.String("user_id", userID), zap.String("row_id", id), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.pendingDeletes[userID]
	for _, id := range done {
		delete(set, id)
	}
	if len(set) == 0 {
		delete(s.pendingDeletes, userID)
		return nil
	}
	remaining := make(map[string]struct{}, len(set))
	for id := range set {
		remaining[id] = struct{}{}
	}
	return remaining
}

// markPendingLocked queues row ids for deletion on the next hydration.
// Caller holds mu.
func (s *Service) markPendingLocked(userID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	set := s.pendingDeletes[userID]
	if set == nil {
		set = make(map[string]struct{}, len(ids))
		s.pendingDeletes[userID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (s *Service) mergeAnonymous(ctx context.Context, userID string, lines []domain.CartLine, rowIDs map[string][]string, anon []domain.CartLine) []domain.CartLine {
	merged := false
	for _, a := range anon {
		i := indexOf(lines, a.ProductID)
		if i < 0 {
			line := a
			line.CheckoutFailed = false
			lines = append(lines, line)
			i = len(lines) - 1
		} else {
			lines[i].Quantity += a.Quantity
		}
		if err := s.syncLine(ctx, userID, lines[i].ProductID, lines[i].Quantity, rowIDs); err != nil {
			s.log.Warn("failed to merge anonymous line into remote cart",
				zap.String("product_id", a.ProductID), zap.Error(err))
			continue
		}
		merged = true
	}
	if merged {
		s.writeLocal(nil)
	}
	return lines
}

func (s *Service) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen
}

func (s *Service) readLocal() []domain.CartLine {
	raw, ok, err := s.local.Read(LocalCartKey)
	if err != nil {
		s.log.Warn("failed to read local cart", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var stored []domain.CartLine
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.log.Warn("discarding corrupt local cart", zap.Error(err))
		return nil
	}

	lines := make([]domain.CartLine, 0, len(stored))
	for _, l := range stored {
		if l.ProductID == "" || l.Quantity <= 0 {
			continue
		}
		if i := indexOf(lines, l.ProductID); i >= 0 {
			lines[i].Quantity += l.Quantity
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func (s *Service) writeLocal(lines []domain.CartLine) {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		s.log.Error("failed to encode local cart", zap.Error(err))
		return
	}
	if err := s.local.Write(LocalCartKey, string(data)); err != nil {
		s.log.Error("failed to write local cart", zap.Error(err))
	}
}

// publishLocked swaps in a fresh immutable copy for readers. Caller holds mu.
func (s *Service) publishLocked() {
	snap := &domain.CartSnapshot{
		Lines:     append([]domain.CartLine(nil), s.lines...),
		UpdatedAt: s.now(),
	}
	s.published.Store(snap)
}

// Snapshot returns the last published cart. It must not be modified.
func (s *Service) Snapshot() *domain.CartSnapshot {
	return s.published.Load()
}

func (s *Service) Total() float64 {
	return s.Snapshot().Total()
}

func (s *Service) ItemCount() int {
	return s.Snapshot().ItemCount()
}

func (s *Service) State() (State, domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// HydrationWarning returns the error of the last hydration for the current
// identity, or nil when it succeeded.
func (s *Service) HydrationWarning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrateErr
}

func indexOf(lines []domain.CartLine, productID string) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}
