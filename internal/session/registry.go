// Package session keeps one identity provider and one cart service per client
// session, created on first use and evicted after a period of inactivity.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/identity"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

const (
	// DefaultIdleTTL is how long a session survives without requests.
	DefaultIdleTTL = 30 * time.Minute

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 30 * time.Second
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrRegistryClosed   = errors.New("session registry closed")
)

type Session struct {
	ID       string
	Identity *identity.Session
	Cart     *cart.Service

	lastSeen time.Time
}

type Deps struct {
	Remote      repository.RemoteStore
	Local       localstore.Storage
	Catalog     catalog.Catalog
	Events      cart.EventPublisher
	Logger      *zap.Logger
	JWTSecret   []byte
	CartOptions []cart.Option
}

type Registry struct {
	deps    Deps
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewRegistry starts the background cleanup loop; call Close to stop it.
func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	r := &Registry{
		deps:        deps,
		idleTTL:     idleTTL,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		stopCleanup: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expireIdle()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *Registry) expireIdle() {
	now := r.now()

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.idleTTL {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Cart.Stop()
		r.deps.Logger.Debug("session expired", zap.String("session_id", s.ID))
	}
}

// Get returns the session for id, creating and hydrating it on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" || len(id) > 128 {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[id]; ok {
		s.lastSeen = r.now()
		return s, nil
	}

	ident := identity.NewSession(r.deps.JWTSecret)
	svc := cart.NewService(cart.Deps{
		Identity: ident,
		Remote:   r.deps.Remote,
		Local:    localstore.NewScoped(r.deps.Local, id),
		Catalog:  r.deps.Catalog,
		Events:   r.deps.Events,
		Logger:   r.deps.Logger.With(zap.String("session_id", id)),
	}, r.deps.CartOptions...)

	if err := svc.Start(ctx); err != nil {
		r.deps.Logger.Warn("initial cart hydration failed",
			zap.String("session_id", id), zap.Error(err))
	}

	s := &Session{ID: id, Identity: ident, Cart: svc, lastSeen: r.now()}
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the background cleanup and detaches every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	close(r.stopCleanup)
	r.wg.Wait()

	for _, s := range sessions {
		s.Cart.Stop()
	}
	return nil
}
