package cart

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
)

var errBackendDown = errors.New("backend down")

type mockIdentity struct {
	m    sync.Mutex
	id   domain.Identity
	subs []func(domain.Identity)
}

func (p *mockIdentity) CurrentIdentity(context.Context) (domain.Identity, error) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.id, nil
}

func (p *mockIdentity) OnIdentityChange(fn func(domain.Identity)) func() {
	p.m.Lock()
	defer p.m.Unlock()
	p.subs = append(p.subs, fn)
	n := len(p.subs) - 1
	return func() {
		p.m.Lock()
		defer p.m.Unlock()
		p.subs[n] = nil
	}
}

func (p *mockIdentity) set(id domain.Identity) {
	p.m.Lock()
	p.id = id
	subs := make([]func(domain.Identity), len(p.subs))
	copy(subs, p.subs)
	p.m.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(id)
		}
	}
}

func (p *mockIdentity) signIn(userID string) { p.set(domain.Authenticated(userID)) }
func (p *mockIdentity) signOut() { p.set(domain.Anonymous) }

type mockRemote struct {
	m         sync.Mutex
	seq       int
	rows      []domain.CartRow
	purchases []domain.PurchaseRecord

	err         error
	deleteErr   error
	failProduct map[string]bool
	listHook    func(userID string)

	inFlight      int
	maxInFlight   int
	purchaseDelay time.Duration
}

var _ repository.RemoteStore = (*mockRemote)(nil)

func newMockRemote() *mockRemote {
	return &mockRemote{failProduct: make(map[string]bool)}
}

func (r *mockRemote) seed(userID, productID string, quantity int) string {
	r.m.Lock()
	defer r.m.Unlock()
	return r.insertLocked(userID, productID, quantity)
}

func (r *mockRemote) insertLocked(userID, productID string, quantity int) string {
	r.seq++
	id := "row-" + strconv.Itoa(r.seq)
	r.rows = append(r.rows, domain.CartRow{
		ID:        id,
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Unix(int64(r.seq), 0),
	})
	return id
}

func (r *mockRemote) setErr(err error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.err = err
}

// userRows returns product -> total quantity for userID.
func (r *mockRemote) userRows(userID string) map[string]int {
	r.m.Lock()
	defer r.m.Unlock()
	out := make(map[string]int)
	for _, row := range r.rows {
		if row.UserID == userID {
			out[row.ProductID] += row.Quantity
		}
	}
	return out
}

func (r *mockRemote) rowCount(userID string) int {
	r.m.Lock()
	defer r.m.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.UserID == userID {
			n++
		}
	}
	return n
}

func (r *mockRemote) purchaseRecords() []domain.PurchaseRecord {
	r.m.Lock()
	defer r.m.Unlock()
	out := append([]domain.PurchaseRecord(nil), r.purchases...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (r *mockRemote) ListCartRows(_ context.Context, userID string) ([]domain.CartRow, error) {
	r.m.Lock()
	hook := r.listHook
	r.m.Unlock()
	if hook != nil {
		hook(userID)
	}

	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.CartRow
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *mockRemote) InsertCartRow(_ context.Context, userID, productID string, quantity int) (string, error) {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return r.insertLocked(userID, productID, quantity), nil
}

func (r *mockRemote) UpdateCartRowQuantity(_ context.Context, userID, rowID string, quantity int) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	for i := range r.rows {
		if r.rows[i].ID == rowID && r.rows[i].UserID == userID {
			r.rows[i].Quantity = quantity
			return nil
		}
	}
	return repository.ErrRowNotFound
}

func (r *mockRemote) DeleteCartRow(_ context.Context, userID, rowID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for i := range r.rows {
		if r.rows[i].ID == rowID && r.rows[i].UserID == userID {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return repository.ErrRowNotFound
}

func (r *mockRemote) DeleteAllCartRows(_ context.Context, userID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.deleteErr != nil {
		return r.deleteErr
	}
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *mockRemote) InsertPurchaseRecord(_ context.Context, record domain.PurchaseRecord) error {
	r.m.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	delay := r.purchaseDelay
	r.m.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	r.m.Lock()
	defer r.m.Unlock()
	r.inFlight--
	if r.err != nil {
		return r.err
	}
	if r.failProduct[record.ProductID] {
		return errBackendDown
	}
	r.purchases = append(r.purchases, record)
	return nil
}

func (r *mockRemote) ListPurchaseRecords(_ context.Context, userID string) ([]domain.PurchaseRecord, error) {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.PurchaseRecord
	for _, p := range r.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *mockRemote) Close(context.Context) error { return nil }

type mockCatalog struct {
	m        sync.Mutex
	products map[string]*domain.Product
	err      error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{products: map[string]*domain.Product{
		"P1": {ID: "P1", Name: "Quantum Laptop XG", Price: 1499.99, Category: "Laptops", ImageURL: "https://img/1.jpg"},
		"P2": {ID: "P2", Name: "Stealth Pro Keyboard", Price: 129.50, Category: "Peripherals"},
		"P3": {ID: "P3", Name: "Aura Wireless Mouse", Price: 79.00, Category: "Peripherals"},
		"P4": {ID: "P4", Name: "Nova 27\" 4K Monitor", Price: 549.00, Category: "Monitors"},
	}}
}

func (c *mockCatalog) setPrice(id string, price float64) {
	c.m.Lock()
	defer c.m.Unlock()
	p := *c.products[id]
	p.Price = price
	c.products[id] = &p
}

func (c *mockCatalog) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *mockCatalog) ListAllProducts(context.Context) ([]*domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]*domain.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	return out, nil
}

type mockLocal struct {
	m    sync.Mutex
	data map[string]string
}

func newMockLocal() *mockLocal {
	return &mockLocal{data: make(map[string]string)}
}

func (l *mockLocal) Read(key string) (string, bool, error) {
	l.m.Lock()
	defer l.m.Unlock()
	v, ok := l.data[key]
	return v, ok, nil
}

func (l *mockLocal) Write(key, value string) error {
	l.m.Lock()
	defer l.m.Unlock()
	l.data[key] = value
	return nil
}

type mockEvents struct {
	m      sync.Mutex
	events []domain.CheckoutCompleted
	err    error
}

func (e *mockEvents) PublishCheckoutCompleted(_ context.Context, event domain.CheckoutCompleted) error {
	e.m.Lock()
	defer e.m.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *mockEvents) published() []domain.CheckoutCompleted {
	e.m.Lock()
	defer e.m.Unlock()
	return append([]domain.CheckoutCompleted(nil), e.events...)
}

type fixture struct {
	svc     *Service
	ident   *mockIdentity
	remote  *mockRemote
	catalog *mockCatalog
	local   *mockLocal
	events  *mockEvents
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		ident:   &mockIdentity{},
		remote:  newMockRemote(),
		catalog: newMockCatalog(),
		local:   newMockLocal(),
		events:  &mockEvents{},
	}
	f.svc = NewService(Deps{
		Identity: f.ident,
		Remote:   f.remote,
		Local:    f.local,
		Catalog:  f.catalog,
		Events:   f.events,
	}, opts...)
	return f
}
