package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	m     sync.Mutex
	err   error
	calls int
}

func (f *flakyStore) fail() error {
	f.m.Lock()
	defer f.m.Unlock()
	f.calls++
	return f.err
}

func (f *flakyStore) setErr(err error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.err = err
}

func (f *flakyStore) ListCartRows(context.Context, string) ([]domain.CartRow, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []domain.CartRow{{ID: "r1", ProductID: "1", Quantity: 1}}, nil
}

func (f *flakyStore) InsertCartRow(context.Context, string, string, int) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return "r2", nil
}

func (f *flakyStore) UpdateCartRowQuantity(context.Context, string, string, int) error {
	return f.fail()
}

func (f *flakyStore) DeleteCartRow(context.Context, string, string) error { return f.fail() }

func (f *flakyStore) DeleteAllCartRows(context.Context, string) error { return f.fail() }

func (f *flakyStore) InsertPurchaseRecord(context.Context, domain.PurchaseRecord) error {
	return f.fail()
}

func (f *flakyStore) ListPurchaseRecords(context.Context, string) ([]domain.PurchaseRecord, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyStore) Close(context.Context) error { return nil }

func TestBreaker_PassesThrough(t *testing.T) {
	store := &flakyStore{}
	b := New(store, Settings{Name: "remote", MaxFailures: 2, OpenTimeout: time.Minute})

	rows, err := b.ListCartRows(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	id, err := b.InsertCartRow(context.Background(), "u1", "1", 1)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)

	records, err := b.ListPurchaseRecords(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	store := &flakyStore{err: errors.New("connection refused")}
	var (
		m      sync.Mutex
		health []bool
	)
	b := New(store, Settings{
		Name:        "remote",
		MaxFailures: 2,
		OpenTimeout: time.Minute,
		OnStateChange: func(_ string, healthy bool) {
			m.Lock()
			defer m.Unlock()
			health = append(health, healthy)
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.DeleteAllCartRows(ctx, "u1")
		require.ErrorContains(t, err, "connection refused")
		assert.NotErrorIs(t, err, domain.ErrRemoteUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.DeleteAllCartRows(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.Equal(t, 2, store.calls, "open breaker must not reach the store")

	m.Lock()
	defer m.Unlock()
	assert.Equal(t, []bool{false}, health)
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	store := &flakyStore{err: repository.ErrRowNotFound}
	b := New(store, Settings{Name: "remote", MaxFailures: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.DeleteCartRow(context.Background(), "u1", "missing")
		assert.ErrorIs(t, err, repository.ErrRowNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_Recovers(t *testing.T) {
	store := &flakyStore{err: errors.New("timeout")}
	b := New(store, Settings{Name: "remote", MaxFailures: 1, OpenTimeout: 20 * time.Millisecond})

	_, err := b.ListCartRows(context.Background(), "u1")
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	store.setErr(nil)
	require.Eventually(t, func() bool {
		_, err := b.ListCartRows(context.Background(), "u1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
