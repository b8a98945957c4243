// Package breaker guards a repository.RemoteStore with a circuit breaker so a
// failing backend is short-circuited instead of stalling every cart mutation.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/sony/gobreaker/v2"
)

type Settings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
	// OnStateChange is called with healthy=false when the breaker opens.
	OnStateChange func(name string, healthy bool)
}

type RemoteStore struct {
	next repository.RemoteStore
	cb   *gobreaker.CircuitBreaker[any]
}

var _ repository.RemoteStore = (*RemoteStore)(nil)

func New(next repository.RemoteStore, s Settings) *RemoteStore {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Business outcomes are not backend failures.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, repository.ErrRowNotFound) ||
				errors.Is(err, repository.ErrDuplicatePurchase) ||
				errors.Is(err, repository.ErrInvalidQuantity)
		},
	}
	if s.OnStateChange != nil {
		notify := s.OnStateChange
		st.OnStateChange = func(name string, _ gobreaker.State, to gobreaker.State) {
			notify(name, to != gobreaker.StateOpen)
		}
	}

	return &RemoteStore{next: next, cb: gobreaker.NewCircuitBreaker[any](st)}
}

func (b *RemoteStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *RemoteStore) ListCartRows(ctx context.Context, userID string) ([]domain.CartRow, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.ListCartRows(ctx, userID)
	})
	if err != nil {
		return nil, translate(err)
	}
	return v.([]domain.CartRow), nil
}

func (b *RemoteStore) InsertCartRow(ctx context.Context, userID, productID string, quantity int) (string, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.InsertCartRow(ctx, userID, productID, quantity)
	})
	if err != nil {
		return "", translate(err)
	}
	return v.(string), nil
}

func (b *RemoteStore) UpdateCartRowQuantity(ctx context.Context, userID, rowID string, quantity int) error {
	return b.exec(func() error { return b.next.UpdateCartRowQuantity(ctx, userID, rowID, quantity) })
}

func (b *RemoteStore) DeleteCartRow(ctx context.Context, userID, rowID string) error {
	return b.exec(func() error { return b.next.DeleteCartRow(ctx, userID, rowID) })
}

func (b *RemoteStore) DeleteAllCartRows(ctx context.Context, userID string) error {
	return b.exec(func() error { return b.next.DeleteAllCartRows(ctx, userID) })
}

func (b *RemoteStore) InsertPurchaseRecord(ctx context.Context, record domain.PurchaseRecord) error {
	return b.exec(func() error { return b.next.InsertPurchaseRecord(ctx, record) })
}

func (b *RemoteStore) ListPurchaseRecords(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.ListPurchaseRecords(ctx, userID)
	})
	if err != nil {
		return nil, translate(err)
	}
	return v.([]domain.PurchaseRecord), nil
}

func (b *RemoteStore) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

func (b *RemoteStore) exec(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return translate(err)
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
	}
	return err
}
