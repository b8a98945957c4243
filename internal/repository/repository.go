package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var (
	ErrRowNotFound       = errors.New("cart row not found")
	ErrDuplicatePurchase = errors.New("purchase record already exists")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
)

// RemoteStore is the per-user scoped backend for cart rows and purchase
// records. Every call carries the owning userID so one user can never touch
// another user's rows.
type RemoteStore interface {
	ListCartRows(ctx context.Context, userID string) ([]domain.CartRow, error)
	InsertCartRow(ctx context.Context, userID, productID string, quantity int) (string, error)
	UpdateCartRowQuantity(ctx context.Context, userID, rowID string, quantity int) error
	DeleteCartRow(ctx context.Context, userID, rowID string) error
	DeleteAllCartRows(ctx context.Context, userID string) error
	InsertPurchaseRecord(ctx context.Context, record domain.PurchaseRecord) error
	ListPurchaseRecords(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)
	Close(ctx context.Context) error
}

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}
