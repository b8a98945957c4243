package catalog

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Catalog is the read-only product source. GetProductByID returns
// domain.ErrProductNotFound for unknown ids.
type Catalog interface {
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListAllProducts(ctx context.Context) ([]*domain.Product, error)
}
