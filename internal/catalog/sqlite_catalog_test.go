package catalog_test

import (
	"context"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *catalog.SQLiteCatalog {
	// Use in-memory database for tests
	c, err := catalog.NewSQLiteCatalog(":memory:")
	require.NoError(t, err)

	require.NoError(t, c.RunMigrations("./migrations"))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestListAllProducts_ReturnsSeededProducts(t *testing.T) {
	c := setupTestDB(t)

	products, err := c.ListAllProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 8)
	assert.Equal(t, "1", products[0].ID)
	assert.Equal(t, "Quantum Laptop XG", products[0].Name)
	assert.Equal(t, "8", products[7].ID)
}

func TestListAllProducts_CancelledContext(t *testing.T) {
	c := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListAllProducts(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query products")
}

func TestGetProductByID_ReturnsProduct(t *testing.T) {
	c := setupTestDB(t)

	p, err := c.GetProductByID(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "Stealth Pro Keyboard", p.Name)
	assert.InDelta(t, 129.50, p.Price, 0.001)
	assert.Equal(t, "Peripherals", p.Category)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestGetProductByID_NotFound(t *testing.T) {
	c := setupTestDB(t)

	_, err := c.GetProductByID(context.Background(), "999")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	c := setupTestDB(t)
	require.NoError(t, c.RunMigrations("./migrations"))
}
