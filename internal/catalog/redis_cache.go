package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errCacheMiss = errors.New("cache miss")

const allProductsKey = "catalog:products"

// CachedCatalog is a read-through Redis cache in front of another Catalog.
// Redis failures degrade to the underlying catalog.
type CachedCatalog struct {
	next    Catalog
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group // Prevents cache stampede
	log     *zap.Logger
}

var _ Catalog = (*CachedCatalog)(nil)

func NewCachedCatalog(next Catalog, client *redis.Client, log *zap.Logger) *CachedCatalog {
	return &CachedCatalog{
		next:    next,
		client:  client,
		baseTTL: 15 * time.Minute,
		log:     log,
	}
}

func (c *CachedCatalog) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	key := productKey(id)
	v, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		var p domain.Product
		err := c.get(ctx, key, &p)
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, errCacheMiss) {
			c.log.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}

		product, err := c.next.GetProductByID(ctx, id)
		if err != nil {
			return nil, err
		}
		c.setAsync(key, product)
		return product, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Product), nil
}

func (c *CachedCatalog) ListAllProducts(ctx context.Context) ([]*domain.Product, error) {
	v, err, _ := c.sfg.Do(allProductsKey, func() (interface{}, error) {
		var products []*domain.Product
		err := c.get(ctx, allProductsKey, &products)
		if err == nil {
			return products, nil
		}
		if !errors.Is(err, errCacheMiss) {
			c.log.Warn("catalog cache get failed", zap.String("key", allProductsKey), zap.Error(err))
		}

		products, err = c.next.ListAllProducts(ctx)
		if err != nil {
			return nil, err
		}
		c.setAsync(allProductsKey, products)
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Product), nil
}

// Invalidate drops every cached catalog entry for the given product ids and
// the full listing.
func (c *CachedCatalog) Invalidate(ctx context.Context, ids ...string) error {
	keys := []string{allProductsKey}
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *CachedCatalog) get(ctx context.Context, key string, dst any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return errCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal catalog entry failed: %w", err)
	}
	return nil
}

func (c *CachedCatalog) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal catalog entry failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := c.client.Set(ctx, key, data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CachedCatalog) setAsync(key string, value any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.set(ctx, key, value); err != nil {
			c.log.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func productKey(id string) string {
	return fmt.Sprintf("catalog:product:%s", id)
}
