package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

const (
	keyNamespace         = "upsell"
	activeDiscountsKey   = keyNamespace + ":bundles:active_discounts"
	defaultActiveListTTL = time.Minute
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

var _ upsell.Repository = (*BundleCache)(nil)

// BundleCache is an upsell.Repository that serves the active discount bundle
// list from Redis and forwards everything else to the wrapped repository.
// Every successful write drops the cached list. Redis failures never fail a
// request; the wrapped repository answers instead.
type BundleCache struct {
	next  upsell.Repository
	store cmdable
	ttl   time.Duration
}

// NewBundleCache wraps next with a read-through cache. A non-positive ttl
// uses one minute.
func NewBundleCache(next upsell.Repository, client *redis.Client, ttl time.Duration) *BundleCache {
	if ttl <= 0 {
		ttl = defaultActiveListTTL
	}
	return &BundleCache{next: next, store: client, ttl: ttl}
}

// Ping checks Redis connectivity.
func (c *BundleCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

// GetActiveDiscountBundles returns the cached list, loading and caching it
// on a miss.
func (c *BundleCache) GetActiveDiscountBundles(ctx context.Context) ([]upsell.Bundle, error) {
	lg := zctx.From(ctx)

	raw, err := c.store.Get(ctx, activeDiscountsKey).Bytes()
	switch {
	case err == nil:
		bundles, decErr := decodeBundles(raw)
		if decErr == nil {
			return bundles, nil
		}
		lg.Warn("Drop undecodable cached bundles", zap.Error(decErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Bundle cache read failed", zap.Error(err))
	}

	bundles, err := c.next.GetActiveDiscountBundles(ctx)
	if err != nil {
		return nil, err
	}

	data, err := encodeBundles(bundles)
	if err != nil {
		lg.Warn("Encode bundles for cache", zap.Error(err))
		return bundles, nil
	}
	if err := c.store.Set(ctx, activeDiscountsKey, data, c.ttl).Err(); err != nil {
		lg.Warn("Bundle cache write failed", zap.Error(err))
	}
	return bundles, nil
}

// Create implements upsell.Repository.
func (c *BundleCache) Create(ctx context.Context, b *upsell.Bundle) error {
	if err := c.next.Create(ctx, b); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// Get implements upsell.Repository.
func (c *BundleCache) Get(ctx context.Context, id string) (*upsell.Bundle, error) {
	return c.next.Get(ctx, id)
}

// List implements upsell.Repository.
func (c *BundleCache) List(ctx context.Context, p pagination.Params) ([]upsell.Bundle, string, error) {
	return c.next.List(ctx, p)
}

// Update implements upsell.Repository.
func (c *BundleCache) Update(ctx context.Context, b *upsell.Bundle, expectedVersion int64) error {
	if err := c.next.Update(ctx, b, expectedVersion); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// Delete implements upsell.Repository.
func (c *BundleCache) Delete(ctx context.Context, id string) error {
	if err := c.next.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// FindActiveByMainProduct implements upsell.Repository.
func (c *BundleCache) FindActiveByMainProduct(ctx context.Context, mainProductID string) (*upsell.Bundle, error) {
	return c.next.FindActiveByMainProduct(ctx, mainProductID)
}

func (c *BundleCache) invalidate(ctx context.Context) {
	if err := c.store.Del(ctx, activeDiscountsKey).Err(); err != nil {
		zctx.From(ctx).Warn("Bundle cache invalidation failed", zap.Error(err))
	}
}

type cachedBundle struct {
	ID             string                 `json:"id"`
	MainProductID  string                 `json:"mainProduct"`
	LinkedProducts []upsell.LinkedProduct `json:"linkedProducts"`
	IsActive       bool                   `json:"isActive"`
	HasDiscount    bool                   `json:"hasDiscount"`
	DiscountType   string                 `json:"discountType"`
	DiscountValue  decimal.Decimal        `json:"discountValue"`
	Version        int64                  `json:"version"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

func encodeBundles(bundles []upsell.Bundle) ([]byte, error) {
	out := make([]cachedBundle, len(bundles))
	for i, b := range bundles {
		out[i] = cachedBundle{
			ID:             b.ID,
			MainProductID:  b.MainProductID,
			LinkedProducts: b.LinkedProducts,
			IsActive:       b.IsActive,
			HasDiscount:    b.HasDiscount,
			DiscountType:   string(b.DiscountType),
			DiscountValue:  b.DiscountValue,
			Version:        b.Version,
			CreatedAt:      b.CreatedAt,
			UpdatedAt:      b.UpdatedAt,
		}
	}
	return json.Marshal(out)
}

func decodeBundles(data []byte) ([]upsell.Bundle, error) {
	var in []cachedBundle
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(err, "decode cached bundles")
	}
	out := make([]upsell.Bundle, len(in))
	for i, b := range in {
		out[i] = upsell.Bundle{
			ID:             b.ID,
			MainProductID:  b.MainProductID,
			LinkedProducts: b.LinkedProducts,
			IsActive:       b.IsActive,
			HasDiscount:    b.HasDiscount,
			DiscountType:   upsell.DiscountType(b.DiscountType),
			DiscountValue:  b.DiscountValue,
			Version:        b.Version,
			CreatedAt:      b.CreatedAt,
			UpdatedAt:      b.UpdatedAt,
		}
	}
	return out, nil
}
