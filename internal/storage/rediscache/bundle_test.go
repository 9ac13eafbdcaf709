package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

type mockCmdable struct {
	data    map[string]string
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	delKeys []string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if m.setErr != nil {
		return redis.NewStatusResult("", m.setErr)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	m.delKeys = append(m.delKeys, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

// stubRepo counts calls to the wrapped repository.
type stubRepo struct {
	bundles   []upsell.Bundle
	activeErr error
	writeErr  error
	calls     map[string]int
}

func newStubRepo(bundles ...upsell.Bundle) *stubRepo {
	return &stubRepo{bundles: bundles, calls: make(map[string]int)}
}

func (s *stubRepo) Create(context.Context, *upsell.Bundle) error {
	s.calls["create"]++
	return s.writeErr
}

func (s *stubRepo) Get(_ context.Context, id string) (*upsell.Bundle, error) {
	s.calls["get"]++
	return &upsell.Bundle{ID: id}, nil
}

func (s *stubRepo) List(context.Context, pagination.Params) ([]upsell.Bundle, string, error) {
	s.calls["list"]++
	return s.bundles, "", nil
}

func (s *stubRepo) Update(context.Context, *upsell.Bundle, int64) error {
	s.calls["update"]++
	return s.writeErr
}

func (s *stubRepo) Delete(context.Context, string) error {
	s.calls["delete"]++
	return s.writeErr
}

func (s *stubRepo) FindActiveByMainProduct(_ context.Context, id string) (*upsell.Bundle, error) {
	s.calls["find"]++
	return &upsell.Bundle{MainProductID: id}, nil
}

func (s *stubRepo) GetActiveDiscountBundles(context.Context) ([]upsell.Bundle, error) {
	s.calls["active"]++
	return s.bundles, s.activeErr
}

func sampleBundle() upsell.Bundle {
	added := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	return upsell.Bundle{
		ID:            "0f8e1c2a-9a0e-4c59-8b4b-0a1f6b5b9d21",
		MainProductID: "main",
		LinkedProducts: []upsell.LinkedProduct{
			{ProductID: "a", Order: 1, IsActive: true, AddedAt: added},
			{ProductID: "b", Order: 0, IsActive: false, AddedAt: added},
		},
		IsActive:      true,
		HasDiscount:   true,
		DiscountType:  upsell.DiscountFixed,
		DiscountValue: decimal.RequireFromString("7.25"),
		Version:       4,
		CreatedAt:     added,
		UpdatedAt:     added,
	}
}

func TestBundleCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	repo := newStubRepo(sampleBundle())
	cache := &BundleCache{next: repo, store: store, ttl: 30 * time.Second}

	first, err := cache.GetActiveDiscountBundles(ctx)
	require.NoError(t, err)
	second, err := cache.GetActiveDiscountBundles(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls["active"])
	assert.Equal(t, 30*time.Second, store.ttls[activeDiscountsKey])

	require.Len(t, second, 1)
	want := first[0]
	got := second[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.MainProductID, got.MainProductID)
	assert.Equal(t, want.LinkedProducts, got.LinkedProducts)
	assert.Equal(t, want.DiscountType, got.DiscountType)
	assert.True(t, want.DiscountValue.Equal(got.DiscountValue))
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestBundleCache_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	repo := newStubRepo(sampleBundle())
	cache := &BundleCache{next: repo, store: store, ttl: time.Minute}

	writes := map[string]func() error{
		"create": func() error { return cache.Create(ctx, &upsell.Bundle{}) },
		"update": func() error { return cache.Update(ctx, &upsell.Bundle{}, 1) },
		"delete": func() error { return cache.Delete(ctx, "id") },
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			_, err := cache.GetActiveDiscountBundles(ctx)
			require.NoError(t, err)
			require.Contains(t, store.data, activeDiscountsKey)

			require.NoError(t, write())
			assert.NotContains(t, store.data, activeDiscountsKey)
		})
	}
}

func TestBundleCache_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	repo := newStubRepo(sampleBundle())
	repo.writeErr = upsell.ErrVersionConflict
	cache := &BundleCache{next: repo, store: store, ttl: time.Minute}

	_, err := cache.GetActiveDiscountBundles(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, cache.Update(ctx, &upsell.Bundle{}, 1), upsell.ErrVersionConflict)
	assert.Contains(t, store.data, activeDiscountsKey)
	assert.Empty(t, store.delKeys)
}

func TestBundleCache_RedisFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	repo := newStubRepo(sampleBundle())
	cache := &BundleCache{next: repo, store: store, ttl: time.Minute}

	for range 2 {
		bundles, err := cache.GetActiveDiscountBundles(ctx)
		require.NoError(t, err)
		assert.Len(t, bundles, 1)
	}
	assert.Equal(t, 2, repo.calls["active"])
}

func TestBundleCache_CorruptEntryReloads(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	store.data[activeDiscountsKey] = "{not json"
	repo := newStubRepo(sampleBundle())
	cache := &BundleCache{next: repo, store: store, ttl: time.Minute}

	bundles, err := cache.GetActiveDiscountBundles(ctx)
	require.NoError(t, err)
	assert.Len(t, bundles, 1)
	assert.Equal(t, 1, repo.calls["active"])
}

func TestBundleCache_RepositoryErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	repo := newStubRepo()
	repo.activeErr = errors.New("db down")
	cache := &BundleCache{next: repo, store: store, ttl: time.Minute}

	_, err := cache.GetActiveDiscountBundles(ctx)
	require.Error(t, err)
	assert.NotContains(t, store.data, activeDiscountsKey)
}

func TestBundleCache_PassThroughReads(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	cache := &BundleCache{next: repo, store: newMockCmdable(), ttl: time.Minute}

	_, err := cache.Get(ctx, "id")
	require.NoError(t, err)
	_, _, err = cache.List(ctx, pagination.Params{})
	require.NoError(t, err)
	_, err = cache.FindActiveByMainProduct(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, cache.Ping(ctx))

	assert.Equal(t, 1, repo.calls["get"])
	assert.Equal(t, 1, repo.calls["list"])
	assert.Equal(t, 1, repo.calls["find"])
}
