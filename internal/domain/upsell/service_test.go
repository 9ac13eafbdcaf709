package upsell

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

// --- Mock implementations ---

type mockRepo struct {
	byID map[string]Bundle

	// conflicts makes the next N updates fail with ErrVersionConflict.
	conflicts int
	updates   int
	created   []Bundle
	deleted   []string
	listErr   error
}

func newMockRepo(bundles ...Bundle) *mockRepo {
	m := &mockRepo{byID: make(map[string]Bundle)}
	for _, b := range bundles {
		m.byID[b.ID] = b.Clone()
	}
	return m
}

func (m *mockRepo) Create(_ context.Context, b *Bundle) error {
	b.Version = 1
	m.byID[b.ID] = b.Clone()
	m.created = append(m.created, b.Clone())
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Bundle, error) {
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	out := b.Clone()
	return &out, nil
}

func (m *mockRepo) List(_ context.Context, _ pagination.Params) ([]Bundle, string, error) {
	if m.listErr != nil {
		return nil, "", m.listErr
	}
	var out []Bundle
	for _, b := range m.byID {
		out = append(out, b)
	}
	return out, "next", nil
}

func (m *mockRepo) Update(_ context.Context, b *Bundle, expectedVersion int64) error {
	m.updates++
	if m.conflicts > 0 {
		m.conflicts--
		// Simulate a concurrent writer bumping the version.
		cur := m.byID[b.ID]
		cur.Version++
		m.byID[b.ID] = cur
		return ErrVersionConflict
	}
	cur, ok := m.byID[b.ID]
	if !ok {
		return ErrBundleNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	b.Version = expectedVersion + 1
	m.byID[b.ID] = b.Clone()
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return ErrBundleNotFound
	}
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockRepo) FindActiveByMainProduct(_ context.Context, mainProductID string) (*Bundle, error) {
	for _, b := range m.byID {
		if b.MainProductID == mainProductID && b.IsActive {
			out := b.Clone()
			return &out, nil
		}
	}
	return nil, ErrBundleNotFound
}

func (m *mockRepo) GetActiveDiscountBundles(_ context.Context) ([]Bundle, error) {
	var out []Bundle
	for _, b := range m.byID {
		if b.IsDiscountCandidate() {
			out = append(out, b)
		}
	}
	return out, nil
}

type mockCatalog struct {
	byID map[string]product.Product
}

func newMockCatalog(products ...product.Product) *mockCatalog {
	return &mockCatalog{byID: product.Index(products)}
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

func activeProducts(ids ...string) []product.Product {
	out := make([]product.Product, len(ids))
	for i, id := range ids {
		out[i] = product.Product{ID: id, Name: id, MinPrice: decimal.NewFromInt(10), Active: true}
	}
	return out
}

func newTestService(repo *mockRepo, cat *mockCatalog) *Service {
	svc := NewService(repo, cat, ServiceConfig{})
	svc.now = func() time.Time { return testNow }
	svc.newID = func() string { return "new-id" }
	return svc
}

func storedBundle(ids ...string) Bundle {
	b := linkedBundle(ids...)
	b.Version = 1
	return b
}

// --- Tests ---

func TestCreateBundle(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockCatalog(activeProducts("main", "a", "b")...))

	b, err := svc.CreateBundle(context.Background(), CreateBundleInput{
		MainProductID:    "main",
		LinkedProductIDs: []string{"a", "b"},
		IsActive:         true,
		Discount:         DiscountSettings{HasDiscount: true, Type: DiscountFixed, Value: dec("5")},
	})
	require.NoError(t, err)

	assert.Equal(t, "new-id", b.ID)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, testNow, b.CreatedAt)
	assert.Equal(t, []string{"a", "b"}, linkIDs(*b))
	require.Len(t, repo.created, 1)
}

func TestCreateBundle_Errors(t *testing.T) {
	tests := []struct {
		name     string
		existing []Bundle
		input    CreateBundleInput
		check    func(t *testing.T, err error)
	}{
		{
			name:  "main product missing",
			input: CreateBundleInput{MainProductID: "ghost", IsActive: true},
			check: func(t *testing.T, err error) {
				var pnf *ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "ghost", pnf.ProductID)
				require.ErrorIs(t, err, product.ErrNotFound)
			},
		},
		{
			name:  "linked product missing",
			input: CreateBundleInput{MainProductID: "main", LinkedProductIDs: []string{"a", "ghost"}},
			check: func(t *testing.T, err error) {
				var pnf *ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "ghost", pnf.ProductID)
			},
		},
		{
			name:     "active bundle exists",
			existing: []Bundle{storedBundle("a")},
			input:    CreateBundleInput{MainProductID: "main", LinkedProductIDs: []string{"b"}, IsActive: true},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrDuplicateBundle)
			},
		},
		{
			name:  "self link",
			input: CreateBundleInput{MainProductID: "main", LinkedProductIDs: []string{"main"}},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrSelfLink)
			},
		},
		{
			name: "invalid discount",
			input: CreateBundleInput{
				MainProductID: "main",
				Discount:      DiscountSettings{HasDiscount: true, Type: DiscountPercentage, Value: dec("150")},
			},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
			},
		},
		{
			name:  "missing main product id",
			input: CreateBundleInput{},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo(tt.existing...)
			svc := newTestService(repo, newMockCatalog(activeProducts("main", "a", "b")...))

			_, err := svc.CreateBundle(context.Background(), tt.input)
			tt.check(t, err)
			assert.Empty(t, repo.created)
		})
	}
}

func TestCreateBundle_InactiveExistingAllowed(t *testing.T) {
	old := storedBundle("a")
	old.IsActive = false
	repo := newMockRepo(old)
	svc := newTestService(repo, newMockCatalog(activeProducts("main", "a")...))

	_, err := svc.CreateBundle(context.Background(), CreateBundleInput{MainProductID: "main", IsActive: true})
	require.NoError(t, err)
}

func TestLinkedProductOperations(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo(storedBundle("a"))
	svc := newTestService(repo, newMockCatalog(activeProducts("main", "a", "b")...))

	b, err := svc.AddLinkedProduct(ctx, "b1", "b", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, linkIDs(*b))
	assert.Equal(t, int64(2), b.Version)

	_, err = svc.AddLinkedProduct(ctx, "b1", "b", 0)
	require.ErrorIs(t, err, ErrDuplicateLink)

	_, err = svc.AddLinkedProduct(ctx, "b1", "ghost", 0)
	require.ErrorIs(t, err, product.ErrNotFound)

	_, err = svc.AddLinkedProduct(ctx, "b1", "main", 0)
	require.ErrorIs(t, err, ErrSelfLink)

	b, err = svc.UpdateLinkedProductOrder(ctx, "b1", "b", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, b.LinkedProducts[1].Order)

	b, err = svc.ToggleLinkedProductStatus(ctx, "b1", "a")
	require.NoError(t, err)
	assert.False(t, b.LinkedProducts[0].IsActive)

	_, err = svc.ToggleLinkedProductStatus(ctx, "b1", "ghost")
	require.ErrorIs(t, err, ErrLinkNotFound)

	_, err = svc.UpdateLinkedProductOrder(ctx, "b1", "ghost", 1)
	require.ErrorIs(t, err, ErrLinkNotFound)

	b, err = svc.RemoveLinkedProduct(ctx, "b1", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, linkIDs(*b))

	updates := repo.updates
	b, err = svc.RemoveLinkedProduct(ctx, "b1", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, linkIDs(*b))
	assert.Equal(t, updates, repo.updates, "no-op removal does not write")

	_, err = svc.AddLinkedProduct(ctx, "missing", "b", 0)
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestMutation_RetriesOnConflict(t *testing.T) {
	repo := newMockRepo(storedBundle("a"))
	repo.conflicts = 2
	svc := newTestService(repo, newMockCatalog(activeProducts("main", "a")...))

	b, err := svc.ToggleLinkedProductStatus(context.Background(), "b1", "a")
	require.NoError(t, err)
	assert.False(t, b.LinkedProducts[0].IsActive)
	assert.Equal(t, 3, repo.updates)
}

func TestMutation_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := newMockRepo(storedBundle("a"))
	repo.conflicts = DefaultMaxAttempts
	svc := newTestService(repo, newMockCatalog(activeProducts("main", "a")...))

	_, err := svc.ToggleLinkedProductStatus(context.Background(), "b1", "a")
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, DefaultMaxAttempts, repo.updates)
	assert.True(t, repo.byID["b1"].LinkedProducts[0].IsActive, "failed mutation leaves no partial state")
}

func TestUpdateBundle(t *testing.T) {
	start := storedBundle("a")
	start.HasDiscount = true
	start.DiscountType = DiscountFixed
	start.DiscountValue = dec("20")
	repo := newMockRepo(start)
	svc := newTestService(repo, newMockCatalog())

	inactive, off := false, false
	b, err := svc.UpdateBundle(context.Background(), "b1", UpdateBundleInput{
		IsActive: &inactive,
		Discount: DiscountPatch{HasDiscount: &off, Type: DiscountFixed, Value: ptr(dec("20"))},
	})
	require.NoError(t, err)
	assert.False(t, b.IsActive)
	assert.False(t, b.HasDiscount)
	assert.Equal(t, DiscountPercentage, b.DiscountType)
	assert.True(t, b.DiscountValue.IsZero())
	assert.Equal(t, testNow, b.UpdatedAt)

	_, err = svc.UpdateBundle(context.Background(), "b1", UpdateBundleInput{
		Discount: DiscountPatch{Type: "bogus", Value: ptr(dec("1"))},
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestUpdateBundle_PartialDiscount(t *testing.T) {
	fixed20 := storedBundle("a")
	fixed20.HasDiscount = true
	fixed20.DiscountType = DiscountFixed
	fixed20.DiscountValue = dec("20")

	tests := []struct {
		name      string
		start     Bundle
		patch     DiscountPatch
		wantType  DiscountType
		wantValue string
		wantErr   bool
	}{
		{name: "value keeps stored type", start: fixed20, patch: DiscountPatch{Value: ptr(dec("5"))}, wantType: DiscountFixed, wantValue: "5"},
		{name: "type keeps stored value", start: fixed20, patch: DiscountPatch{Type: DiscountPercentage}, wantType: DiscountPercentage, wantValue: "20"},
		{name: "value enables disabled bundle as percentage", start: storedBundle("a"), patch: DiscountPatch{Value: ptr(dec("15"))}, wantType: DiscountPercentage, wantValue: "15"},
		{name: "enable without value keeps zero", start: storedBundle("a"), patch: DiscountPatch{HasDiscount: ptr(true)}, wantType: DiscountPercentage, wantValue: "0"},
		{name: "stored fixed value too large for percentage", start: func() Bundle { b := fixed20; b.DiscountValue = dec("250"); return b }(), patch: DiscountPatch{Type: DiscountPercentage}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo(tt.start)
			svc := newTestService(repo, newMockCatalog())

			b, err := svc.UpdateBundle(context.Background(), "b1", UpdateBundleInput{Discount: tt.patch})
			if tt.wantErr {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, b.HasDiscount)
			assert.Equal(t, tt.wantType, b.DiscountType)
			assert.True(t, dec(tt.wantValue).Equal(b.DiscountValue), "value %s", b.DiscountValue)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestDeleteAndList(t *testing.T) {
	repo := newMockRepo(storedBundle("a"))
	svc := newTestService(repo, newMockCatalog())

	page, err := svc.ListBundles(context.Background(), pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Bundles, 1)
	assert.Equal(t, "next", page.NextCursor)

	require.NoError(t, svc.DeleteBundle(context.Background(), "b1"))
	require.ErrorIs(t, svc.DeleteBundle(context.Background(), "b1"), ErrBundleNotFound)

	repo.listErr = errors.New("boom")
	_, err = svc.ListBundles(context.Background(), pagination.Params{})
	require.Error(t, err)
}

func TestGetStorefrontUpsell(t *testing.T) {
	b := storedBundle("a", "b", "c", "d")
	b.LinkedProducts[0].Order = 5
	b.LinkedProducts[2].IsActive = false
	products := activeProducts("a", "b", "c")
	// "d" is missing from the catalog and "b" is no longer sold.
	products[1].Active = false
	products = append(products, activeProducts("e")...)
	svc := newTestService(newMockRepo(b), newMockCatalog(products...))

	sf, err := svc.GetStorefrontUpsell(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "b1", sf.Bundle.ID)
	require.Len(t, sf.Products, 1)
	assert.Equal(t, "a", sf.Products[0].ID)

	_, err = svc.GetStorefrontUpsell(context.Background(), "other")
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestGetStorefrontUpsell_Order(t *testing.T) {
	b := storedBundle("a", "b", "c")
	b.LinkedProducts[0].Order = 2
	b.LinkedProducts[1].Order = 1
	b.LinkedProducts[2].Order = 1
	svc := newTestService(newMockRepo(b), newMockCatalog(activeProducts("a", "b", "c")...))

	sf, err := svc.GetStorefrontUpsell(context.Background(), "main")
	require.NoError(t, err)

	var ids []string
	for _, p := range sf.Products {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}
