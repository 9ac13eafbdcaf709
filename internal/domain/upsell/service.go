package upsell

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/pkg/metrics"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

// DefaultMaxAttempts bounds the read-modify-write cycles of a bundle mutation.
const DefaultMaxAttempts = 3

// ProductNotFoundError indicates that a referenced catalog product does not
// exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Unwrap lets callers match product.ErrNotFound.
func (e *ProductNotFoundError) Unwrap() error {
	return product.ErrNotFound
}

// errUnchanged signals a mutation that leaves the bundle as it was.
var errUnchanged = errors.New("unchanged")

// CreateBundleInput holds the input for creating a bundle.
type CreateBundleInput struct {
	MainProductID    string
	LinkedProductIDs []string
	IsActive         bool
	Discount         DiscountSettings
}

// UpdateBundleInput holds a partial bundle update. Nil fields are left as is.
type UpdateBundleInput struct {
	IsActive *bool
	Discount DiscountPatch
}

// BundlePage is one page of bundles.
type BundlePage struct {
	Bundles    []Bundle
	NextCursor string
}

// Storefront is the customer-facing view of a product's upsell bundle.
type Storefront struct {
	Bundle Bundle
	// Products are the active, purchasable linked products in display order.
	Products []product.Product
}

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	// MaxAttempts bounds retries after version conflicts. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int
	Metrics     *metrics.DiscountMetrics
}

// Service encapsulates bundle administration and storefront lookups.
type Service struct {
	bundles  Repository
	products product.Repository

	maxAttempts int
	metrics     *metrics.DiscountMetrics
	now         func() time.Time
	newID       func() string
}

// NewService creates a bundle Service.
func NewService(bundles Repository, products product.Repository, cfg ServiceConfig) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		bundles:     bundles,
		products:    products,
		maxAttempts: cfg.MaxAttempts,
		metrics:     cfg.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
}

// CreateBundle validates and stores a new bundle. The main product and all
// linked products must exist, and the main product must not already own an
// active bundle.
func (s *Service) CreateBundle(ctx context.Context, in CreateBundleInput) (*Bundle, error) {
	if in.MainProductID == "" {
		return nil, &ValidationError{Field: "mainProduct", Reason: "is required"}
	}
	if err := s.requireProduct(ctx, in.MainProductID); err != nil {
		return nil, err
	}

	switch existing, err := s.bundles.FindActiveByMainProduct(ctx, in.MainProductID); {
	case err == nil && existing != nil:
		return nil, ErrDuplicateBundle
	case err != nil && !errors.Is(err, ErrBundleNotFound):
		return nil, errors.Wrap(err, "find active bundle")
	}

	if err := s.requireProducts(ctx, in.LinkedProductIDs); err != nil {
		return nil, err
	}

	b, err := NewBundle(NewBundleParams{
		ID:               s.newID(),
		MainProductID:    in.MainProductID,
		LinkedProductIDs: in.LinkedProductIDs,
		IsActive:         in.IsActive,
		Discount:         in.Discount,
		Now:              s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.bundles.Create(ctx, &b); err != nil {
		return nil, errors.Wrap(err, "create bundle")
	}
	return &b, nil
}

// GetBundle returns a bundle by ID.
func (s *Service) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	b, err := s.bundles.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get bundle")
	}
	return b, nil
}

// ListBundles returns one page of bundles, newest first.
func (s *Service) ListBundles(ctx context.Context, p pagination.Params) (*BundlePage, error) {
	bundles, next, err := s.bundles.List(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "list bundles")
	}
	return &BundlePage{Bundles: bundles, NextCursor: next}, nil
}

// UpdateBundle applies bundle-level field changes. Discount fields left out
// keep their stored values, read inside the same version-checked cycle.
// Disabling the discount clears its configuration.
func (s *Service) UpdateBundle(ctx context.Context, id string, in UpdateBundleInput) (*Bundle, error) {
	return s.mutate(ctx, "update", id, func(b Bundle) (Bundle, error) {
		if in.IsActive != nil {
			b.IsActive = *in.IsActive
		}
		if in.Discount.Empty() {
			return b, nil
		}
		return ApplyDiscountSettings(b, in.Discount.Merge(b))
	})
}

// DeleteBundle removes a bundle. Linked catalog products are not touched.
func (s *Service) DeleteBundle(ctx context.Context, id string) error {
	if err := s.bundles.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete bundle")
	}
	return nil
}

// AddLinkedProduct links an existing catalog product to the bundle.
func (s *Service) AddLinkedProduct(ctx context.Context, bundleID, productID string, order int) (*Bundle, error) {
	if productID == "" {
		return nil, &ValidationError{Field: "productId", Reason: "is required"}
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "add", bundleID, func(b Bundle) (Bundle, error) {
		return AddLinkedProduct(b, productID, order, s.now())
	})
}

// RemoveLinkedProduct unlinks a product. Removing a product that is not
// linked returns the bundle unchanged.
func (s *Service) RemoveLinkedProduct(ctx context.Context, bundleID, productID string) (*Bundle, error) {
	return s.mutate(ctx, "remove", bundleID, func(b Bundle) (Bundle, error) {
		if b.linkIndex(productID) < 0 {
			return b, errUnchanged
		}
		return RemoveLinkedProduct(b, productID), nil
	})
}

// UpdateLinkedProductOrder sets the display order of a linked product.
func (s *Service) UpdateLinkedProductOrder(ctx context.Context, bundleID, productID string, order int) (*Bundle, error) {
	return s.mutate(ctx, "reorder", bundleID, func(b Bundle) (Bundle, error) {
		return ReorderLinkedProduct(b, productID, order)
	})
}

// ToggleLinkedProductStatus flips whether a linked product participates in
// matching and storefront display.
func (s *Service) ToggleLinkedProductStatus(ctx context.Context, bundleID, productID string) (*Bundle, error) {
	return s.mutate(ctx, "toggle", bundleID, func(b Bundle) (Bundle, error) {
		return ToggleLinkedProduct(b, productID)
	})
}

// GetStorefrontUpsell returns the active bundle of a main product together
// with its active linked products that are still sold.
func (s *Service) GetStorefrontUpsell(ctx context.Context, mainProductID string) (*Storefront, error) {
	b, err := s.bundles.FindActiveByMainProduct(ctx, mainProductID)
	if err != nil {
		return nil, errors.Wrap(err, "find active bundle")
	}

	var ids []string
	for _, lp := range SortedLinks(b.LinkedProducts) {
		if lp.IsActive {
			ids = append(ids, lp.ProductID)
		}
	}

	sf := &Storefront{Bundle: *b, Products: []product.Product{}}
	if len(ids) == 0 {
		return sf, nil
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get linked products")
	}
	byID := product.Index(fetched)
	for _, id := range ids {
		if p, ok := byID[id]; ok && p.Active {
			sf.Products = append(sf.Products, p)
		}
	}
	return sf, nil
}

// mutate runs a read-modify-write cycle on one bundle and retries the whole
// cycle when another writer got there first.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(Bundle) (Bundle, error)) (*Bundle, error) {
	for attempt := 1; ; attempt++ {
		cur, err := s.bundles.Get(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "get bundle")
		}

		next, err := fn(cur.Clone())
		if errors.Is(err, errUnchanged) {
			return cur, nil
		}
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = s.now()

		err = s.bundles.Update(ctx, &next, cur.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= s.maxAttempts {
			return nil, errors.Wrap(err, "update bundle")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.metrics.IncRetry(op)
		zctx.From(ctx).Debug("Bundle version conflict, retrying",
			zap.String("bundle_id", id),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *Service) requireProduct(ctx context.Context, id string) error {
	if _, err := s.products.GetByID(ctx, id); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return &ProductNotFoundError{ProductID: id}
		}
		return errors.Wrap(err, "get product")
	}
	return nil
}

func (s *Service) requireProducts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get linked products")
	}
	byID := product.Index(fetched)
	for _, id := range ids {
		if _, ok := byID[id]; !ok && id != "" {
			return &ProductNotFoundError{ProductID: id}
		}
	}
	return nil
}
