package upsell

import (
	"context"

	"github.com/xenking/oolio-upsell/pkg/pagination"
)

// Repository defines persistence operations for upsell bundles. A bundle and
// its linked products are stored and replaced as a single record.
type Repository interface {
	Create(ctx context.Context, b *Bundle) error
	// Get returns ErrBundleNotFound when the bundle does not exist.
	Get(ctx context.Context, id string) (*Bundle, error)
	// List returns one page of bundles, newest first, and the cursor of the
	// next page ("" on the last page).
	List(ctx context.Context, p pagination.Params) ([]Bundle, string, error)
	// Update replaces the stored bundle if its version still equals
	// expectedVersion and returns ErrVersionConflict otherwise. On success
	// b.Version holds the new version.
	Update(ctx context.Context, b *Bundle, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// FindActiveByMainProduct returns ErrBundleNotFound when the product has
	// no active bundle.
	FindActiveByMainProduct(ctx context.Context, mainProductID string) (*Bundle, error)
	GetActiveDiscountBundles(ctx context.Context) ([]Bundle, error)
}
