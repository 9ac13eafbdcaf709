package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the read-only catalog view the upsell engine depends on.
type Product struct {
	ID   string
	Name string
	// MinPrice is the lower bound of the product's price range. It is the
	// price used when a cart line carries no explicit pricing.
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	Active   bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// PriceResolver resolves the fallback price of a single product.
type PriceResolver interface {
	ResolveProductPrice(ctx context.Context, id string) (decimal.Decimal, error)
}

// Index maps product IDs to products for batched lookups.
func Index(products []Product) map[string]Product {
	out := make(map[string]Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}
