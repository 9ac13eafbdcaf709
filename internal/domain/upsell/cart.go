package upsell

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-upsell/internal/domain/product"
)

// CartItem is a cart line supplied by the caller for a single calculation.
// Pricing fields are optional; unset values are resolved from the catalog.
type CartItem struct {
	ProductID string
	Quantity  int
	// Price is a unit price override.
	Price decimal.NullDecimal
	// Total is a precomputed line total and wins over any unit price.
	Total decimal.NullDecimal
	// InfoPrice is the price carried by nested product info on the line.
	InfoPrice decimal.NullDecimal
}

// Catalog is a resolved view of catalog products keyed by ID. A nil Catalog
// treats every product as resolvable and contributes no prices.
type Catalog map[string]product.Product

func (c Catalog) resolvable(id string) bool {
	if c == nil {
		return true
	}
	_, ok := c[id]
	return ok
}

func (c Catalog) minPrice(id string) (decimal.Decimal, bool) {
	p, ok := c[id]
	if !ok {
		return decimal.Zero, false
	}
	return p.MinPrice, true
}

// CartIDs is the set of distinct product IDs present in a cart.
type CartIDs map[string]struct{}

// Has reports whether id is in the set.
func (s CartIDs) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// CartIndex maps each product ID to the single cart line that represents it.
// When several lines carry the same product, the first one in cart order is
// kept.
type CartIndex struct {
	lines map[string]CartItem
	order []string
}

// IndexCart folds cart items into a CartIndex. Items without a product ID are
// dropped.
func IndexCart(items []CartItem) CartIndex {
	idx := CartIndex{lines: make(map[string]CartItem, len(items))}
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		if _, seen := idx.lines[item.ProductID]; seen {
			continue
		}
		idx.lines[item.ProductID] = item
		idx.order = append(idx.order, item.ProductID)
	}
	return idx
}

// Len returns the number of distinct products in the cart.
func (c CartIndex) Len() int {
	return len(c.order)
}

// IDs returns the set of product IDs in the cart.
func (c CartIndex) IDs() CartIDs {
	ids := make(CartIDs, len(c.order))
	for _, id := range c.order {
		ids[id] = struct{}{}
	}
	return ids
}

// ProductIDs returns the distinct product IDs in cart order.
func (c CartIndex) ProductIDs() []string {
	return append([]string(nil), c.order...)
}

// Line returns the line representing productID.
func (c CartIndex) Line(productID string) (CartItem, bool) {
	item, ok := c.lines[productID]
	return item, ok
}
