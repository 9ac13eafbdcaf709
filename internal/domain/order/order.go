package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a completed customer order with pricing and bundle
// discount details.
type Order struct {
	ID        string
	Items     []OrderItem
	Subtotal  decimal.Decimal
	Discounts decimal.Decimal
	Total     decimal.Decimal
	// BundleIDs lists the upsell bundles whose discounts were applied.
	BundleIDs []string
	CreatedAt time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
