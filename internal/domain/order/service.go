package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/internal/domain/upsell"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Unwrap lets callers match ErrInvalidQuantity.
func (e *InvalidQuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// Discounter calculates the bundle discounts a cart qualifies for.
type Discounter interface {
	CalculateCartDiscounts(ctx context.Context, items []upsell.CartItem) (*upsell.Report, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items []OrderItem
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order     *Order
	Products  []product.Product
	Discounts []upsell.DiscountLine
}

// Service encapsulates order placement business logic.
type Service struct {
	products  product.Repository
	discounts Discounter
	orders    Repository
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	discounts Discounter,
	orders Repository,
) *Service {
	return &Service{
		products:  products,
		discounts: discounts,
		orders:    orders,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder validates items, fetches products in a single batch, applies
// the bundle discounts the cart qualifies for, persists the order, and
// returns the result.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := product.Index(fetched)

	// Verify every requested product was found.
	products := make([]product.Product, 0, len(req.Items))
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
	}

	cart, subtotal := buildCart(req.Items, products)

	report, err := s.discounts.CalculateCartDiscounts(ctx, cart)
	if err != nil {
		return nil, errors.Wrap(err, "calculate bundle discounts")
	}
	bundleIDs := make([]string, 0, len(report.ApplicableDiscounts))
	for _, d := range report.ApplicableDiscounts {
		bundleIDs = append(bundleIDs, d.BundleID)
	}

	// Total = subtotal - discount, floored at zero and rounded to 2 decimal places.
	discountAmount := report.TotalDiscount
	total := subtotal.Sub(discountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:        uuid.New().String(),
		Items:     req.Items,
		Subtotal:  subtotal.Round(2),
		Discounts: discountAmount.Round(2),
		Total:     total.Round(2),
		BundleIDs: bundleIDs,
		CreatedAt: s.now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return &PlaceOrderResult{
		Order:     o,
		Products:  products,
		Discounts: report.Discounts,
	}, nil
}

// buildCart folds order lines into one priced cart line per product so that
// repeated lines of the same product count towards its quantity.
func buildCart(items []OrderItem, products []product.Product) ([]upsell.CartItem, decimal.Decimal) {
	subtotal := decimal.Zero
	pos := make(map[string]int, len(items))
	cart := make([]upsell.CartItem, 0, len(items))
	for i, item := range items {
		price := products[i].MinPrice
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))

		if j, ok := pos[item.ProductID]; ok {
			cart[j].Quantity += item.Quantity
			continue
		}
		pos[item.ProductID] = len(cart)
		cart = append(cart, upsell.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     decimal.NewNullDecimal(price),
		})
	}
	return cart, subtotal
}
