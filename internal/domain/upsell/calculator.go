package upsell

import "github.com/shopspring/decimal"

// Computation is the result of applying a bundle's discount rule to a cart.
type Computation struct {
	LinkedProductsTotal decimal.Decimal
	DiscountAmount      decimal.Decimal
}

// ComputeDiscount sums the cart contribution of each linked product and
// applies the bundle's discount rule to that sum. No rounding is applied.
func ComputeDiscount(b Bundle, cart CartIndex, linkedIDs []string, cat Catalog) Computation {
	total := decimal.Zero
	for _, id := range linkedIDs {
		total = total.Add(lineContribution(cart, id, cat))
	}

	return Computation{
		LinkedProductsTotal: total,
		DiscountAmount:      discountFor(b.DiscountType, b.DiscountValue, total),
	}
}

// lineContribution resolves how much productID adds to the cart total: the
// line total if the caller supplied one, otherwise unit price times quantity.
// The unit price falls back from the explicit price to the nested product
// info price, then to the catalog minimum price, then to zero.
func lineContribution(cart CartIndex, productID string, cat Catalog) decimal.Decimal {
	line, ok := cart.Line(productID)
	if !ok {
		return decimal.Zero
	}
	if line.Total.Valid {
		return line.Total.Decimal
	}

	unit := decimal.Zero
	switch {
	case line.Price.Valid:
		unit = line.Price.Decimal
	case line.InfoPrice.Valid:
		unit = line.InfoPrice.Decimal
	default:
		if p, ok := cat.minPrice(productID); ok {
			unit = p
		}
	}

	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

func discountFor(t DiscountType, value, total decimal.Decimal) decimal.Decimal {
	switch t {
	case DiscountPercentage:
		return total.Mul(value).Div(hundred)
	case DiscountFixed:
		return decimal.Min(value, total)
	default:
		return decimal.Zero
	}
}
