package upsell

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/oolio-upsell/internal/domain/product"
)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func discountBundle(t DiscountType, value string, ids ...string) Bundle {
	b := linkedBundle(ids...)
	b.HasDiscount = true
	b.DiscountType = t
	b.DiscountValue = dec(value)
	return b
}

func TestComputeDiscount(t *testing.T) {
	cat := Catalog{
		"a": product.Product{ID: "a", MinPrice: dec("50")},
		"b": product.Product{ID: "b", MinPrice: dec("30")},
	}

	tests := []struct {
		name         string
		bundle       Bundle
		items        []CartItem
		cat          Catalog
		wantTotal    string
		wantDiscount string
	}{
		{
			name:         "percentage on explicit prices",
			bundle:       discountBundle(DiscountPercentage, "10", "a", "b"),
			items:        []CartItem{{ProductID: "a", Quantity: 1, Price: price("50")}, {ProductID: "b", Quantity: 1, Price: price("30")}},
			wantTotal:    "80",
			wantDiscount: "8",
		},
		{
			name:         "fixed is capped at linked total",
			bundle:       discountBundle(DiscountFixed, "1000", "a", "b"),
			items:        []CartItem{{ProductID: "a", Price: price("50")}, {ProductID: "b", Price: price("30")}},
			wantTotal:    "80",
			wantDiscount: "80",
		},
		{
			name:         "fixed below total",
			bundle:       discountBundle(DiscountFixed, "15", "a", "b"),
			items:        []CartItem{{ProductID: "a", Price: price("50")}, {ProductID: "b", Price: price("30")}},
			wantTotal:    "80",
			wantDiscount: "15",
		},
		{
			name:         "percentage of 100 equals total",
			bundle:       discountBundle(DiscountPercentage, "100", "a"),
			items:        []CartItem{{ProductID: "a", Quantity: 2, Price: price("12.5")}},
			wantTotal:    "25",
			wantDiscount: "25",
		},
		{
			name:   "line total wins over unit price",
			bundle: discountBundle(DiscountPercentage, "10", "a"),
			items: []CartItem{{
				ProductID: "a", Quantity: 3, Price: price("50"), Total: price("120"),
			}},
			wantTotal:    "120",
			wantDiscount: "12",
		},
		{
			name:         "info price when no unit price",
			bundle:       discountBundle(DiscountPercentage, "10", "a"),
			items:        []CartItem{{ProductID: "a", Quantity: 2, InfoPrice: price("40")}},
			cat:          cat,
			wantTotal:    "80",
			wantDiscount: "8",
		},
		{
			name:         "catalog min price fallback",
			bundle:       discountBundle(DiscountPercentage, "10", "a", "b"),
			items:        []CartItem{{ProductID: "a", Quantity: 2}, {ProductID: "b"}},
			cat:          cat,
			wantTotal:    "130",
			wantDiscount: "13",
		},
		{
			name:         "no price anywhere contributes zero",
			bundle:       discountBundle(DiscountFixed, "10", "a"),
			items:        []CartItem{{ProductID: "a", Quantity: 4}},
			wantTotal:    "0",
			wantDiscount: "0",
		},
		{
			name:         "non-positive quantity counts as one",
			bundle:       discountBundle(DiscountPercentage, "50", "a"),
			items:        []CartItem{{ProductID: "a", Quantity: -3, Price: price("10")}},
			wantTotal:    "10",
			wantDiscount: "5",
		},
		{
			name:   "first line per product wins",
			bundle: discountBundle(DiscountPercentage, "10", "a"),
			items: []CartItem{
				{ProductID: "a", Quantity: 1, Price: price("50")},
				{ProductID: "a", Quantity: 5, Price: price("999")},
			},
			wantTotal:    "50",
			wantDiscount: "5",
		},
		{
			name:         "no rounding",
			bundle:       discountBundle(DiscountPercentage, "15", "a"),
			items:        []CartItem{{ProductID: "a", Price: price("9.99")}},
			wantTotal:    "9.99",
			wantDiscount: "1.4985",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := IndexCart(tt.items)
			got := ComputeDiscount(tt.bundle, cart, ActiveLinkedIDs(tt.bundle, tt.cat), tt.cat)
			assert.True(t, dec(tt.wantTotal).Equal(got.LinkedProductsTotal), "total %s", got.LinkedProductsTotal)
			assert.True(t, dec(tt.wantDiscount).Equal(got.DiscountAmount), "discount %s", got.DiscountAmount)
		})
	}
}

func TestComputeDiscount_FixedNeverExceedsTotal(t *testing.T) {
	for _, value := range []string{"0.01", "5", "79.99", "80", "80.01", "1e9"} {
		b := discountBundle(DiscountFixed, value, "a", "b")
		cart := IndexCart([]CartItem{{ProductID: "a", Price: price("50")}, {ProductID: "b", Price: price("30")}})

		got := ComputeDiscount(b, cart, ActiveLinkedIDs(b, nil), nil)
		assert.True(t, got.DiscountAmount.LessThanOrEqual(got.LinkedProductsTotal), "value %s", value)
	}
}

func TestIndexCart(t *testing.T) {
	cart := IndexCart([]CartItem{
		{ProductID: ""},
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 9},
	})

	assert.Equal(t, 2, cart.Len())
	assert.Equal(t, []string{"b", "a"}, cart.ProductIDs())
	line, ok := cart.Line("b")
	assert.True(t, ok)
	assert.Equal(t, 1, line.Quantity)
	assert.True(t, cart.IDs().Has("a"))
	assert.False(t, cart.IDs().Has(""))
}
