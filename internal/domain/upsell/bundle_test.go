package upsell

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewBundle(t *testing.T) {
	b, err := NewBundle(NewBundleParams{
		ID:               "b1",
		MainProductID:    "main",
		LinkedProductIDs: []string{"a", "b"},
		IsActive:         true,
		Discount:         DiscountSettings{HasDiscount: true, Type: DiscountPercentage, Value: dec("10")},
		Now:              testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, "main", b.MainProductID)
	require.Len(t, b.LinkedProducts, 2)
	assert.Equal(t, LinkedProduct{ProductID: "a", Order: 0, IsActive: true, AddedAt: testNow}, b.LinkedProducts[0])
	assert.Equal(t, LinkedProduct{ProductID: "b", Order: 1, IsActive: true, AddedAt: testNow}, b.LinkedProducts[1])
	assert.True(t, b.HasDiscount)
	assert.Equal(t, DiscountPercentage, b.DiscountType)
	assert.True(t, b.DiscountValue.Equal(dec("10")))
}

func TestNewBundle_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params NewBundleParams
		want   error
	}{
		{
			name:   "self link",
			params: NewBundleParams{MainProductID: "main", LinkedProductIDs: []string{"a", "main"}},
			want:   ErrSelfLink,
		},
		{
			name:   "duplicate link",
			params: NewBundleParams{MainProductID: "main", LinkedProductIDs: []string{"a", "a"}},
			want:   ErrDuplicateLink,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBundle(tt.params)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("missing main product", func(t *testing.T) {
		_, err := NewBundle(NewBundleParams{LinkedProductIDs: []string{"a"}})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "mainProduct", vErr.Field)
	})
}

func TestApplyDiscountSettings(t *testing.T) {
	base := Bundle{ID: "b1", MainProductID: "main", HasDiscount: true, DiscountType: DiscountFixed, DiscountValue: dec("25")}

	tests := []struct {
		name      string
		settings  DiscountSettings
		wantField string
		wantType  DiscountType
		wantValue decimal.Decimal
	}{
		{
			name:      "disable clears config",
			settings:  DiscountSettings{HasDiscount: false, Type: DiscountFixed, Value: dec("99")},
			wantType:  DiscountPercentage,
			wantValue: decimal.Zero,
		},
		{
			name:      "percentage at upper bound",
			settings:  DiscountSettings{HasDiscount: true, Type: DiscountPercentage, Value: dec("100")},
			wantType:  DiscountPercentage,
			wantValue: dec("100"),
		},
		{
			name:      "large fixed value is allowed",
			settings:  DiscountSettings{HasDiscount: true, Type: DiscountFixed, Value: dec("1000000000000.123456")},
			wantType:  DiscountFixed,
			wantValue: dec("1000000000000.123456"),
		},
		{
			name:      "missing type is percentage",
			settings:  DiscountSettings{HasDiscount: true, Value: dec("10")},
			wantType:  DiscountPercentage,
			wantValue: dec("10"),
		},
		{
			name:      "missing type with value above 100",
			settings:  DiscountSettings{HasDiscount: true, Value: dec("150")},
			wantField: "discountValue",
		},
		{
			name:      "percentage above 100",
			settings:  DiscountSettings{HasDiscount: true, Type: DiscountPercentage, Value: dec("100.01")},
			wantField: "discountValue",
		},
		{
			name:      "negative value",
			settings:  DiscountSettings{HasDiscount: true, Type: DiscountFixed, Value: dec("-1")},
			wantField: "discountValue",
		},
		{
			name:      "unknown type",
			settings:  DiscountSettings{HasDiscount: true, Type: "bogo", Value: dec("5")},
			wantField: "discountType",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyDiscountSettings(base, tt.settings)
			if tt.wantField != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantField, vErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.settings.HasDiscount, got.HasDiscount)
			assert.Equal(t, tt.wantType, got.DiscountType)
			assert.True(t, tt.wantValue.Equal(got.DiscountValue), "value %s", got.DiscountValue)
		})
	}

	// The input is never modified.
	assert.Equal(t, DiscountFixed, base.DiscountType)
}

func TestBundle_IsDiscountCandidate(t *testing.T) {
	active := Bundle{
		IsActive:       true,
		HasDiscount:    true,
		DiscountType:   DiscountPercentage,
		DiscountValue:  dec("10"),
		LinkedProducts: []LinkedProduct{{ProductID: "a", IsActive: true}},
	}
	assert.True(t, active.IsDiscountCandidate())

	inactive := active.Clone()
	inactive.IsActive = false
	assert.False(t, inactive.IsDiscountCandidate())

	noDiscount := active.Clone()
	noDiscount.HasDiscount = false
	assert.False(t, noDiscount.IsDiscountCandidate())

	zeroValue := active.Clone()
	zeroValue.DiscountValue = decimal.Zero
	assert.False(t, zeroValue.IsDiscountCandidate())

	noActiveLinks := active.Clone()
	noActiveLinks.LinkedProducts[0].IsActive = false
	assert.False(t, noActiveLinks.IsDiscountCandidate())
	assert.True(t, active.LinkedProducts[0].IsActive, "clone must not share links")
}
