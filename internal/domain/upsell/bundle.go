package upsell

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported bundle discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the linked products total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the linked products total.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var hundred = decimal.NewFromInt(100)

// Sentinel errors for bundle operations.
var (
	// ErrBundleNotFound is returned when a bundle does not exist.
	ErrBundleNotFound = errors.New("upsell bundle not found")
	// ErrDuplicateBundle is returned when the main product already owns an
	// active bundle.
	ErrDuplicateBundle = errors.New("an active upsell bundle already exists for this product")
	// ErrDuplicateLink is returned when a product is linked to a bundle twice.
	ErrDuplicateLink = errors.New("product is already linked to this bundle")
	// ErrLinkNotFound is returned when a linked-product operation targets a
	// product that is not part of the bundle.
	ErrLinkNotFound = errors.New("linked product not found in bundle")
	// ErrSelfLink is returned when a bundle's main product is linked to itself.
	ErrSelfLink = errors.New("main product cannot be linked to itself")
	// ErrVersionConflict is returned by repositories when a bundle was
	// modified since it was read.
	ErrVersionConflict = errors.New("upsell bundle was modified concurrently")
)

// ValidationError describes a malformed bundle configuration or request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Bundle links a main product to an ordered set of companion products and
// optionally carries a discount rule.
type Bundle struct {
	ID             string
	MainProductID  string
	LinkedProducts []LinkedProduct
	IsActive       bool
	HasDiscount    bool
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LinkedProduct is one companion product inside a bundle.
type LinkedProduct struct {
	ProductID string    `json:"productId"`
	Order     int       `json:"order"`
	IsActive  bool      `json:"isActive"`
	AddedAt   time.Time `json:"addedAt"`
}

// DiscountSettings is the bundle-level discount configuration.
type DiscountSettings struct {
	HasDiscount bool
	Type        DiscountType
	Value       decimal.Decimal
}

// Clone returns a copy of b that shares no mutable state with it.
func (b Bundle) Clone() Bundle {
	b.LinkedProducts = slices.Clone(b.LinkedProducts)
	return b
}

// HasActiveLinks reports whether at least one linked entry is active.
func (b Bundle) HasActiveLinks() bool {
	return slices.ContainsFunc(b.LinkedProducts, func(lp LinkedProduct) bool {
		return lp.IsActive
	})
}

// IsDiscountCandidate reports whether the bundle can ever produce a discount.
func (b Bundle) IsDiscountCandidate() bool {
	return b.IsActive && b.HasDiscount && b.DiscountValue.IsPositive() && b.HasActiveLinks()
}

func (b Bundle) linkIndex(productID string) int {
	return slices.IndexFunc(b.LinkedProducts, func(lp LinkedProduct) bool {
		return lp.ProductID == productID
	})
}

// DiscountPatch is a partial discount update. Nil fields and an empty Type
// keep what the bundle already has.
type DiscountPatch struct {
	HasDiscount *bool
	Type        DiscountType
	Value       *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p DiscountPatch) Empty() bool {
	return p.HasDiscount == nil && p.Type == "" && p.Value == nil
}

// Merge resolves the patch against the current settings of b. Setting a
// type or value without hasDiscount enables the discount.
func (p DiscountPatch) Merge(b Bundle) DiscountSettings {
	s := DiscountSettings{HasDiscount: true, Type: b.DiscountType, Value: b.DiscountValue}
	if p.HasDiscount != nil {
		s.HasDiscount = *p.HasDiscount
	}
	if p.Type != "" {
		s.Type = p.Type
	}
	if p.Value != nil {
		s.Value = *p.Value
	}
	return s
}

// ApplyDiscountSettings returns a copy of b with the given discount settings.
// Disabling the discount always resets the type to percentage and the value
// to zero, whatever was passed in. An enabled discount without a type is a
// percentage discount.
func ApplyDiscountSettings(b Bundle, s DiscountSettings) (Bundle, error) {
	out := b.Clone()
	if !s.HasDiscount {
		out.HasDiscount = false
		out.DiscountType = DiscountPercentage
		out.DiscountValue = decimal.Zero
		return out, nil
	}
	if s.Type == "" {
		s.Type = DiscountPercentage
	}
	if err := validateDiscount(s.Type, s.Value); err != nil {
		return Bundle{}, err
	}
	out.HasDiscount = true
	out.DiscountType = s.Type
	out.DiscountValue = s.Value
	return out, nil
}

func validateDiscount(t DiscountType, v decimal.Decimal) error {
	if !t.Valid() {
		return &ValidationError{Field: "discountType", Reason: fmt.Sprintf("unsupported discount type %q", t)}
	}
	if v.IsNegative() {
		return &ValidationError{Field: "discountValue", Reason: "must not be negative"}
	}
	if t == DiscountPercentage && v.GreaterThan(hundred) {
		return &ValidationError{Field: "discountValue", Reason: "percentage must be between 0 and 100"}
	}
	return nil
}

// NewBundleParams holds the inputs for NewBundle.
type NewBundleParams struct {
	ID               string
	MainProductID    string
	LinkedProductIDs []string
	IsActive         bool
	Discount         DiscountSettings
	Now              time.Time
}

// NewBundle builds a bundle and enforces its invariants: a main product is
// required, the main product is never linked to itself, linked products are
// distinct, and the discount configuration is valid. Linked products receive
// their position as initial order.
func NewBundle(p NewBundleParams) (Bundle, error) {
	if p.MainProductID == "" {
		return Bundle{}, &ValidationError{Field: "mainProduct", Reason: "is required"}
	}

	b := Bundle{
		ID:             p.ID,
		MainProductID:  p.MainProductID,
		LinkedProducts: make([]LinkedProduct, 0, len(p.LinkedProductIDs)),
		IsActive:       p.IsActive,
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}
	for i, id := range p.LinkedProductIDs {
		var err error
		b, err = AddLinkedProduct(b, id, i, p.Now)
		if err != nil {
			return Bundle{}, err
		}
	}

	return ApplyDiscountSettings(b, p.Discount)
}
