package upsell

import (
	"slices"
	"time"
)

// AddLinkedProduct returns a copy of b with productID appended as an active
// linked product. A negative order places it after the existing links.
func AddLinkedProduct(b Bundle, productID string, order int, now time.Time) (Bundle, error) {
	if productID == "" {
		return Bundle{}, &ValidationError{Field: "productId", Reason: "is required"}
	}
	if productID == b.MainProductID {
		return Bundle{}, ErrSelfLink
	}
	if b.linkIndex(productID) >= 0 {
		return Bundle{}, ErrDuplicateLink
	}

	if order < 0 {
		order = len(b.LinkedProducts)
	}
	out := b.Clone()
	out.LinkedProducts = append(out.LinkedProducts, LinkedProduct{
		ProductID: productID,
		Order:     order,
		IsActive:  true,
		AddedAt:   now,
	})
	return out, nil
}

// RemoveLinkedProduct returns a copy of b without productID. Removing a
// product that is not linked is a no-op.
func RemoveLinkedProduct(b Bundle, productID string) Bundle {
	out := b.Clone()
	out.LinkedProducts = slices.DeleteFunc(out.LinkedProducts, func(lp LinkedProduct) bool {
		return lp.ProductID == productID
	})
	return out
}

// ReorderLinkedProduct returns a copy of b with the display order of
// productID set to order.
func ReorderLinkedProduct(b Bundle, productID string, order int) (Bundle, error) {
	i := b.linkIndex(productID)
	if i < 0 {
		return Bundle{}, ErrLinkNotFound
	}
	out := b.Clone()
	out.LinkedProducts[i].Order = order
	return out, nil
}

// ToggleLinkedProduct returns a copy of b with the active flag of productID
// flipped.
func ToggleLinkedProduct(b Bundle, productID string) (Bundle, error) {
	i := b.linkIndex(productID)
	if i < 0 {
		return Bundle{}, ErrLinkNotFound
	}
	out := b.Clone()
	out.LinkedProducts[i].IsActive = !out.LinkedProducts[i].IsActive
	return out, nil
}

// SortedLinks returns the linked products in display order. Ties keep
// insertion order.
func SortedLinks(links []LinkedProduct) []LinkedProduct {
	out := slices.Clone(links)
	slices.SortStableFunc(out, func(a, b LinkedProduct) int {
		return a.Order - b.Order
	})
	return out
}
