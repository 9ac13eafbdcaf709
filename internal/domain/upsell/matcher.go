package upsell

// ActiveLinkedIDs returns the IDs of the bundle's active linked products that
// resolve in the catalog, in bundle order.
func ActiveLinkedIDs(b Bundle, cat Catalog) []string {
	var ids []string
	for _, lp := range b.LinkedProducts {
		if !lp.IsActive || lp.ProductID == "" || !cat.resolvable(lp.ProductID) {
			continue
		}
		ids = append(ids, lp.ProductID)
	}
	return ids
}

// IsSatisfied reports whether every active linked product of the bundle is
// present in the cart. A bundle without active linked products is never
// satisfied.
func IsSatisfied(b Bundle, cartIDs CartIDs, cat Catalog) bool {
	return satisfiedBy(ActiveLinkedIDs(b, cat), cartIDs)
}

func satisfiedBy(linkedIDs []string, cartIDs CartIDs) bool {
	if len(linkedIDs) == 0 {
		return false
	}
	for _, id := range linkedIDs {
		if !cartIDs.Has(id) {
			return false
		}
	}
	return true
}
