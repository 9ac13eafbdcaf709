package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

type createBundleRequest struct {
	MainProduct    string           `json:"mainProduct" validate:"required"`
	LinkedProducts []string         `json:"linkedProducts" validate:"unique,dive,required"`
	IsActive       *bool            `json:"isActive"`
	HasDiscount    bool             `json:"hasDiscount"`
	DiscountType   string           `json:"discountType" validate:"omitempty,oneof=percentage fixed"`
	DiscountValue  *decimal.Decimal `json:"discountValue" validate:"required_if=HasDiscount true"`
}

type updateBundleRequest struct {
	IsActive      *bool            `json:"isActive"`
	HasDiscount   *bool            `json:"hasDiscount"`
	DiscountType  string           `json:"discountType" validate:"omitempty,oneof=percentage fixed"`
	DiscountValue *decimal.Decimal `json:"discountValue"`
}

type addLinkRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Order     *int   `json:"order" validate:"omitempty,gte=0"`
}

type reorderRequest struct {
	Order *int `json:"order" validate:"required,gte=0"`
}

func discountSettings(has bool, typ string, value *decimal.Decimal) upsell.DiscountSettings {
	s := upsell.DiscountSettings{HasDiscount: has, Type: upsell.DiscountType(typ)}
	if value != nil {
		s.Value = *value
	}
	return s
}

func writeBundle(w http.ResponseWriter, status int, b *upsell.Bundle) {
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeBundle(e, b)
	})
}

// ListBundles handles GET /api/admin/upsells?limit=&cursor=.
func (h *Handler) ListBundles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := pagination.Params{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			mapError(w, r, &upsell.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		p.Limit = limit
	}

	page, err := h.bundles.ListBundles(r.Context(), p)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("bundles")
		e.ArrStart()
		for i := range page.Bundles {
			encodeBundle(e, &page.Bundles[i])
		}
		e.ArrEnd()
		if page.NextCursor != "" {
			e.FieldStart("nextCursor")
			e.Str(page.NextCursor)
		}
		e.ObjEnd()
	})
}

// CreateBundle handles POST /api/admin/upsells.
func (h *Handler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var req createBundleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		mapError(w, r, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	b, err := h.bundles.CreateBundle(r.Context(), upsell.CreateBundleInput{
		MainProductID:    req.MainProduct,
		LinkedProductIDs: req.LinkedProducts,
		IsActive:         active,
		Discount:         discountSettings(req.HasDiscount, req.DiscountType, req.DiscountValue),
	})
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusCreated, b)
}

// GetBundle handles GET /api/admin/upsells/{bundleId}.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.bundles.GetBundle(r.Context(), chi.URLParam(r, "bundleId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}

// UpdateBundle handles PATCH /api/admin/upsells/{bundleId}. Sending a
// discount type or value without hasDiscount enables the discount; fields
// left out keep their stored values.
func (h *Handler) UpdateBundle(w http.ResponseWriter, r *http.Request) {
	var req updateBundleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		mapError(w, r, err)
		return
	}

	in := upsell.UpdateBundleInput{
		IsActive: req.IsActive,
		Discount: upsell.DiscountPatch{
			HasDiscount: req.HasDiscount,
			Type:        upsell.DiscountType(req.DiscountType),
			Value:       req.DiscountValue,
		},
	}
	b, err := h.bundles.UpdateBundle(r.Context(), chi.URLParam(r, "bundleId"), in)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}

// DeleteBundle handles DELETE /api/admin/upsells/{bundleId}.
func (h *Handler) DeleteBundle(w http.ResponseWriter, r *http.Request) {
	if err := h.bundles.DeleteBundle(r.Context(), chi.URLParam(r, "bundleId")); err != nil {
		mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLinkedProduct handles POST /api/admin/upsells/{bundleId}/products.
// Without an explicit order the product goes last.
func (h *Handler) AddLinkedProduct(w http.ResponseWriter, r *http.Request) {
	var req addLinkRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		mapError(w, r, err)
		return
	}
	order := -1
	if req.Order != nil {
		order = *req.Order
	}

	b, err := h.bundles.AddLinkedProduct(r.Context(), chi.URLParam(r, "bundleId"), req.ProductID, order)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}

// RemoveLinkedProduct handles DELETE /api/admin/upsells/{bundleId}/products/{productId}.
func (h *Handler) RemoveLinkedProduct(w http.ResponseWriter, r *http.Request) {
	b, err := h.bundles.RemoveLinkedProduct(r.Context(), chi.URLParam(r, "bundleId"), chi.URLParam(r, "productId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}

// UpdateLinkedProductOrder handles PUT /api/admin/upsells/{bundleId}/products/{productId}/order.
func (h *Handler) UpdateLinkedProductOrder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		mapError(w, r, err)
		return
	}

	b, err := h.bundles.UpdateLinkedProductOrder(r.Context(),
		chi.URLParam(r, "bundleId"), chi.URLParam(r, "productId"), *req.Order)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}

// ToggleLinkedProduct handles POST /api/admin/upsells/{bundleId}/products/{productId}/toggle.
func (h *Handler) ToggleLinkedProduct(w http.ResponseWriter, r *http.Request) {
	b, err := h.bundles.ToggleLinkedProductStatus(r.Context(), chi.URLParam(r, "bundleId"), chi.URLParam(r, "productId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeBundle(w, http.StatusOK, b)
}
