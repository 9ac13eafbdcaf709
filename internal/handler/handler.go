// Package handler implements the HTTP API of the upsell service on top of a
// chi router.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-upsell/internal/domain/auth"
	"github.com/xenking/oolio-upsell/internal/domain/order"
	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/httpmiddleware"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

// BundleService is the bundle administration and storefront surface used by
// the API. It is implemented by *upsell.Service.
type BundleService interface {
	CreateBundle(ctx context.Context, in upsell.CreateBundleInput) (*upsell.Bundle, error)
	GetBundle(ctx context.Context, id string) (*upsell.Bundle, error)
	ListBundles(ctx context.Context, p pagination.Params) (*upsell.BundlePage, error)
	UpdateBundle(ctx context.Context, id string, in upsell.UpdateBundleInput) (*upsell.Bundle, error)
	DeleteBundle(ctx context.Context, id string) error
	AddLinkedProduct(ctx context.Context, bundleID, productID string, order int) (*upsell.Bundle, error)
	RemoveLinkedProduct(ctx context.Context, bundleID, productID string) (*upsell.Bundle, error)
	UpdateLinkedProductOrder(ctx context.Context, bundleID, productID string, order int) (*upsell.Bundle, error)
	ToggleLinkedProductStatus(ctx context.Context, bundleID, productID string) (*upsell.Bundle, error)
	GetStorefrontUpsell(ctx context.Context, mainProductID string) (*upsell.Storefront, error)
}

// Discounter evaluates a cart against the active bundles. It is implemented
// by *upsell.Engine.
type Discounter interface {
	CalculateCartDiscounts(ctx context.Context, items []upsell.CartItem) (*upsell.Report, error)
}

// OrderPlacer places checkout orders. It is implemented by *order.Service.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

var (
	_ BundleService = (*upsell.Service)(nil)
	_ Discounter    = (*upsell.Engine)(nil)
	_ OrderPlacer   = (*order.Service)(nil)
)

// Handler serves the upsell API.
type Handler struct {
	bundles   BundleService
	discounts Discounter
	orders    OrderPlacer
	security  *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	bundles BundleService,
	discounts Discounter,
	orders OrderPlacer,
	security *SecurityHandler,
) *Handler {
	return &Handler{
		bundles:   bundles,
		discounts: discounts,
		orders:    orders,
		security:  security,
	}
}

// Router returns the API routes. mws are installed on the router itself so
// that they see the matched route pattern.
func (h *Handler) Router(mws ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/upsell", func(r chi.Router) {
			r.Post("/cart-discounts", h.CartDiscounts)
			r.Get("/product/{productId}", h.StorefrontUpsell)
		})

		r.With(h.security.Require(auth.ScopeCreateOrder)).Post("/order", h.PlaceOrder)

		r.Route("/admin/upsells", func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeManageUpsell))

			r.Get("/", h.ListBundles)
			r.Post("/", h.CreateBundle)
			r.Route("/{bundleId}", func(r chi.Router) {
				r.Get("/", h.GetBundle)
				r.Patch("/", h.UpdateBundle)
				r.Delete("/", h.DeleteBundle)

				r.Post("/products", h.AddLinkedProduct)
				r.Delete("/products/{productId}", h.RemoveLinkedProduct)
				r.Put("/products/{productId}/order", h.UpdateLinkedProductOrder)
				r.Post("/products/{productId}/toggle", h.ToggleLinkedProduct)
			})
		})
	})
	return r
}
