package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/order"
	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/httpmiddleware"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

// mapError writes the {code, message} response for a domain error. Unknown
// errors are logged and reported as 500 without leaking details.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *upsell.ValidationError
		bodyErr       *BodyError
		orderQtyErr   *order.InvalidQuantityError
		orderProdErr  *order.ProductNotFoundError
		linkProdErr   *upsell.ProductNotFoundError
	)

	switch {
	case errors.As(err, &bodyErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, bodyErr.Error())
	case errors.As(err, &validationErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, upsell.ErrSelfLink),
		errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, order.ErrEmptyItems):
		httpmiddleware.WriteError(w, http.StatusBadRequest, rootMessage(err))

	// Checkout reports bad lines as unprocessable, like the order API always has.
	case errors.As(err, &orderQtyErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, orderQtyErr.Error())
	case errors.As(err, &orderProdErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, orderProdErr.Error())

	case errors.As(err, &linkProdErr):
		httpmiddleware.WriteError(w, http.StatusNotFound, linkProdErr.Error())
	case errors.Is(err, upsell.ErrBundleNotFound),
		errors.Is(err, upsell.ErrLinkNotFound),
		errors.Is(err, product.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, rootMessage(err))

	case errors.Is(err, upsell.ErrDuplicateBundle),
		errors.Is(err, upsell.ErrDuplicateLink),
		errors.Is(err, upsell.ErrVersionConflict):
		httpmiddleware.WriteError(w, http.StatusConflict, rootMessage(err))

	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage strips wrapping context so clients see the sentinel message
// only.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
