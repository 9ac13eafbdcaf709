package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-upsell/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items []orderItemRequest `json:"items"`
}

// PlaceOrder handles POST /api/order. Quantities and product ids are checked
// by the order service so that bad lines surface as 422.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		mapError(w, r, err)
		return
	}

	items := make([]order.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	result, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{Items: items})
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, result)
	})
}
