package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
)

// CartDiscounts handles POST /api/upsell/cart-discounts.
func (h *Handler) CartDiscounts(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		mapError(w, r, &BodyError{Message: "invalid request body: " + err.Error()})
		return
	}
	items, err := decodeCart(data)
	if err != nil {
		mapError(w, r, err)
		return
	}

	report, err := h.discounts.CalculateCartDiscounts(r.Context(), items)
	if err != nil {
		mapError(w, r, errors.Wrap(err, "calculate cart discounts"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeReport(e, report)
	})
}

// StorefrontUpsell handles GET /api/upsell/product/{productId}.
func (h *Handler) StorefrontUpsell(w http.ResponseWriter, r *http.Request) {
	sf, err := h.bundles.GetStorefrontUpsell(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("bundle")
		encodeBundle(e, &sf.Bundle)
		e.FieldStart("products")
		encodeProducts(e, sf.Products)
		e.ObjEnd()
	})
}

// maxCartQuantity bounds a cart line quantity so that huge values cannot
// overflow int.
const maxCartQuantity = 1_000_000

var maxCartQuantityDec = decimal.NewFromInt(maxCartQuantity)

// clampQuantity truncates q to an integer in [0, maxCartQuantity]. Zero and
// negative quantities count as one unit downstream.
func clampQuantity(q decimal.Decimal) int {
	switch {
	case q.IsNegative():
		return 0
	case q.GreaterThan(maxCartQuantityDec):
		return maxCartQuantity
	default:
		return int(q.IntPart())
	}
}

var errMissingCart = &upsell.ValidationError{Field: "cartItems", Reason: "must be an array"}

// decodeCart reads {cartItems: [...]}. Only a missing or non-array cartItems
// fails the request; malformed lines are dropped.
func decodeCart(data []byte) ([]upsell.CartItem, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errMissingCart
	}

	var (
		items []upsell.CartItem
		found bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "cartItems" {
			return d.Skip()
		}
		if d.Next() != jx.Array {
			return errMissingCart
		}
		found = true
		items = []upsell.CartItem{}
		return d.Arr(func(d *jx.Decoder) error {
			if d.Next() != jx.Object {
				return d.Skip()
			}
			item, err := decodeCartLine(d)
			if err != nil {
				return err
			}
			if item.ProductID != "" {
				items = append(items, item)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, errMissingCart) {
			return nil, errMissingCart
		}
		return nil, &BodyError{Message: "invalid request body: " + err.Error()}
	}
	if !found {
		return nil, errMissingCart
	}
	return items, nil
}

func decodeCartLine(d *jx.Decoder) (upsell.CartItem, error) {
	var (
		item     upsell.CartItem
		legacyID string
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			item.ProductID, err = decodeID(d)
		case "_id":
			legacyID, err = decodeID(d)
		case "quantity":
			var q decimal.NullDecimal
			if q, err = decodeAmount(d); err == nil && q.Valid {
				item.Quantity = clampQuantity(q.Decimal)
			}
		case "price":
			item.Price, err = decodeAmount(d)
		case "total":
			item.Total, err = decodeAmount(d)
		case "productInfo":
			item.InfoPrice, err = decodeProductInfo(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if item.ProductID == "" {
		item.ProductID = legacyID
	}
	return item, err
}

func decodeProductInfo(d *jx.Decoder) (decimal.NullDecimal, error) {
	var price decimal.NullDecimal
	if d.Next() != jx.Object {
		return price, d.Skip()
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "price" {
			return d.Skip()
		}
		var err error
		price, err = decodeAmount(d)
		return err
	})
	return price, err
}

// decodeID accepts string and numeric ids. Anything else is ignored.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", d.Skip()
	}
}

// decodeAmount accepts numbers and numeric strings. Values that do not parse
// leave the field unset.
func decodeAmount(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = s
	default:
		return decimal.NullDecimal{}, d.Skip()
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(v), nil
}
