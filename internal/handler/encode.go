package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-upsell/internal/domain/order"
	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/internal/domain/upsell"
)

// writeJSON encodes a response body with enc and writes it with status.
func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	enc(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Money is written as a bare JSON number with the exact decimal digits.
func encodeAmount(e *jx.Encoder, d decimal.Decimal) {
	e.RawStr(d.String())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func encodeBundle(e *jx.Encoder, b *upsell.Bundle) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(b.ID)
	e.FieldStart("mainProduct")
	e.Str(b.MainProductID)

	e.FieldStart("linkedProducts")
	e.ArrStart()
	for _, lp := range upsell.SortedLinks(b.LinkedProducts) {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(lp.ProductID)
		e.FieldStart("order")
		e.Int(lp.Order)
		e.FieldStart("isActive")
		e.Bool(lp.IsActive)
		e.FieldStart("addedAt")
		encodeTime(e, lp.AddedAt)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("isActive")
	e.Bool(b.IsActive)
	e.FieldStart("hasDiscount")
	e.Bool(b.HasDiscount)
	e.FieldStart("discountType")
	e.Str(string(b.DiscountType))
	e.FieldStart("discountValue")
	encodeAmount(e, b.DiscountValue)
	e.FieldStart("version")
	e.Int64(b.Version)
	e.FieldStart("createdAt")
	encodeTime(e, b.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, b.UpdatedAt)
	e.ObjEnd()
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("priceRange")
	e.ObjStart()
	e.FieldStart("min")
	encodeAmount(e, p.MinPrice)
	e.FieldStart("max")
	encodeAmount(e, p.MaxPrice)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeProducts(e *jx.Encoder, products []product.Product) {
	e.ArrStart()
	for _, p := range products {
		encodeProduct(e, p)
	}
	e.ArrEnd()
}

func encodeDiscountLines(e *jx.Encoder, lines []upsell.DiscountLine) {
	e.ArrStart()
	for _, d := range lines {
		e.ObjStart()
		e.FieldStart("bundleId")
		e.Str(d.BundleID)
		e.FieldStart("mainProduct")
		e.Str(d.MainProductID)
		e.FieldStart("discountType")
		e.Str(string(d.DiscountType))
		e.FieldStart("discountAmount")
		encodeAmount(e, d.DiscountAmount)
		e.FieldStart("productCount")
		e.Int(d.ProductCount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeReport(e *jx.Encoder, r *upsell.Report) {
	e.ObjStart()
	e.FieldStart("applicableDiscounts")
	e.ArrStart()
	for _, d := range r.ApplicableDiscounts {
		e.ObjStart()
		e.FieldStart("bundleId")
		e.Str(d.BundleID)
		e.FieldStart("mainProduct")
		e.Str(d.MainProductID)
		e.FieldStart("linkedProductIds")
		encodeStrings(e, d.LinkedProductIDs)
		e.FieldStart("discountType")
		e.Str(string(d.DiscountType))
		e.FieldStart("discountValue")
		encodeAmount(e, d.DiscountValue)
		e.FieldStart("linkedProductsTotal")
		encodeAmount(e, d.LinkedProductsTotal)
		e.FieldStart("discountAmount")
		encodeAmount(e, d.DiscountAmount)
		e.FieldStart("productCount")
		e.Int(d.ProductCount)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalDiscount")
	encodeAmount(e, r.TotalDiscount)
	e.FieldStart("discounts")
	encodeDiscountLines(e, r.Discounts)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, res *order.PlaceOrderResult) {
	o := res.Order
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(item.ProductID)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("products")
	encodeProducts(e, res.Products)
	e.FieldStart("subtotal")
	encodeAmount(e, o.Subtotal)
	e.FieldStart("discounts")
	encodeAmount(e, o.Discounts)
	e.FieldStart("total")
	encodeAmount(e, o.Total)
	e.FieldStart("bundleIds")
	encodeStrings(e, o.BundleIDs)
	e.FieldStart("appliedDiscounts")
	encodeDiscountLines(e, res.Discounts)
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.ObjEnd()
}
