package upsell

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/pkg/metrics"
)

const instrumentationName = "github.com/xenking/oolio-upsell/internal/domain/upsell"

// BundleStore supplies the bundles that may grant a cart discount.
type BundleStore interface {
	GetActiveDiscountBundles(ctx context.Context) ([]Bundle, error)
}

// ProductLookup resolves catalog products in a single batch.
type ProductLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// DiscountResult describes one bundle that a cart fully satisfies.
type DiscountResult struct {
	BundleID            string
	MainProductID       string
	LinkedProductIDs    []string
	DiscountType        DiscountType
	DiscountValue       decimal.Decimal
	LinkedProductsTotal decimal.Decimal
	DiscountAmount      decimal.Decimal
	ProductCount        int
}

// DiscountLine is the flattened display projection of a DiscountResult.
type DiscountLine struct {
	BundleID       string
	MainProductID  string
	DiscountType   DiscountType
	DiscountAmount decimal.Decimal
	ProductCount   int
}

// Report is the outcome of a cart discount calculation.
type Report struct {
	ApplicableDiscounts []DiscountResult
	TotalDiscount       decimal.Decimal
	Discounts           []DiscountLine
}

func emptyReport() *Report {
	return &Report{
		ApplicableDiscounts: []DiscountResult{},
		TotalDiscount:       decimal.Zero,
		Discounts:           []DiscountLine{},
	}
}

// Engine evaluates carts against the configured upsell bundles. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	bundles  BundleStore
	products ProductLookup

	metrics *metrics.DiscountMetrics
	tracer  trace.Tracer
	carts   metric.Int64Counter
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metrics        *metrics.DiscountMetrics
}

// WithTracerProvider sets the tracer provider used for calculation spans.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(o *engineOptions) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider used for the evaluation counter.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(o *engineOptions) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithMetrics sets the Prometheus collector for discount outcomes.
func WithMetrics(m *metrics.DiscountMetrics) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// NewEngine creates an Engine. products may be nil, in which case every
// linked product is treated as resolvable and no catalog prices are used.
func NewEngine(bundles BundleStore, products ProductLookup, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	carts, err := o.meterProvider.Meter(instrumentationName).Int64Counter(
		"upsell.cart.evaluations",
		metric.WithDescription("Number of carts evaluated for bundle discounts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart counter")
	}

	return &Engine{
		bundles:  bundles,
		products: products,
		metrics:  o.metrics,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		carts:    carts,
	}, nil
}

// CalculateCartDiscounts returns every bundle discount the cart qualifies for.
// Satisfied bundles stack additively in store order. Items without a product
// ID are ignored, and a cart with no usable items yields an empty report.
func (e *Engine) CalculateCartDiscounts(ctx context.Context, items []CartItem) (_ *Report, rerr error) {
	ctx, span := e.tracer.Start(ctx, "upsell.CalculateCartDiscounts")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	cart := IndexCart(items)
	span.SetAttributes(attribute.Int("upsell.cart.products", cart.Len()))
	if cart.Len() == 0 {
		return emptyReport(), nil
	}
	e.carts.Add(ctx, 1)

	stored, err := e.bundles.GetActiveDiscountBundles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get active discount bundles")
	}
	candidates := make([]Bundle, 0, len(stored))
	for _, b := range stored {
		if b.IsDiscountCandidate() {
			candidates = append(candidates, b)
		}
	}

	cat, err := e.loadCatalog(ctx, candidates)
	if err != nil {
		return nil, err
	}

	report := emptyReport()
	cartIDs := cart.IDs()
	for _, b := range candidates {
		linked := ActiveLinkedIDs(b, cat)
		if !satisfiedBy(linked, cartIDs) {
			continue
		}
		c := ComputeDiscount(b, cart, linked, cat)
		if !c.DiscountAmount.IsPositive() {
			continue
		}

		res := DiscountResult{
			BundleID:            b.ID,
			MainProductID:       b.MainProductID,
			LinkedProductIDs:    linked,
			DiscountType:        b.DiscountType,
			DiscountValue:       b.DiscountValue,
			LinkedProductsTotal: c.LinkedProductsTotal,
			DiscountAmount:      c.DiscountAmount,
			ProductCount:        len(linked),
		}
		report.ApplicableDiscounts = append(report.ApplicableDiscounts, res)
		report.Discounts = append(report.Discounts, DiscountLine{
			BundleID:       res.BundleID,
			MainProductID:  res.MainProductID,
			DiscountType:   res.DiscountType,
			DiscountAmount: res.DiscountAmount,
			ProductCount:   res.ProductCount,
		})
		report.TotalDiscount = report.TotalDiscount.Add(c.DiscountAmount)
		e.metrics.IncApplied(string(b.DiscountType))
	}

	span.SetAttributes(
		attribute.Int("upsell.bundles.candidates", len(candidates)),
		attribute.Int("upsell.bundles.applied", len(report.ApplicableDiscounts)),
	)
	e.metrics.ObserveCart(len(candidates), report.TotalDiscount.InexactFloat64())
	zctx.From(ctx).Debug("Cart discounts calculated",
		zap.Int("products", cart.Len()),
		zap.Int("candidates", len(candidates)),
		zap.Int("applied", len(report.ApplicableDiscounts)),
		zap.String("total", report.TotalDiscount.String()),
	)

	return report, nil
}

// loadCatalog resolves every active linked product of the candidates in one
// batch.
func (e *Engine) loadCatalog(ctx context.Context, candidates []Bundle) (Catalog, error) {
	if e.products == nil {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, b := range candidates {
		for _, lp := range b.LinkedProducts {
			if !lp.IsActive || lp.ProductID == "" {
				continue
			}
			if _, ok := seen[lp.ProductID]; ok {
				continue
			}
			seen[lp.ProductID] = struct{}{}
			ids = append(ids, lp.ProductID)
		}
	}

	cat := make(Catalog, len(ids))
	if len(ids) == 0 {
		return cat, nil
	}
	products, err := e.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get linked products")
	}
	for _, p := range products {
		cat[p.ID] = p
	}
	return cat, nil
}
