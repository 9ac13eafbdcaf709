package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiscountMetrics records bundle discount evaluation and mutation outcomes.
// A nil *DiscountMetrics is valid and records nothing.
type DiscountMetrics struct {
	carts     prometheus.Counter
	evaluated prometheus.Counter
	applied   *prometheus.CounterVec
	amount    prometheus.Histogram
	retries   *prometheus.CounterVec
}

// NewDiscountMetrics registers the discount metrics on the provided registerer.
func NewDiscountMetrics(reg prometheus.Registerer) *DiscountMetrics {
	if reg == nil {
		return &DiscountMetrics{}
	}
	carts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsell_carts_evaluated_total",
		Help: "Carts evaluated for bundle discounts.",
	})
	evaluated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsell_bundles_evaluated_total",
		Help: "Candidate bundles checked against a cart.",
	})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsell_bundles_applied_total",
		Help: "Bundles that produced a discount, by discount type.",
	}, []string{"discount_type"})
	amount := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upsell_cart_discount_amount",
		Help:    "Total bundle discount granted per cart.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsell_mutation_retries_total",
		Help: "Bundle mutations retried after a version conflict, by operation.",
	}, []string{"operation"})
	reg.MustRegister(carts, evaluated, applied, amount, retries)
	return &DiscountMetrics{
		carts:     carts,
		evaluated: evaluated,
		applied:   applied,
		amount:    amount,
		retries:   retries,
	}
}

// ObserveCart records one evaluated cart, the number of candidate bundles
// checked and the total discount granted.
func (m *DiscountMetrics) ObserveCart(candidates int, total float64) {
	if m == nil || m.carts == nil {
		return
	}
	m.carts.Inc()
	m.evaluated.Add(float64(candidates))
	m.amount.Observe(total)
}

// IncApplied counts a bundle that produced a discount.
func (m *DiscountMetrics) IncApplied(discountType string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(discountType)).Inc()
}

// IncRetry counts a mutation retried after a concurrent modification.
func (m *DiscountMetrics) IncRetry(operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
