// Package metrics exposes the pharmacy service's Prometheus collectors.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the pharmacy collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	DispensesTotal         *prometheus.CounterVec
	DispenseDuration       *prometheus.HistogramVec
	VersionConflicts       prometheus.Counter
	LotsDecremented        prometheus.Counter
	CostNotificationErrors prometheus.Counter
	StockReceipts          prometheus.Counter
	StockAdjustments       prometheus.Counter
	StockDrift             *prometheus.GaugeVec
	ReconcileRuns          *prometheus.CounterVec
	PricingBreakerState    prometheus.Gauge
}

// New creates the collectors under namespace and registers them with a fresh registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.DispensesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispenses_total",
			Help:      "Dispense attempts by billing mode and error code",
		},
		[]string{"mode", "outcome", "code"},
	)

	m.DispenseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispense_duration_seconds",
			Help:      "Time spent in one dispense unit of work",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"mode"},
	)

	m.VersionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lot_version_conflicts_total",
		Help:      "Lot updates rejected because the lot changed after it was read",
	})

	m.LotsDecremented = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lots_decremented_total",
		Help:      "Lot decrements committed by dispenses",
	})

	m.CostNotificationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cost_notification_failures_total",
		Help:      "Cost postings that could not be published after a committed dispense",
	})

	m.StockReceipts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_receipts_total",
		Help:      "Lot receipts committed",
	})

	m.StockAdjustments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_adjustments_total",
		Help:      "Manual lot adjustments committed",
	})

	m.StockDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_drift_products",
			Help:      "Products whose on-hand differs from the sum of their lots, per tenant",
		},
		[]string{"tenant_id"},
	)

	m.ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	m.PricingBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pricing_circuit_breaker_state",
		Help:      "Pricing client breaker state (0 closed, 1 half-open, 2 open)",
	})

	registry.MustRegister(
		m.DispensesTotal,
		m.DispenseDuration,
		m.VersionConflicts,
		m.LotsDecremented,
		m.CostNotificationErrors,
		m.StockReceipts,
		m.StockAdjustments,
		m.StockDrift,
		m.ReconcileRuns,
		m.PricingBreakerState,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDispense records one dispense attempt. code is empty on success.
func (m *Metrics) ObserveDispense(mode, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if code != "" {
		outcome = OutcomeFailure
	}
	m.DispensesTotal.WithLabelValues(mode, outcome, code).Inc()
	m.DispenseDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// VersionConflict counts a rejected lot update
func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.VersionConflicts.Inc()
}

// LotDecrements counts n committed lot decrements
func (m *Metrics) LotDecrements(n int) {
	if m == nil {
		return
	}
	m.LotsDecremented.Add(float64(n))
}

// CostNotificationFailed counts a cost posting that was not published
func (m *Metrics) CostNotificationFailed() {
	if m == nil {
		return
	}
	m.CostNotificationErrors.Inc()
}

// StockReceived counts a committed receipt
func (m *Metrics) StockReceived() {
	if m == nil {
		return
	}
	m.StockReceipts.Inc()
}

// StockAdjusted counts a committed adjustment
func (m *Metrics) StockAdjusted() {
	if m == nil {
		return
	}
	m.StockAdjustments.Inc()
}

// ReconcileCompleted records a reconciliation result for a tenant
func (m *Metrics) ReconcileCompleted(tenantID string, drifting int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReconcileRuns.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	m.ReconcileRuns.WithLabelValues(OutcomeSuccess).Inc()
	m.StockDrift.WithLabelValues(tenantID).Set(float64(drifting))
}

// BreakerState records the pricing breaker state
func (m *Metrics) BreakerState(state float64) {
	if m == nil {
		return
	}
	m.PricingBreakerState.Set(state)
}
