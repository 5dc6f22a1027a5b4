package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the escrow service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RailTransfers     *prometheus.CounterVec
	RailDuration      prometheus.Histogram
	ReceiptCacheHits  prometheus.Counter
	FundsEscrowed     prometheus.Counter
	FundsReleased     *prometheus.CounterVec
	PendingEvents     *prometheus.GaugeVec
	PublishDrops      prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// NewMetrics registers all collectors with reg. Pass a fresh registry in
// tests to avoid duplicate registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome code.",
		}, []string{"op", "code"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		RailTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "rail_transfers_total",
			Help:      "Payment rail transfers by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		RailDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "rail_transfer_duration_seconds",
			Help:      "Payment rail transfer latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		ReceiptCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "rail_receipt_cache_hits_total",
			Help:      "Transfers answered from the in-process receipt cache.",
		}),
		FundsEscrowed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "funds_escrowed_minor_units_total",
			Help:      "Ticket deposits moved into escrow, in minor units.",
		}),
		FundsReleased: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "funds_released_minor_units_total",
			Help:      "Funds moved out of escrow by purpose, in minor units.",
		}, []string{"purpose"}),
		PendingEvents: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "pending_events",
			Help:      "Events stuck in a settling or cancelling phase at the last reconcile pass.",
		}, []string{"phase"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "publish_drops_total",
			Help:      "Domain events dropped because the publish queue was full.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status.",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveOp records one engine operation.
func (m *Metrics) ObserveOp(op, code string, seconds float64) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(seconds)
}

// ObserveTransfer records one rail transfer.
func (m *Metrics) ObserveTransfer(purpose, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RailTransfers.WithLabelValues(purpose, outcome).Inc()
	m.RailDuration.Observe(seconds)
}

// CacheHit counts a receipt served from cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.ReceiptCacheHits.Inc()
}

// Escrowed adds amount to the deposited total.
func (m *Metrics) Escrowed(amount int64) {
	if m == nil {
		return
	}
	m.FundsEscrowed.Add(float64(amount))
}

// Released adds amount to the released total for purpose.
func (m *Metrics) Released(purpose string, amount int64) {
	if m == nil {
		return
	}
	m.FundsReleased.WithLabelValues(purpose).Add(float64(amount))
}

// SetPending sets the pending gauge for phase.
func (m *Metrics) SetPending(phase string, n int) {
	if m == nil {
		return
	}
	m.PendingEvents.WithLabelValues(phase).Set(float64(n))
}

// PublishDropped counts one dropped domain event.
func (m *Metrics) PublishDropped() {
	if m == nil {
		return
	}
	m.PublishDrops.Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
