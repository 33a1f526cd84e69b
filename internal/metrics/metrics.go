// Package metrics records fulfillment outcomes to Prometheus and DataDog statsd.
package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricFulfillmentsTotal    = "fulfillments_total"
	MetricFulfillmentDuration  = "fulfillment_duration_seconds"
	MetricTransferAttempts     = "fulfillment_transfer_attempts_total"
	MetricInvalidationsTotal   = "fulfillment_cache_invalidations_total"
	MetricReconcilerEnqueued   = "fulfillment_reconciler_enqueued_total"
	MetricReconcilerStaleFound = "fulfillment_reconciler_stale_total"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
	OutcomeSkipped = "skipped"
)

// Recorder is what the fulfillment pipeline reports to.
type Recorder interface {
	ObserveFulfillment(product, outcome string, d time.Duration)
	IncTransferAttempt(outcome string)
	IncInvalidation(outcome string)
	IncReconciled(enqueued, stale int)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors. All operations are thread-safe.
type Metrics struct {
	fulfillments  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	attempts      *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	enqueued      prometheus.Counter
	stale         prometheus.Counter
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		fulfillments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFulfillmentsTotal,
				Help: "Total number of fulfillment runs by product table and outcome",
			},
			[]string{"product", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricFulfillmentDuration,
				Help:    "Histogram of fulfillment duration in seconds by product table",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"product"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTransferAttempts,
				Help: "Total number of NFT transfer attempts by outcome",
			},
			[]string{"outcome"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricInvalidationsTotal,
				Help: "Total number of cache invalidations by outcome",
			},
			[]string{"outcome"},
		),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReconcilerEnqueued,
			Help: "Total number of PAID payments re-enqueued by the reconciler",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReconcilerStaleFound,
			Help: "Total number of stale PROCESSING payments reported by the reconciler",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.fulfillments,
		m.duration,
		m.attempts,
		m.invalidations,
		m.enqueued,
		m.stale,
	}
}

func (m *Metrics) ObserveFulfillment(product, outcome string, d time.Duration) {
	m.fulfillments.WithLabelValues(product, outcome).Inc()
	m.duration.WithLabelValues(product).Observe(d.Seconds())
}

func (m *Metrics) IncTransferAttempt(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncInvalidation(outcome string) {
	m.invalidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReconciled(enqueued, stale int) {
	m.enqueued.Add(float64(enqueued))
	m.stale.Add(float64(stale))
}

var _ Recorder = (*Statsd)(nil)

// Statsd forwards the same measurements to a DataDog agent.
type Statsd struct {
	client statsd.ClientInterface
}

func NewStatsd(client statsd.ClientInterface) *Statsd {
	return &Statsd{client: client}
}

func (s *Statsd) ObserveFulfillment(product, outcome string, d time.Duration) {
	tags := []string{"product:" + product, "outcome:" + outcome}
	_ = s.client.Incr("fulfillment.count", tags, 1)
	_ = s.client.Timing("fulfillment.duration", d, tags, 1)
}

func (s *Statsd) IncTransferAttempt(outcome string) {
	_ = s.client.Incr("fulfillment.transfer.attempt", []string{"outcome:" + outcome}, 1)
}

func (s *Statsd) IncInvalidation(outcome string) {
	_ = s.client.Incr("fulfillment.cache.invalidation", []string{"outcome:" + outcome}, 1)
}

func (s *Statsd) IncReconciled(enqueued, stale int) {
	_ = s.client.Count("fulfillment.reconciler.enqueued", int64(enqueued), nil, 1)
	_ = s.client.Count("fulfillment.reconciler.stale", int64(stale), nil, 1)
}

// Multi fans a measurement out to several recorders.
type Multi []Recorder

func (m Multi) ObserveFulfillment(product, outcome string, d time.Duration) {
	for _, r := range m {
		r.ObserveFulfillment(product, outcome, d)
	}
}

func (m Multi) IncTransferAttempt(outcome string) {
	for _, r := range m {
		r.IncTransferAttempt(outcome)
	}
}

func (m Multi) IncInvalidation(outcome string) {
	for _, r := range m {
		r.IncInvalidation(outcome)
	}
}

func (m Multi) IncReconciled(enqueued, stale int) {
	for _, r := range m {
		r.IncReconciled(enqueued, stale)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveFulfillment(string, string, time.Duration) {}
func (Nop) IncTransferAttempt(string)                        {}
func (Nop) IncInvalidation(string)                           {}
func (Nop) IncReconciled(int, int)                           {}
