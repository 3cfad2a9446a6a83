// Package stats holds the pipeline's own Prometheus instruments: what was
// queued, delivered, retried, evicted and how long flushes take.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is safe for concurrent use. A nil *Stats is valid and records
// nothing, so components can be built without instrumentation.
type Stats struct {
	enqueued        *prometheus.CounterVec
	delivered       prometheus.Counter
	attempts        *prometheus.CounterVec
	exhausted       prometheus.Counter
	evicted         prometheus.Counter
	persistFailures prometheus.Counter
	dropped         *prometheus.CounterVec
	queueLength     prometheus.Gauge
	flushDuration   prometheus.Histogram
}

// New creates the instruments and registers them on reg. A nil reg
// leaves them unregistered, which is what tests and hosts without a
// metrics endpoint want.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymon_items_enqueued_total",
			Help: "Telemetry items added to the send queue, by priority.",
		}, []string{"priority"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinymon_items_delivered_total",
			Help: "Telemetry items confirmed delivered to the collector.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymon_send_attempts_total",
			Help: "Single delivery attempts, by result.",
		}, []string{"result"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinymon_send_retries_exhausted_total",
			Help: "Deliveries that failed after every retry.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinymon_queue_evicted_total",
			Help: "Queue entries evicted to keep the durable mirror under budget.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinymon_persist_failures_total",
			Help: "Failed writes of the durable queue mirror.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymon_items_dropped_total",
			Help: "Telemetry items discarded before queueing, by reason.",
		}, []string{"reason"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tinymon_queue_length",
			Help: "Entries currently waiting in the send queue.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tinymon_flush_duration_seconds",
			Help:    "Wall time of one flush cycle, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.enqueued, s.delivered, s.attempts, s.exhausted, s.evicted,
			s.persistFailures, s.dropped, s.queueLength, s.flushDuration,
		)
	}
	return s
}

func (s *Stats) Enqueued(priority string) {
	if s != nil {
		s.enqueued.WithLabelValues(priority).Inc()
	}
}

func (s *Stats) Delivered(n int) {
	if s != nil {
		s.delivered.Add(float64(n))
	}
}

// Attempt records one Sender call. result is "success" or an error class.
func (s *Stats) Attempt(result string) {
	if s != nil {
		s.attempts.WithLabelValues(result).Inc()
	}
}

func (s *Stats) Exhausted() {
	if s != nil {
		s.exhausted.Inc()
	}
}

func (s *Stats) Evicted(n int) {
	if s != nil {
		s.evicted.Add(float64(n))
	}
}

func (s *Stats) PersistFailed() {
	if s != nil {
		s.persistFailures.Inc()
	}
}

func (s *Stats) Dropped(reason string) {
	if s != nil {
		s.dropped.WithLabelValues(reason).Inc()
	}
}

func (s *Stats) QueueLength(n int) {
	if s != nil {
		s.queueLength.Set(float64(n))
	}
}

func (s *Stats) FlushSeconds(v float64) {
	if s != nil {
		s.flushDuration.Observe(v)
	}
}
