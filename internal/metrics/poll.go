package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// PollMetrics records the exporter's own poll loop behaviour.
// A nil *PollMetrics is valid and records nothing.
type PollMetrics struct {
	polls       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	skipped     prometheus.Counter
	lastSuccess prometheus.Gauge
	duration    prometheus.Histogram
}

// NewPollMetrics creates the poll metrics and registers them with reg.
func NewPollMetrics(reg prometheus.Registerer) *PollMetrics {
	factory := promauto.With(reg)

	return &PollMetrics{
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "polls_total",
			Help:      "Poll cycles completed, by result",
		}, []string{"result"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "poll_errors_total",
			Help:      "Failed poll cycles, by error kind",
		}, []string{"kind"}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "polls_skipped_total",
			Help:      "Ticks skipped because the previous poll cycle was still running",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "last_poll_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "poll_duration_seconds",
			Help:      "Duration of poll cycles",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// ObserveSuccess records a successful cycle that finished at end.
func (m *PollMetrics) ObserveSuccess(d time.Duration, end time.Time) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(ResultSuccess).Inc()
	m.duration.Observe(d.Seconds())
	m.lastSuccess.Set(float64(end.UnixNano()) / 1e9)
}

// ObserveFailure records a failed cycle with its error kind.
func (m *PollMetrics) ObserveFailure(d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(ResultFailure).Inc()
	m.errors.WithLabelValues(kind).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveSkipped records a tick dropped because a cycle was in flight.
func (m *PollMetrics) ObserveSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}
