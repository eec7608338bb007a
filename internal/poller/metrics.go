package poller

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report polling activity.
type Metrics struct {
	pollDuration  *prometheus.HistogramVec
	pollFailures  *prometheus.CounterVec
	eventsEmitted *prometheus.CounterVec
	terminations  *prometheus.CounterVec
	pollersActive prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when multiple pollers are instantiated (e.g.
// in unit tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller is responsible for supplying a fresh registry when unique metric
// names are required (for example in tests). Any registration error will panic
// which mirrors the semantics of promauto helpers and surfaces configuration
// bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pollDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deckwork",
			Subsystem: "poller",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one task status fetch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type", "outcome"},
	)
	pollFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deckwork",
			Subsystem: "poller",
			Name:      "poll_failures_total",
			Help:      "Total number of status fetches that failed.",
		},
		[]string{"task_type", "class"},
	)
	eventsEmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deckwork",
			Subsystem: "poller",
			Name:      "events_emitted_total",
			Help:      "Typed events emitted after translation and dedup.",
		},
		[]string{"type"},
	)
	terminations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deckwork",
			Subsystem: "poller",
			Name:      "terminations_total",
			Help:      "Poll loops ended, by terminal reason.",
		},
		[]string{"task_type", "reason"},
	)
	pollersActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deckwork",
			Subsystem: "poller",
			Name:      "pollers_active",
			Help:      "Number of poll loops currently running.",
		},
	)

	collectors := []prometheus.Collector{pollDuration, pollFailures, eventsEmitted, terminations, pollersActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when it matches the expected type.
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					pollDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case pollFailures:
						pollFailures = already.ExistingCollector.(*prometheus.CounterVec)
					case eventsEmitted:
						eventsEmitted = already.ExistingCollector.(*prometheus.CounterVec)
					case terminations:
						terminations = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					pollersActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		pollDuration:  pollDuration,
		pollFailures:  pollFailures,
		eventsEmitted: eventsEmitted,
		terminations:  terminations,
		pollersActive: pollersActive,
	}
}

// ObservePoll records the duration and outcome of one status fetch.
func (m *Metrics) ObservePoll(taskType string, outcome string, duration time.Duration) {
	if m == nil || m.pollDuration == nil {
		return
	}
	m.pollDuration.WithLabelValues(taskType, outcome).Observe(duration.Seconds())
}

// IncPollFailure increments the fetch failure counter.
func (m *Metrics) IncPollFailure(taskType string, class string) {
	if m == nil || m.pollFailures == nil {
		return
	}
	m.pollFailures.WithLabelValues(taskType, class).Inc()
}

// IncEventEmitted counts one emitted event by type.
func (m *Metrics) IncEventEmitted(eventType string) {
	if m == nil || m.eventsEmitted == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// IncTermination counts one finished poll loop by reason.
func (m *Metrics) IncTermination(taskType string, reason string) {
	if m == nil || m.terminations == nil {
		return
	}
	m.terminations.WithLabelValues(taskType, reason).Inc()
}

// IncActivePollers marks a poll loop as started.
func (m *Metrics) IncActivePollers() {
	if m == nil || m.pollersActive == nil {
		return
	}
	m.pollersActive.Inc()
}

// DecActivePollers marks a poll loop as finished.
func (m *Metrics) DecActivePollers() {
	if m == nil || m.pollersActive == nil {
		return
	}
	m.pollersActive.Dec()
}
