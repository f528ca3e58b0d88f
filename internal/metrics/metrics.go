package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the dedup passes, the history store
// and the feed health tracker. A nil *Metrics is valid and records nothing.
type Metrics struct {
	dedupDropped   *prometheus.CounterVec
	dedupKept      *prometheus.CounterVec
	historyWrites  *prometheus.CounterVec
	historyWriteTS prometheus.Histogram
	evictions      prometheus.Counter
	retainedDates  prometheus.Gauge
	feedRuns       *prometheus.CounterVec
	feedStale      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dedupDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secbrief",
			Subsystem: "dedup",
			Name:      "dropped_total",
			Help:      "Stories dropped by a dedup pass, by pass and reason",
		}, []string{"pass", "reason"}),
		dedupKept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secbrief",
			Subsystem: "dedup",
			Name:      "kept_total",
			Help:      "Stories surviving a dedup pass",
		}, []string{"pass"}),
		historyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secbrief",
			Subsystem: "history",
			Name:      "writes_total",
			Help:      "Brief writes by result",
		}, []string{"result"}),
		historyWriteTS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secbrief",
			Subsystem: "history",
			Name:      "write_duration_seconds",
			Help:      "Time spent committing a brief",
			Buckets:   prometheus.DefBuckets,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secbrief",
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Briefs evicted from the retention window",
		}),
		retainedDates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "secbrief",
			Subsystem: "history",
			Name:      "retained_dates",
			Help:      "Number of calendar days currently retained",
		}),
		feedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secbrief",
			Subsystem: "feeds",
			Name:      "runs_total",
			Help:      "Recorded feed runs, split by whether the run produced items",
		}, []string{"feed", "empty"}),
		feedStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "secbrief",
			Subsystem: "feeds",
			Name:      "stale",
			Help:      "1 when the feed produced zero items for the configured number of consecutive runs",
		}, []string{"feed"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.dedupDropped,
			m.dedupKept,
			m.historyWrites,
			m.historyWriteTS,
			m.evictions,
			m.retainedDates,
			m.feedRuns,
			m.feedStale,
		)
	}
	return m
}

func (m *Metrics) DedupDropped(pass, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupDropped.WithLabelValues(pass, reason).Add(float64(n))
}

func (m *Metrics) DedupKept(pass string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupKept.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) HistoryWrite(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.historyWrites.WithLabelValues(result).Inc()
	m.historyWriteTS.Observe(took.Seconds())
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) RetainedDates(n int) {
	if m == nil {
		return
	}
	m.retainedDates.Set(float64(n))
}

func (m *Metrics) FeedRun(feedID string, itemCount int, stale bool) {
	if m == nil {
		return
	}
	empty := "false"
	if itemCount == 0 {
		empty = "true"
	}
	m.feedRuns.WithLabelValues(feedID, empty).Inc()
	value := 0.0
	if stale {
		value = 1
	}
	m.feedStale.WithLabelValues(feedID).Set(value)
}
