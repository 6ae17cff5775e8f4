package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for reconciliation runs.
type Metrics struct {
	registry    *prometheus.Registry
	candidates  prometheus.Counter
	staleItems  prometheus.Counter
	rowsWritten *prometheus.CounterVec
	retries     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowcast_candidates_total",
			Help: "Total work items returned by candidate searches.",
		}),
		staleItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowcast_stale_items_total",
			Help: "Total work items whose history was re-extracted.",
		}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcast_rows_written_total",
			Help: "Total rows committed to the warehouse by table.",
		}, []string{"table"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcast_tracker_retries_total",
			Help: "Total retried tracker calls by operation.",
		}, []string{"op"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcast_sync_runs_total",
			Help: "Total sync runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowcast_sync_duration_seconds",
			Help:    "Histogram of sync run durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowcast_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync.",
		}),
	}

	m.registry.MustRegister(
		m.candidates,
		m.staleItems,
		m.rowsWritten,
		m.retries,
		m.runs,
		m.runDuration,
		m.lastSuccess,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CandidatesFound(n int) {
	if m == nil {
		return
	}
	m.candidates.Add(float64(n))
}

func (m *Metrics) StaleItems(n int) {
	if m == nil {
		return
	}
	m.staleItems.Add(float64(n))
}

func (m *Metrics) RowsWritten(table string, n int) {
	if m == nil {
		return
	}
	m.rowsWritten.WithLabelValues(table).Add(float64(n))
}

// Retry matches the retry policy's OnRetry hook.
func (m *Metrics) Retry(op string, _ int, _ error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) SyncRun(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.lastSuccess.SetToCurrentTime()
}
