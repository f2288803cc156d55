// Package metrics exposes engine counters and latencies to Prometheus.
// All recording methods are safe on a nil *Metrics so callers can run without
// a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamification"

// Metrics groups every collector the engine records into.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied     *prometheus.CounterVec
	xpAwarded         prometheus.Counter
	levelUps          prometheus.Counter
	conflictRetries   prometheus.Counter
	queryDuration     *prometheus.HistogramVec
	snapshotLookups   *prometheus.CounterVec
	directoryFallback prometheus.Counter
	jobRuns           *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Learning events processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		xpAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Total experience points granted.",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Number of level transitions.",
		}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflict_retries_total",
			Help:      "Per-user write transactions retried after a concurrency conflict.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "leaderboard_query_duration_seconds",
			Help:      "Leaderboard query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		snapshotLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_snapshot_lookups_total",
			Help:      "Snapshot cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		directoryFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_fallbacks_total",
			Help:      "Queries answered with placeholder names because the directory failed.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job executions by job and status.",
		}, []string{"job", "status"}),
	}

	m.registry.MustRegister(
		m.eventsApplied,
		m.xpAwarded,
		m.levelUps,
		m.conflictRetries,
		m.queryDuration,
		m.snapshotLookups,
		m.directoryFallback,
		m.jobRuns,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) XPAwarded(xp int) {
	if m == nil || xp <= 0 {
		return
	}
	m.xpAwarded.Add(float64(xp))
}

func (m *Metrics) LevelUp() {
	if m == nil {
		return
	}
	m.levelUps.Inc()
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

// ObserveQuery records how long a leaderboard operation took.
func (m *Metrics) ObserveQuery(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SnapshotLookup(result string) {
	if m == nil {
		return
	}
	m.snapshotLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) DirectoryFallback() {
	if m == nil {
		return
	}
	m.directoryFallback.Inc()
}

func (m *Metrics) JobRun(job, status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}
