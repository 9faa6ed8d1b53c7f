// Package metrics provides Prometheus instrumentation for signing
// ceremonies: session outcomes, submissions per round, phase latencies,
// key aggregation cache efficiency and nonce ledger writes.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all musig2 metrics
	Namespace = "musig2"

	// Label names
	LabelResult  = "result"
	LabelRound   = "round"
	LabelStatus  = "status"
	LabelPhase   = "phase"
	LabelBackend = "backend"

	// Status values
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"

	// Session results
	ResultSigned  = "signed"
	ResultAborted = "aborted"

	// Cache results
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	// SessionsTotal counts finished sessions by result.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished signing sessions by result",
		},
		[]string{LabelResult},
	)

	// AbortsTotal counts aborted sessions by reason.
	AbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "aborts_total",
			Help:      "Total number of aborted sessions by reason",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks sessions that have not reached a terminal phase.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions in a non-terminal phase",
		},
	)

	// SubmissionsTotal counts participant submissions by round and status.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "submissions_total",
			Help:      "Total number of participant submissions by round and status",
		},
		[]string{LabelRound, LabelStatus},
	)

	// PhaseDuration tracks how long sessions spend in each phase.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each session phase in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{LabelPhase},
	)

	// KeyCacheTotal counts key aggregation cache lookups.
	KeyCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_cache_lookups_total",
			Help:      "Key aggregation cache lookups by result",
		},
		[]string{LabelResult},
	)

	// LedgerRecordsTotal counts nonce ledger writes by backend and status.
	LedgerRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ledger_records_total",
			Help:      "Nonce ledger writes by backend and status",
		},
		[]string{LabelBackend, LabelStatus},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// Enable turns metrics recording on.
func Enable() { enabled.Store(true) }

// Disable turns metrics recording off.
func Disable() { enabled.Store(false) }

// IsEnabled reports whether metrics are recorded.
func IsEnabled() bool { return enabled.Load() }

// RecordSession records a finished session. reason is ignored for
// signed sessions.
func RecordSession(result, reason string) {
	if !enabled.Load() {
		return
	}
	SessionsTotal.WithLabelValues(result).Inc()
	if result == ResultAborted {
		AbortsTotal.WithLabelValues(reason).Inc()
	}
}

// RecordSubmission records one participant submission.
func RecordSubmission(round, status string) {
	if !enabled.Load() {
		return
	}
	SubmissionsTotal.WithLabelValues(round, status).Inc()
}

// RecordPhase records the time a session spent in phase.
func RecordPhase(phase string, seconds float64) {
	if !enabled.Load() {
		return
	}
	PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordKeyCache records a cache hit or miss.
func RecordKeyCache(hit bool) {
	if !enabled.Load() {
		return
	}
	if hit {
		KeyCacheTotal.WithLabelValues(CacheHit).Inc()
		return
	}
	KeyCacheTotal.WithLabelValues(CacheMiss).Inc()
}

// RecordLedger records a nonce ledger write.
func RecordLedger(backend, status string) {
	if !enabled.Load() {
		return
	}
	LedgerRecordsTotal.WithLabelValues(backend, status).Inc()
}

// SessionOpened increments the active sessions gauge and reports whether
// it did. Hand the result to SessionClosed so that toggling recording
// while a session is open cannot skew the gauge.
func SessionOpened() bool {
	if !enabled.Load() {
		return false
	}
	ActiveSessions.Inc()
	return true
}

// SessionClosed decrements the gauge for a session SessionOpened counted.
func SessionClosed(counted bool) {
	if counted {
		ActiveSessions.Dec()
	}
}
