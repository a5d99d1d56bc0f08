// Package metrics exposes the daemon's Prometheus instrumentation.
// Collectors are registered on the default registry; the HTTP server
// serves them at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Email outcomes per sync cycle.
const (
	OutcomeDecided     = "decided"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
	OutcomeRedelivered = "redelivered"
)

var (
	// SyncCycles counts sync cycles by result.
	// Labels: result (success, error)
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles",
		},
		[]string{"result"},
	)

	// SyncCycleDuration tracks how long sync cycles take.
	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SyncEmails counts emails handled by sync cycles.
	// Labels: outcome (decided, skipped, failed, redelivered)
	SyncEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "sync",
			Name:      "emails_total",
			Help:      "Total number of emails handled by sync cycles",
		},
		[]string{"outcome"},
	)

	// Decisions counts recorded triage decisions.
	// Labels: source (agent, user), verdict (keep, discard)
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "triage",
			Name:      "decisions_total",
			Help:      "Total number of recorded triage decisions",
		},
		[]string{"source", "verdict"},
	)

	// MailboxActions counts archive and trash operations.
	// Labels: action (archive, trash), result (success, error)
	MailboxActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "mail",
			Name:      "mailbox_actions_total",
			Help:      "Total number of mailbox actions applied to discarded emails",
		},
		[]string{"action", "result"},
	)

	// QueryDuration tracks end-to-end answer latency.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of answer generation in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// QueryAttempts tracks how many generations each answer took.
	QueryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "query",
			Name:      "attempts",
			Help:      "Generation attempts per answered question",
			Buckets:   []float64{1, 2, 3},
		},
	)

	// HTTPRequestDuration tracks request latency per route.
	// Labels: method, path, status
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordCycle records the outcome and duration of one sync cycle.
func RecordCycle(err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SyncCycles.WithLabelValues(result).Inc()
	SyncCycleDuration.Observe(d.Seconds())
}

// RecordEmail counts one email outcome within a sync cycle.
func RecordEmail(outcome string) {
	SyncEmails.WithLabelValues(outcome).Inc()
}

// RecordDecision counts one recorded decision.
func RecordDecision(source, verdict string) {
	Decisions.WithLabelValues(source, verdict).Inc()
}

// RecordMailboxAction counts one archive or trash operation.
func RecordMailboxAction(action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	MailboxActions.WithLabelValues(action, result).Inc()
}

// RecordQuery records one answered question.
func RecordQuery(d time.Duration, attempts int) {
	QueryDuration.Observe(d.Seconds())
	QueryAttempts.Observe(float64(attempts))
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}
