// Package metrics provides Prometheus metrics for catalog-summarizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalog"

// Ingest results
const (
	ResultAdded     = "added"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

var (
	// IngestCandidatesTotal counts processed candidates by source and result.
	IngestCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_candidates_total",
			Help:      "Total number of catalog candidates processed",
		},
		[]string{"source", "result"},
	)

	// DuplicatesTotal counts duplicates by the key that matched.
	DuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_duplicates_total",
			Help:      "Total number of duplicate candidates by matching key",
		},
		[]string{"source", "matched_by"},
	)

	// RateLimitCooldownsTotal counts upstream rate-limit responses.
	RateLimitCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_cooldowns_total",
			Help:      "Total number of cooldowns triggered by upstream rate limiting",
		},
		[]string{"source"},
	)

	// SummaryJobsTotal counts jobs reaching a terminal status.
	SummaryJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_jobs_total",
			Help:      "Total number of summary jobs by final status",
		},
		[]string{"status"},
	)

	// ExtendedFailuresTotal counts failed extended summary steps.
	ExtendedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_extended_failures_total",
			Help:      "Total number of extended summary generations that failed",
		},
	)

	// SummarizerDuration measures calls to the external summarizer.
	SummarizerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarizer_duration_seconds",
			Help:      "Duration of summarizer calls in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind", "status"},
	)
)

// RecordCandidate records the outcome of one ingested candidate.
func RecordCandidate(source, result string) {
	IngestCandidatesTotal.WithLabelValues(source, result).Inc()
}

// RecordDuplicate records a duplicate and the key it matched on.
func RecordDuplicate(source, matchedBy string) {
	IngestCandidatesTotal.WithLabelValues(source, ResultDuplicate).Inc()
	DuplicatesTotal.WithLabelValues(source, matchedBy).Inc()
}

// RecordCooldown records an upstream rate-limit cooldown.
func RecordCooldown(source string) {
	RateLimitCooldownsTotal.WithLabelValues(source).Inc()
}

// RecordJob records a job reaching status.
func RecordJob(status string) {
	SummaryJobsTotal.WithLabelValues(status).Inc()
}

// RecordExtendedFailure records a failed extended summary step.
func RecordExtendedFailure() {
	ExtendedFailuresTotal.Inc()
}

// ObserveSummarizer records the duration of a summarizer call.
func ObserveSummarizer(kind string, ok bool, seconds float64) {
	status := "ok"
	if !ok {
		status = "error"
	}
	SummarizerDuration.WithLabelValues(kind, status).Observe(seconds)
}
