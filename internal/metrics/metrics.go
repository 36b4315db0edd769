// Package metrics exposes Prometheus counters for the resolution pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validation outcomes.
const (
	OutcomeValidated = "validated"
	OutcomeEmpty     = "empty"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Allocation recompute triggers.
const (
	TriggerInsert = "insert"
	TriggerUpdate = "update"
	TriggerDelete = "delete"
)

var (
	// lookupCacheTotal counts external factor lookups by cache result.
	// Labels: result (hit, miss)
	lookupCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impact",
		Name:      "lookup_cache_total",
		Help:      "External factor lookups by cache result",
	}, []string{"result"})

	// searchCacheTotal counts search requests by cache result.
	searchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impact",
		Name:      "search_cache_total",
		Help:      "Search requests by cache result",
	}, []string{"result"})

	// suggestValidationTotal counts suggestion validations by outcome.
	// Labels: outcome (validated, empty, timeout, error)
	suggestValidationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impact",
		Name:      "suggest_validation_total",
		Help:      "Suggestion validation re-queries by outcome",
	}, []string{"outcome"})

	suggestValidationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "impact",
		Name:      "suggest_validation_seconds",
		Help:      "Latency of one suggestion validation re-query",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	suggestRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "impact",
		Name:      "suggest_rate_limited_total",
		Help:      "Suggestion requests rejected by the per-identity quota",
	})

	// allocationRecomputeTotal counts sibling-share recomputations.
	// Labels: trigger (insert, update, delete)
	allocationRecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impact",
		Name:      "allocation_recompute_total",
		Help:      "Facility allocation share recomputations by triggering mutation",
	}, []string{"trigger"})
)

func result(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// RecordLookupCache records one factor lookup.
func RecordLookupCache(hit bool) {
	lookupCacheTotal.WithLabelValues(result(hit)).Inc()
}

// RecordSearchCache records one search request.
func RecordSearchCache(hit bool) {
	searchCacheTotal.WithLabelValues(result(hit)).Inc()
}

// RecordValidation records one validation re-query.
func RecordValidation(outcome string, elapsed time.Duration) {
	suggestValidationTotal.WithLabelValues(outcome).Inc()
	suggestValidationSeconds.Observe(elapsed.Seconds())
}

// RecordRateLimited records a rejected suggestion request.
func RecordRateLimited() {
	suggestRateLimitedTotal.Inc()
}

// RecordRecompute records one allocation fan-out.
func RecordRecompute(trigger string) {
	allocationRecomputeTotal.WithLabelValues(trigger).Inc()
}
