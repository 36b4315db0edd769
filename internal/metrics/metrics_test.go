package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCounters(t *testing.T) {
	hits := testutil.ToFloat64(lookupCacheTotal.WithLabelValues("hit"))
	RecordLookupCache(true)
	RecordLookupCache(false)
	if got := testutil.ToFloat64(lookupCacheTotal.WithLabelValues("hit")); got != hits+1 {
		t.Errorf("lookup hits = %v, want %v", got, hits+1)
	}

	misses := testutil.ToFloat64(searchCacheTotal.WithLabelValues("miss"))
	RecordSearchCache(false)
	if got := testutil.ToFloat64(searchCacheTotal.WithLabelValues("miss")); got != misses+1 {
		t.Errorf("search misses = %v, want %v", got, misses+1)
	}

	limited := testutil.ToFloat64(suggestRateLimitedTotal)
	RecordRateLimited()
	if got := testutil.ToFloat64(suggestRateLimitedTotal); got != limited+1 {
		t.Errorf("rate limited = %v, want %v", got, limited+1)
	}

	deletes := testutil.ToFloat64(allocationRecomputeTotal.WithLabelValues(TriggerDelete))
	RecordRecompute(TriggerDelete)
	if got := testutil.ToFloat64(allocationRecomputeTotal.WithLabelValues(TriggerDelete)); got != deletes+1 {
		t.Errorf("recompute deletes = %v, want %v", got, deletes+1)
	}
}

func TestRecordValidation(t *testing.T) {
	before := testutil.ToFloat64(suggestValidationTotal.WithLabelValues(OutcomeTimeout))
	RecordValidation(OutcomeTimeout, 5*time.Second)
	if got := testutil.ToFloat64(suggestValidationTotal.WithLabelValues(OutcomeTimeout)); got != before+1 {
		t.Errorf("timeouts = %v, want %v", got, before+1)
	}
	if n := testutil.CollectAndCount(suggestValidationSeconds); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}
