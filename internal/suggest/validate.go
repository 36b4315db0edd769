package suggest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/impact/internal/metrics"
	"github.com/hurttlocker/impact/internal/search"
)

// DefaultValidationTimeout bounds each validation re-query.
const DefaultValidationTimeout = 5 * time.Second

// Searcher runs one query through the resolution pipeline.
// *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Validator re-queries every suggestion concurrently and annotates it.
// A timeout, error or empty result marks the suggestion unvalidated; it is
// never dropped here and never fails the batch.
type Validator struct {
	Searcher Searcher
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Validate returns annotated copies of suggestions in input order.
func (v *Validator) Validate(ctx context.Context, organizationID string, suggestions []Suggestion) []Suggestion {
	out := make([]Suggestion, len(suggestions))
	copy(out, suggestions)
	if v == nil || v.Searcher == nil {
		return out
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultValidationTimeout
	}

	var g errgroup.Group
	for i := range out {
		g.Go(func() error {
			v.check(ctx, organizationID, &out[i], timeout)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type searchResult struct {
	resp *search.Response
	err  error
}

// check validates one suggestion in place. Each goroutine owns its element.
func (v *Validator) check(ctx context.Context, organizationID string, s *Suggestion, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	done := make(chan searchResult, 1)
	go func() {
		resp, err := v.Searcher.Search(ctx, search.Request{Query: s.SearchQuery, OrganizationID: organizationID})
		done <- searchResult{resp, err}
	}()

	var res searchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	s.Validated = false
	s.ResultCount = 0
	s.TopMatchName = ""

	outcome := metrics.OutcomeValidated
	switch {
	case errors.Is(res.err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
	case res.err != nil:
		outcome = metrics.OutcomeError
	case res.resp == nil || len(res.resp.Results) == 0:
		outcome = metrics.OutcomeEmpty
	default:
		s.Validated = true
		s.ResultCount = len(res.resp.Results)
		s.TopMatchName = res.resp.Results[0].Name
	}
	metrics.RecordValidation(outcome, time.Since(start))

	if res.err != nil {
		v.Logger.Warn().Err(res.err).Str("query", s.SearchQuery).Str("outcome", outcome).Msg("suggestion validation failed")
	}
}

// Retain keeps only validated suggestions when at least one validated and
// returns the whole batch otherwise.
func Retain(suggestions []Suggestion) []Suggestion {
	validated := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Validated {
			validated = append(validated, s)
		}
	}
	if len(validated) == 0 {
		return suggestions
	}
	return validated
}
