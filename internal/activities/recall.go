package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/metrics"
	"github.com/luminahealth/orchestrator/internal/recall"
)

// RecallSearch looks up prior completed sessions matching the query terms.
// The ambiguity margin turns near-tied matches into an explicit "which one
// did you mean" outcome instead of a silent guess.
func (a *Activities) RecallSearch(ctx context.Context, in RecallInput) (RecallResult, error) {
	logger := activity.GetLogger(ctx)

	matches, err := a.recall.Search(ctx, in.UserID, in.Terms, 5)
	if err != nil {
		return RecallResult{}, err
	}
	if len(matches) == 0 {
		metrics.RecallSearches.WithLabelValues("no_match").Inc()
		logger.Info("Recall found nothing", "terms", in.Terms)
		return RecallResult{Found: false}, nil
	}

	outcome := recall.Resolve(matches, config.Get().Research.AmbiguityMargin)
	if len(outcome.Ambiguous) > 0 {
		metrics.RecallSearches.WithLabelValues("ambiguous").Inc()
	} else {
		metrics.RecallSearches.WithLabelValues("match").Inc()
	}
	return RecallResult{
		Found:     true,
		Best:      outcome.Best,
		Ambiguous: outcome.Ambiguous,
	}, nil
}
