package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/evidence"
	"github.com/luminahealth/orchestrator/internal/metrics"
)

// Rank orders accumulated sources by embedding similarity to the enriched
// query. One batch embedding call regardless of source count.
func (a *Activities) Rank(ctx context.Context, in RankInput) (RankResult, error) {
	ranked, err := a.ranker.Rank(ctx, in.Query.EnrichedText, in.Query.Category, in.Sources)
	if err != nil {
		return RankResult{}, err
	}
	return RankResult{Ranked: ranked}, nil
}

// SelectSources trims the ranked list to the final citation set and accounts
// for every exclusion.
func (a *Activities) SelectSources(ctx context.Context, in SelectInput) (SelectResult, error) {
	logger := activity.GetLogger(ctx)
	rc := config.Get().Research

	selected, report := evidence.Select(in.Ranked, rc, time.Now())
	metrics.SourcesSelected.Observe(float64(len(selected)))

	logger.Info("Sources selected",
		"selected", len(selected),
		"excluded_stale", report.Stale,
		"excluded_not_peer_reviewed", report.NotPeerReviewed,
		"excluded_below_relevance", report.BelowRelevance,
		"excluded_over_target", report.OverTargetCount,
	)
	return SelectResult{Selected: selected, Exclusions: report}, nil
}
