package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/evidence"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/providers"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// SearchProvider runs one provider call. It always settles: provider failures
// and timeouts come back as a recorded call with zero sources, never as an
// activity error, so one slow provider cannot poison a round.
func (a *Activities) SearchProvider(ctx context.Context, in SearchInput) (SearchResult, error) {
	logger := activity.GetLogger(ctx)

	res := a.registry.Execute(ctx, in.Provider, in.Query, providers.Filters{
		FromYear: in.FromYear,
		Language: in.Language,
	}, in.MaxResults)

	call := models.ProviderCall{
		Provider:   in.Provider,
		Query:      in.Query,
		MaxResults: in.MaxResults,
		Status:     res.Status,
		Results:    len(res.Sources),
		Latency:    res.Latency,
		Error:      res.Err,
	}

	a.stream.Publish(in.TaskID, streaming.Event{
		Type:    streaming.EventAPICall,
		Message: in.Provider,
		Payload: map[string]interface{}{
			"provider": in.Provider,
			"round":    in.Round,
			"status":   string(res.Status),
			"results":  len(res.Sources),
			"latency":  res.Latency.Milliseconds(),
		},
	})

	if res.Status != models.CallSuccess {
		logger.Warn("Provider call settled without results",
			"provider", in.Provider,
			"status", string(res.Status),
			"round", in.Round,
		)
	}
	return SearchResult{Call: call, Sources: res.Sources}, nil
}

// Dedup merges a round's harvest into the accumulated evidence set.
func (a *Activities) Dedup(ctx context.Context, in DedupInput) (DedupResult, error) {
	threshold := in.Threshold
	if threshold == 0 {
		threshold = config.Get().Research.DedupSimilarity
	}
	d := evidence.NewDeduplicator(threshold)
	merged := d.Merge(in.Accumulated, in.Incoming)
	return DedupResult{
		Merged:     merged,
		NewSources: len(merged) - len(in.Accumulated),
	}, nil
}
