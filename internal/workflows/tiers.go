package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/luminahealth/orchestrator/internal/activities"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// runRecall answers from a prior completed session. No match degrades to a
// single pass rather than telling the user "nothing found" on a real
// question; an ambiguous match asks the user to pick.
func runRecall(ctx workflow.Context, in TaskInput, q models.Query) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)

	var rec activities.RecallResult
	err := workflow.ExecuteActivity(ctx, acts.RecallSearch, activities.RecallInput{
		UserID: in.UserID,
		Terms:  q.RecallTerms,
		TaskID: in.TaskID,
	}).Get(ctx, &rec)
	if err != nil {
		logger.Warn("Recall search failed, degrading to single pass", "error", err)
		return runSinglePass(ctx, in, q)
	}

	if !rec.Found {
		logger.Info("No prior session matched, degrading to single pass")
		return runSinglePass(ctx, in, q)
	}

	if len(rec.Ambiguous) > 0 {
		titles := make([]string, 0, len(rec.Ambiguous))
		for _, m := range rec.Ambiguous {
			titles = append(titles, m.Title)
		}
		return TaskResult{
			Answer: fmt.Sprintf(
				"I found %d past research sessions that could match. Which one did you mean?\n%s",
				len(rec.Ambiguous), bulletList(titles)),
			RecallAmbiguous: rec.Ambiguous,
			SessionID:       in.SessionID,
		}, nil
	}

	return TaskResult{
		Answer: fmt.Sprintf("From our session %q (%s):\n\n%s",
			rec.Best.Title, rec.Best.ClosedAt.Format("Jan 2, 2006"), rec.Best.Summary),
		RecallHit: rec.Best,
		SessionID: in.SessionID,
	}, nil
}

// runDirect answers from model knowledge with no retrieval.
func runDirect(ctx workflow.Context, in TaskInput, q models.Query) (TaskResult, error) {
	emitEvent(ctx, in.TaskID, streaming.EventSynthesisStarted, "", nil)

	ctx = workflow.WithActivityOptions(ctx, synthesisActivityOptions(researchConfig(ctx).PipelineTimeout))
	var synth activities.SynthesizeResult
	err := workflow.ExecuteActivity(ctx, acts.Synthesize, activities.SynthesizeInput{
		Query:     q,
		TaskID:    in.TaskID,
		SessionID: in.SessionID,
	}).Get(ctx, &synth)
	if err != nil {
		return TaskResult{}, failTask(models.FailureSynthesis, err)
	}
	return TaskResult{Answer: synth.Answer, SessionID: in.SessionID}, nil
}

// runSinglePass does one fetch round across all providers, then ranks,
// selects, synthesizes, and verifies.
func runSinglePass(ctx workflow.Context, in TaskInput, q models.Query) (TaskResult, error) {
	enriched, err := enrich(ctx, q, in.Context)
	if err != nil {
		return TaskResult{}, err
	}

	var providerNames []string
	if err := workflow.ExecuteActivity(ctx, acts.ProviderNames).Get(ctx, &providerNames); err != nil {
		return TaskResult{}, err
	}
	perProvider := researchConfig(ctx).TargetSources
	distribution := make(map[string]int, len(providerNames))
	for _, name := range providerNames {
		distribution[name] = perProvider
	}

	round, sources := fetchRound(ctx, in.TaskID, roundSpec{
		number:       1,
		purpose:      models.RoundInitial,
		defaultQuery: enriched.Query.EnrichedText,
		distribution: distribution,
		translations: enriched.Translations,
	})

	var deduped activities.DedupResult
	if err := workflow.ExecuteActivity(ctx, acts.Dedup, activities.DedupInput{
		Incoming: sources,
	}).Get(ctx, &deduped); err != nil {
		return TaskResult{}, err
	}

	return finishPipeline(ctx, in, enriched.Query, deduped.Merged, []models.Round{round}, nil)
}

func bulletList(items []string) string {
	out := ""
	for _, item := range items {
		out += "- " + item + "\n"
	}
	return out
}
