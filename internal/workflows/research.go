package workflows

import (
	"sort"

	"go.temporal.io/sdk/workflow"

	"github.com/luminahealth/orchestrator/internal/activities"
	"github.com/luminahealth/orchestrator/internal/budget"
	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/stopping"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// runDeepResearch is the multi-round pipeline: plan once, then fetch-dedup-
// reflect until the stopping evaluator calls it, then rank, select,
// synthesize, verify.
func runDeepResearch(ctx workflow.Context, in TaskInput, q models.Query) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	rc := researchConfig(ctx)

	enriched, err := enrich(ctx, q, in.Context)
	if err != nil {
		return TaskResult{}, err
	}

	var providerNames []string
	if err := workflow.ExecuteActivity(ctx, acts.ProviderNames).Get(ctx, &providerNames); err != nil {
		return TaskResult{}, err
	}

	emitEvent(ctx, in.TaskID, streaming.EventPlanningStarted, "", nil)
	var planned activities.PlanResult
	if err := workflow.ExecuteActivity(ctx, acts.Plan, activities.PlanInput{
		Query:     enriched.Query,
		Providers: providerNames,
		TaskID:    in.TaskID,
	}).Get(ctx, &planned); err != nil {
		return TaskResult{}, failTask(models.FailurePlanning, err)
	}
	if planned.Degraded {
		logger.Warn("Planner degraded, falling back to single pass")
		return runSinglePass(ctx, in, q)
	}
	plan := planned.Plan
	emitEvent(ctx, in.TaskID, streaming.EventPlanningComplete, plan.Rationale, map[string]interface{}{
		"sub_queries":   plan.SubQueries,
		"distribution":  plan.Distribution,
		"max_rounds":    plan.MaxRounds,
		"total_targets": plan.TotalTargets(),
	})

	var (
		accumulated []models.Source
		rounds      []models.Round
		coverage    *models.GapAssessment
		gapQueries  []string
	)

	for round := 1; round <= plan.MaxRounds; round++ {
		purpose := models.RoundInitial
		if round > 1 {
			purpose = models.RoundGapFill
		}

		r, harvest := fetchRound(ctx, in.TaskID, roundSpec{
			number:       round,
			purpose:      purpose,
			queries:      assignGapQueries(plan.Distribution, gapQueries),
			defaultQuery: enriched.Query.EnrichedText,
			distribution: plan.Distribution,
			translations: enriched.Translations,
		})
		rounds = append(rounds, r)

		var deduped activities.DedupResult
		if err := workflow.ExecuteActivity(ctx, acts.Dedup, activities.DedupInput{
			Accumulated: accumulated,
			Incoming:    harvest,
		}).Get(ctx, &deduped); err != nil {
			return TaskResult{}, err
		}
		newSources := deduped.NewSources
		accumulated = deduped.Merged

		succeeded, timedOut, failed := callStatusCounts(r.Calls)
		emitEvent(ctx, in.TaskID, streaming.EventRoundComplete, "", map[string]interface{}{
			"round":           round,
			"new_sources":     newSources,
			"total":           len(accumulated),
			"calls_succeeded": succeeded,
			"calls_timeout":   timedOut,
			"calls_error":     failed,
		})

		// A budget-forced final round skips reflection: the loop is ending
		// regardless, the gap call would be spend without a decision to make.
		if round == plan.MaxRounds {
			break
		}

		var reflected activities.ReflectResult
		if err := workflow.ExecuteActivity(ctx, acts.Reflect, activities.ReflectInput{
			Query:   enriched.Query,
			Plan:    plan,
			Sources: accumulated,
			Round:   round,
			TaskID:  in.TaskID,
		}).Get(ctx, &reflected); err != nil {
			return TaskResult{}, err
		}
		coverage = &reflected.Assessment
		gapQueries = reflected.GapQueries

		var usage budget.Snapshot
		if err := workflow.ExecuteActivity(ctx, acts.Usage, in.TaskID).Get(ctx, &usage); err != nil {
			return TaskResult{}, err
		}

		verdict := stopping.Evaluate(stopping.Input{
			Round:      round,
			Assessment: reflected.Assessment,
			Usage:      usage,
			NewSources: newSources,
		}, rc)
		logger.Info("Round verdict",
			"round", round,
			"stop", verdict.Stop,
			"forced", verdict.Forced,
			"reason", verdict.Reason,
		)
		if verdict.Stop {
			break
		}
	}

	return finishPipeline(ctx, in, enriched.Query, accumulated, rounds, coverage)
}

// roundSpec describes one fetch round.
type roundSpec struct {
	number       int
	purpose      models.RoundPurpose
	queries      map[string]string // per-provider override (gap-fill)
	defaultQuery string
	distribution map[string]int    // provider -> max results; nil means perProvider for all
	perProvider  int
	translations map[string]string
}

// fetchRound fans one search activity out per provider and settles when every
// call settles. Provider failures are already absorbed inside the activity,
// so the round always completes with whatever arrived.
func fetchRound(ctx workflow.Context, taskID string, spec roundSpec) (models.Round, []models.Source) {
	logger := workflow.GetLogger(ctx)
	emitEvent(ctx, taskID, streaming.EventRoundStarted, "", map[string]interface{}{
		"round":   spec.number,
		"purpose": string(spec.purpose),
	})

	names := make([]string, 0, len(spec.distribution))
	for name := range spec.distribution {
		names = append(names, name)
	}
	sort.Strings(names)

	searchCtx := workflow.WithActivityOptions(ctx, searchActivityOptions())
	start := workflow.Now(ctx)

	futures := make([]workflow.Future, 0, len(names))
	for _, name := range names {
		query := spec.defaultQuery
		if q, ok := spec.queries[name]; ok && q != "" {
			query = q
		}
		if t, ok := spec.translations[name]; ok && t != "" {
			query = t
		}
		maxResults := spec.distribution[name]
		if maxResults <= 0 {
			maxResults = spec.perProvider
		}
		futures = append(futures, workflow.ExecuteActivity(searchCtx, acts.SearchProvider, activities.SearchInput{
			Provider:   name,
			Query:      query,
			MaxResults: maxResults,
			TaskID:     taskID,
			Round:      spec.number,
		}))
	}

	round := models.Round{Number: spec.number, Purpose: spec.purpose}
	var harvest []models.Source
	for i, f := range futures {
		var res activities.SearchResult
		if err := f.Get(ctx, &res); err != nil {
			// Activity-level failure (timeout past the settle path); record it
			// and keep the round going.
			logger.Warn("Search activity failed", "provider", names[i], "error", err)
			round.Calls = append(round.Calls, models.ProviderCall{
				Provider: names[i],
				Status:   models.CallError,
				Error:    err.Error(),
			})
			continue
		}
		round.Calls = append(round.Calls, res.Call)
		harvest = append(harvest, res.Sources...)
	}
	round.Duration = workflow.Now(ctx).Sub(start)
	round.Sources = harvest
	return round, harvest
}

// callStatusCounts tallies a round's provider calls by settled status so the
// round event reflects partial success.
func callStatusCounts(calls []models.ProviderCall) (succeeded, timedOut, failed int) {
	for _, c := range calls {
		switch c.Status {
		case models.CallSuccess:
			succeeded++
		case models.CallTimeout:
			timedOut++
		default:
			failed++
		}
	}
	return succeeded, timedOut, failed
}

// assignGapQueries spreads gap queries across providers round-robin in sorted
// provider order, keeping assignment deterministic.
func assignGapQueries(distribution map[string]int, gapQueries []string) map[string]string {
	if len(gapQueries) == 0 {
		return nil
	}
	names := make([]string, 0, len(distribution))
	for name := range distribution {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = gapQueries[i%len(gapQueries)]
	}
	return out
}

// finishPipeline runs the shared tail: rank, select, synthesize, verify.
func finishPipeline(ctx workflow.Context, in TaskInput, q models.Query, sources []models.Source, rounds []models.Round, coverage *models.GapAssessment) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)

	var ranked activities.RankResult
	if err := workflow.ExecuteActivity(ctx, acts.Rank, activities.RankInput{
		Query:   q,
		Sources: sources,
		TaskID:  in.TaskID,
	}).Get(ctx, &ranked); err != nil {
		// Ranking is an optimization; unranked sources still support an answer.
		logger.Warn("Ranking failed, using accumulation order", "error", err)
		ranked.Ranked = sources
	}

	var selected activities.SelectResult
	if err := workflow.ExecuteActivity(ctx, acts.SelectSources, activities.SelectInput{
		Ranked: ranked.Ranked,
		TaskID: in.TaskID,
	}).Get(ctx, &selected); err != nil {
		return TaskResult{}, err
	}

	emitEvent(ctx, in.TaskID, streaming.EventSynthesisStarted, "", map[string]interface{}{
		"sources":  len(selected.Selected),
		"excluded": selected.Exclusions.Total(),
	})

	synthCtx := workflow.WithActivityOptions(ctx, synthesisActivityOptions(researchConfig(ctx).PipelineTimeout))
	var synth activities.SynthesizeResult
	if err := workflow.ExecuteActivity(synthCtx, acts.Synthesize, activities.SynthesizeInput{
		Query:     q,
		Sources:   selected.Selected,
		TaskID:    in.TaskID,
		SessionID: in.SessionID,
	}).Get(ctx, &synth); err != nil {
		return TaskResult{}, failTask(models.FailureSynthesis, err)
	}

	// Verification is post-hoc and advisory; the answer already streamed.
	var verified activities.VerifyResult
	if err := workflow.ExecuteActivity(ctx, acts.Verify, activities.VerifyInput{
		Answer:  synth.Answer,
		Sources: selected.Selected,
		TaskID:  in.TaskID,
	}).Get(ctx, &verified); err != nil {
		logger.Warn("Citation verification failed", "error", err)
		verified.Summary = models.VerificationSummary{Skipped: true}
	}

	_ = workflow.ExecuteActivity(ctx, acts.ReleaseUsage, in.TaskID).Get(ctx, nil)

	return TaskResult{
		Answer:     synth.Answer,
		Sources:    selected.Selected,
		Rounds:     rounds,
		Exclusions: selected.Exclusions,
		Coverage:   coverage,
		Citations:  verified.Summary,
		SessionID:  in.SessionID,
	}, nil
}

// enrich runs query enrichment with its own degrade path already inside the
// activity.
func enrich(ctx workflow.Context, q models.Query, sessionContext string) (activities.EnrichResult, error) {
	var out activities.EnrichResult
	err := workflow.ExecuteActivity(ctx, acts.Enrich, activities.EnrichInput{
		Query:   q,
		Context: sessionContext,
	}).Get(ctx, &out)
	return out, err
}

// researchConfig snapshots the tunable thresholds through a side effect so
// replays see the values the original execution saw.
func researchConfig(ctx workflow.Context) config.ResearchConfig {
	var rc config.ResearchConfig
	_ = workflow.MutableSideEffect(ctx, "research-config",
		func(workflow.Context) interface{} { return config.Get().Research },
		func(a, b interface{}) bool {
			ra, aok := a.(config.ResearchConfig)
			rb, bok := b.(config.ResearchConfig)
			return aok && bok && ra == rb
		},
	).Get(&rc)
	return rc
}
