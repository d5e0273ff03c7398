package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/models"
)

const planPromptTemplate = `You plan multi-round medical research. Available sources: %s.
Produce a research plan as JSON only:
{
  "distribution": {"<source>": <target result count>, ...},
  "sub_queries": ["...", "..."],
  "min_rounds": 1,
  "max_rounds": %d,
  "rationale": "one sentence"
}
Distribute roughly %d total results across sources by how well each fits the question. Sub-queries decompose the question into 2-5 searchable facets.`

// Plan asks the model for a research plan, retrying once on failure. A second
// failure returns a degraded default plan so the workflow can drop to a
// single pass instead of dying.
func (a *Activities) Plan(ctx context.Context, in PlanInput) (PlanResult, error) {
	logger := activity.GetLogger(ctx)
	rc := config.Get().Research

	prompt := fmt.Sprintf(planPromptTemplate, strings.Join(in.Providers, ", "), rc.MaxRounds, rc.TargetSources*2)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
			Query:             in.Query.EnrichedText,
			SystemPrompt:      prompt,
			ModelTier:         "large",
			MaxTokens:         800,
			AgentID:           "planner",
			ExtendedReasoning: true,
		})
		if err != nil {
			lastErr = err
			continue
		}
		a.recordUsage(in.TaskID, resp.ModelUsed, resp.InputTokens, resp.OutputTokens)

		var plan models.ResearchPlan
		if err := parseJSONBlock(resp.Response, &plan); err != nil {
			lastErr = err
			continue
		}
		normalized := normalizePlan(plan, in.Providers, rc)
		logger.Info("Research plan ready",
			"sub_queries", len(normalized.SubQueries),
			"total_targets", normalized.TotalTargets(),
			"max_rounds", normalized.MaxRounds,
		)
		return PlanResult{Plan: normalized}, nil
	}

	logger.Warn("Planning failed twice, degrading to default plan", "error", lastErr)
	return PlanResult{Plan: defaultPlan(in.Query, in.Providers, rc), Degraded: true}, nil
}

// normalizePlan clamps model output to configured bounds and guarantees a
// usable distribution: unknown providers are dropped and a zero total is
// replaced with an even split.
func normalizePlan(plan models.ResearchPlan, providers []string, rc config.ResearchConfig) models.ResearchPlan {
	known := make(map[string]bool, len(providers))
	for _, p := range providers {
		known[p] = true
	}

	dist := make(map[string]int)
	for name, n := range plan.Distribution {
		if known[name] && n > 0 {
			dist[name] = n
		}
	}
	if len(dist) == 0 {
		dist = evenSplit(providers, rc.TargetSources*2)
	}
	plan.Distribution = dist

	if plan.MinRounds < rc.MinRounds {
		plan.MinRounds = rc.MinRounds
	}
	if plan.MaxRounds <= 0 || plan.MaxRounds > rc.MaxRounds {
		plan.MaxRounds = rc.MaxRounds
	}
	if plan.MinRounds > plan.MaxRounds {
		plan.MinRounds = plan.MaxRounds
	}
	if len(plan.SubQueries) == 0 {
		plan.SubQueries = []string{""}
	}
	return plan
}

func defaultPlan(q models.Query, providers []string, rc config.ResearchConfig) models.ResearchPlan {
	return models.ResearchPlan{
		Distribution: evenSplit(providers, rc.TargetSources*2),
		MinRounds:    1,
		MaxRounds:    1,
		SubQueries:   []string{q.EnrichedText},
		Rationale:    "fallback plan after planner failure",
	}
}

func evenSplit(providers []string, total int) map[string]int {
	dist := make(map[string]int, len(providers))
	if len(providers) == 0 {
		return dist
	}
	per := total / len(providers)
	if per < 1 {
		per = 1
	}
	for _, p := range providers {
		dist[p] = per
	}
	return dist
}
