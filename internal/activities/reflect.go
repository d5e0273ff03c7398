package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/metrics"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

const reflectPrompt = `You assess research coverage. Given the question, its planned facets, and the evidence gathered so far, report which facets are covered. Respond with JSON only:
{
  "well_covered": ["facet", ...],
  "partially_covered": ["facet", ...],
  "uncovered": ["facet", ...],
  "gap_score": 0.0,
  "decision": "continue" or "stop",
  "rationale": "one sentence",
  "gap_queries": ["search query targeting an uncovered facet", ...]
}
gap_score is overall coverage in [0,1]. A "continue" decision MUST list uncovered facets and gap_queries.`

// Reflect runs the gap analysis over accumulated evidence. A continue
// decision without named gaps is not actionable, so it is downgraded to stop.
// Model failure reads as a stop recommendation with zero confidence; the
// workflow's deterministic guardrails still apply on top.
func (a *Activities) Reflect(ctx context.Context, in ReflectInput) (ReflectResult, error) {
	logger := activity.GetLogger(ctx)

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Query:        reflectQuery(in),
		SystemPrompt: reflectPrompt,
		ModelTier:    "medium",
		MaxTokens:    600,
		AgentID:      "reflector",
	})
	if err != nil {
		logger.Warn("Gap analysis failed, recommending stop", "round", in.Round, "error", err)
		return ReflectResult{Assessment: models.GapAssessment{
			GapScore:  0,
			Decision:  models.DecisionStop,
			Rationale: "gap analysis unavailable",
		}}, nil
	}
	a.recordUsage(in.TaskID, resp.ModelUsed, resp.InputTokens, resp.OutputTokens)

	var parsed struct {
		WellCovered      []string `json:"well_covered"`
		PartiallyCovered []string `json:"partially_covered"`
		Uncovered        []string `json:"uncovered"`
		GapScore         float64  `json:"gap_score"`
		Decision         string   `json:"decision"`
		Rationale        string   `json:"rationale"`
		GapQueries       []string `json:"gap_queries"`
	}
	if err := parseJSONBlock(resp.Response, &parsed); err != nil {
		logger.Warn("Gap analysis output unparseable, recommending stop", "error", err)
		return ReflectResult{Assessment: models.GapAssessment{
			Decision:  models.DecisionStop,
			Rationale: "gap analysis unparseable",
		}}, nil
	}

	assessment := models.GapAssessment{
		WellCovered:      parsed.WellCovered,
		PartiallyCovered: parsed.PartiallyCovered,
		Uncovered:        parsed.Uncovered,
		GapScore:         clamp01(parsed.GapScore),
		Decision:         models.DecisionStop,
		Rationale:        parsed.Rationale,
	}
	gapQueries := parsed.GapQueries

	if parsed.Decision == "continue" {
		if len(parsed.Uncovered) == 0 || len(gapQueries) == 0 {
			assessment.Rationale = "continue without named gaps downgraded to stop"
			gapQueries = nil
		} else {
			assessment.Decision = models.DecisionContinue
		}
	}

	metrics.GapScore.Observe(assessment.GapScore)
	if assessment.Decision == models.DecisionContinue {
		a.stream.Publish(in.TaskID, streaming.Event{
			Type:    streaming.EventGapDetected,
			Message: strings.Join(assessment.Uncovered, "; "),
			Payload: map[string]interface{}{
				"gap_score": assessment.GapScore,
				"uncovered": assessment.Uncovered,
				"round":     in.Round,
			},
		})
	}

	logger.Info("Gap analysis complete",
		"round", in.Round,
		"gap_score", assessment.GapScore,
		"decision", string(assessment.Decision),
		"uncovered", len(assessment.Uncovered),
	)
	return ReflectResult{Assessment: assessment, GapQueries: gapQueries}, nil
}

func reflectQuery(in ReflectInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPlanned facets:\n", in.Query.EnrichedText)
	for _, sq := range in.Plan.SubQueries {
		fmt.Fprintf(&b, "- %s\n", sq)
	}
	fmt.Fprintf(&b, "\nEvidence gathered (%d sources):\n", len(in.Sources))
	for i, src := range in.Sources {
		if i >= 40 {
			fmt.Fprintf(&b, "... and %d more\n", len(in.Sources)-i)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s\n", src.SourceType, src.Title)
	}
	return b.String()
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
