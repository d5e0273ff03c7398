// Package stopping decides whether the research loop runs another round.
// The evaluator is a pure function: model judgments feed in through the gap
// assessment, but hard budget ceilings always win over them.
package stopping

import (
	"fmt"
	"time"

	"github.com/luminahealth/orchestrator/internal/budget"
	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/models"
)

// Verdict is the evaluator's output for one round boundary.
type Verdict struct {
	Stop   bool
	Forced bool // a ceiling overrode the gap assessment
	Reason string
}

// Input bundles everything one decision depends on.
type Input struct {
	Round      int // 1-based, the round that just completed
	Assessment models.GapAssessment
	Usage      budget.Snapshot
	NewSources int // sources added by this round after dedup
}

// Evaluate applies, in priority order: hard ceilings (rounds, elapsed time,
// cost), the minimum-round floor, the no-progress check, and finally the gap
// assessment's own decision.
func Evaluate(in Input, rc config.ResearchConfig) Verdict {
	if in.Round >= rc.MaxRounds {
		return Verdict{Stop: true, Forced: true, Reason: fmt.Sprintf("round budget exhausted (%d/%d)", in.Round, rc.MaxRounds)}
	}
	if rc.PipelineTimeout > 0 && in.Usage.Elapsed >= rc.PipelineTimeout {
		return Verdict{Stop: true, Forced: true, Reason: fmt.Sprintf("pipeline time budget exhausted (%s)", in.Usage.Elapsed.Round(time.Second))}
	}
	if rc.MaxCostUSD > 0 && in.Usage.CostUSD >= rc.MaxCostUSD {
		return Verdict{Stop: true, Forced: true, Reason: fmt.Sprintf("cost ceiling reached ($%.4f)", in.Usage.CostUSD)}
	}

	// A stop recommendation before the minimum round count is overridden:
	// the first round with poor coverage must not end the pipeline.
	if in.Assessment.Decision == models.DecisionStop && in.Round < rc.MinRounds {
		return Verdict{Stop: false, Forced: true, Reason: fmt.Sprintf("minimum round floor (%d) not met", rc.MinRounds)}
	}

	// Low coverage after round one forces another pass regardless of what the
	// assessment recommended.
	if in.Round == 1 && in.Assessment.GapScore < rc.GapAcceptance/2 {
		return Verdict{Stop: false, Forced: true, Reason: fmt.Sprintf("coverage %.2f far below acceptance after first round", in.Assessment.GapScore)}
	}

	// No new evidence means another identical round cannot help.
	if in.Round > 1 && in.NewSources == 0 {
		return Verdict{Stop: true, Forced: true, Reason: "round produced no new sources"}
	}

	if in.Assessment.GapScore >= rc.GapAcceptance {
		return Verdict{Stop: true, Reason: fmt.Sprintf("coverage %.2f meets acceptance %.2f", in.Assessment.GapScore, rc.GapAcceptance)}
	}
	if in.Assessment.Decision == models.DecisionStop {
		return Verdict{Stop: true, Reason: "gap assessment recommends stopping"}
	}
	return Verdict{Stop: false, Reason: "uncovered topics remain"}
}
