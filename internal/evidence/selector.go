package evidence

import (
	"time"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/models"
)

// Select takes ranked sources and returns the final citation set plus an
// accounting of every exclusion. Pure function of its inputs and the clock
// year: the same ranked list and config always select the same sources.
//
// Filters apply in order: staleness, relevance floor, then the target count.
// When trimming to the target, non-peer-reviewed sources are dropped first
// from the bottom of the ranking.
func Select(ranked []models.Source, rc config.ResearchConfig, now time.Time) ([]models.Source, models.ExclusionReport) {
	var report models.ExclusionReport
	cutoffYear := now.Year() - rc.StalenessYears

	candidates := make([]models.Source, 0, len(ranked))
	for _, src := range ranked {
		if rc.StalenessYears > 0 && !src.Published.IsZero() && src.Published.Year() < cutoffYear {
			report.Stale++
			continue
		}
		if src.Relevance < rc.RelevanceFloor {
			report.BelowRelevance++
			continue
		}
		candidates = append(candidates, src)
	}

	target := rc.TargetSources
	if target <= 0 || len(candidates) <= target {
		return candidates, report
	}

	// Over target: drop unreviewed sources from the bottom up first.
	excess := len(candidates) - target
	drop := make([]bool, len(candidates))
	for i := len(candidates) - 1; i >= 0 && excess > 0; i-- {
		if !candidates[i].PeerReview {
			drop[i] = true
			report.NotPeerReviewed++
			excess--
		}
	}
	for i := len(candidates) - 1; i >= 0 && excess > 0; i-- {
		if !drop[i] {
			drop[i] = true
			report.OverTargetCount++
			excess--
		}
	}

	selected := make([]models.Source, 0, target)
	for i, src := range candidates {
		if !drop[i] {
			selected = append(selected, src)
		}
	}
	return selected, report
}
