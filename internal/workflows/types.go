package workflows

import (
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/recall"
)

// TaskInput starts one research task through the router.
type TaskInput struct {
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
	ImageRef  string `json:"image_ref,omitempty"` // optional single image attachment reference
	Context   string `json:"context,omitempty"`   // recent session turns, prefetched by the gateway
}

// TaskResult is the router's final output, also carried on the terminal
// stream event.
type TaskResult struct {
	TaskID    string `json:"task_id"`
	Tier      string `json:"tier"`
	Answer    string `json:"answer,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Sources    []models.Source            `json:"sources,omitempty"`
	Rounds     []models.Round             `json:"rounds,omitempty"`
	Exclusions models.ExclusionReport     `json:"exclusions,omitempty"`
	Coverage   *models.GapAssessment      `json:"coverage,omitempty"`
	Citations  models.VerificationSummary `json:"citations,omitempty"`

	// Recall outcomes. RecallAmbiguous holds the candidate list when the
	// router needs the user to disambiguate.
	RecallHit       *recall.Match  `json:"recall_hit,omitempty"`
	RecallAmbiguous []recall.Match `json:"recall_ambiguous,omitempty"`

	// SessionBoundary is set when this exchange closed the session.
	SessionBoundary string `json:"session_boundary,omitempty"`
}
