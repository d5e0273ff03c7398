package activities

import (
	"time"

	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/recall"
)

// ClassifyInput asks for a routing decision on a raw user query.
type ClassifyInput struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Context   string `json:"context,omitempty"` // recent session turns
}

// ClassifyResult carries the tier decision plus everything the router needs
// to dispatch without a second look at the raw text.
type ClassifyResult struct {
	Query models.Query `json:"query"`
	// FailedOpen is set when classification errored and the default tier was
	// substituted.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// EnrichInput expands a classified query for retrieval.
type EnrichInput struct {
	Query   models.Query `json:"query"`
	Context string       `json:"context,omitempty"`
}

// EnrichResult holds the enriched query plus per-provider translations for
// providers whose corpus language differs from the query language.
type EnrichResult struct {
	Query        models.Query      `json:"query"`
	Translations map[string]string `json:"translations,omitempty"` // provider -> query text
	Degraded     bool              `json:"degraded,omitempty"`     // enrichment failed, original text in use
}

// PlanInput requests a research plan for a deep-research query.
type PlanInput struct {
	Query     models.Query `json:"query"`
	Providers []string     `json:"providers"` // enabled provider names
	TaskID    string       `json:"task_id"`
}

// PlanResult wraps the plan; Degraded means planning failed twice and the
// caller should fall back to a single pass.
type PlanResult struct {
	Plan     models.ResearchPlan `json:"plan"`
	Degraded bool                `json:"degraded,omitempty"`
}

// SearchInput is one provider call within a round.
type SearchInput struct {
	Provider   string `json:"provider"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	FromYear   int    `json:"from_year,omitempty"`
	Language   string `json:"language,omitempty"`
	TaskID     string `json:"task_id"`
	Round      int    `json:"round"`
}

// SearchResult is the settled outcome; the activity never fails the workflow.
type SearchResult struct {
	Call    models.ProviderCall `json:"call"`
	Sources []models.Source     `json:"sources"`
}

// DedupInput merges a round's sources into the accumulated set.
type DedupInput struct {
	Accumulated []models.Source `json:"accumulated"`
	Incoming    []models.Source `json:"incoming"`
	Threshold   float64         `json:"threshold,omitempty"`
}

// DedupResult reports the merged set and how many incoming were new.
type DedupResult struct {
	Merged     []models.Source `json:"merged"`
	NewSources int             `json:"new_sources"`
}

// ReflectInput asks for a gap assessment over accumulated evidence.
type ReflectInput struct {
	Query   models.Query        `json:"query"`
	Plan    models.ResearchPlan `json:"plan"`
	Sources []models.Source     `json:"sources"`
	Round   int                 `json:"round"`
	TaskID  string              `json:"task_id"`
}

// ReflectResult is the assessment plus gap-fill queries when continuing.
type ReflectResult struct {
	Assessment models.GapAssessment `json:"assessment"`
	GapQueries []string             `json:"gap_queries,omitempty"`
}

// RankInput scores and orders sources against the enriched query.
type RankInput struct {
	Query   models.Query    `json:"query"`
	Sources []models.Source `json:"sources"`
	TaskID  string          `json:"task_id"`
}

type RankResult struct {
	Ranked []models.Source `json:"ranked"`
}

// SelectInput trims ranked sources to the citation set.
type SelectInput struct {
	Ranked []models.Source `json:"ranked"`
	TaskID string          `json:"task_id"`
}

type SelectResult struct {
	Selected   []models.Source        `json:"selected"`
	Exclusions models.ExclusionReport `json:"exclusions"`
}

// SynthesizeInput streams an answer grounded in the selected sources.
type SynthesizeInput struct {
	Query     models.Query    `json:"query"`
	Sources   []models.Source `json:"sources"`
	TaskID    string          `json:"task_id"`
	SessionID string          `json:"session_id,omitempty"`
	Model     string          `json:"model,omitempty"`
}

// SynthesizeResult is the full answer after the stream drains. A stream that
// breaks mid-answer fails the activity instead of producing a result.
type SynthesizeResult struct {
	Answer  string `json:"answer"`
	Tokens  int    `json:"tokens"`
	Drained bool   `json:"drained,omitempty"` // tokens arrived after the done marker
}

// VerifyInput checks cited sentences against their sources.
type VerifyInput struct {
	Answer  string          `json:"answer"`
	Sources []models.Source `json:"sources"`
	TaskID  string          `json:"task_id"`
}

type VerifyResult struct {
	Summary models.VerificationSummary `json:"summary"`
}

// SessionUpdateInput appends the exchange to the session transcript.
type SessionUpdateInput struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	ImageRef  string `json:"image_ref,omitempty"` // attached to the user turn, not processed
	Answer    string `json:"answer"`
	Tokens    int    `json:"tokens"`
}

type SessionUpdateResult struct {
	SessionID string `json:"session_id"`
	// Boundary reports a detected session boundary, empty when none.
	BoundaryCause  string `json:"boundary_cause,omitempty"`
	BoundaryAction string `json:"boundary_action,omitempty"`
}

// CompleteSessionInput closes a session and indexes it for recall.
type CompleteSessionInput struct {
	SessionID string `json:"session_id"`
	Cause     string `json:"cause"`
}

type CompleteSessionResult struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// CompactSessionInput replaces a ceiling-hit session's transcript with a
// summary so the conversation can continue.
type CompactSessionInput struct {
	SessionID string `json:"session_id"`
}

type CompactSessionResult struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
}

// RecallInput searches prior completed sessions.
type RecallInput struct {
	UserID string   `json:"user_id"`
	Terms  []string `json:"terms"`
	TaskID string   `json:"task_id"`
}

// RecallResult mirrors recall.Outcome in a serializable shape.
type RecallResult struct {
	Found     bool           `json:"found"`
	Best      *recall.Match  `json:"best,omitempty"`
	Ambiguous []recall.Match `json:"ambiguous,omitempty"`
}

// StageEventInput publishes one progress event to subscribers.
type StageEventInput struct {
	TaskID  string         `json:"task_id"`
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UsageRecord reports model usage for budget tracking.
type UsageRecord struct {
	TaskID string        `json:"task_id"`
	Model  string        `json:"model"`
	In     int           `json:"in"`
	Out    int           `json:"out"`
	Took   time.Duration `json:"took,omitempty"`
}
