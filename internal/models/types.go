package models

import (
	"time"
)

// Tier classifies how much research a query needs.
type Tier int

const (
	TierRecall     Tier = 0 // retrieve a prior completed session
	TierDirect     Tier = 1 // answer from model knowledge, no search
	TierSinglePass Tier = 2 // one fetch round, then synthesize
	TierDeep       Tier = 3 // multi-round research with gap analysis
)

func (t Tier) String() string {
	switch t {
	case TierRecall:
		return "recall"
	case TierDirect:
		return "direct"
	case TierSinglePass:
		return "single_pass"
	case TierDeep:
		return "deep_research"
	default:
		return "unknown"
	}
}

// Query is the classified form of a user question. Immutable once classified.
type Query struct {
	Text            string   `json:"text"`
	Language        string   `json:"language,omitempty"`
	EnrichedText    string   `json:"enriched_text,omitempty"`
	Tier            Tier     `json:"tier"`
	Confidence      float64  `json:"confidence"`
	ExplicitDeep    bool     `json:"explicit_deep,omitempty"`
	RecallTerms     []string `json:"recall_terms,omitempty"`
	Category        string   `json:"category,omitempty"` // safety|efficacy|mechanism|general
	ContextFragment []string `json:"context_fragments,omitempty"`
}

// ResearchPlan is produced once per deep-research request and read-only after.
type ResearchPlan struct {
	Distribution map[string]int `json:"distribution"` // provider name -> target source count
	MinRounds    int            `json:"min_rounds"`
	MaxRounds    int            `json:"max_rounds"`
	SubQueries   []string       `json:"sub_queries"`
	Rationale    string         `json:"rationale,omitempty"`
}

// TotalTargets returns the summed source-type distribution.
func (p ResearchPlan) TotalTargets() int {
	total := 0
	for _, n := range p.Distribution {
		total += n
	}
	return total
}

// RoundPurpose distinguishes the initial fetch from gap-fill rounds.
type RoundPurpose string

const (
	RoundInitial RoundPurpose = "initial"
	RoundGapFill RoundPurpose = "gap_fill"
)

// ProviderCall records one provider invocation within a round.
type ProviderCall struct {
	Provider   string        `json:"provider"`
	Query      string        `json:"query"`
	MaxResults int           `json:"max_results"`
	Status     CallStatus    `json:"status"`
	Results    int           `json:"results"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// CallStatus is the settled outcome of a single provider call.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallTimeout CallStatus = "timeout"
	CallError   CallStatus = "error"
)

// Round is one synchronized batch of provider queries. Never mutated once
// appended to the session's round list.
type Round struct {
	Number   int            `json:"number"`
	Purpose  RoundPurpose   `json:"purpose"`
	Calls    []ProviderCall `json:"calls"`
	Sources  []Source       `json:"sources"`
	Duration time.Duration  `json:"duration"`
}

// Source is a single piece of retrieved evidence with provenance.
type Source struct {
	Provider   string    `json:"provider"`
	SourceType string    `json:"source_type"` // literature|preprint|trial|web
	ExternalID string    `json:"external_id,omitempty"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors,omitempty"`
	Venue      string    `json:"venue,omitempty"`
	URL        string    `json:"url,omitempty"`
	Published  time.Time `json:"published,omitempty"`
	Content    string    `json:"content,omitempty"` // truncated for prompting

	// Set by the ranker/selector.
	Relevance    float64  `json:"relevance,omitempty"`
	QualityFlags []string `json:"quality_flags,omitempty"`

	// Union of providers/rounds that surfaced this source after dedup.
	Provenance []string `json:"provenance,omitempty"`
	PeerReview bool     `json:"peer_reviewed,omitempty"`
}

// GapDecision is the reflector's continue/stop recommendation.
type GapDecision string

const (
	DecisionContinue GapDecision = "continue"
	DecisionStop     GapDecision = "stop"
)

// GapAssessment is produced after each round (except a budget-forced last one).
type GapAssessment struct {
	WellCovered      []string    `json:"well_covered,omitempty"`
	PartiallyCovered []string    `json:"partially_covered,omitempty"`
	Uncovered        []string    `json:"uncovered,omitempty"`
	GapScore         float64     `json:"gap_score"` // coverage in [0,1]; 1 = fully covered
	Decision         GapDecision `json:"decision"`
	Rationale        string      `json:"rationale,omitempty"`
}

// FailureCode classifies a terminal error event so clients can react
// programmatically rather than parsing the message.
type FailureCode string

const (
	FailureClassification FailureCode = "ClassificationFailure"
	FailurePlanning       FailureCode = "PlanningFailure"
	FailureSynthesis      FailureCode = "SynthesisFailure"
	FailureInternal       FailureCode = "InternalFailure"
)

// CitationVerdict classifies how well a cited sentence matches its source.
type CitationVerdict string

const (
	VerdictAccurate   CitationVerdict = "accurate"
	VerdictNuanceLost CitationVerdict = "nuance-lost"
	VerdictInaccurate CitationVerdict = "inaccurate"
)

// CitationCheck is a post-hoc verification record for one cited sentence.
type CitationCheck struct {
	Sentence      string          `json:"sentence"`
	SourceIndices []int           `json:"source_indices"`
	Similarity    float64         `json:"similarity"`
	Verdict       CitationVerdict `json:"verdict"`
	Note          string          `json:"note,omitempty"`
}

// VerificationSummary aggregates citation checks for the final event payload.
type VerificationSummary struct {
	Checks       []CitationCheck `json:"checks,omitempty"`
	Authenticity float64         `json:"authenticity"` // fraction of accurate checks
	Skipped      bool            `json:"skipped,omitempty"`
}

// ExclusionReport explains why ranked sources were not selected.
type ExclusionReport struct {
	Stale            int `json:"stale"`
	NotPeerReviewed  int `json:"not_peer_reviewed"`
	BelowRelevance   int `json:"below_relevance"`
	OverTargetCount  int `json:"over_target_count"`
}

// Total returns the summed exclusion counts.
func (r ExclusionReport) Total() int {
	return r.Stale + r.NotPeerReviewed + r.BelowRelevance + r.OverTargetCount
}
