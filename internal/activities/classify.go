package activities

import (
	"context"
	"regexp"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/metrics"
	"github.com/luminahealth/orchestrator/internal/models"
)

// Recall phrasing is cheap to detect without a model call, and misrouting a
// recall query into research wastes a full pipeline run.
var recallRe = regexp.MustCompile(`(?i)\b(what did (we|you) (find|discuss|say|conclude)|last (time|session)|previous(ly)? (research|session|conversation)|earlier (we|you)|remind me what|we (talked|looked) (about|at))\b`)

var explicitDeepRe = regexp.MustCompile(`(?i)\b(deep research|comprehensive (review|analysis)|thorough(ly)? (research|review)|research this in depth|systematic review)\b`)

const classifyPrompt = `You route medical research questions. Classify the question into exactly one tier:
- "direct": answerable from general medical knowledge, no literature search needed
- "single_pass": needs one round of literature search
- "deep_research": broad or multi-faceted, needs iterative research

Also assign a category: "safety", "efficacy", "mechanism", or "general".

Respond with JSON only:
{"tier": "...", "category": "...", "confidence": 0.0, "language": "two-letter code"}`

// Classify decides the processing tier for a query. A regex pre-pass catches
// recall and explicit deep-research phrasing before any model call. Model
// failures fail open to single_pass so the user still gets an answer.
func (a *Activities) Classify(ctx context.Context, in ClassifyInput) (ClassifyResult, error) {
	logger := activity.GetLogger(ctx)

	q := models.Query{Text: in.Query, Language: "en"}

	if recallRe.MatchString(in.Query) {
		q.Tier = models.TierRecall
		q.Confidence = 1
		q.RecallTerms = recallTerms(in.Query)
		return ClassifyResult{Query: q}, nil
	}
	if explicitDeepRe.MatchString(in.Query) {
		q.Tier = models.TierDeep
		q.ExplicitDeep = true
		q.Confidence = 1
		q.Category = "general"
		return ClassifyResult{Query: q}, nil
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Query:        in.Query,
		SystemPrompt: classifyPrompt,
		ModelTier:    "small",
		MaxTokens:    200,
		AgentID:      "classifier",
		Context:      map[string]interface{}{"session_context": in.Context},
	})
	if err != nil {
		metrics.ClassificationFailures.Inc()
		logger.Warn("Classification failed, defaulting to single pass", "error", err)
		q.Tier = models.TierSinglePass
		q.Category = "general"
		return ClassifyResult{Query: q, FailedOpen: true}, nil
	}
	a.recordUsage(taskIDFrom(in.SessionID, in.Query), resp.ModelUsed, resp.InputTokens, resp.OutputTokens)

	var parsed struct {
		Tier       string  `json:"tier"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
	}
	if err := parseJSONBlock(resp.Response, &parsed); err != nil {
		metrics.ClassificationFailures.Inc()
		logger.Warn("Classification output unparseable, defaulting to single pass", "error", err)
		q.Tier = models.TierSinglePass
		q.Category = "general"
		return ClassifyResult{Query: q, FailedOpen: true}, nil
	}

	switch parsed.Tier {
	case "direct":
		q.Tier = models.TierDirect
	case "deep_research":
		q.Tier = models.TierDeep
	default:
		q.Tier = models.TierSinglePass
	}
	q.Category = normalizeCategory(parsed.Category)
	q.Confidence = parsed.Confidence
	if parsed.Language != "" {
		q.Language = strings.ToLower(parsed.Language)
	}

	logger.Info("Query classified",
		"tier", q.Tier.String(),
		"category", q.Category,
		"confidence", q.Confidence,
	)
	return ClassifyResult{Query: q}, nil
}

func normalizeCategory(c string) string {
	switch strings.ToLower(c) {
	case "safety", "efficacy", "mechanism":
		return strings.ToLower(c)
	default:
		return "general"
	}
}

// recallTerms strips the recall phrasing and keeps the topical words for the
// full-text search.
func recallTerms(query string) []string {
	cleaned := recallRe.ReplaceAllString(query, " ")
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		w = strings.Trim(w, "?.,!\"'")
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// taskIDFrom picks a stable budget key when no task ID is in scope yet.
func taskIDFrom(sessionID, query string) string {
	if sessionID != "" {
		return sessionID
	}
	if len(query) > 32 {
		return query[:32]
	}
	return query
}
