package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/llm"
)

const enrichPrompt = `You expand medical research questions for literature retrieval. Rewrite the question as a search-optimized query: expand abbreviations, add standard synonyms (generic drug names, MeSH-style terms), keep it one line. Respond with JSON only:
{"enriched": "..."}`

// Enrich expands the query for retrieval and translates it for providers
// whose corpus language differs from the query language. Every failure
// degrades to the original text; enrichment is never a reason to fail a task.
func (a *Activities) Enrich(ctx context.Context, in EnrichInput) (EnrichResult, error) {
	logger := activity.GetLogger(ctx)
	out := EnrichResult{Query: in.Query}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Query:        in.Query.Text,
		SystemPrompt: enrichPrompt,
		ModelTier:    "small",
		MaxTokens:    300,
		AgentID:      "enricher",
		Context:      map[string]interface{}{"session_context": in.Context},
	})
	if err != nil {
		logger.Warn("Enrichment failed, using original query", "error", err)
		out.Query.EnrichedText = in.Query.Text
		out.Degraded = true
	} else {
		var parsed struct {
			Enriched string `json:"enriched"`
		}
		if perr := parseJSONBlock(resp.Response, &parsed); perr != nil || parsed.Enriched == "" {
			out.Query.EnrichedText = in.Query.Text
			out.Degraded = true
		} else {
			out.Query.EnrichedText = parsed.Enriched
		}
		a.recordUsage(taskIDFrom("", in.Query.Text), resp.ModelUsed, resp.InputTokens, resp.OutputTokens)
	}

	out.Translations = a.translations(ctx, out.Query.EnrichedText, in.Query.Language)
	return out, nil
}

// translations produces a per-provider query for providers indexed in another
// language. Failed translations fall back to the untranslated text.
func (a *Activities) translations(ctx context.Context, query, queryLang string) map[string]string {
	if a.registry == nil || queryLang == "" {
		return nil
	}
	logger := activity.GetLogger(ctx)

	out := make(map[string]string)
	for _, name := range a.registry.Names() {
		corpusLang := a.registry.CorpusLanguage(name)
		if corpusLang == queryLang {
			continue
		}
		resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
			Query:        query,
			SystemPrompt: fmt.Sprintf("Translate this search query to %s. Respond with the translation only, no commentary.", corpusLang),
			ModelTier:    "small",
			MaxTokens:    200,
			AgentID:      "translator",
		})
		if err != nil {
			logger.Warn("Query translation failed, provider will get untranslated text",
				"provider", name,
				"corpus_language", corpusLang,
				"error", err,
			)
			continue
		}
		out[name] = resp.Response
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
