package evidence

import (
	"context"
	"fmt"
	"sort"

	"github.com/luminahealth/orchestrator/internal/embeddings"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/providers"
)

// Ranker scores sources against the enriched query by embedding similarity.
// One batch embedding call covers the query and every source, so model cost
// does not grow with rounds.
type Ranker struct {
	svc   *embeddings.Service
	model string
}

func NewRanker(svc *embeddings.Service, model string) *Ranker {
	return &Ranker{svc: svc, model: model}
}

// Rank sets Relevance on every source and returns them ordered best-first.
// Ties break by recency, then by source-type priority for the query category,
// then by title, so equal inputs always rank identically.
func (r *Ranker) Rank(ctx context.Context, query, category string, sources []models.Source) ([]models.Source, error) {
	if len(sources) == 0 {
		return []models.Source{}, nil
	}

	texts := make([]string, 0, len(sources)+1)
	texts = append(texts, query)
	for _, src := range sources {
		texts = append(texts, embedText(src))
	}

	vecs, err := r.svc.GenerateBatchEmbeddings(ctx, texts, r.model)
	if err != nil {
		return nil, fmt.Errorf("rank sources: %w", err)
	}
	queryVec := vecs[0]

	ranked := make([]models.Source, len(sources))
	copy(ranked, sources)
	for i := range ranked {
		ranked[i].Relevance = embeddings.CosineSimilarity(queryVec, vecs[i+1])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		if !ranked[i].Published.Equal(ranked[j].Published) {
			return ranked[i].Published.After(ranked[j].Published)
		}
		pi := providers.PriorityFor(category, ranked[i].SourceType)
		pj := providers.PriorityFor(category, ranked[j].SourceType)
		if pi != pj {
			return pi < pj
		}
		return ranked[i].Title < ranked[j].Title
	})
	return ranked, nil
}

// embedText is the per-source text fed to the embedding model. Title plus
// content gives the model something to latch onto even for sparse records.
func embedText(src models.Source) string {
	if src.Content == "" {
		return src.Title
	}
	return src.Title + "\n" + src.Content
}
