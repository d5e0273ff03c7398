package providers

import (
	"context"

	"github.com/luminahealth/orchestrator/internal/models"
)

// Filters narrows a provider search.
type Filters struct {
	FromYear int    // 0 = no lower bound
	Language string // preferred result language, provider may ignore
}

// Provider is the uniform contract for an external evidence source. The set
// of providers is closed: pipeline logic never branches on provider identity,
// it only iterates the registry.
//
// Search must return an empty slice (not an error) when nothing matches, and
// must respect the context deadline so the registry can distinguish timeouts
// from hard failures.
type Provider interface {
	Name() string
	SourceType() string // literature|preprint|trial|web
	CorpusLanguage() string
	Search(ctx context.Context, query string, f Filters, maxResults int) ([]models.Source, error)
}

// maxContentLen bounds raw content carried downstream for prompting.
const maxContentLen = 1500

func truncateContent(s string) string {
	if len(s) <= maxContentLen {
		return s
	}
	return s[:maxContentLen] + "..."
}
