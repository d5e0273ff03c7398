package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/models"
)

// WebSearch queries a Brave-style web search API. Web results carry the
// weakest quality signal, so they are flagged for the selector.
type WebSearch struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client
}

func NewWebSearch(pc config.ProviderConfig) *WebSearch {
	return &WebSearch{
		baseURL:  strings.TrimRight(pc.BaseURL, "/"),
		apiKey:   pc.APIKey,
		language: pc.Language,
		http:     &http.Client{},
	}
}

func (w *WebSearch) Name() string           { return "websearch" }
func (w *WebSearch) SourceType() string     { return "web" }
func (w *WebSearch) CorpusLanguage() string { return w.language }

type webSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"` // RFC3339 when known
		} `json:"results"`
	} `json:"web"`
}

func (w *WebSearch) Search(ctx context.Context, query string, f Filters, maxResults int) ([]models.Source, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", maxResults))
	if f.Language != "" {
		q.Set("search_lang", f.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/web/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if w.apiKey != "" {
		req.Header.Set("X-Subscription-Token", w.apiKey)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: status %d", resp.StatusCode)
	}

	var wr webSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	sources := make([]models.Source, 0, len(wr.Web.Results))
	for _, rec := range wr.Web.Results {
		if rec.Title == "" || rec.URL == "" {
			continue
		}
		var published time.Time
		if rec.PageAge != "" {
			published, _ = time.Parse(time.RFC3339, rec.PageAge)
		}
		if f.FromYear > 0 && !published.IsZero() && published.Year() < f.FromYear {
			continue
		}
		sources = append(sources, models.Source{
			Provider:     w.Name(),
			SourceType:   w.SourceType(),
			ExternalID:   rec.URL,
			Title:        rec.Title,
			URL:          rec.URL,
			Published:    published,
			Content:      truncateContent(rec.Description),
			QualityFlags: []string{"web"},
			Provenance:   []string{w.Name()},
		})
		if len(sources) >= maxResults {
			break
		}
	}
	return sources, nil
}
