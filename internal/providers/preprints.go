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

// Preprints searches a bioRxiv-style preprint index. Results are explicitly
// flagged as not peer reviewed so the selector can report them.
type Preprints struct {
	baseURL  string
	language string
	http     *http.Client
}

func NewPreprints(pc config.ProviderConfig) *Preprints {
	return &Preprints{
		baseURL:  strings.TrimRight(pc.BaseURL, "/"),
		language: pc.Language,
		http:     &http.Client{},
	}
}

func (p *Preprints) Name() string           { return "preprints" }
func (p *Preprints) SourceType() string     { return "preprint" }
func (p *Preprints) CorpusLanguage() string { return p.language }

type preprintResponse struct {
	Collection []struct {
		DOI      string `json:"doi"`
		Title    string `json:"title"`
		Authors  string `json:"authors"` // "Smith, J.; Doe, A."
		Date     string `json:"date"`    // "2024-03-15"
		Abstract string `json:"abstract"`
		Category string `json:"category"`
		Server   string `json:"server"`
	} `json:"collection"`
}

func (p *Preprints) Search(ctx context.Context, query string, f Filters, maxResults int) ([]models.Source, error) {
	u := fmt.Sprintf("%s/search/%s/0", p.baseURL, url.PathEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preprint search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preprint search: status %d", resp.StatusCode)
	}

	var pr preprintResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("preprint search: %w", err)
	}

	sources := make([]models.Source, 0, len(pr.Collection))
	for _, rec := range pr.Collection {
		if rec.Title == "" {
			continue
		}
		published, _ := time.Parse("2006-01-02", rec.Date)
		if f.FromYear > 0 && !published.IsZero() && published.Year() < f.FromYear {
			continue
		}
		var authors []string
		for _, a := range strings.Split(rec.Authors, ";") {
			if a = strings.TrimSpace(a); a != "" {
				authors = append(authors, a)
			}
		}
		server := rec.Server
		if server == "" {
			server = "biorxiv"
		}
		sources = append(sources, models.Source{
			Provider:     p.Name(),
			SourceType:   p.SourceType(),
			ExternalID:   "DOI:" + rec.DOI,
			Title:        rec.Title,
			Authors:      authors,
			Venue:        server,
			URL:          "https://doi.org/" + rec.DOI,
			Published:    published,
			Content:      truncateContent(rec.Abstract),
			PeerReview:   false,
			QualityFlags: []string{"preprint"},
			Provenance:   []string{p.Name()},
		})
		if len(sources) >= maxResults {
			break
		}
	}
	return sources, nil
}
