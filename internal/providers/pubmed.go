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

// PubMed searches the NCBI E-utilities endpoints: esearch for IDs, esummary
// for records. Two calls per search, both inside the caller's deadline.
type PubMed struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client
}

func NewPubMed(pc config.ProviderConfig) *PubMed {
	return &PubMed{
		baseURL:  strings.TrimRight(pc.BaseURL, "/"),
		apiKey:   pc.APIKey,
		language: pc.Language,
		http:     &http.Client{},
	}
}

func (p *PubMed) Name() string           { return "pubmed" }
func (p *PubMed) SourceType() string     { return "literature" }
func (p *PubMed) CorpusLanguage() string { return p.language }

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryRecord struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	Source  string `json:"source"` // journal abbreviation
	PubDate string `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ELocationID string `json:"elocationid"`
}

func (p *PubMed) Search(ctx context.Context, query string, f Filters, maxResults int) ([]models.Source, error) {
	ids, err := p.search(ctx, query, f, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Source{}, nil
	}
	return p.summaries(ctx, ids)
}

func (p *PubMed) search(ctx context.Context, query string, f Filters, maxResults int) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmax", fmt.Sprintf("%d", maxResults))
	q.Set("retmode", "json")
	q.Set("sort", "relevance")
	if f.FromYear > 0 {
		q.Set("datetype", "pdat")
		q.Set("mindate", fmt.Sprintf("%d", f.FromYear))
	}
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}

	var er esearchResponse
	if err := p.getJSON(ctx, p.baseURL+"/esearch.fcgi?"+q.Encode(), &er); err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	return er.ESearchResult.IDList, nil
}

func (p *PubMed) summaries(ctx context.Context, ids []string) ([]models.Source, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")
	if p.apiKey != "" {
		q.Set("api_key", p.apiKey)
	}

	var sr esummaryResponse
	if err := p.getJSON(ctx, p.baseURL+"/esummary.fcgi?"+q.Encode(), &sr); err != nil {
		return nil, fmt.Errorf("pubmed esummary: %w", err)
	}

	sources := make([]models.Source, 0, len(ids))
	for _, id := range ids {
		raw, ok := sr.Result[id]
		if !ok {
			continue
		}
		var rec esummaryRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Title == "" {
			continue
		}
		authors := make([]string, 0, len(rec.Authors))
		for _, a := range rec.Authors {
			authors = append(authors, a.Name)
		}
		sources = append(sources, models.Source{
			Provider:   p.Name(),
			SourceType: p.SourceType(),
			ExternalID: "PMID:" + rec.UID,
			Title:      rec.Title,
			Authors:    authors,
			Venue:      rec.Source,
			URL:        "https://pubmed.ncbi.nlm.nih.gov/" + rec.UID + "/",
			Published:  parsePubDate(rec.PubDate),
			Content:    truncateContent(rec.Title),
			PeerReview: true,
			Provenance: []string{p.Name()},
		})
	}
	return sources, nil
}

func (p *PubMed) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parsePubDate handles the formats esummary actually emits: "2023 May 12",
// "2023 May", "2023".
func parsePubDate(s string) time.Time {
	for _, layout := range []string{"2006 Jan 2", "2006 Jan", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
