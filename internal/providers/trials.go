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

// Trials searches the ClinicalTrials.gov v2 studies endpoint. Registry records
// are primary evidence, not publications, so PeerReview stays false with a
// "registry" quality flag instead.
type Trials struct {
	baseURL  string
	language string
	http     *http.Client
}

func NewTrials(pc config.ProviderConfig) *Trials {
	return &Trials{
		baseURL:  strings.TrimRight(pc.BaseURL, "/"),
		language: pc.Language,
		http:     &http.Client{},
	}
}

func (t *Trials) Name() string           { return "trials" }
func (t *Trials) SourceType() string     { return "trial" }
func (t *Trials) CorpusLanguage() string { return t.language }

type studiesResponse struct {
	Studies []struct {
		ProtocolSection struct {
			IdentificationModule struct {
				NCTID      string `json:"nctId"`
				BriefTitle string `json:"briefTitle"`
			} `json:"identificationModule"`
			StatusModule struct {
				OverallStatus  string `json:"overallStatus"`
				StartDateStruct struct {
					Date string `json:"date"` // "2024-01" or "2024-01-15"
				} `json:"startDateStruct"`
			} `json:"statusModule"`
			DescriptionModule struct {
				BriefSummary string `json:"briefSummary"`
			} `json:"descriptionModule"`
			DesignModule struct {
				Phases []string `json:"phases"`
			} `json:"designModule"`
			SponsorCollaboratorsModule struct {
				LeadSponsor struct {
					Name string `json:"name"`
				} `json:"leadSponsor"`
			} `json:"sponsorCollaboratorsModule"`
		} `json:"protocolSection"`
	} `json:"studies"`
}

func (t *Trials) Search(ctx context.Context, query string, f Filters, maxResults int) ([]models.Source, error) {
	q := url.Values{}
	q.Set("query.term", query)
	q.Set("pageSize", fmt.Sprintf("%d", maxResults))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/studies?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trials search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trials search: status %d", resp.StatusCode)
	}

	var sr studiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("trials search: %w", err)
	}

	sources := make([]models.Source, 0, len(sr.Studies))
	for _, study := range sr.Studies {
		ps := study.ProtocolSection
		if ps.IdentificationModule.NCTID == "" {
			continue
		}
		started := parseTrialDate(ps.StatusModule.StartDateStruct.Date)
		if f.FromYear > 0 && !started.IsZero() && started.Year() < f.FromYear {
			continue
		}
		content := ps.DescriptionModule.BriefSummary
		if len(ps.DesignModule.Phases) > 0 {
			content = strings.Join(ps.DesignModule.Phases, ", ") + ". " + content
		}
		if ps.StatusModule.OverallStatus != "" {
			content = "Status: " + ps.StatusModule.OverallStatus + ". " + content
		}
		sources = append(sources, models.Source{
			Provider:     t.Name(),
			SourceType:   t.SourceType(),
			ExternalID:   ps.IdentificationModule.NCTID,
			Title:        ps.IdentificationModule.BriefTitle,
			Authors:      []string{ps.SponsorCollaboratorsModule.LeadSponsor.Name},
			Venue:        "ClinicalTrials.gov",
			URL:          "https://clinicaltrials.gov/study/" + ps.IdentificationModule.NCTID,
			Published:    started,
			Content:      truncateContent(content),
			QualityFlags: []string{"registry"},
			Provenance:   []string{t.Name()},
		})
	}
	return sources, nil
}

func parseTrialDate(s string) time.Time {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
