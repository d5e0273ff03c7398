package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminahealth/orchestrator/internal/config"
)

func TestPreprintsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/gut%20microbiome/0", r.URL.EscapedPath())
		w.Write([]byte(`{"collection":[
			{"doi":"10.1101/2024.03.01.582000","title":"Microbiome shifts under ketogenic diets","authors":"Smith, J.; Doe, A.","date":"2024-03-15","abstract":"We profiled...","server":"biorxiv"},
			{"doi":"10.1101/2018.01.01.100000","title":"Old preprint","authors":"Oldman, B.","date":"2018-06-01","abstract":"Dated work"}
		]}`))
	}))
	defer srv.Close()

	p := NewPreprints(config.ProviderConfig{BaseURL: srv.URL, Language: "en"})
	sources, err := p.Search(context.Background(), "gut microbiome", Filters{FromYear: 2020}, 5)
	require.NoError(t, err)
	require.Len(t, sources, 1, "pre-2020 entry filtered out")

	assert.Equal(t, "DOI:10.1101/2024.03.01.582000", sources[0].ExternalID)
	assert.Equal(t, "preprint", sources[0].SourceType)
	assert.Equal(t, []string{"Smith, J.", "Doe, A."}, sources[0].Authors)
	assert.False(t, sources[0].PeerReview)
	assert.Contains(t, sources[0].QualityFlags, "preprint")
}

func TestTrialsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "semaglutide obesity", r.URL.Query().Get("query.term"))
		assert.Equal(t, "3", r.URL.Query().Get("pageSize"))
		w.Write([]byte(`{"studies":[{"protocolSection":{
			"identificationModule":{"nctId":"NCT05000001","briefTitle":"Semaglutide in adolescents"},
			"statusModule":{"overallStatus":"RECRUITING","startDateStruct":{"date":"2024-02"}},
			"descriptionModule":{"briefSummary":"A phase 3 randomized trial."},
			"designModule":{"phases":["PHASE3"]},
			"sponsorCollaboratorsModule":{"leadSponsor":{"name":"Novo Nordisk"}}
		}}]}`))
	}))
	defer srv.Close()

	p := NewTrials(config.ProviderConfig{BaseURL: srv.URL})
	sources, err := p.Search(context.Background(), "semaglutide obesity", Filters{}, 3)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	assert.Equal(t, "NCT05000001", sources[0].ExternalID)
	assert.Equal(t, "trial", sources[0].SourceType)
	assert.Contains(t, sources[0].Content, "RECRUITING")
	assert.Contains(t, sources[0].Content, "PHASE3")
	assert.Equal(t, []string{"Novo Nordisk"}, sources[0].Authors)
	assert.Equal(t, 2024, sources[0].Published.Year())
	assert.Contains(t, sources[0].QualityFlags, "registry")
}

func TestWebSearchSendsTokenAndParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "de", r.URL.Query().Get("search_lang"))
		w.Write([]byte(`{"web":{"results":[
			{"title":"Vitamin D overview","url":"https://example.org/vitd","description":"A summary.","page_age":"2024-05-01T00:00:00Z"},
			{"title":"","url":"https://example.org/empty"}
		]}}`))
	}))
	defer srv.Close()

	p := NewWebSearch(config.ProviderConfig{BaseURL: srv.URL, APIKey: "secret"})
	sources, err := p.Search(context.Background(), "vitamin d", Filters{Language: "de"}, 5)
	require.NoError(t, err)
	require.Len(t, sources, 1, "untitled entry skipped")

	assert.Equal(t, "web", sources[0].SourceType)
	assert.Equal(t, "https://example.org/vitd", sources[0].URL)
	assert.Equal(t, 2024, sources[0].Published.Year())
}

func TestLoadCatalogOverridesPriorities(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/catalog.yaml"
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  safety: [web, trial, literature, preprint]\n"), 0o644))

	prev := categoryPriorities["safety"]
	defer func() { categoryPriorities["safety"] = prev }()

	require.NoError(t, LoadCatalog(path))
	assert.Equal(t, 0, PriorityFor("safety", "web"))
	assert.Equal(t, 2, PriorityFor("safety", "literature"))
	// Unknown category still falls back to general.
	assert.Equal(t, 0, PriorityFor("nonsense", "literature"))
}
