package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminahealth/orchestrator/internal/models"
)

func TestMergeCollapsesSharedExternalID(t *testing.T) {
	d := NewDeduplicator(0.85)
	a := []models.Source{{ExternalID: "PMID:1", Title: "Statin myopathy review", Content: "short", Provenance: []string{"pubmed"}}}
	b := []models.Source{{ExternalID: "PMID:1", Title: "Statin Myopathy: A Review", Content: "a much longer abstract body", Provenance: []string{"websearch"}, PeerReview: true}}

	out := d.Merge(a, b)
	require.Len(t, out, 1)
	assert.Equal(t, "a much longer abstract body", out[0].Content)
	assert.ElementsMatch(t, []string{"pubmed", "websearch"}, out[0].Provenance)
	assert.True(t, out[0].PeerReview)
}

func TestMergeCollapsesNearIdenticalTitles(t *testing.T) {
	d := NewDeduplicator(0.85)
	a := []models.Source{{Title: "Effects of intermittent fasting on glucose metabolism"}}
	b := []models.Source{{Title: "Effects of Intermittent Fasting on Glucose Metabolism."}}

	out := d.Merge(a, b)
	assert.Len(t, out, 1)
}

func TestMergeKeepsDistinctWorks(t *testing.T) {
	d := NewDeduplicator(0.85)
	a := []models.Source{{ExternalID: "PMID:1", Title: "Aspirin for primary prevention"}}
	b := []models.Source{{ExternalID: "NCT123", Title: "Metformin in prediabetes"}}

	out := d.Merge(a, b)
	assert.Len(t, out, 2)
}

func TestMergeIsIdempotent(t *testing.T) {
	d := NewDeduplicator(0.85)
	sources := []models.Source{
		{ExternalID: "PMID:1", Title: "First work"},
		{ExternalID: "PMID:2", Title: "Second different study entirely"},
	}
	once := d.Merge(nil, sources)
	twice := d.Merge(once, sources)
	assert.Equal(t, once, twice)
}

func TestAbsorbKeepsEarliestPublicationDate(t *testing.T) {
	d := NewDeduplicator(0.85)
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	out := d.Merge(
		[]models.Source{{ExternalID: "DOI:x", Title: "Same paper", Published: late}},
		[]models.Source{{ExternalID: "DOI:x", Title: "Same paper", Published: early}},
	)
	require.Len(t, out, 1)
	assert.Equal(t, early, out[0].Published)
}

func TestTitleSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TitleSimilarity("Same Title", "same title"))
	assert.Equal(t, 0.0, TitleSimilarity("", "anything"))
	assert.Less(t, TitleSimilarity("Aspirin dosing", "Gut microbiome dynamics"), 0.5)
	assert.Greater(t, TitleSimilarity(
		"Semaglutide and cardiovascular outcomes in obesity",
		"Semaglutide and cardiovascular outcomes in obesity trial",
	), 0.85)
}
