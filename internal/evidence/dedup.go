package evidence

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/luminahealth/orchestrator/internal/models"
)

// Deduplicator merges sources that refer to the same underlying work, either
// by shared external ID or by near-identical titles. Running it over already
// deduplicated input is a no-op.
type Deduplicator struct {
	threshold float64 // title similarity in [0,1]
}

func NewDeduplicator(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Deduplicator{threshold: threshold}
}

// Merge folds incoming sources into the accumulated set. Accumulated order is
// preserved; new sources append in input order. When a duplicate is found the
// kept record absorbs the richer content and the union of provenance.
func (d *Deduplicator) Merge(accumulated, incoming []models.Source) []models.Source {
	out := make([]models.Source, len(accumulated))
	copy(out, accumulated)

	for _, src := range incoming {
		if idx := d.findMatch(out, src); idx >= 0 {
			out[idx] = absorb(out[idx], src)
			continue
		}
		out = append(out, src)
	}
	return out
}

func (d *Deduplicator) findMatch(existing []models.Source, src models.Source) int {
	for i, have := range existing {
		if src.ExternalID != "" && src.ExternalID == have.ExternalID {
			return i
		}
		if TitleSimilarity(have.Title, src.Title) >= d.threshold {
			return i
		}
	}
	return -1
}

// absorb merges a duplicate into the kept record: longer content wins,
// provenance is unioned, peer-review status and the earliest publication date
// are kept.
func absorb(kept, dup models.Source) models.Source {
	if len(dup.Content) > len(kept.Content) {
		kept.Content = dup.Content
	}
	if len(dup.Authors) > len(kept.Authors) {
		kept.Authors = dup.Authors
	}
	if kept.ExternalID == "" {
		kept.ExternalID = dup.ExternalID
	}
	if dup.PeerReview {
		kept.PeerReview = true
	}
	if kept.Published.IsZero() || (!dup.Published.IsZero() && dup.Published.Before(kept.Published)) {
		kept.Published = dup.Published
	}
	for _, p := range dup.Provenance {
		if !contains(kept.Provenance, p) {
			kept.Provenance = append(kept.Provenance, p)
		}
	}
	return kept
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// TitleSimilarity scores two titles in [0,1] using normalized edit distance.
// Empty titles never match.
func TitleSimilarity(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

func normalizeTitle(s string) string {
	var b strings.Builder
	prevSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case !prevSpace:
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
