package activities

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/embeddings"
	"github.com/luminahealth/orchestrator/internal/models"
)

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Verdict thresholds on embedding similarity between a cited sentence and its
// source text.
const (
	accurateMin   = 0.75
	nuanceLostMin = 0.50
	maxChecks     = 20
)

// Verify checks cited sentences against the sources they cite using embedding
// similarity. Verification is advisory: any failure returns a skipped summary,
// never an error, because the answer has already streamed to the user.
func (a *Activities) Verify(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	logger := activity.GetLogger(ctx)

	cited := citedSentences(in.Answer, len(in.Sources))
	if len(cited) == 0 {
		return VerifyResult{Summary: models.VerificationSummary{Skipped: true}}, nil
	}
	if len(cited) > maxChecks {
		cited = cited[:maxChecks]
	}

	// One batch: all sentences, then all referenced source texts.
	texts := make([]string, 0, len(cited)*2)
	for _, c := range cited {
		texts = append(texts, c.sentence)
	}
	sourceStart := len(texts)
	for _, c := range cited {
		texts = append(texts, sourceText(in.Sources, c.indices))
	}

	vecs, err := embeddings.Get().GenerateBatchEmbeddings(ctx, texts, "")
	if err != nil {
		logger.Warn("Citation verification skipped", "error", err)
		return VerifyResult{Summary: models.VerificationSummary{Skipped: true}}, nil
	}

	checks := make([]models.CitationCheck, 0, len(cited))
	accurate := 0
	for i, c := range cited {
		sim := embeddings.CosineSimilarity(vecs[i], vecs[sourceStart+i])
		verdict := models.VerdictInaccurate
		switch {
		case sim >= accurateMin:
			verdict = models.VerdictAccurate
			accurate++
		case sim >= nuanceLostMin:
			verdict = models.VerdictNuanceLost
		}
		checks = append(checks, models.CitationCheck{
			Sentence:      c.sentence,
			SourceIndices: c.indices,
			Similarity:    sim,
			Verdict:       verdict,
		})
	}

	summary := models.VerificationSummary{
		Checks:       checks,
		Authenticity: float64(accurate) / float64(len(checks)),
	}
	logger.Info("Citations verified",
		"checks", len(checks),
		"authenticity", summary.Authenticity,
	)
	return VerifyResult{Summary: summary}, nil
}

type citedSentence struct {
	sentence string
	indices  []int
}

// citedSentences splits the answer into sentences and keeps those carrying
// [n] markers that point at a real source.
func citedSentences(answer string, sourceCount int) []citedSentence {
	var out []citedSentence
	for _, sentence := range splitSentences(answer) {
		marks := citationRe.FindAllStringSubmatch(sentence, -1)
		if len(marks) == 0 {
			continue
		}
		var indices []int
		for _, m := range marks {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > sourceCount {
				continue
			}
			indices = append(indices, n-1)
		}
		if len(indices) == 0 {
			continue
		}
		clean := strings.TrimSpace(citationRe.ReplaceAllString(sentence, ""))
		if clean == "" {
			continue
		}
		out = append(out, citedSentence{sentence: clean, indices: indices})
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); len(s) > 3 {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); len(s) > 3 {
		out = append(out, s)
	}
	return out
}

func sourceText(sources []models.Source, indices []int) string {
	var b strings.Builder
	for _, i := range indices {
		b.WriteString(sources[i].Title)
		b.WriteString("\n")
		b.WriteString(sources[i].Content)
		b.WriteString("\n")
	}
	return b.String()
}
