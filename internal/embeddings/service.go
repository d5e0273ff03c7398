package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/luminahealth/orchestrator/internal/metrics"
)

// Config controls the embedding service behavior.
type Config struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxLRU       int
}

// Service provides embedding generation with a two-level cache.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

// Global singleton for simple wiring.
var globalSvc *Service

// Initialize sets up the global embedding service.
func Initialize(cfg Config, cache Cache) {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	globalSvc = &Service{
		cfg:   c,
		http:  &http.Client{Timeout: c.Timeout},
		cache: cache,
		lru:   NewLocalLRU(c.MaxLRU),
	}
}

// Get returns the global service, or nil before Initialize.
func Get() *Service { return globalSvc }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	vecs, err := s.GenerateBatchEmbeddings(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// GenerateBatchEmbeddings embeds multiple texts in one request, serving cached
// entries from LRU then Redis. A single model call per batch keeps ranking
// cost independent of source count.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	var uncachedTexts []string
	var uncachedIdx []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.EmbeddingRequests.WithLabelValues(m, "lru_hit").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				metrics.EmbeddingRequests.WithLabelValues(m, "cache_hit").Inc()
				continue
			}
		}
		uncachedTexts = append(uncachedTexts, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	buf, _ := json.Marshal(embedRequest{Texts: uncachedTexts, Model: m})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues(m, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues(m, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.EmbeddingRequests.WithLabelValues(m, "error").Inc()
		return nil, err
	}
	if len(er.Embeddings) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(uncachedTexts))
	}

	for i, embedding := range er.Embeddings {
		out := make([]float32, len(embedding))
		for j, f := range embedding {
			out[j] = float32(f)
		}
		results[uncachedIdx[i]] = out

		key := MakeKey(m, uncachedTexts[i])
		s.lru.Set(ctx, key, out, 30*time.Minute)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
		}
	}
	metrics.EmbeddingRequests.WithLabelValues(m, "batch_ok").Inc()

	return results, nil
}

// CosineSimilarity computes cosine similarity between two vectors; zero-length
// or mismatched inputs score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
