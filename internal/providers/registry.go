package providers

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/metrics"
	"github.com/luminahealth/orchestrator/internal/models"
)

// entry pairs a provider with its call budget and rate limiter.
type entry struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
}

// Registry holds the closed provider set in a fixed iteration order.
type Registry struct {
	order   []string
	entries map[string]entry
	logger  *zap.Logger
}

// NewRegistry builds the provider set from configuration. Disabled providers
// are left out entirely.
func NewRegistry(cfg config.ProvidersConfig, logger *zap.Logger) *Registry {
	r := &Registry{entries: make(map[string]entry), logger: logger}

	add := func(p Provider, pc config.ProviderConfig) {
		if !pc.Enabled {
			return
		}
		timeout := pc.Timeout
		if timeout == 0 {
			timeout = 2 * time.Second
		}
		perSec := pc.RatePerSec
		if perSec <= 0 {
			perSec = 1
		}
		r.order = append(r.order, p.Name())
		r.entries[p.Name()] = entry{
			provider: p,
			timeout:  timeout,
			limiter:  rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		}
	}

	add(NewPubMed(cfg.PubMed), cfg.PubMed)
	add(NewPreprints(cfg.Preprints), cfg.Preprints)
	add(NewTrials(cfg.Trials), cfg.Trials)
	add(NewWebSearch(cfg.WebSearch), cfg.WebSearch)

	return r
}

// Names returns provider names in registry order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// CorpusLanguage returns the provider's corpus language, defaulting to "en".
func (r *Registry) CorpusLanguage(name string) string {
	if e, ok := r.entries[name]; ok && e.provider.CorpusLanguage() != "" {
		return e.provider.CorpusLanguage()
	}
	return "en"
}

// Result is the settled outcome of one provider call.
type Result struct {
	Provider string
	Sources  []models.Source
	Status   models.CallStatus
	Latency  time.Duration
	Err      string
}

// Execute runs one rate-limited, time-bounded search call. It never returns
// an error: failures settle as a Result with zero sources and an error or
// timeout status, so one bad provider cannot fail a round.
func (r *Registry) Execute(ctx context.Context, name, query string, f Filters, maxResults int) Result {
	e, ok := r.entries[name]
	if !ok {
		return Result{Provider: name, Status: models.CallError, Err: "unknown provider"}
	}

	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{Provider: name, Status: models.CallError, Latency: time.Since(start), Err: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	sources, err := e.provider.Search(callCtx, query, f, maxResults)
	latency := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())

	if err != nil {
		status := models.CallError
		if isTimeout(callCtx, err) {
			status = models.CallTimeout
		}
		metrics.ProviderCalls.WithLabelValues(name, string(status)).Inc()
		r.logger.Warn("Provider call failed",
			zap.String("provider", name),
			zap.String("query", query),
			zap.String("status", string(status)),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return Result{Provider: name, Status: status, Latency: latency, Err: err.Error()}
	}

	metrics.ProviderCalls.WithLabelValues(name, string(models.CallSuccess)).Inc()
	return Result{Provider: name, Sources: sources, Status: models.CallSuccess, Latency: latency}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// PriorityFor ranks source types for a query category. Lower is better. Used
// by the ranker as the final tiebreaker.
func PriorityFor(category, sourceType string) int {
	priorities, ok := categoryPriorities[category]
	if !ok {
		priorities = categoryPriorities["general"]
	}
	for i, st := range priorities {
		if st == sourceType {
			return i
		}
	}
	return len(priorities)
}

var categoryPriorities = map[string][]string{
	"safety":    {"literature", "trial", "preprint", "web"},
	"efficacy":  {"trial", "literature", "preprint", "web"},
	"mechanism": {"literature", "preprint", "trial", "web"},
	"general":   {"literature", "trial", "preprint", "web"},
}

// SortNamesByPriority orders provider names by their source-type priority for
// a category, keeping registry order among equals.
func (r *Registry) SortNamesByPriority(category string) []string {
	names := r.Names()
	sort.SliceStable(names, func(i, j int) bool {
		pi := PriorityFor(category, r.entries[names[i]].provider.SourceType())
		pj := PriorityFor(category, r.entries[names[j]].provider.SourceType())
		return pi < pj
	})
	return names
}
