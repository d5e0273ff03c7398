package budget

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ModelPricing holds per-token prices for a model.
type ModelPricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// defaultPricing is a conservative fallback for unknown models.
var defaultPricing = ModelPricing{InputPerToken: 0.000003, OutputPerToken: 0.000015}

var modelPricing = map[string]ModelPricing{
	"gpt-4o":                 {InputPerToken: 0.0000025, OutputPerToken: 0.00001},
	"gpt-4o-mini":            {InputPerToken: 0.00000015, OutputPerToken: 0.0000006},
	"claude-sonnet":          {InputPerToken: 0.000003, OutputPerToken: 0.000015},
	"claude-haiku":           {InputPerToken: 0.0000008, OutputPerToken: 0.000004},
	"text-embedding-3-small": {InputPerToken: 0.00000002, OutputPerToken: 0},
}

// CostForSplit computes USD cost for an input/output token split.
func CostForSplit(model string, inputTokens, outputTokens int) float64 {
	p := defaultPricing
	for name, mp := range modelPricing {
		if strings.HasPrefix(strings.ToLower(model), name) {
			p = mp
			break
		}
	}
	return float64(inputTokens)*p.InputPerToken + float64(outputTokens)*p.OutputPerToken
}

// taskUsage is the per-task accumulator. Fields are updated atomically so
// provider and model calls on concurrent goroutines can record without a lock,
// and reads by the stopping evaluator observe all prior increments.
type taskUsage struct {
	tokens    atomic.Int64
	costMicro atomic.Int64 // USD * 1e6 to keep atomics integral
	calls     atomic.Int64
	started   time.Time
}

// Tracker accumulates token and dollar spend per task. It is read-mostly
// shared state: every provider/model call increments it, and the
// stopping-condition evaluator consults it before each round decision.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*taskUsage
	logger *zap.Logger
}

// NewTracker creates a cost tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{tasks: make(map[string]*taskUsage), logger: logger}
}

func (t *Tracker) usage(taskID string) *taskUsage {
	t.mu.RLock()
	u, ok := t.tasks[taskID]
	t.mu.RUnlock()
	if ok {
		return u
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok = t.tasks[taskID]; ok {
		return u
	}
	u = &taskUsage{started: time.Now()}
	t.tasks[taskID] = u
	return u
}

// Record adds one model call's usage to the task's running totals.
func (t *Tracker) Record(taskID, model string, inputTokens, outputTokens int) {
	u := t.usage(taskID)
	u.tokens.Add(int64(inputTokens + outputTokens))
	u.costMicro.Add(int64(CostForSplit(model, inputTokens, outputTokens) * 1e6))
	u.calls.Add(1)
}

// RecordCall notes a non-model call (provider search) for rate accounting.
func (t *Tracker) RecordCall(taskID string) {
	t.usage(taskID).calls.Add(1)
}

// Snapshot is a point-in-time view of a task's spend.
type Snapshot struct {
	Tokens  int64
	CostUSD float64
	Calls   int64
	Elapsed time.Duration
}

// Snapshot returns the task's current totals. All increments recorded before
// this call are visible in the returned values.
func (t *Tracker) Snapshot(taskID string) Snapshot {
	u := t.usage(taskID)
	return Snapshot{
		Tokens:  u.tokens.Load(),
		CostUSD: float64(u.costMicro.Load()) / 1e6,
		Calls:   u.calls.Load(),
		Elapsed: time.Since(u.started),
	}
}

// Release drops accounting state for a finished task.
func (t *Tracker) Release(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}
