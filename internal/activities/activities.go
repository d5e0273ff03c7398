// Package activities holds the Temporal activity implementations for the
// research pipeline. Activities are thin: deterministic orchestration lives in
// the workflows, model and network I/O lives here.
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/budget"
	"github.com/luminahealth/orchestrator/internal/evidence"
	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/providers"
	"github.com/luminahealth/orchestrator/internal/recall"
	"github.com/luminahealth/orchestrator/internal/session"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// Activities bundles the shared dependencies behind every activity method.
type Activities struct {
	llm      *llm.Client
	registry *providers.Registry
	ranker   *evidence.Ranker
	sessions *session.Manager
	recall   *recall.Repository
	budget   *budget.Tracker
	stream   *streaming.Manager
	logger   *zap.Logger
}

// NewActivities wires the activity set. Any dependency may be nil in tests;
// individual activities guard what they use.
func NewActivities(
	llmClient *llm.Client,
	registry *providers.Registry,
	ranker *evidence.Ranker,
	sessions *session.Manager,
	recallRepo *recall.Repository,
	tracker *budget.Tracker,
	stream *streaming.Manager,
	logger *zap.Logger,
) *Activities {
	if stream == nil {
		stream = streaming.Get()
	}
	return &Activities{
		llm:      llmClient,
		registry: registry,
		ranker:   ranker,
		sessions: sessions,
		recall:   recallRepo,
		budget:   tracker,
		stream:   stream,
		logger:   logger,
	}
}

// EmitStageEvent publishes one progress event to the task's stream. Kept as
// an activity so workflows emit deterministically through history.
func (a *Activities) EmitStageEvent(ctx context.Context, in StageEventInput) error {
	a.stream.Publish(in.TaskID, streaming.Event{
		Type:    streaming.EventType(in.Type),
		Message: in.Message,
		Payload: in.Payload,
	})
	return nil
}

// recordUsage tracks token spend for the stopping evaluator.
func (a *Activities) recordUsage(taskID, model string, in, out int) {
	if a.budget == nil {
		return
	}
	a.budget.Record(taskID, model, in, out)
}

// parseJSONBlock extracts the first JSON object from model output, tolerating
// prose and code fences around it.
func parseJSONBlock(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model output")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}
