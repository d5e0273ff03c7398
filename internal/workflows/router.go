// Package workflows contains the Temporal workflow definitions: a router that
// classifies each task and the tier handlers it dispatches to.
package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/luminahealth/orchestrator/internal/activities"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// Activity stub used only for registration-by-name in ExecuteActivity calls.
var acts *activities.Activities

// ResearchRouter is the entry workflow for every task. It classifies the
// query, dispatches to the matching tier handler, and guarantees exactly one
// terminal event on the task's stream.
func ResearchRouter(ctx workflow.Context, in TaskInput) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Task received", "task_id", in.TaskID, "user_id", in.UserID)

	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var classified activities.ClassifyResult
	err := workflow.ExecuteActivity(ctx, acts.Classify, activities.ClassifyInput{
		Query:     in.Query,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Context:   in.Context,
	}).Get(ctx, &classified)
	if err != nil {
		// Classification is never fatal: an exhausted activity fails open to
		// the middle tier, same as an unparseable model answer inside it.
		logger.Warn("Classification activity failed, defaulting to single pass", "error", err)
		classified = activities.ClassifyResult{
			Query:      models.Query{Text: in.Query, Language: "en", Tier: models.TierSinglePass},
			FailedOpen: true,
		}
	}

	emitEvent(ctx, in.TaskID, streaming.EventRouting, classified.Query.Tier.String(), map[string]interface{}{
		"tier":        classified.Query.Tier.String(),
		"category":    classified.Query.Category,
		"confidence":  classified.Query.Confidence,
		"failed_open": classified.FailedOpen,
	})

	var result TaskResult
	switch classified.Query.Tier {
	case models.TierRecall:
		result, err = runRecall(ctx, in, classified.Query)
	case models.TierDirect:
		result, err = runDirect(ctx, in, classified.Query)
	case models.TierSinglePass:
		result, err = runSinglePass(ctx, in, classified.Query)
	default:
		result, err = runDeepResearch(ctx, in, classified.Query)
	}
	if err != nil {
		logger.Error("Tier handler failed", "tier", classified.Query.Tier.String(), "error", err)
		emitError(ctx, in.TaskID, failureCode(err), "research pipeline failed")
		return TaskResult{}, err
	}

	result.TaskID = in.TaskID
	result.Tier = classified.Query.Tier.String()

	result = recordExchange(ctx, in, result)

	emitEvent(ctx, in.TaskID, streaming.EventComplete, "", map[string]interface{}{
		"tier":       result.Tier,
		"sources":    len(result.Sources),
		"rounds":     len(result.Rounds),
		"session_id": result.SessionID,
	})
	return result, nil
}

// recordExchange appends the turn to the session and acts on any detected
// boundary: complete closes the session, summarize compacts the transcript so
// the session can continue under its token ceiling. Session failures degrade:
// the answer still stands.
func recordExchange(ctx workflow.Context, in TaskInput, result TaskResult) TaskResult {
	logger := workflow.GetLogger(ctx)
	if result.Answer == "" {
		return result
	}

	var upd activities.SessionUpdateResult
	err := workflow.ExecuteActivity(ctx, acts.UpdateSession, activities.SessionUpdateInput{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Query:     in.Query,
		ImageRef:  in.ImageRef,
		Answer:    result.Answer,
	}).Get(ctx, &upd)
	if err != nil {
		logger.Warn("Session update failed", "error", err)
		return result
	}
	result.SessionID = upd.SessionID

	switch upd.BoundaryAction {
	case "complete":
		var done activities.CompleteSessionResult
		if err := workflow.ExecuteActivity(ctx, acts.CompleteSession, activities.CompleteSessionInput{
			SessionID: upd.SessionID,
			Cause:     upd.BoundaryCause,
		}).Get(ctx, &done); err != nil {
			logger.Warn("Session completion failed", "error", err)
		} else {
			result.SessionBoundary = upd.BoundaryCause
		}
	case "summarize":
		var compacted activities.CompactSessionResult
		if err := workflow.ExecuteActivity(ctx, acts.CompactSession, activities.CompactSessionInput{
			SessionID: upd.SessionID,
		}).Get(ctx, &compacted); err != nil {
			logger.Warn("Session compaction failed", "error", err)
		}
	}
	return result
}

func defaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// searchActivityOptions settle fast: the activity itself absorbs provider
// failures, so retries would only repeat a settled answer.
func searchActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// synthesisActivityOptions allow long generations and never retry: a retry
// would double-stream tokens to the user.
func synthesisActivityOptions(pipelineTimeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: pipelineTimeout,
		HeartbeatTimeout:    0,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

func emitEvent(ctx workflow.Context, taskID string, typ streaming.EventType, msg string, payload map[string]interface{}) {
	_ = workflow.ExecuteActivity(ctx, acts.EmitStageEvent, activities.StageEventInput{
		TaskID:  taskID,
		Type:    string(typ),
		Message: msg,
		Payload: payload,
	}).Get(ctx, nil)
}

func emitError(ctx workflow.Context, taskID string, code models.FailureCode, msg string) {
	emitEvent(ctx, taskID, streaming.EventError, msg, map[string]interface{}{
		"code": string(code),
	})
}

// taskError tags a pipeline failure with the code carried on the terminal
// error event.
type taskError struct {
	code  models.FailureCode
	cause error
}

func (e *taskError) Error() string { return e.cause.Error() }
func (e *taskError) Unwrap() error { return e.cause }

func failTask(code models.FailureCode, err error) error {
	return &taskError{code: code, cause: err}
}

func failureCode(err error) models.FailureCode {
	var te *taskError
	if errors.As(err, &te) {
		return te.code
	}
	return models.FailureInternal
}
