package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/luminahealth/orchestrator/internal/activities"
	"github.com/luminahealth/orchestrator/internal/budget"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/recall"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

// eventLog captures stage events emitted through the stubbed activity.
type eventLog struct {
	mu     sync.Mutex
	events []activities.StageEventInput
}

func (l *eventLog) record(in activities.StageEventInput) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, in)
}

func (l *eventLog) ofType(typ streaming.EventType) []activities.StageEventInput {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []activities.StageEventInput
	for _, e := range l.events {
		if e.Type == string(typ) {
			out = append(out, e)
		}
	}
	return out
}

// newRouterEnv registers the workflow plus stubs for the ambient activities
// every path touches, leaving session handling to the caller.
func newRouterEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *eventLog) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchRouter)

	log := &eventLog{}
	env.OnActivity(acts.EmitStageEvent, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.StageEventInput) error {
		log.record(in)
		return nil
	}).Maybe()
	env.OnActivity(acts.Usage, mock.Anything, mock.Anything).Return(budget.Snapshot{}, nil).Maybe()
	env.OnActivity(acts.ReleaseUsage, mock.Anything, mock.Anything).Return(nil).Maybe()
	env.OnActivity(acts.ProviderNames, mock.Anything).
		Return([]string{"preprints", "pubmed", "trials", "websearch"}, nil).Maybe()
	return env, log
}

// testEnv adds the default session stub on top of newRouterEnv.
func testEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *eventLog) {
	t.Helper()
	env, log := newRouterEnv(t)
	env.OnActivity(acts.UpdateSession, mock.Anything, mock.Anything).
		Return(activities.SessionUpdateResult{SessionID: "sess-1"}, nil).Maybe()
	return env, log
}

func classifyAs(env *testsuite.TestWorkflowEnvironment, tier models.Tier, category string) {
	env.OnActivity(acts.Classify, mock.Anything, mock.Anything).Return(activities.ClassifyResult{
		Query: models.Query{Text: "q", Language: "en", Tier: tier, Category: category, Confidence: 0.9},
	}, nil)
}

func stubEnrich(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity(acts.Enrich, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.EnrichInput) (activities.EnrichResult, error) {
		q := in.Query
		q.EnrichedText = q.Text + " expanded"
		return activities.EnrichResult{Query: q}, nil
	}).Maybe()
}

func stubPipelineTail(env *testsuite.TestWorkflowEnvironment, answer string) {
	env.OnActivity(acts.Rank, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.RankInput) (activities.RankResult, error) {
		return activities.RankResult{Ranked: in.Sources}, nil
	}).Maybe()
	env.OnActivity(acts.SelectSources, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SelectInput) (activities.SelectResult, error) {
		return activities.SelectResult{Selected: in.Ranked}, nil
	}).Maybe()
	env.OnActivity(acts.Synthesize, mock.Anything, mock.Anything).
		Return(activities.SynthesizeResult{Answer: answer, Tokens: 10}, nil).Maybe()
	env.OnActivity(acts.Verify, mock.Anything, mock.Anything).
		Return(activities.VerifyResult{Summary: models.VerificationSummary{Authenticity: 1}}, nil).Maybe()
	env.OnActivity(acts.Dedup, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.DedupInput) (activities.DedupResult, error) {
		merged := append(append([]models.Source{}, in.Accumulated...), in.Incoming...)
		return activities.DedupResult{Merged: merged, NewSources: len(in.Incoming)}, nil
	}).Maybe()
}

func TestRouterDirectTier(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierDirect, "general")
	env.OnActivity(acts.Synthesize, mock.Anything, mock.Anything).
		Return(activities.SynthesizeResult{Answer: "Aspirin inhibits COX.", Tokens: 5}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t1", UserID: "u1", Query: "how does aspirin work"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "direct", result.Tier)
	assert.Equal(t, "Aspirin inhibits COX.", result.Answer)
	assert.Empty(t, result.Rounds)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestRouterSinglePassFetchesAllProviders(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierSinglePass, "general")
	stubEnrich(env)
	stubPipelineTail(env, "Evidence suggests [1].")

	var searched []string
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SearchInput) (activities.SearchResult, error) {
		searched = append(searched, in.Provider)
		return activities.SearchResult{
			Call:    models.ProviderCall{Provider: in.Provider, Status: models.CallSuccess, Results: 1},
			Sources: []models.Source{{Provider: in.Provider, Title: in.Provider + " result"}},
		}, nil
	})

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t2", UserID: "u1", Query: "statin myopathy evidence"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "single_pass", result.Tier)
	assert.ElementsMatch(t, []string{"preprints", "pubmed", "trials", "websearch"}, searched)
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, models.RoundInitial, result.Rounds[0].Purpose)
	assert.Len(t, result.Sources, 4)
}

func TestRouterSinglePassSurvivesProviderFailures(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierSinglePass, "general")
	stubEnrich(env)
	stubPipelineTail(env, "Partial evidence [1].")

	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SearchInput) (activities.SearchResult, error) {
		if in.Provider == "pubmed" {
			return activities.SearchResult{
				Call:    models.ProviderCall{Provider: in.Provider, Status: models.CallSuccess, Results: 2},
				Sources: []models.Source{{Title: "a"}, {Title: "b"}},
			}, nil
		}
		// Everyone else times out; the round still settles.
		return activities.SearchResult{
			Call: models.ProviderCall{Provider: in.Provider, Status: models.CallTimeout, Error: "deadline exceeded"},
		}, nil
	})

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t3", UserID: "u1", Query: "niacin flushing"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.Rounds, 1)
	assert.Len(t, result.Rounds[0].Calls, 4)
	assert.Len(t, result.Sources, 2)

	timeouts := 0
	for _, call := range result.Rounds[0].Calls {
		if call.Status == models.CallTimeout {
			timeouts++
		}
	}
	assert.Equal(t, 3, timeouts)
}

func TestRouterDeepResearchStopsWhenCovered(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierDeep, "efficacy")
	stubEnrich(env)
	stubPipelineTail(env, "Comprehensive answer [1][2].")

	env.OnActivity(acts.Plan, mock.Anything, mock.Anything).Return(activities.PlanResult{
		Plan: models.ResearchPlan{
			Distribution: map[string]int{"pubmed": 5, "trials": 5},
			MinRounds:    1,
			MaxRounds:    3,
			SubQueries:   []string{"efficacy", "safety"},
		},
	}, nil)
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SearchInput) (activities.SearchResult, error) {
		return activities.SearchResult{
			Call:    models.ProviderCall{Provider: in.Provider, Status: models.CallSuccess, Results: 1},
			Sources: []models.Source{{Provider: in.Provider, Title: in.Provider + " hit"}},
		}, nil
	})

	reflections := 0
	env.OnActivity(acts.Reflect, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.ReflectInput) (activities.ReflectResult, error) {
		reflections++
		return activities.ReflectResult{Assessment: models.GapAssessment{
			GapScore: 0.92,
			Decision: models.DecisionStop,
		}}, nil
	})

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t4", UserID: "u1", Query: "deep question"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "deep_research", result.Tier)
	assert.Len(t, result.Rounds, 1, "high coverage after round one stops the loop")
	assert.Equal(t, 1, reflections)
	require.NotNil(t, result.Coverage)
	assert.InDelta(t, 0.92, result.Coverage.GapScore, 1e-9)
}

func TestRouterDeepResearchGapFillRound(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierDeep, "safety")
	stubEnrich(env)
	stubPipelineTail(env, "Answer [1].")

	env.OnActivity(acts.Plan, mock.Anything, mock.Anything).Return(activities.PlanResult{
		Plan: models.ResearchPlan{
			Distribution: map[string]int{"pubmed": 5},
			MinRounds:    1,
			MaxRounds:    2,
			SubQueries:   []string{"dosing", "interactions"},
		},
	}, nil)

	var queries []string
	calls := 0
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SearchInput) (activities.SearchResult, error) {
		calls++
		queries = append(queries, in.Query)
		return activities.SearchResult{
			Call:    models.ProviderCall{Provider: in.Provider, Status: models.CallSuccess, Results: 1},
			Sources: []models.Source{{Title: in.Query}},
		}, nil
	})
	env.OnActivity(acts.Reflect, mock.Anything, mock.Anything).Return(activities.ReflectResult{
		Assessment: models.GapAssessment{
			GapScore:  0.5,
			Decision:  models.DecisionContinue,
			Uncovered: []string{"drug interactions"},
		},
		GapQueries: []string{"warfarin drug interactions"},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t5", UserID: "u1", Query: "warfarin safety"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.Rounds, 2, "max rounds caps the loop")
	assert.Equal(t, models.RoundGapFill, result.Rounds[1].Purpose)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "warfarin drug interactions", queries[1], "gap-fill round uses the gap query")
}

func TestRouterRecallHit(t *testing.T) {
	env, _ := testEnv(t)
	env.OnActivity(acts.Classify, mock.Anything, mock.Anything).Return(activities.ClassifyResult{
		Query: models.Query{
			Text:        "what did we find about statins last time",
			Tier:        models.TierRecall,
			RecallTerms: []string{"statins"},
			Confidence:  1,
		},
	}, nil)
	env.OnActivity(acts.RecallSearch, mock.Anything, mock.Anything).Return(activities.RecallResult{
		Found: true,
		Best:  &recall.Match{SessionID: "old", Title: "Statin research", Summary: "We reviewed myopathy risk.", Score: 0.8},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t6", UserID: "u1", Query: "what did we find about statins last time"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "recall", result.Tier)
	require.NotNil(t, result.RecallHit)
	assert.Contains(t, result.Answer, "Statin research")
}

func TestRouterRecallAmbiguousAsksUser(t *testing.T) {
	env, _ := testEnv(t)
	env.OnActivity(acts.Classify, mock.Anything, mock.Anything).Return(activities.ClassifyResult{
		Query: models.Query{Tier: models.TierRecall, RecallTerms: []string{"statins"}},
	}, nil)
	env.OnActivity(acts.RecallSearch, mock.Anything, mock.Anything).Return(activities.RecallResult{
		Found: true,
		Best:  &recall.Match{SessionID: "a", Title: "Statin safety", Score: 0.8},
		Ambiguous: []recall.Match{
			{SessionID: "a", Title: "Statin safety", Score: 0.8},
			{SessionID: "b", Title: "Statin efficacy", Score: 0.78},
		},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t7", UserID: "u1", Query: "statins from before"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.RecallAmbiguous, 2)
	assert.True(t, strings.Contains(result.Answer, "Which one"))
}

func TestRouterRecallMissDegradesToSinglePass(t *testing.T) {
	env, _ := testEnv(t)
	env.OnActivity(acts.Classify, mock.Anything, mock.Anything).Return(activities.ClassifyResult{
		Query: models.Query{Text: "q", Tier: models.TierRecall, RecallTerms: []string{"unseen"}},
	}, nil)
	env.OnActivity(acts.RecallSearch, mock.Anything, mock.Anything).Return(activities.RecallResult{Found: false}, nil)
	stubEnrich(env)
	stubPipelineTail(env, "Fresh answer [1].")
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(activities.SearchResult{
		Call:    models.ProviderCall{Provider: "pubmed", Status: models.CallSuccess},
		Sources: []models.Source{{Title: "hit"}},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t8", UserID: "u1", Query: "unseen topic from before"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "Fresh answer [1].", result.Answer)
	assert.Len(t, result.Rounds, 1)
}

func TestRouterPlannerDegradeFallsBackToSinglePass(t *testing.T) {
	env, _ := testEnv(t)
	classifyAs(env, models.TierDeep, "general")
	stubEnrich(env)
	stubPipelineTail(env, "Single pass answer.")
	env.OnActivity(acts.Plan, mock.Anything, mock.Anything).Return(activities.PlanResult{Degraded: true}, nil)
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(activities.SearchResult{
		Call: models.ProviderCall{Provider: "pubmed", Status: models.CallSuccess},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t9", UserID: "u1", Query: "broad question"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Len(t, result.Rounds, 1)
}

func TestRouterSynthesisFailureFailsTask(t *testing.T) {
	env, events := testEnv(t)
	classifyAs(env, models.TierDirect, "general")
	env.OnActivity(acts.Synthesize, mock.Anything, mock.Anything).
		Return(activities.SynthesizeResult{}, errors.New("stream broke after 10 tokens"))

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t10", UserID: "u1", Query: "q"})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())

	// The terminal event is an error carrying the failure class, never a
	// completion.
	errEvents := events.ofType(streaming.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, string(models.FailureSynthesis), errEvents[0].Payload["code"])
	assert.Empty(t, events.ofType(streaming.EventComplete))
}

func TestRouterClassifyErrorFailsOpen(t *testing.T) {
	env, events := testEnv(t)
	env.OnActivity(acts.Classify, mock.Anything, mock.Anything).
		Return(activities.ClassifyResult{}, errors.New("model gateway unavailable"))
	stubEnrich(env)
	stubPipelineTail(env, "Best-effort answer [1].")
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(activities.SearchResult{
		Call:    models.ProviderCall{Provider: "pubmed", Status: models.CallSuccess},
		Sources: []models.Source{{Title: "hit"}},
	}, nil)

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t11", UserID: "u1", Query: "metformin renal dosing"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "a classifier outage never fails the task")

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "single_pass", result.Tier)

	routing := events.ofType(streaming.EventRouting)
	require.Len(t, routing, 1)
	assert.Equal(t, true, routing[0].Payload["failed_open"])
}

func TestRouterSummarizeBoundaryCompactsSession(t *testing.T) {
	env, _ := newRouterEnv(t)
	classifyAs(env, models.TierDirect, "general")
	env.OnActivity(acts.Synthesize, mock.Anything, mock.Anything).
		Return(activities.SynthesizeResult{Answer: "Long answer.", Tokens: 900}, nil)
	env.OnActivity(acts.UpdateSession, mock.Anything, mock.Anything).Return(activities.SessionUpdateResult{
		SessionID:      "sess-9",
		BoundaryCause:  "token_ceiling",
		BoundaryAction: "summarize",
	}, nil)

	compacted := false
	env.OnActivity(acts.CompactSession, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.CompactSessionInput) (activities.CompactSessionResult, error) {
		compacted = true
		return activities.CompactSessionResult{SessionID: in.SessionID, Summary: "so far"}, nil
	})

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t12", UserID: "u1", SessionID: "sess-9", Query: "q"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.True(t, compacted, "token ceiling with summarize policy compacts the transcript")

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "sess-9", result.SessionID)
	assert.Empty(t, result.SessionBoundary, "session stays open after compaction")
}

func TestRouterRoundCompleteReportsCallStatuses(t *testing.T) {
	env, events := testEnv(t)
	classifyAs(env, models.TierDeep, "safety")
	stubEnrich(env)
	stubPipelineTail(env, "Answer [1].")

	env.OnActivity(acts.Plan, mock.Anything, mock.Anything).Return(activities.PlanResult{
		Plan: models.ResearchPlan{
			Distribution: map[string]int{"pubmed": 5, "trials": 5},
			MinRounds:    1,
			MaxRounds:    1,
			SubQueries:   []string{"safety"},
		},
	}, nil)
	env.OnActivity(acts.SearchProvider, mock.Anything, mock.Anything).Return(func(ctx context.Context, in activities.SearchInput) (activities.SearchResult, error) {
		if in.Provider == "trials" {
			return activities.SearchResult{
				Call: models.ProviderCall{Provider: in.Provider, Status: models.CallTimeout, Error: "deadline exceeded"},
			}, nil
		}
		return activities.SearchResult{
			Call:    models.ProviderCall{Provider: in.Provider, Status: models.CallSuccess, Results: 1},
			Sources: []models.Source{{Provider: in.Provider, Title: "hit"}},
		}, nil
	})

	env.ExecuteWorkflow(ResearchRouter, TaskInput{TaskID: "t13", UserID: "u1", Query: "apixaban bleeding risk"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	rounds := events.ofType(streaming.EventRoundComplete)
	require.Len(t, rounds, 1)
	assert.EqualValues(t, 1, rounds[0].Payload["calls_succeeded"])
	assert.EqualValues(t, 1, rounds[0].Payload["calls_timeout"])
	assert.EqualValues(t, 0, rounds[0].Payload["calls_error"])
}
