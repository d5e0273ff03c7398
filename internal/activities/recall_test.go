package activities

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/metrics"
	"github.com/luminahealth/orchestrator/internal/recall"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

func recallTestEnv(t *testing.T) (*testsuite.TestActivityEnvironment, *Activities, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := recall.NewRepository(sqlx.NewDb(db, "postgres"), zap.NewNop())
	a := NewActivities(nil, nil, nil, nil, repo, nil, streaming.NewManager(8), zap.NewNop())

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a.RecallSearch)
	return env, a, mock
}

type matchRow struct {
	id    string
	title string
	score float64
}

func row(id, title string, score float64) matchRow {
	return matchRow{id: id, title: title, score: score}
}

func recallRows(rows ...matchRow) *sqlmock.Rows {
	closedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := sqlmock.NewRows([]string{"session_id", "title", "summary", "key_topics", "closed_at", "score"})
	for _, r := range rows {
		out.AddRow(r.id, r.title, "summary of "+r.title, "{statins}", closedAt, r.score)
	}
	return out
}

func recallOutcome(t *testing.T, env *testsuite.TestActivityEnvironment, a *Activities) RecallResult {
	t.Helper()
	val, err := env.ExecuteActivity(a.RecallSearch, RecallInput{
		UserID: "user-1",
		Terms:  []string{"statins"},
		TaskID: "task-recall",
	})
	require.NoError(t, err)
	var out RecallResult
	require.NoError(t, val.Get(&out))
	return out
}

func TestRecallSearchCountsMatchOutcome(t *testing.T) {
	env, a, mock := recallTestEnv(t)
	mock.ExpectQuery(`SELECT session_id, title, summary, key_topics, closed_at`).
		WillReturnRows(recallRows(row("sess-a", "Statin research", 0.8)))

	before := testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("match"))
	out := recallOutcome(t, env, a)

	assert.True(t, out.Found)
	require.NotNil(t, out.Best)
	assert.Empty(t, out.Ambiguous)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("match")))
}

func TestRecallSearchCountsAmbiguousOutcome(t *testing.T) {
	env, a, mock := recallTestEnv(t)
	mock.ExpectQuery(`SELECT session_id, title, summary, key_topics, closed_at`).
		WillReturnRows(recallRows(
			row("sess-a", "Statin safety", 0.80),
			row("sess-b", "Statin efficacy", 0.79),
		))

	before := testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("ambiguous"))
	out := recallOutcome(t, env, a)

	assert.True(t, out.Found)
	assert.Len(t, out.Ambiguous, 2)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("ambiguous")))
}

func TestRecallSearchCountsNoMatchOutcome(t *testing.T) {
	env, a, mock := recallTestEnv(t)
	mock.ExpectQuery(`SELECT session_id, title, summary, key_topics, closed_at`).
		WillReturnRows(recallRows())

	before := testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("no_match"))
	out := recallOutcome(t, env, a)

	assert.False(t, out.Found)
	assert.Nil(t, out.Best)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecallSearches.WithLabelValues("no_match")))
}
