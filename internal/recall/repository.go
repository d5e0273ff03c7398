// Package recall indexes completed research sessions in Postgres and serves
// "what did we find last time" lookups with weighted full-text search.
package recall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/session"
)

var ErrNotComplete = errors.New("only complete sessions are indexed")

// Match is one recall search hit. Score is the Postgres ts_rank value;
// relative ordering is what matters, not the absolute number.
type Match struct {
	SessionID string    `db:"session_id"`
	Title     string    `db:"title"`
	Summary   string    `db:"summary"`
	KeyTopics []string  `db:"-"`
	ClosedAt  time.Time `db:"closed_at"`
	Score     float64   `db:"score"`

	RawTopics pq.StringArray `db:"key_topics" json:"-"`
}

// Outcome classifies a recall search for the router: a confident single hit,
// an ambiguous set of close hits, or nothing.
type Outcome struct {
	Best      *Match
	Ambiguous []Match // populated when runners-up score within the margin
}

type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS recall_sessions (
	session_id  TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	key_topics  TEXT[] NOT NULL DEFAULT '{}',
	transcript  TEXT NOT NULL DEFAULT '',
	closed_at   TIMESTAMPTZ NOT NULL,
	tsv         TSVECTOR GENERATED ALWAYS AS (
		setweight(to_tsvector('english', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('english', array_to_string(key_topics, ' ')), 'A') ||
		setweight(to_tsvector('english', coalesce(summary, '')), 'B') ||
		setweight(to_tsvector('english', coalesce(transcript, '')), 'C')
	) STORED
);
CREATE INDEX IF NOT EXISTS recall_sessions_tsv_idx ON recall_sessions USING GIN (tsv);
CREATE INDEX IF NOT EXISTS recall_sessions_user_idx ON recall_sessions (user_id, closed_at DESC);
`

// EnsureSchema creates the recall table and indexes if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure recall schema: %w", err)
	}
	return nil
}

// Index upserts one completed session. Active sessions are rejected: the
// recall corpus only ever contains finished research.
func (r *Repository) Index(ctx context.Context, s *session.Session) error {
	if s.Status != session.StatusComplete {
		return ErrNotComplete
	}

	var transcript strings.Builder
	for _, msg := range s.Messages {
		if msg.Role == session.RoleUser {
			transcript.WriteString(msg.Content)
			transcript.WriteString("\n")
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recall_sessions (session_id, user_id, title, summary, key_topics, transcript, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			key_topics = EXCLUDED.key_topics,
			transcript = EXCLUDED.transcript,
			closed_at = EXCLUDED.closed_at`,
		s.ID, s.UserID, s.Title, s.Summary, pq.Array(s.KeyTopics), transcript.String(), s.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("index session %s: %w", s.ID, err)
	}

	r.logger.Debug("Session indexed for recall",
		zap.String("session_id", s.ID),
		zap.Strings("key_topics", s.KeyTopics),
	)
	return nil
}

// Search runs a weighted full-text query over the user's completed sessions,
// newest-first among equal ranks.
func (r *Repository) Search(ctx context.Context, userID string, terms []string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	query := strings.Join(terms, " ")

	var matches []Match
	err := r.db.SelectContext(ctx, &matches, `
		SELECT session_id, title, summary, key_topics, closed_at,
		       ts_rank(tsv, plainto_tsquery('english', $2)) AS score
		FROM recall_sessions
		WHERE user_id = $1
		  AND tsv @@ plainto_tsquery('english', $2)
		ORDER BY score DESC, closed_at DESC
		LIMIT $3`,
		userID, query, limit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return []Match{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recall search: %w", err)
	}

	for i := range matches {
		matches[i].KeyTopics = []string(matches[i].RawTopics)
	}
	return matches, nil
}

// Resolve turns ranked matches into a router outcome. Runners-up within
// margin of the best score make the result ambiguous; the caller should ask
// the user rather than guess.
func Resolve(matches []Match, margin float64) Outcome {
	if len(matches) == 0 {
		return Outcome{}
	}
	best := matches[0]
	var close []Match
	for _, m := range matches[1:] {
		if best.Score-m.Score <= margin {
			close = append(close, m)
		}
	}
	if len(close) > 0 {
		return Outcome{Best: &best, Ambiguous: append([]Match{best}, close...)}
	}
	return Outcome{Best: &best}
}
