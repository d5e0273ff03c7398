package activities

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/session"
)

// UpdateSession appends the exchange to the session transcript, creating the
// session when needed, and reports any detected boundary so the workflow can
// decide whether to close.
func (a *Activities) UpdateSession(ctx context.Context, in SessionUpdateInput) (SessionUpdateResult, error) {
	logger := activity.GetLogger(ctx)

	var (
		s   *session.Session
		err error
	)
	if in.SessionID == "" {
		s, err = a.sessions.Create(ctx, in.UserID)
		if err != nil {
			return SessionUpdateResult{}, err
		}
	} else {
		s, err = a.sessions.Get(ctx, in.SessionID)
		if err != nil {
			return SessionUpdateResult{}, err
		}
	}

	result := SessionUpdateResult{SessionID: s.ID}
	if b := session.DetectBoundary(s, in.Query, time.Now(), config.Get().Session); b != nil {
		result.BoundaryCause = b.Cause
		result.BoundaryAction = b.Action
		logger.Info("Session boundary detected",
			"session_id", s.ID,
			"cause", b.Cause,
			"action", b.Action,
		)
	}

	if _, err := a.sessions.Append(ctx, s.ID, session.Message{
		Role:     session.RoleUser,
		Content:  in.Query,
		ImageRef: in.ImageRef,
	}); err != nil {
		return result, err
	}
	if _, err := a.sessions.Append(ctx, s.ID, session.Message{
		Role:    session.RoleAssistant,
		Content: in.Answer,
		Tokens:  in.Tokens,
	}); err != nil {
		return result, err
	}
	return result, nil
}

// CompactSession summarizes the transcript and replaces it in place, keeping
// the session active under its token ceiling. Summary generation degrades to
// heuristics so a model outage never wedges the session.
func (a *Activities) CompactSession(ctx context.Context, in CompactSessionInput) (CompactSessionResult, error) {
	logger := activity.GetLogger(ctx)

	s, err := a.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return CompactSessionResult{}, err
	}

	_, summary, _ := a.sessionMetadata(ctx, s)
	compacted, err := a.sessions.Compact(ctx, in.SessionID, summary)
	if err != nil {
		return CompactSessionResult{}, err
	}

	logger.Info("Session compacted at token ceiling",
		"session_id", in.SessionID,
		"tokens_used", compacted.TokensUsed,
	)
	return CompactSessionResult{SessionID: in.SessionID, Summary: summary}, nil
}

const summarizePrompt = `Summarize this research conversation for later recall. Respond with JSON only:
{"title": "short descriptive title", "summary": "2-3 sentences", "key_topics": ["topic", ...]}`

// CompleteSession closes the session with generated recall metadata and
// indexes it in the recall store. Metadata generation degrades to heuristics
// so a model outage never blocks session closure.
func (a *Activities) CompleteSession(ctx context.Context, in CompleteSessionInput) (CompleteSessionResult, error) {
	logger := activity.GetLogger(ctx)

	s, err := a.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return CompleteSessionResult{}, err
	}

	title, summary, topics := a.sessionMetadata(ctx, s)

	closed, err := a.sessions.Complete(ctx, in.SessionID, title, summary, topics, in.Cause)
	if err != nil {
		return CompleteSessionResult{}, err
	}

	if a.recall != nil {
		if err := a.recall.Index(ctx, closed); err != nil {
			// The session is closed either way; recall just won't find it.
			logger.Warn("Recall indexing failed", "session_id", in.SessionID, "error", err)
		}
	}
	return CompleteSessionResult{Title: title, Summary: summary, KeyTopics: topics}, nil
}

func (a *Activities) sessionMetadata(ctx context.Context, s *session.Session) (string, string, []string) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Query:        transcript(s),
		SystemPrompt: summarizePrompt,
		ModelTier:    "small",
		MaxTokens:    400,
		AgentID:      "summarizer",
	})
	if err == nil {
		var parsed struct {
			Title     string   `json:"title"`
			Summary   string   `json:"summary"`
			KeyTopics []string `json:"key_topics"`
		}
		if perr := parseJSONBlock(resp.Response, &parsed); perr == nil && parsed.Title != "" && parsed.Summary != "" {
			return parsed.Title, parsed.Summary, parsed.KeyTopics
		}
	}
	return fallbackMetadata(s)
}

func transcript(s *session.Session) string {
	var b strings.Builder
	for _, msg := range s.Messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// fallbackMetadata derives a title from the first user turn, a summary from
// the last assistant turn, and topics from keyword frequency across user
// turns. All three are always non-empty: recall renders them verbatim.
func fallbackMetadata(s *session.Session) (string, string, []string) {
	title := "Research session"
	var lastAnswer string
	counts := make(map[string]int)
	for _, msg := range s.Messages {
		if msg.Role == session.RoleAssistant {
			lastAnswer = msg.Content
			continue
		}
		if msg.Role != session.RoleUser {
			continue
		}
		if title == "Research session" {
			title = msg.Content
			if len(title) > 80 {
				title = title[:80]
			}
		}
		for _, w := range strings.Fields(strings.ToLower(msg.Content)) {
			w = strings.Trim(w, "?.,!\"'")
			if len(w) >= 4 {
				counts[w]++
			}
		}
	}

	summary := lastAnswer
	if len(summary) > 240 {
		summary = summary[:240]
	}
	if summary == "" {
		summary = title
	}

	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, wc{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	topics := make([]string, 0, 5)
	for _, r := range ranked {
		topics = append(topics, r.word)
		if len(topics) == 5 {
			break
		}
	}
	return title, summary, topics
}
