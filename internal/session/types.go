package session

import (
	"time"
)

// Status is the session lifecycle state. Transitions go one way:
// active -> complete.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation turn. Messages are never edited once added;
// the transcript only changes by appending or by ceiling compaction, which
// replaces it wholesale with a summary turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageRef  string    `json:"image_ref,omitempty"` // optional single image attachment reference
	Tokens    int       `json:"tokens,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one research conversation. Title, summary, and key topics are
// filled in at completion time and power later recall.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Status     Status    `json:"status"`
	Title      string    `json:"title,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	KeyTopics  []string  `json:"key_topics,omitempty"`
	Messages   []Message `json:"messages"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
	CloseCause string    `json:"close_cause,omitempty"` // satisfaction|topic_shift|inactivity|token_ceiling|explicit
}

// Active reports whether the session still accepts messages.
func (s *Session) Active() bool { return s.Status == StatusActive }

// LastActivity returns the newest message timestamp, or UpdatedAt when the
// session has no messages yet.
func (s *Session) LastActivity() time.Time {
	if len(s.Messages) == 0 {
		return s.UpdatedAt
	}
	return s.Messages[len(s.Messages)-1].Timestamp
}
