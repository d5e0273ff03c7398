package session

import (
	"regexp"
	"strings"
	"time"

	"github.com/luminahealth/orchestrator/internal/config"
)

// Boundary is a detected reason to end (or compact) a session.
type Boundary struct {
	Cause  string // satisfaction|topic_shift|inactivity|token_ceiling
	Action string // complete|summarize
}

var satisfactionRe = regexp.MustCompile(`(?i)\b(thanks|thank you|that('?s| is) (all|everything|helpful)|got it|perfect|great,? that helps|no (more|further) questions)\b`)

// DetectBoundary checks a new user message against the open session and
// returns a boundary when one applies, or nil. Checks run in precedence
// order: explicit satisfaction, inactivity gap, token ceiling, topic shift.
func DetectBoundary(s *Session, incoming string, now time.Time, cfg config.SessionConfig) *Boundary {
	if satisfactionRe.MatchString(incoming) {
		return &Boundary{Cause: "satisfaction", Action: "complete"}
	}

	if cfg.InactivityTimeout > 0 && len(s.Messages) > 0 {
		if now.Sub(s.LastActivity()) >= cfg.InactivityTimeout {
			return &Boundary{Cause: "inactivity", Action: "complete"}
		}
	}

	if cfg.TokenCeiling > 0 && s.TokensUsed >= cfg.TokenCeiling {
		action := "summarize"
		if cfg.CeilingPolicy == "force_end" {
			action = "complete"
		}
		return &Boundary{Cause: "token_ceiling", Action: action}
	}

	if len(s.Messages) >= 2 && topicOverlap(sessionTerms(s), keywords(incoming)) < cfg.TopicOverlapMin {
		return &Boundary{Cause: "topic_shift", Action: "complete"}
	}

	return nil
}

// sessionTerms collects the keyword vocabulary of recent user turns. Only the
// last few messages matter; early turns in a long session are often preamble.
func sessionTerms(s *Session) map[string]struct{} {
	const window = 6
	terms := make(map[string]struct{})
	start := len(s.Messages) - window
	if start < 0 {
		start = 0
	}
	for _, msg := range s.Messages[start:] {
		if msg.Role != RoleUser {
			continue
		}
		for term := range keywords(msg.Content) {
			terms[term] = struct{}{}
		}
	}
	return terms
}

// topicOverlap is the fraction of incoming keywords already seen in the
// session. No keywords on either side reads as full overlap so short
// follow-ups ("why?", "and dosage?") never trigger a shift.
func topicOverlap(session, incoming map[string]struct{}) float64 {
	if len(incoming) == 0 || len(session) == 0 {
		return 1
	}
	shared := 0
	for term := range incoming {
		if _, ok := session[term]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(incoming))
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "for": {}, "to": {}, "is": {}, "are": {}, "was": {}, "what": {},
	"how": {}, "why": {}, "does": {}, "do": {}, "can": {}, "with": {},
	"about": {}, "that": {}, "this": {}, "it": {}, "be": {}, "at": {},
	"as": {}, "by": {}, "from": {}, "any": {}, "there": {},
}

func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}
