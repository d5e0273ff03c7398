package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminahealth/orchestrator/internal/config"
)

func boundaryConfig() config.SessionConfig {
	return config.SessionConfig{
		InactivityTimeout: 30 * time.Minute,
		TokenCeiling:      1000,
		CeilingPolicy:     "summarize",
		TopicOverlapMin:   0.15,
	}
}

func sessionWith(msgs ...Message) *Session {
	return &Session{Status: StatusActive, Messages: msgs, UpdatedAt: time.Now()}
}

func TestSatisfactionPhraseEndsSession(t *testing.T) {
	s := sessionWith(Message{Role: RoleUser, Content: "tell me about statins", Timestamp: time.Now()})

	for _, phrase := range []string{"Thanks, that's all!", "got it, perfect", "thank you"} {
		b := DetectBoundary(s, phrase, time.Now(), boundaryConfig())
		require.NotNil(t, b, "phrase %q", phrase)
		assert.Equal(t, "satisfaction", b.Cause)
		assert.Equal(t, "complete", b.Action)
	}
}

func TestInactivityGapEndsSession(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	s := sessionWith(Message{Role: RoleUser, Content: "statin interactions with grapefruit", Timestamp: old})

	b := DetectBoundary(s, "statin interactions again", time.Now(), boundaryConfig())
	require.NotNil(t, b)
	assert.Equal(t, "inactivity", b.Cause)
}

func TestTokenCeilingHonorsPolicy(t *testing.T) {
	s := sessionWith(Message{Role: RoleUser, Content: "statin dosing details", Timestamp: time.Now()})
	s.TokensUsed = 1200

	cfg := boundaryConfig()
	b := DetectBoundary(s, "statin dosing in renal impairment", time.Now(), cfg)
	require.NotNil(t, b)
	assert.Equal(t, "token_ceiling", b.Cause)
	assert.Equal(t, "summarize", b.Action)

	cfg.CeilingPolicy = "force_end"
	b = DetectBoundary(s, "statin dosing in renal impairment", time.Now(), cfg)
	require.NotNil(t, b)
	assert.Equal(t, "complete", b.Action)
}

func TestTopicShiftEndsSession(t *testing.T) {
	now := time.Now()
	s := sessionWith(
		Message{Role: RoleUser, Content: "statin myopathy risk factors", Timestamp: now},
		Message{Role: RoleAssistant, Content: "Several factors...", Timestamp: now},
	)

	b := DetectBoundary(s, "best hiking trails near Denver", now, boundaryConfig())
	require.NotNil(t, b)
	assert.Equal(t, "topic_shift", b.Cause)
}

func TestShortFollowUpIsNotATopicShift(t *testing.T) {
	now := time.Now()
	s := sessionWith(
		Message{Role: RoleUser, Content: "statin myopathy risk factors", Timestamp: now},
		Message{Role: RoleAssistant, Content: "Several factors...", Timestamp: now},
	)

	assert.Nil(t, DetectBoundary(s, "why?", now, boundaryConfig()))
	assert.Nil(t, DetectBoundary(s, "and myopathy in older adults?", now, boundaryConfig()))
}

func TestOnTopicMessageContinuesSession(t *testing.T) {
	now := time.Now()
	s := sessionWith(
		Message{Role: RoleUser, Content: "semaglutide weight loss evidence", Timestamp: now},
		Message{Role: RoleAssistant, Content: "Trials show...", Timestamp: now},
	)

	assert.Nil(t, DetectBoundary(s, "semaglutide weight loss side effects", now, boundaryConfig()))
}
