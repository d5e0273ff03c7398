package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/metrics"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrSessionComplete = errors.New("session already complete")
)

// Manager owns session lifecycle and persistence: a local write-through cache
// in front of Redis. Sessions persist on creation, every AutoSaveEvery
// messages, and on completion.
type Manager struct {
	redis  *redis.Client
	cfg    config.SessionConfig
	logger *zap.Logger

	mu       sync.RWMutex
	cache    map[string]*Session
	unsynced map[string]int // messages appended since last persist
}

func NewManager(rdb *redis.Client, cfg config.SessionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		redis:    rdb,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string]*Session),
		unsynced: make(map[string]int),
	}
}

func sessionKey(id string) string { return "session:" + id }

// Create starts a new active session and persists it immediately.
func (m *Manager) Create(ctx context.Context, userID string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    StatusActive,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.cache[s.ID] = s
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	m.logger.Info("Session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
	)
	return s, nil
}

// Get returns the session from cache, falling back to Redis.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.cache[id]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	data, err := m.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	m.mu.Lock()
	m.cache[id] = &s
	m.mu.Unlock()
	return &s, nil
}

// Append adds a message to an active session. Persistence happens every
// AutoSaveEvery messages so a crash loses at most that many turns.
func (m *Manager) Append(ctx context.Context, id string, msg Message) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !s.Active() {
		m.mu.Unlock()
		return nil, ErrSessionComplete
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.TokensUsed += msg.Tokens
	s.UpdatedAt = time.Now()
	m.unsynced[id]++
	due := m.unsynced[id] >= m.cfg.AutoSaveEvery
	m.mu.Unlock()

	if due {
		if err := m.persist(ctx, s); err != nil {
			// Keep serving from cache; the next append retries.
			metrics.SessionPersistFailures.Inc()
			m.logger.Warn("Session auto-save failed",
				zap.String("session_id", id),
				zap.Error(err),
			)
		} else {
			m.mu.Lock()
			m.unsynced[id] = 0
			m.mu.Unlock()
		}
	}
	return s, nil
}

// Complete closes the session with its recall metadata and persists the final
// state. Completing twice returns ErrSessionComplete.
func (m *Manager) Complete(ctx context.Context, id, title, summary string, keyTopics []string, cause string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !s.Active() {
		m.mu.Unlock()
		return nil, ErrSessionComplete
	}
	s.Status = StatusComplete
	s.Title = title
	s.Summary = summary
	s.KeyTopics = keyTopics
	s.CloseCause = cause
	s.ClosedAt = time.Now()
	s.UpdatedAt = s.ClosedAt
	delete(m.unsynced, id)
	m.mu.Unlock()

	if err := m.persist(ctx, s); err != nil {
		return nil, fmt.Errorf("complete session %s: %w", id, err)
	}

	metrics.SessionsCompleted.WithLabelValues(cause).Inc()
	m.logger.Info("Session completed",
		zap.String("session_id", id),
		zap.String("cause", cause),
		zap.Int("messages", len(s.Messages)),
		zap.Int("tokens_used", s.TokensUsed),
	)
	return s, nil
}

// Compact replaces the transcript of an active session with a single summary
// message and resets the token estimate, so a session that hit its token
// ceiling under the summarize policy can keep going.
func (m *Manager) Compact(ctx context.Context, id, summary string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !s.Active() {
		m.mu.Unlock()
		return nil, ErrSessionComplete
	}
	dropped := len(s.Messages)
	s.Messages = []Message{{
		Role:      RoleSystem,
		Content:   "Summary of the conversation so far: " + summary,
		Tokens:    len(summary) / 4,
		Timestamp: time.Now(),
	}}
	s.TokensUsed = s.Messages[0].Tokens
	s.UpdatedAt = time.Now()
	m.unsynced[id] = 0
	m.mu.Unlock()

	if err := m.persist(ctx, s); err != nil {
		return nil, fmt.Errorf("compact session %s: %w", id, err)
	}

	m.logger.Info("Session compacted",
		zap.String("session_id", id),
		zap.Int("messages_dropped", dropped),
		zap.Int("tokens_used", s.TokensUsed),
	)
	return s, nil
}

// Flush force-persists one session, for shutdown paths.
func (m *Manager) Flush(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.persist(ctx, s); err != nil {
		return err
	}
	m.mu.Lock()
	m.unsynced[id] = 0
	m.mu.Unlock()
	return nil
}

// Evict drops a session from the local cache without touching Redis.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	delete(m.cache, id)
	delete(m.unsynced, id)
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	m.mu.RLock()
	data, err := json.Marshal(s)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	ttl := m.cfg.TTL
	if s.Status == StatusComplete {
		// Completed sessions outlive the working TTL; the recall index holds
		// the searchable copy, Redis keeps the full transcript for a while.
		ttl = m.cfg.TTL * 7
	}
	if err := m.redis.Set(ctx, sessionKey(s.ID), data, ttl).Err(); err != nil {
		return err
	}

	m.mu.RLock()
	metrics.SessionCacheSize.Set(float64(len(m.cache)))
	m.mu.RUnlock()
	return nil
}
