package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/luminahealth/orchestrator/internal/metrics"
)

// EventType discriminates stage events on the outbound stream.
type EventType string

const (
	EventRouting          EventType = "routing"
	EventPlanningStarted  EventType = "planning_started"
	EventPlanningComplete EventType = "planning_complete"
	EventRoundStarted     EventType = "round_started"
	EventRoundComplete    EventType = "round_complete"
	EventAPICall          EventType = "api_call"
	EventGapDetected      EventType = "gap_detected"
	EventSynthesisStarted EventType = "synthesis_started"
	EventToken            EventType = "token"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// IsTerminal reports whether the event ends the stream.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one stage event on a task's outbound stream. Seq is assigned at
// the single publish point and is strictly increasing per task.
type Event struct {
	TaskID    string                 `json:"task_id"`
	Type      EventType              `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for SSE data lines and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for task stage events. Concurrent
// producers funnel through Publish, which serializes sequence assignment so
// subscribers observe a strictly increasing order.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring // per-task replay buffer for Last-Event-ID
	terminated  map[string]bool  // tasks that already emitted a terminal event
	capacity    int
}

var (
	defaultMgr      *Manager
	once            sync.Once
	defaultCapacity = 1024
)

// Get returns the global streaming manager, initializing it lazily.
func Get() *Manager {
	once.Do(func() {
		defaultMgr = NewManager(defaultCapacity)
	})
	return defaultMgr
}

// NewManager creates a manager with the given per-task replay capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		terminated:  make(map[string]bool),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a task; caller must drain and call
// Unsubscribe.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// Publish assigns the next sequence number and fans the event out to all
// subscribers (non-blocking). Events after a terminal event are dropped so a
// stream carries exactly one complete or error.
func (m *Manager) Publish(taskID string, evt Event) bool {
	m.mu.Lock()
	if m.terminated[taskID] {
		m.mu.Unlock()
		return false
	}
	rg := m.history[taskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[taskID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	evt.TaskID = taskID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	rg.push(evt)
	if evt.Type.IsTerminal() {
		m.terminated[taskID] = true
	}
	subs := m.subscribers[taskID]
	m.mu.Unlock()

	metrics.StageEventsEmitted.WithLabelValues(string(evt.Type)).Inc()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscribers; replay covers the gap.
		}
	}
	return true
}

// ReplaySince returns buffered events with Seq > since (best-effort within
// ring capacity), in order.
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[taskID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Terminated reports whether the task's stream already carried its terminal
// event.
func (m *Manager) Terminated(taskID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminated[taskID]
}

// Release drops replay history and terminal state for a finished task.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, taskID)
	delete(m.terminated, taskID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
