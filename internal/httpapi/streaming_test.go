package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/streaming"
)

func TestSSERequiresTaskID(t *testing.T) {
	h := NewStreamingHandler(streaming.NewManager(8), zap.NewNop())
	rec := httptest.NewRecorder()
	h.handleSSE(rec, httptest.NewRequest(http.MethodGet, "/stream/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEClosesAfterTerminalEvent(t *testing.T) {
	mgr := streaming.NewManager(8)
	h := NewStreamingHandler(mgr, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.handleSSE))
	defer srv.Close()

	done := make(chan string, 1)
	go func() {
		resp, err := http.Get(srv.URL + "?task_id=t1")
		if err != nil {
			done <- err.Error()
			return
		}
		defer resp.Body.Close()
		buf := make([]byte, 16*1024)
		var body strings.Builder
		for {
			n, rerr := resp.Body.Read(buf)
			body.Write(buf[:n])
			if rerr != nil {
				break
			}
		}
		done <- body.String()
	}()

	// Let the subscriber attach before publishing.
	time.Sleep(100 * time.Millisecond)
	mgr.Publish("t1", streaming.Event{Type: streaming.EventRouting, Message: "deep_research"})
	mgr.Publish("t1", streaming.Event{Type: streaming.EventComplete})

	select {
	case body := <-done:
		assert.Contains(t, body, "event: routing")
		assert.Contains(t, body, "event: complete")
		assert.Contains(t, body, "id: 1")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after terminal event")
	}
}

func TestSSEReplaysFromLastEventID(t *testing.T) {
	mgr := streaming.NewManager(8)
	h := NewStreamingHandler(mgr, zap.NewNop())

	mgr.Publish("t2", streaming.Event{Type: streaming.EventRoundStarted})
	mgr.Publish("t2", streaming.Event{Type: streaming.EventRoundComplete})
	mgr.Publish("t2", streaming.Event{Type: streaming.EventComplete})

	req := httptest.NewRequest(http.MethodGet, "/stream/sse?task_id=t2", nil)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	h.handleSSE(rec, req)

	body := rec.Body.String()
	assert.NotContains(t, body, "event: round_started", "seq 1 already seen by the client")
	assert.Contains(t, body, "event: round_complete")
	assert.Contains(t, body, "event: complete")
}

func TestSSETypeFilter(t *testing.T) {
	mgr := streaming.NewManager(8)
	h := NewStreamingHandler(mgr, zap.NewNop())

	mgr.Publish("t3", streaming.Event{Type: streaming.EventToken, Message: "hello"})
	mgr.Publish("t3", streaming.Event{Type: streaming.EventComplete})

	req := httptest.NewRequest(http.MethodGet, "/stream/sse?task_id=t3&types=complete&last_event_id=0", nil)
	rec := httptest.NewRecorder()
	h.handleSSE(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "event: complete")
	assert.NotContains(t, body, "event: token")
}
