package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/streaming"
)

// StreamingHandler serves the task event stream over SSE and WebSocket.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers stream routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// handleSSE streams task events via Server-Sent Events.
// GET /stream/sse?task_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		http.Error(w, `{"error":"task_id required"}`, http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))

	// Last-Event-ID header or query param to replay from
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(taskID, 256)
	defer h.mgr.Unsubscribe(taskID, ch)

	fmt.Fprintf(w, ": connected to task %s\n\n", taskID)
	flusher.Flush()

	// Replay backlog since lastID (best-effort within ring capacity).
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(taskID, lastID) {
			if skipType(typeFilter, ev.Type) {
				continue
			}
			writeSSE(w, ev)
			if ev.Type.IsTerminal() {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()
	}

	// A reconnect after the terminal event should not hang forever.
	if h.mgr.Terminated(taskID) && lastID == 0 {
		for _, ev := range h.mgr.ReplaySince(taskID, 0) {
			if !skipType(typeFilter, ev.Type) {
				writeSSE(w, ev)
			}
		}
		flusher.Flush()
		return
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("task_id", taskID))
			return
		case evt := <-ch:
			if skipType(typeFilter, evt.Type) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type.IsTerminal() {
				return
			}
		case <-hb.C:
			// Keep connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}

func parseTypeFilter(s string) map[streaming.EventType]struct{} {
	filter := map[streaming.EventType]struct{}{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[streaming.EventType(t)] = struct{}{}
		}
	}
	return filter
}

func skipType(filter map[streaming.EventType]struct{}, t streaming.EventType) bool {
	if len(filter) == 0 {
		return false
	}
	_, ok := filter[t]
	return !ok
}
