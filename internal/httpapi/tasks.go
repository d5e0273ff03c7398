package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/luminahealth/orchestrator/internal/workflows"
)

// TaskHandler accepts research tasks and exposes their results.
type TaskHandler struct {
	temporal  client.Client
	taskQueue string
	logger    *zap.Logger
}

func NewTaskHandler(tc client.Client, taskQueue string, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{temporal: tc, taskQueue: taskQueue, logger: logger}
}

// RegisterRoutes registers task routes on the provided mux.
func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/research", h.handleSubmit)
	mux.HandleFunc("/research/", h.handleResult)
}

type submitRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Stream string `json:"stream"`
}

// handleSubmit starts the router workflow and returns immediately; clients
// follow progress on the stream endpoints.
// POST /research
func (h *TaskHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		http.Error(w, `{"error":"query required"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	taskID := "task-" + uuid.New().String()
	_, err := h.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        taskID,
		TaskQueue: h.taskQueue,
	}, workflows.ResearchRouter, workflows.TaskInput{
		TaskID:    taskID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Query:     req.Query,
		ImageRef:  req.ImageRef,
	})
	if err != nil {
		h.logger.Error("Workflow start failed", zap.Error(err))
		http.Error(w, `{"error":"could not start task"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Task submitted",
		zap.String("task_id", taskID),
		zap.String("user_id", req.UserID),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitResponse{
		TaskID: taskID,
		Stream: "/stream/sse?task_id=" + taskID,
	})
}

// handleResult blocks until the task finishes (bounded by the request
// context) and returns the full result.
// GET /research/{task_id}
func (h *TaskHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/research/")
	if taskID == "" {
		http.Error(w, `{"error":"task_id required"}`, http.StatusBadRequest)
		return
	}

	var result workflows.TaskResult
	if err := h.temporal.GetWorkflow(r.Context(), taskID, "").Get(r.Context(), &result); err != nil {
		h.logger.Warn("Result fetch failed", zap.String("task_id", taskID), zap.Error(err))
		http.Error(w, `{"error":"task failed or not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
