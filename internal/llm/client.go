package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client calls the LLM sidecar service over HTTP. One client is shared by all
// activities; per-call deadlines come from the request context.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an LLM service client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CompletionRequest is a single non-streaming model call.
type CompletionRequest struct {
	Query        string                 `json:"query"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	Temperature  float64                `json:"temperature"`
	ModelTier    string                 `json:"model_tier,omitempty"` // small|medium|large
	AgentID      string                 `json:"agent_id,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`

	// ExtendedReasoning raises the service-side thinking budget. Used only by
	// the planner, where up-front compute reduces total round count.
	ExtendedReasoning bool `json:"extended_reasoning,omitempty"`
}

// CompletionResponse is the service's reply to a completion request.
type CompletionResponse struct {
	Success      bool   `json:"success"`
	Response     string `json:"response"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Complete performs a single model call against /agent/query.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := fmt.Sprintf("%s/agent/query", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AgentID != "" {
		httpReq.Header.Set("X-Agent-ID", req.AgentID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm service returned status %d", resp.StatusCode)
	}

	var out CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if out.Response == "" {
		return nil, fmt.Errorf("llm service returned empty response")
	}
	return &out, nil
}

// Stream opens a streaming completion against /agent/stream and returns a
// pull-based token stream. The caller owns the stream and must Close it.
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (*TokenStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	url := fmt.Sprintf("%s/agent/stream", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would kill long generations; rely on the
	// context deadline instead.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm stream call failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("llm stream returned status %d", resp.StatusCode)
	}

	return NewTokenStream(resp.Body), nil
}
