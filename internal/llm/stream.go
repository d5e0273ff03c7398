package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// StreamEventKind discriminates parsed stream events.
type StreamEventKind int

const (
	// KindToken carries an incremental text fragment.
	KindToken StreamEventKind = iota
	// KindDone is the model's completion signal. The transport may still hold
	// buffered tokens after this; callers must keep pulling until io.EOF.
	KindDone
	// KindUsage carries final token accounting.
	KindUsage
)

// StreamEvent is one complete unit parsed from the wire.
type StreamEvent struct {
	Kind         StreamEventKind
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ErrStreamBroken indicates the upstream terminated mid-generation without a
// completion signal.
var ErrStreamBroken = errors.New("llm stream broken before completion")

// TokenStream incrementally parses an SSE body into stream events. It is
// pull-based: Next blocks for the next complete event and buffers partial
// lines across reads, never yielding a half-parsed unit.
type TokenStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	sawDone bool
	err     error
}

// NewTokenStream wraps an SSE response body.
func NewTokenStream(body io.ReadCloser) *TokenStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 16*1024), 1024*1024)
	return &TokenStream{body: body, scanner: sc}
}

// wire format of one data line from the LLM service
type streamChunk struct {
	Delta        string `json:"delta,omitempty"`
	Done         bool   `json:"done,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Next returns the next complete event. It returns io.EOF when the transport
// genuinely closes, which may be well after a KindDone event was yielded —
// callers draining the stream must stop on EOF, not on the first Done.
func (s *TokenStream) Next() (StreamEvent, error) {
	if s.err != nil {
		return StreamEvent{}, s.err
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.sawDone = true
			return StreamEvent{Kind: KindDone}, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Partial or garbled frame; skip rather than abort the stream.
			continue
		}
		switch {
		case chunk.Done && (chunk.InputTokens > 0 || chunk.OutputTokens > 0):
			s.sawDone = true
			return StreamEvent{
				Kind:         KindUsage,
				Model:        chunk.Model,
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
			}, nil
		case chunk.Done:
			s.sawDone = true
			return StreamEvent{Kind: KindDone, Model: chunk.Model}, nil
		case chunk.Delta != "":
			return StreamEvent{Kind: KindToken, Text: chunk.Delta}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.err = err
		return StreamEvent{}, err
	}
	if !s.sawDone {
		s.err = ErrStreamBroken
		return StreamEvent{}, ErrStreamBroken
	}
	s.err = io.EOF
	return StreamEvent{}, io.EOF
}

// Close releases the underlying transport.
func (s *TokenStream) Close() error {
	return s.body.Close()
}
