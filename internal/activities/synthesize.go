package activities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/luminahealth/orchestrator/internal/config"
	"github.com/luminahealth/orchestrator/internal/llm"
	"github.com/luminahealth/orchestrator/internal/models"
	"github.com/luminahealth/orchestrator/internal/streaming"
)

const synthesisPrompt = `You write evidence-grounded medical research answers. Cite sources inline as [1], [2] matching the numbered source list. Only claim what the sources support; say so when evidence is thin or conflicting. Structure: direct answer first, then supporting detail.`

// truncationMarker is appended when the stream breaks mid-answer so the user
// sees an honest partial rather than a silently clipped one.
const truncationMarker = "\n\n[response truncated: generation was interrupted]"

// Synthesize streams the final answer, publishing each token to the task's
// event stream. The model's done signal does not end the read: transports can
// hold buffered tokens past it, so the activity keeps draining until EOF or
// the drain grace period expires. A stream that breaks before the done signal
// fails the activity: the tokens already published stay visible, a truncation
// marker is appended to them, and the caller decides how to surface the error.
func (a *Activities) Synthesize(ctx context.Context, in SynthesizeInput) (SynthesizeResult, error) {
	logger := activity.GetLogger(ctx)
	rc := config.Get().Research

	stream, err := a.llm.Stream(ctx, llm.CompletionRequest{
		Query:        synthesisQuery(in),
		SystemPrompt: synthesisPrompt,
		ModelTier:    "large",
		AgentID:      "synthesizer",
	})
	if err != nil {
		return SynthesizeResult{}, fmt.Errorf("open synthesis stream: %w", err)
	}
	defer stream.Close()

	events := make(chan llm.StreamEvent)
	readErr := make(chan error, 1)
	go func() {
		for {
			ev, err := stream.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		answer     strings.Builder
		tokenCount int
		sawDone    bool
		drained    bool
		truncated  bool
		grace      <-chan time.Time
	)

drain:
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case llm.KindToken:
				answer.WriteString(ev.Text)
				tokenCount++
				if sawDone {
					drained = true
				}
				a.stream.Publish(in.TaskID, streaming.Event{
					Type:    streaming.EventToken,
					Message: ev.Text,
				})
			case llm.KindUsage:
				sawDone = true
				a.recordUsage(in.TaskID, ev.Model, ev.InputTokens, ev.OutputTokens)
				grace = time.After(rc.DrainGracePeriod)
			case llm.KindDone:
				sawDone = true
				grace = time.After(rc.DrainGracePeriod)
			}

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				break drain
			}
			if !sawDone {
				logger.Warn("Synthesis stream broke mid-answer", "error", err, "tokens", tokenCount)
				truncated = true
			}
			break drain

		case <-grace:
			logger.Warn("Drain grace period expired before transport closed", "tokens", tokenCount)
			break drain

		case <-ctx.Done():
			truncated = !sawDone
			break drain
		}
	}

	if truncated {
		a.stream.Publish(in.TaskID, streaming.Event{
			Type:    streaming.EventToken,
			Message: truncationMarker,
		})
		logger.Error("Synthesis stream broke mid-answer", "tokens", tokenCount)
		return SynthesizeResult{}, fmt.Errorf("synthesis stream broke after %d tokens: %w", tokenCount, llm.ErrStreamBroken)
	}

	logger.Info("Synthesis complete",
		"tokens", tokenCount,
		"drained_after_done", drained,
	)
	return SynthesizeResult{
		Answer:  answer.String(),
		Tokens:  tokenCount,
		Drained: drained,
	}, nil
}

func synthesisQuery(in SynthesizeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", in.Query.Text)
	for i, src := range in.Sources {
		fmt.Fprintf(&b, "[%d] %s (%s, %s)\n%s\n\n", i+1, src.Title, src.SourceType, venueOrURL(src), src.Content)
	}
	if len(in.Sources) == 0 {
		b.WriteString("(no sources retrieved; answer from general knowledge and say so)\n")
	}
	return b.String()
}

func venueOrURL(src models.Source) string {
	if src.Venue != "" {
		return src.Venue
	}
	return src.URL
}
