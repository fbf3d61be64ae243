// Package summary turns a group's full conversation text into a short
// bullet-point summary.
package summary

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/llm"
)

// FailedText is the sentinel returned when summarization fails. It never
// surfaces as an error: callers decide whether to keep the prior summary.
const FailedText = "Summarization failed"

// DefaultPrompt is the instruction used when a session has no custom prompt.
const DefaultPrompt = "Summarise the following classroom discussion in ≤6 clear bullet points:"

// ClientFactory builds a completion client for a provider/model pair.
type ClientFactory func(provider, model string) (llm.Client, error)

type Summarizer struct {
	model   string
	factory ClientFactory
	backoff []time.Duration
	sleep   func(time.Duration)
}

func New(model string, factory ClientFactory) *Summarizer {
	return &Summarizer{
		model:   model,
		factory: factory,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second},
		sleep:   time.Sleep,
	}
}

// Summarize produces a fresh summary of the full conversation. An empty
// customPrompt selects DefaultPrompt. Failures return FailedText.
func (s *Summarizer) Summarize(ctx context.Context, transcript, customPrompt string) string {
	if strings.TrimSpace(transcript) == "" {
		return ""
	}

	provider, model, err := llm.ParseModel(s.model)
	if err != nil {
		slog.Error("summary: invalid model", "model", s.model, "error", err)
		return FailedText
	}

	client, err := s.factory(provider, model)
	if err != nil {
		slog.Error("summary: create client failed", "provider", provider, "error", err)
		return FailedText
	}

	prompt := strings.TrimSpace(customPrompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	messages := []llm.Message{
		{Role: "user", Content: prompt + "\n\n" + transcript},
	}

	var lastErr error
	for attempt := 0; attempt <= len(s.backoff); attempt++ {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return result
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(s.backoff) {
			s.sleep(s.backoff[attempt])
		}
	}

	slog.Warn("summary: completion failed after retries", "error", lastErr)
	return FailedText
}
