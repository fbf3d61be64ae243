package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/llm"
)

type clientMock struct {
	replies  []string
	errs     []error
	requests []llm.Message
	calls    int
}

func (c *clientMock) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.requests = append(c.requests, messages...)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func newTestSummarizer(client llm.Client, factoryErr error) *Summarizer {
	s := New("anthropic/claude-3-haiku-20240307", func(provider, model string) (llm.Client, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		return client, nil
	})
	s.sleep = func(time.Duration) {}
	return s
}

func TestSummarizeUsesDefaultPrompt(t *testing.T) {
	client := &clientMock{replies: []string{"- a point"}}
	s := newTestSummarizer(client, nil)

	got := s.Summarize(context.Background(), "students discussed photosynthesis", "")
	if got != "- a point" {
		t.Fatalf("Summarize = %q, want scripted reply", got)
	}

	if len(client.requests) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.requests))
	}
	content := client.requests[0].Content
	if !strings.HasPrefix(content, DefaultPrompt) {
		t.Errorf("prompt does not start with default instruction: %q", content)
	}
	if !strings.Contains(content, "photosynthesis") {
		t.Errorf("prompt is missing the transcript: %q", content)
	}
}

func TestSummarizeCustomPromptOverridesDefault(t *testing.T) {
	client := &clientMock{replies: []string{"ok"}}
	s := newTestSummarizer(client, nil)

	s.Summarize(context.Background(), "some text", "Focus on misconceptions:")

	content := client.requests[0].Content
	if !strings.HasPrefix(content, "Focus on misconceptions:") {
		t.Errorf("custom prompt not used: %q", content)
	}
	if strings.Contains(content, DefaultPrompt) {
		t.Errorf("default prompt leaked into custom-prompt request: %q", content)
	}
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	client := &clientMock{replies: []string{"should not be called"}}
	s := newTestSummarizer(client, nil)

	if got := s.Summarize(context.Background(), "   ", ""); got != "" {
		t.Fatalf("Summarize of empty transcript = %q, want empty", got)
	}
	if client.calls != 0 {
		t.Fatalf("client called %d times for empty transcript", client.calls)
	}
}

func TestSummarizeRetriesThenSucceeds(t *testing.T) {
	client := &clientMock{
		errs:    []error{errors.New("rate limited"), nil},
		replies: []string{"", "- recovered"},
	}
	s := newTestSummarizer(client, nil)

	got := s.Summarize(context.Background(), "text", "")
	if got != "- recovered" {
		t.Fatalf("Summarize = %q, want retry to recover", got)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", client.calls)
	}
}

func TestSummarizeFailureReturnsSentinel(t *testing.T) {
	boom := errors.New("upstream down")
	client := &clientMock{errs: []error{boom, boom, boom}}
	s := newTestSummarizer(client, nil)

	if got := s.Summarize(context.Background(), "text", ""); got != FailedText {
		t.Fatalf("Summarize = %q, want sentinel %q", got, FailedText)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
}

func TestSummarizeFactoryFailureReturnsSentinel(t *testing.T) {
	s := newTestSummarizer(nil, errors.New("no api key"))
	if got := s.Summarize(context.Background(), "text", ""); got != FailedText {
		t.Fatalf("Summarize = %q, want sentinel", got)
	}
}

func TestSummarizeInvalidModelReturnsSentinel(t *testing.T) {
	s := New("not-a-model", func(provider, model string) (llm.Client, error) {
		t.Fatal("factory should not be called for invalid model")
		return nil, nil
	})
	s.sleep = func(time.Duration) {}

	if got := s.Summarize(context.Background(), "text", ""); got != FailedText {
		t.Fatalf("Summarize = %q, want sentinel", got)
	}
}
