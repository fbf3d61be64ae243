package transcribe

import (
	"context"
	"strings"
)

// FailedText is the sentinel result text for an upstream speech-to-text
// failure. Adapters report failures through it instead of returning errors.
const FailedText = "Transcription failed"

// Word is a single word with its timing offsets within the audio.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the outcome of transcribing one drained audio chunk.
type Result struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Service converts raw audio bytes into text. Implementations never
// propagate upstream errors; they log and return Failure instead.
type Service interface {
	Transcribe(ctx context.Context, audio []byte) Result
}

// Failure returns the sentinel failure result.
func Failure() Result {
	return Result{Text: FailedText, Words: []Word{}}
}

// Failed reports whether the result carries no usable text.
func (r Result) Failed() bool {
	text := strings.TrimSpace(r.Text)
	return text == "" || text == FailedText
}

// WordCount prefers the word-level output when present, falling back to a
// whitespace split of the text.
func (r Result) WordCount() int {
	if len(r.Words) > 0 {
		return len(r.Words)
	}
	return len(strings.Fields(r.Text))
}

// DurationSeconds is the end timestamp of the last word when timings are
// present. Without timings it estimates 0.05 seconds per character,
// clamped to [10, 30] seconds.
func (r Result) DurationSeconds() float64 {
	if len(r.Words) > 0 {
		return r.Words[len(r.Words)-1].End
	}

	estimate := float64(len(r.Text)) * 0.05
	if estimate < 10 {
		return 10
	}
	if estimate > 30 {
		return 30
	}
	return estimate
}
