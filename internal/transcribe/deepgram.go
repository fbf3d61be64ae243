package transcribe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Deepgram transcribes audio through the Deepgram prerecorded REST API.
type Deepgram struct {
	api   *prerecorded.Client
	model string
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if strings.TrimSpace(model) == "" {
		model = "nova-2"
	}
	rest := client.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{api: prerecorded.New(rest), model: model}
}

func (d *Deepgram) Transcribe(ctx context.Context, audio []byte) Result {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Punctuate:   true,
		SmartFormat: true,
	}

	resp, err := d.api.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		slog.Warn("deepgram: transcription failed", "error", err)
		return Failure()
	}
	if resp == nil || len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return Failure()
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return Failure()
	}

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		wordText := w.PunctuatedWord
		if wordText == "" {
			wordText = w.Word
		}
		words = append(words, Word{Text: wordText, Start: w.Start, End: w.End})
	}

	return Result{Text: text, Words: words}
}
