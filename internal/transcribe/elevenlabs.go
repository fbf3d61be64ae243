package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const elevenLabsEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabs transcribes audio through the ElevenLabs speech-to-text API
// with word-level timestamps.
type ElevenLabs struct {
	apiKey   string
	modelID  string
	endpoint string
	client   *http.Client
}

func NewElevenLabs(apiKey, modelID string) *ElevenLabs {
	return NewElevenLabsWithEndpoint(apiKey, modelID, elevenLabsEndpoint)
}

// NewElevenLabsWithEndpoint overrides the API endpoint. Used by tests.
func NewElevenLabsWithEndpoint(apiKey, modelID, endpoint string) *ElevenLabs {
	if strings.TrimSpace(modelID) == "" {
		modelID = "scribe_v1"
	}
	return &ElevenLabs{
		apiKey:   apiKey,
		modelID:  modelID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type elevenLabsResponse struct {
	Text  string `json:"text"`
	Words []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Type  string  `json:"type"`
	} `json:"words"`
}

func (e *ElevenLabs) Transcribe(ctx context.Context, audio []byte) Result {
	body, contentType, err := buildTranscriptionForm(audio, e.modelID)
	if err != nil {
		slog.Warn("elevenlabs: build request failed", "error", err)
		return Failure()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		slog.Warn("elevenlabs: build request failed", "error", err)
		return Failure()
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Warn("elevenlabs: request failed", "error", err)
		return Failure()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Warn("elevenlabs: api error", "status", resp.StatusCode, "body", string(detail))
		return Failure()
	}

	var parsed elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.Warn("elevenlabs: decode response failed", "error", err)
		return Failure()
	}

	if strings.TrimSpace(parsed.Text) == "" {
		return Failure()
	}

	words := make([]Word, 0, len(parsed.Words))
	for _, w := range parsed.Words {
		// The API interleaves spacing tokens with real words.
		if w.Type == "spacing" {
			continue
		}
		words = append(words, Word{Text: w.Text, Start: w.Start, End: w.End})
	}

	return Result{Text: parsed.Text, Words: words}
}

func buildTranscriptionForm(audio []byte, modelID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}

	if err := mw.WriteField("model_id", modelID); err != nil {
		return nil, "", fmt.Errorf("write model_id: %w", err)
	}
	if err := mw.WriteField("timestamps_granularity", "word"); err != nil {
		return nil, "", fmt.Errorf("write timestamps_granularity: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
