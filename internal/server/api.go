package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/session"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

const (
	recentTranscriptLimit = 50
	maxTestAudioBytes     = 25 << 20
)

func registerAPIRoutes(mux *http.ServeMux, deps *Deps) {
	mux.HandleFunc("GET /api/new-session", func(w http.ResponseWriter, r *http.Request) {
		interval := parseInterval(r.URL.Query().Get("interval"))
		state, err := deps.Sessions.CreateSession(interval)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code":     state.Code,
			"interval": state.IntervalMS,
		})
	})

	mux.HandleFunc("GET /api/session/{code}/status", func(w http.ResponseWriter, r *http.Request) {
		state, ok := resolveSession(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("POST /api/session/{code}/start", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !validCode(code) {
			writeJSONError(w, http.StatusBadRequest, "invalid session code")
			return
		}
		var body struct {
			Interval int64 `json:"interval"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		state, err := deps.Sessions.SetActive(code, true, body.Interval)
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("start session: %v", err))
			return
		}

		deps.Hub.Publish(sessionRoom(code), "record_now", RecordControlEvent{
			Interval:  state.IntervalMS,
			StartTime: state.StartTime,
		})
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("POST /api/session/{code}/stop", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !validCode(code) {
			writeJSONError(w, http.StatusBadRequest, "invalid session code")
			return
		}

		state, err := deps.Sessions.SetActive(code, false, 0)
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stop session: %v", err))
			return
		}

		deps.Hub.Publish(sessionRoom(code), "stop_recording", nil)
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("GET /api/session/{code}/prompt", func(w http.ResponseWriter, r *http.Request) {
		state, ok := resolveSession(w, r, deps)
		if !ok {
			return
		}
		prompt, updatedAt, err := deps.Store.GetPrompt(state.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get prompt: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"prompt":    prompt,
			"updatedAt": updatedAt,
		})
	})

	mux.HandleFunc("POST /api/session/{code}/prompt", func(w http.ResponseWriter, r *http.Request) {
		state, ok := resolveSession(w, r, deps)
		if !ok {
			return
		}
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := deps.Store.UpsertPrompt(state.ID, body.Prompt, time.Now().UnixMilli()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("save prompt: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("GET /api/session/{code}/group/{number}/transcripts", func(w http.ResponseWriter, r *http.Request) {
		state, ok := resolveSession(w, r, deps)
		if !ok {
			return
		}
		number, err := strconv.Atoi(r.PathValue("number"))
		if err != nil || number < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid group number")
			return
		}

		group, err := deps.Store.GetGroup(state.ID, number)
		if errors.Is(err, storage.ErrNotFound) {
			// A group nobody has joined yet has nothing to show.
			writeJSON(w, http.StatusOK, map[string]any{
				"transcripts": []storage.Transcript{},
				"summary":     "",
				"stats":       storage.GroupStats{},
			})
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get group: %v", err))
			return
		}

		transcripts, err := deps.Store.RecentTranscripts(group.ID, recentTranscriptLimit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get transcripts: %v", err))
			return
		}
		// RecentTranscripts is newest-first; the page wants reading order.
		for i, j := 0, len(transcripts)-1; i < j; i, j = i+1, j-1 {
			transcripts[i], transcripts[j] = transcripts[j], transcripts[i]
		}

		summaryText := ""
		if summaryRow, err := deps.Store.GetSummary(group.ID); err == nil {
			summaryText = summaryRow.Text
		} else if !errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get summary: %v", err))
			return
		}

		stats, err := deps.Store.GroupStats(group.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get stats: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"transcripts": transcripts,
			"summary":     summaryText,
			"stats":       stats,
		})
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := storage.HistoryFilter{
			SessionCode: q.Get("code"),
			StartMS:     parseInt64(q.Get("start")),
			EndMS:       parseInt64(q.Get("end")),
			Limit:       int(parseInt64(q.Get("limit"))),
			Offset:      int(parseInt64(q.Get("offset"))),
		}
		sessions, err := deps.Store.ListHistory(filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list history: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	})

	mux.HandleFunc("GET /api/history/session/{code}", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !validCode(code) {
			writeJSONError(w, http.StatusBadRequest, "invalid session code")
			return
		}
		sess, err := deps.Store.GetSessionByCode(code)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session: %v", err))
			return
		}

		groups, err := deps.Store.ListGroups(sess.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list groups: %v", err))
			return
		}

		type groupDetail struct {
			Number      int                  `json:"number"`
			Transcripts []storage.Transcript `json:"transcripts"`
			Summary     string               `json:"summary"`
		}
		details := make([]groupDetail, 0, len(groups))
		for _, g := range groups {
			transcripts, err := deps.Store.GetTranscripts(g.ID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get transcripts: %v", err))
				return
			}
			summaryText := ""
			if summaryRow, err := deps.Store.GetSummary(g.ID); err == nil {
				summaryText = summaryRow.Text
			}
			details = append(details, groupDetail{
				Number:      g.Number,
				Transcripts: transcripts,
				Summary:     summaryText,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": sess,
			"groups":  details,
		})
	})

	mux.HandleFunc("POST /api/test-transcription", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxTestAudioBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "expected multipart audio upload")
			return
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "missing audio file field")
			return
		}
		defer func() { _ = file.Close() }()

		blob, err := io.ReadAll(io.LimitReader(file, maxTestAudioBytes))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("read audio: %v", err))
			return
		}

		started := time.Now()
		result := deps.Transcriber.Transcribe(r.Context(), blob)
		writeJSON(w, http.StatusOK, map[string]any{
			"text":       result.Text,
			"words":      result.Words,
			"durationMs": time.Since(started).Milliseconds(),
		})
	})

	mux.HandleFunc("POST /api/test-summary", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text         string `json:"text"`
			CustomPrompt string `json:"customPrompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		started := time.Now()
		summaryText := deps.Summarizer.Summarize(r.Context(), body.Text, body.CustomPrompt)
		writeJSON(w, http.StatusOK, map[string]any{
			"summary":    summaryText,
			"durationMs": time.Since(started).Milliseconds(),
		})
	})
}

// resolveSession validates the {code} path value and loads (restoring if
// needed) its state, writing the error response itself on failure.
func resolveSession(w http.ResponseWriter, r *http.Request, deps *Deps) (session.State, bool) {
	code := r.PathValue("code")
	if !validCode(code) {
		writeJSONError(w, http.StatusBadRequest, "invalid session code")
		return session.State{}, false
	}
	state, err := deps.Sessions.GetOrRestore(code)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return session.State{}, false
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load session: %v", err))
		return session.State{}, false
	}
	return state, true
}

func validCode(code string) bool {
	return codePattern.MatchString(code)
}

func parseInterval(raw string) int64 {
	if raw == "" {
		return 0
	}
	interval, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || interval < 0 {
		return 0
	}
	return interval
}

func parseInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
