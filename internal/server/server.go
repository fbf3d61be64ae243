package server

import (
	"net/http"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/audio"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/session"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/transcribe"
)

// SessionControl is the registry surface the transport needs.
type SessionControl interface {
	CreateSession(intervalMS int64) (session.State, error)
	GetOrRestore(code string) (session.State, error)
	SetActive(code string, active bool, intervalMS int64) (session.State, error)
}

// Store is the read/write surface of the API handlers. *storage.SQLiteStore
// satisfies it.
type Store interface {
	GetSessionByCode(code string) (storage.Session, error)
	GetOrCreateGroup(sessionID string, number int, newID string) (storage.Group, error)
	GetGroup(sessionID string, number int) (storage.Group, error)
	ListGroups(sessionID string) ([]storage.Group, error)
	GetTranscripts(groupID string) ([]storage.Transcript, error)
	RecentTranscripts(groupID string, limit int) ([]storage.Transcript, error)
	GroupStats(groupID string) (storage.GroupStats, error)
	GetSummary(groupID string) (storage.Summary, error)
	UpsertPrompt(sessionID, prompt string, updatedAt int64) error
	GetPrompt(sessionID string) (string, int64, error)
	ListHistory(filter storage.HistoryFilter) ([]storage.SessionHistory, error)
}

// Deps collects everything the HTTP and websocket layers touch.
type Deps struct {
	Sessions    SessionControl
	Store       Store
	Hub         *Hub
	Audio       *audio.Aggregator
	Transcriber transcribe.Service
	Summarizer  session.Summarizer
}

// Handler assembles the full HTTP surface: the REST API, the websocket
// endpoint, and an optional static directory for the classroom pages.
func Handler(deps *Deps, staticDir string) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, deps)
	registerAPIRoutes(mux, deps)

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}
