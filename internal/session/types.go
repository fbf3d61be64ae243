// Package session owns the live state of classroom sessions: the registry
// of known codes, the per-session summary timer, and the tick pipeline that
// turns buffered audio into transcripts and summaries.
package session

import (
	"context"
	"fmt"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/transcribe"
)

// DefaultIntervalMS is the summary interval used when nothing is requested.
const DefaultIntervalMS int64 = 30_000

// Store is the durable persistence surface the session layer depends on.
// *storage.SQLiteStore satisfies it.
type Store interface {
	CreateSession(id, code string, intervalMS, createdAt int64) error
	GetSessionByCode(code string) (storage.Session, error)
	ActivateSession(code string, intervalMS int64) error
	DeactivateSession(code string) error
	GetOrCreateGroup(sessionID string, number int, newID string) (storage.Group, error)
	AppendTranscript(t storage.Transcript) error
	GetTranscripts(groupID string) ([]storage.Transcript, error)
	GroupStats(groupID string) (storage.GroupStats, error)
	UpsertSummary(groupID, text string, updatedAt int64) error
	GetPrompt(sessionID string) (string, int64, error)
}

// Rooms reports live websocket membership so a tick knows which groups
// exist right now and which connections contribute audio to each.
type Rooms interface {
	// GroupNumbers lists the group numbers with at least one member,
	// ascending.
	GroupNumbers(code string) []int
	// GroupMembers lists connection ids for one group in join order.
	GroupMembers(code string, number int) []string
}

// Broadcaster fans an event out to every member of a room. Delivery is
// fire-and-forget: slow or gone receivers never block a tick.
type Broadcaster interface {
	Publish(room, event string, payload any)
}

// Summarizer produces a full-conversation summary, returning a sentinel
// string on failure rather than an error.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, customPrompt string) string
}

// State is the cached view of one session, shaped for the status endpoint.
type State struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Active     bool   `json:"active"`
	IntervalMS int64  `json:"interval"`
	StartTime  int64  `json:"startTime,omitempty"`
}

// SessionRoom is the room every connection for a session joins; the admin
// console listens here.
func SessionRoom(code string) string { return code }

// GroupRoom is the room shared by one group's students.
func GroupRoom(code string, number int) string {
	return fmt.Sprintf("%s-%d", code, number)
}

// SegmentPayload is the transcription half of a tick broadcast.
type SegmentPayload struct {
	Text            string            `json:"text"`
	Words           []transcribe.Word `json:"words,omitempty"`
	WordCount       int               `json:"wordCount"`
	DurationSeconds float64           `json:"durationSeconds"`
	SegmentNumber   int64             `json:"segmentNumber"`
	CreatedAt       int64             `json:"createdAt"`
}

// TranscriptionAndSummary goes to the group room after a successful tick.
type TranscriptionAndSummary struct {
	Group         int            `json:"group"`
	Transcription SegmentPayload `json:"transcription"`
	Summary       string         `json:"summary"`
}

// AdminUpdate goes to the session room so the console can track every
// group without joining each group room.
type AdminUpdate struct {
	Group            int                `json:"group"`
	LatestTranscript string             `json:"latestTranscript"`
	Summary          string             `json:"summary"`
	Stats            storage.GroupStats `json:"stats"`
}
