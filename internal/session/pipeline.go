package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/audio"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/summary"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/transcribe"
)

// Pipeline runs one summary tick: per group, drain buffered audio,
// transcribe it, persist the segment, recompute the full-conversation
// summary, and broadcast. Failures in one group never touch its siblings.
type Pipeline struct {
	registry   *Registry
	store      Store
	agg        *audio.Aggregator
	transcribe transcribe.Service
	summarizer Summarizer
	rooms      Rooms
	bcast      Broadcaster

	now   func() int64
	newID func() string
}

func NewPipeline(registry *Registry, store Store, agg *audio.Aggregator, stt transcribe.Service, sum Summarizer, rooms Rooms, bcast Broadcaster) *Pipeline {
	return &Pipeline{
		registry:   registry,
		store:      store,
		agg:        agg,
		transcribe: stt,
		summarizer: sum,
		rooms:      rooms,
		bcast:      bcast,
		now:        func() int64 { return time.Now().UnixMilli() },
		newID:      func() string { return uuid.NewString() },
	}
}

// Tick processes every live group of one session. It returns false when the
// session is no longer active so the scheduler drops the timer.
func (p *Pipeline) Tick(ctx context.Context, code string) bool {
	if !p.registry.IsActive(code) {
		return false
	}
	sess, err := p.store.GetSessionByCode(code)
	if errors.Is(err, storage.ErrNotFound) {
		p.registry.markInactive(code)
		return false
	}
	if err != nil {
		slog.Error("tick: load session failed", "code", code, "error", err)
		return true
	}
	if !sess.Active {
		p.registry.markInactive(code)
		return false
	}

	for _, number := range p.rooms.GroupNumbers(code) {
		p.runGroup(ctx, sess, number)
	}
	return true
}

func (p *Pipeline) runGroup(ctx context.Context, sess storage.Session, number int) {
	members := p.rooms.GroupMembers(sess.Code, number)
	if len(members) == 0 {
		return
	}
	blob := p.agg.Drain(members)
	if len(blob) == 0 {
		return
	}

	result := p.transcribe.Transcribe(ctx, blob)
	if result.Failed() {
		slog.Warn("tick: transcription failed, dropping drained audio",
			"code", sess.Code, "group", number, "bytes", len(blob))
		return
	}

	// The transcription round trip is the long pause in a tick; the admin
	// may have stopped the session meanwhile. Nothing durable is written
	// for a stopped session.
	fresh, err := p.store.GetSessionByCode(sess.Code)
	if err != nil || !fresh.Active {
		slog.Warn("tick: session stopped mid-flight, discarding segment",
			"code", sess.Code, "group", number)
		return
	}

	group, err := p.store.GetOrCreateGroup(sess.ID, number, p.newID())
	if err != nil {
		slog.Error("tick: resolve group failed", "code", sess.Code, "group", number, "error", err)
		return
	}

	nowMS := p.now()
	intervalMS := fresh.IntervalMS
	if intervalMS <= 0 {
		intervalMS = DefaultIntervalMS
	}
	segment := storage.Transcript{
		ID:              p.newID(),
		GroupID:         group.ID,
		Text:            result.Text,
		WordCount:       result.WordCount(),
		DurationSeconds: result.DurationSeconds(),
		SegmentNumber:   nowMS / intervalMS,
		CreatedAt:       nowMS,
	}
	if err := p.store.AppendTranscript(segment); err != nil {
		slog.Error("tick: persist segment failed", "code", sess.Code, "group", number, "error", err)
		return
	}

	summaryText := p.summarizeGroup(ctx, sess.ID, group.ID, nowMS)

	stats, err := p.store.GroupStats(group.ID)
	if err != nil {
		slog.Warn("tick: group stats failed", "code", sess.Code, "group", number, "error", err)
	}

	payload := TranscriptionAndSummary{
		Group: number,
		Transcription: SegmentPayload{
			Text:            segment.Text,
			Words:           result.Words,
			WordCount:       segment.WordCount,
			DurationSeconds: segment.DurationSeconds,
			SegmentNumber:   segment.SegmentNumber,
			CreatedAt:       segment.CreatedAt,
		},
		Summary: summaryText,
	}
	p.bcast.Publish(GroupRoom(sess.Code, number), "transcription_and_summary", payload)
	p.bcast.Publish(SessionRoom(sess.Code), "admin_update", AdminUpdate{
		Group:            number,
		LatestTranscript: segment.Text,
		Summary:          summaryText,
		Stats:            stats,
	})
}

// summarizeGroup recomputes the full-conversation summary and persists it.
// A failed summarization still reaches the broadcast as the sentinel text,
// but never overwrites the last good stored summary.
func (p *Pipeline) summarizeGroup(ctx context.Context, sessionID, groupID string, nowMS int64) string {
	all, err := p.store.GetTranscripts(groupID)
	if err != nil {
		slog.Error("tick: load transcripts failed", "group_id", groupID, "error", err)
		return summary.FailedText
	}
	parts := make([]string, 0, len(all))
	for _, t := range all {
		parts = append(parts, t.Text)
	}
	fullText := strings.Join(parts, " ")

	prompt, _, err := p.store.GetPrompt(sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("tick: load prompt failed", "session_id", sessionID, "error", err)
		prompt = ""
	}

	text := p.summarizer.Summarize(ctx, fullText, prompt)
	if text == "" || text == summary.FailedText {
		return text
	}
	if err := p.store.UpsertSummary(groupID, text, nowMS); err != nil {
		slog.Error("tick: persist summary failed", "group_id", groupID, "error", err)
	}
	return text
}
