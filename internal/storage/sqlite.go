package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Session is one classroom recording session identified by a short code.
type Session struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	IntervalMS int64  `json:"interval_ms"`
	CreatedAt  int64  `json:"created_at"`
	Active     bool   `json:"active"`
}

// Group is a sub-team within a session, identified by a number.
type Group struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Number    int    `json:"number"`
}

// Transcript is one immutable transcription segment for a group.
type Transcript struct {
	ID              string  `json:"id,omitempty"`
	GroupID         string  `json:"group_id,omitempty"`
	Text            string  `json:"text"`
	WordCount       int     `json:"word_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	SegmentNumber   int64   `json:"segment_number"`
	CreatedAt       int64   `json:"created_at"`
}

// Summary is the single full-conversation summary row for a group.
type Summary struct {
	GroupID   string `json:"group_id,omitempty"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updated_at"`
}

// GroupStats are running totals over a group's transcripts.
type GroupStats struct {
	TotalSegments int     `json:"totalSegments"`
	TotalWords    int     `json:"totalWords"`
	TotalDuration float64 `json:"totalDuration"`
	LastUpdate    int64   `json:"lastUpdate"`
}

// SessionHistory is a session row with per-session aggregates for the
// history listing.
type SessionHistory struct {
	Session
	GroupCount       int     `json:"group_count"`
	TotalTranscripts int     `json:"total_transcripts"`
	TotalWords       int     `json:"total_words"`
	TotalDuration    float64 `json:"total_duration"`
}

// HistoryFilter narrows the history listing.
type HistoryFilter struct {
	SessionCode string
	StartMS     int64
	EndMS       int64
	Limit       int
	Offset      int
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "classroom.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			interval_ms INTEGER NOT NULL DEFAULT 30000,
			created_at INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			UNIQUE(session_id, number),
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);
	`); err != nil {
		return fmt.Errorf("create groups table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			text TEXT NOT NULL,
			word_count INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			segment_number INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(group_id) REFERENCES groups(id)
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			group_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY(group_id) REFERENCES groups(id)
		);
	`); err != nil {
		return fmt.Errorf("create summaries table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_prompts (
			session_id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);
	`); err != nil {
		return fmt.Errorf("create session_prompts table: %w", err)
	}

	if _, err := s.db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_transcripts_group_created ON transcripts(group_id, created_at)",
	); err != nil {
		return fmt.Errorf("create transcripts index: %w", err)
	}
	if _, err := s.db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)",
	); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id, code string, intervalMS, createdAt int64) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(code) == "" {
		return errors.New("session id and code are required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, code, interval_ms, created_at, active) VALUES(?, ?, ?, ?, 0)`,
		id, code, intervalMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", code, err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionByCode(code string) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, code, interval_ms, created_at, active FROM sessions WHERE code = ?`,
		code,
	)

	var sess Session
	var active int
	if err := row.Scan(&sess.ID, &sess.Code, &sess.IntervalMS, &sess.CreatedAt, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("query session %s: %w", code, err)
	}
	sess.Active = active != 0

	return sess, nil
}

// ActivateSession marks the session active and records the interval the
// admin chose for this run.
func (s *SQLiteStore) ActivateSession(code string, intervalMS int64) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET active = 1, interval_ms = ? WHERE code = ?`,
		intervalMS, code,
	)
	if err != nil {
		return fmt.Errorf("activate session %s: %w", code, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeactivateSession(code string) error {
	res, err := s.db.Exec(`UPDATE sessions SET active = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deactivate session %s: %w", code, err)
	}
	return requireRow(res)
}

// DeactivateAll clears every active flag. Run at shutdown so a restart
// does not resurrect timers for sessions nobody is running.
func (s *SQLiteStore) DeactivateAll() error {
	if _, err := s.db.Exec(`UPDATE sessions SET active = 0`); err != nil {
		return fmt.Errorf("deactivate all sessions: %w", err)
	}
	return nil
}

// GetOrCreateGroup resolves the group for (session, number), creating it
// with the supplied id on first join. The existing row always wins, so two
// racing joins observe the same group id.
func (s *SQLiteStore) GetOrCreateGroup(sessionID string, number int, newID string) (Group, error) {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO groups(id, session_id, number) VALUES(?, ?, ?)`,
		newID, sessionID, number,
	); err != nil {
		return Group{}, fmt.Errorf("create group %d for session %s: %w", number, sessionID, err)
	}

	row := s.db.QueryRow(
		`SELECT id, session_id, number FROM groups WHERE session_id = ? AND number = ?`,
		sessionID, number,
	)
	var g Group
	if err := row.Scan(&g.ID, &g.SessionID, &g.Number); err != nil {
		return Group{}, fmt.Errorf("query group %d for session %s: %w", number, sessionID, err)
	}
	return g, nil
}

func (s *SQLiteStore) GetGroup(sessionID string, number int) (Group, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, number FROM groups WHERE session_id = ? AND number = ?`,
		sessionID, number,
	)
	var g Group
	if err := row.Scan(&g.ID, &g.SessionID, &g.Number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, ErrNotFound
		}
		return Group{}, fmt.Errorf("query group %d for session %s: %w", number, sessionID, err)
	}
	return g, nil
}

func (s *SQLiteStore) ListGroups(sessionID string) ([]Group, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, number FROM groups WHERE session_id = ? ORDER BY number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Number); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

func (s *SQLiteStore) AppendTranscript(t Transcript) error {
	_, err := s.db.Exec(
		`INSERT INTO transcripts(id, group_id, text, word_count, duration_seconds, segment_number, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.GroupID, strings.TrimSpace(t.Text), t.WordCount, t.DurationSeconds, t.SegmentNumber, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transcript for group %s: %w", t.GroupID, err)
	}
	return nil
}

// GetTranscripts returns every transcript for a group in creation order.
func (s *SQLiteStore) GetTranscripts(groupID string) ([]Transcript, error) {
	return s.queryTranscripts(
		`SELECT id, group_id, text, word_count, duration_seconds, segment_number, created_at
		 FROM transcripts WHERE group_id = ? ORDER BY created_at ASC, id ASC`,
		groupID,
	)
}

// RecentTranscripts returns the newest transcripts first, capped at limit.
func (s *SQLiteStore) RecentTranscripts(groupID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryTranscripts(
		`SELECT id, group_id, text, word_count, duration_seconds, segment_number, created_at
		 FROM transcripts WHERE group_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		groupID, limit,
	)
}

func (s *SQLiteStore) queryTranscripts(query string, args ...any) ([]Transcript, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	transcripts := make([]Transcript, 0, 32)
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Text, &t.WordCount, &t.DurationSeconds, &t.SegmentNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return transcripts, nil
}

func (s *SQLiteStore) GroupStats(groupID string) (GroupStats, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(word_count), 0), COALESCE(SUM(duration_seconds), 0), COALESCE(MAX(created_at), 0)
		 FROM transcripts WHERE group_id = ?`,
		groupID,
	)

	var stats GroupStats
	if err := row.Scan(&stats.TotalSegments, &stats.TotalWords, &stats.TotalDuration, &stats.LastUpdate); err != nil {
		return GroupStats{}, fmt.Errorf("query stats for group %s: %w", groupID, err)
	}
	return stats, nil
}

// UpsertSummary writes the group's full-conversation summary. A row that is
// already newer than updatedAt is left untouched, so a slow recomputation
// started before a faster one can never overwrite the fresher text.
func (s *SQLiteStore) UpsertSummary(groupID, text string, updatedAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO summaries(group_id, text, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= summaries.updated_at`,
		groupID, text, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert summary for group %s: %w", groupID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSummary(groupID string) (Summary, error) {
	row := s.db.QueryRow(`SELECT group_id, text, updated_at FROM summaries WHERE group_id = ?`, groupID)

	var sum Summary
	if err := row.Scan(&sum.GroupID, &sum.Text, &sum.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, fmt.Errorf("query summary for group %s: %w", groupID, err)
	}
	return sum, nil
}

func (s *SQLiteStore) UpsertPrompt(sessionID, prompt string, updatedAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO session_prompts(session_id, prompt, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET prompt = excluded.prompt, updated_at = excluded.updated_at`,
		sessionID, strings.TrimSpace(prompt), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert prompt for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPrompt(sessionID string) (string, int64, error) {
	row := s.db.QueryRow(`SELECT prompt, updated_at FROM session_prompts WHERE session_id = ?`, sessionID)

	var prompt string
	var updatedAt int64
	if err := row.Scan(&prompt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, ErrNotFound
		}
		return "", 0, fmt.Errorf("query prompt for session %s: %w", sessionID, err)
	}
	return prompt, updatedAt, nil
}

// ListHistory returns sessions newest-first with per-session aggregates.
func (s *SQLiteStore) ListHistory(filter HistoryFilter) ([]SessionHistory, error) {
	query := `
		SELECT s.id, s.code, s.interval_ms, s.created_at, s.active,
		       COUNT(DISTINCT g.id),
		       COUNT(DISTINCT t.id),
		       COALESCE(SUM(t.word_count), 0),
		       COALESCE(SUM(t.duration_seconds), 0)
		FROM sessions s
		LEFT JOIN groups g ON s.id = g.session_id
		LEFT JOIN transcripts t ON g.id = t.group_id
		WHERE 1=1`
	var args []any

	if filter.SessionCode != "" {
		query += " AND s.code = ?"
		args = append(args, filter.SessionCode)
	}
	if filter.StartMS > 0 {
		query += " AND s.created_at >= ?"
		args = append(args, filter.StartMS)
	}
	if filter.EndMS > 0 {
		query += " AND s.created_at <= ?"
		args = append(args, filter.EndMS)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += `
		GROUP BY s.id, s.code, s.interval_ms, s.created_at, s.active
		ORDER BY s.created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]SessionHistory, 0, 16)
	for rows.Next() {
		var h SessionHistory
		var active int
		if err := rows.Scan(
			&h.ID, &h.Code, &h.IntervalMS, &h.CreatedAt, &active,
			&h.GroupCount, &h.TotalTranscripts, &h.TotalWords, &h.TotalDuration,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		h.Active = active != 0
		sessions = append(sessions, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return sessions, nil
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
