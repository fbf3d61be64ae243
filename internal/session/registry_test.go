package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
)

// fakeStore is an in-memory Store with per-method error injection, shared
// by the registry and pipeline tests.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]storage.Session
	groups      map[string]storage.Group // keyed session_id/number
	transcripts map[string][]storage.Transcript
	summaries   map[string]storage.Summary
	prompts     map[string]string

	activateErr   error
	deactivateErr error
	appendErr     error

	appended []storage.Transcript
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]storage.Session),
		groups:      make(map[string]storage.Group),
		transcripts: make(map[string][]storage.Transcript),
		summaries:   make(map[string]storage.Summary),
		prompts:     make(map[string]string),
	}
}

func groupKey(sessionID string, number int) string {
	return sessionID + "/" + strconv.Itoa(number)
}

func (f *fakeStore) CreateSession(id, code string, intervalMS, createdAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[code]; ok {
		return errors.New("code already exists")
	}
	f.sessions[code] = storage.Session{ID: id, Code: code, IntervalMS: intervalMS, CreatedAt: createdAt}
	return nil
}

func (f *fakeStore) GetSessionByCode(code string) (storage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[code]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (f *fakeStore) ActivateSession(code string, intervalMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	sess := f.sessions[code]
	sess.Active = true
	sess.IntervalMS = intervalMS
	f.sessions[code] = sess
	return nil
}

func (f *fakeStore) DeactivateSession(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	sess := f.sessions[code]
	sess.Active = false
	f.sessions[code] = sess
	return nil
}

func (f *fakeStore) GetOrCreateGroup(sessionID string, number int, newID string) (storage.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := groupKey(sessionID, number)
	if g, ok := f.groups[key]; ok {
		return g, nil
	}
	g := storage.Group{ID: newID, SessionID: sessionID, Number: number}
	f.groups[key] = g
	return g, nil
}

func (f *fakeStore) AppendTranscript(t storage.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.transcripts[t.GroupID] = append(f.transcripts[t.GroupID], t)
	f.appended = append(f.appended, t)
	return nil
}

func (f *fakeStore) GetTranscripts(groupID string) ([]storage.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Transcript(nil), f.transcripts[groupID]...), nil
}

func (f *fakeStore) GroupStats(groupID string) (storage.GroupStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats storage.GroupStats
	for _, t := range f.transcripts[groupID] {
		stats.TotalSegments++
		stats.TotalWords += t.WordCount
		stats.TotalDuration += t.DurationSeconds
		if t.CreatedAt > stats.LastUpdate {
			stats.LastUpdate = t.CreatedAt
		}
	}
	return stats, nil
}

func (f *fakeStore) UpsertSummary(groupID, text string, updatedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[groupID] = storage.Summary{GroupID: groupID, Text: text, UpdatedAt: updatedAt}
	return nil
}

func (f *fakeStore) GetPrompt(sessionID string) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prompts[sessionID]
	if !ok {
		return "", 0, storage.ErrNotFound
	}
	return p, 0, nil
}

func newTestRegistry(t *testing.T, store Store) (*Registry, *Scheduler) {
	t.Helper()
	sched := NewScheduler()
	sched.OnTick(func(context.Context, string) bool { return true })
	t.Cleanup(sched.StopAll)
	reg := NewRegistry(store, sched)
	reg.now = func() int64 { return 1_700_000_000_000 }
	return reg, sched
}

func TestCreateSessionRetriesTakenCodes(t *testing.T) {
	store := newFakeStore()
	reg, _ := newTestRegistry(t, store)

	if err := store.CreateSession("old", "111111", 30000, 1); err != nil {
		t.Fatal(err)
	}
	codes := []string{"111111", "111111", "222222"}
	reg.randCode = func() string {
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c
	}

	st, err := reg.CreateSession(0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if st.Code != "222222" {
		t.Errorf("code = %q, want the first untaken code", st.Code)
	}
	if st.IntervalMS != DefaultIntervalMS {
		t.Errorf("interval = %d, want default %d", st.IntervalMS, DefaultIntervalMS)
	}
	if st.Active {
		t.Error("new session should start inactive")
	}
}

func TestGetOrRestoreUnknownCode(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeStore())
	if _, err := reg.GetOrRestore("999999"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetOrRestoreReArmsActiveSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["123456"] = storage.Session{
		ID: "s1", Code: "123456", IntervalMS: 60_000, Active: true,
	}
	reg, sched := newTestRegistry(t, store)

	st, err := reg.GetOrRestore("123456")
	if err != nil {
		t.Fatalf("GetOrRestore: %v", err)
	}
	if !st.Active {
		t.Error("restored session should be active")
	}
	if !sched.IsRunning("123456") {
		t.Error("restoring an active session should re-arm its timer")
	}

	// A second lookup hits the cache and must not double-arm.
	if _, err := reg.GetOrRestore("123456"); err != nil {
		t.Fatalf("cached GetOrRestore: %v", err)
	}
}

func TestGetOrRestoreInactiveSessionDoesNotArm(t *testing.T) {
	store := newFakeStore()
	store.sessions["123456"] = storage.Session{ID: "s1", Code: "123456", IntervalMS: 30_000}
	reg, sched := newTestRegistry(t, store)

	if _, err := reg.GetOrRestore("123456"); err != nil {
		t.Fatal(err)
	}
	if sched.IsRunning("123456") {
		t.Error("inactive session must not get a timer")
	}
}

func TestSetActiveStartsAndStopsTimer(t *testing.T) {
	store := newFakeStore()
	reg, sched := newTestRegistry(t, store)
	reg.randCode = func() string { return "654321" }
	if _, err := reg.CreateSession(30_000); err != nil {
		t.Fatal(err)
	}

	st, err := reg.SetActive("654321", true, 45_000)
	if err != nil {
		t.Fatalf("SetActive(true): %v", err)
	}
	if !st.Active || st.IntervalMS != 45_000 {
		t.Errorf("state = %+v, want active with interval 45000", st)
	}
	if !sched.IsRunning("654321") {
		t.Error("start must arm the timer")
	}
	if sess, _ := store.GetSessionByCode("654321"); !sess.Active {
		t.Error("start must persist active=true")
	}

	st, err = reg.SetActive("654321", false, 0)
	if err != nil {
		t.Fatalf("SetActive(false): %v", err)
	}
	if st.Active || st.StartTime != 0 {
		t.Errorf("state after stop = %+v", st)
	}
	if sched.IsRunning("654321") {
		t.Error("stop must cancel the timer")
	}
	if sess, _ := store.GetSessionByCode("654321"); sess.Active {
		t.Error("stop must persist active=false")
	}
}

func TestSetActiveStoreFailureLeavesCacheUntouched(t *testing.T) {
	store := newFakeStore()
	reg, sched := newTestRegistry(t, store)
	reg.randCode = func() string { return "654321" }
	if _, err := reg.CreateSession(30_000); err != nil {
		t.Fatal(err)
	}

	store.activateErr = errors.New("disk full")
	if _, err := reg.SetActive("654321", true, 0); err == nil {
		t.Fatal("expected store error to surface")
	}
	if reg.IsActive("654321") {
		t.Error("cache must not go active when the store write failed")
	}
	if sched.IsRunning("654321") {
		t.Error("timer must not arm when the store write failed")
	}
}

func TestSetActiveUnknownCode(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeStore())
	if _, err := reg.SetActive("000000", true, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMarkInactiveDowngradesCacheOnly(t *testing.T) {
	store := newFakeStore()
	reg, _ := newTestRegistry(t, store)
	reg.randCode = func() string { return "111222" }
	if _, err := reg.CreateSession(0); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.SetActive("111222", true, 0); err != nil {
		t.Fatal(err)
	}

	reg.markInactive("111222")
	if reg.IsActive("111222") {
		t.Error("markInactive must clear the cached flag")
	}
	// The store keeps its own value; markInactive is a cache correction.
	if sess, _ := store.GetSessionByCode("111222"); !sess.Active {
		t.Error("markInactive must not write the store")
	}
}
