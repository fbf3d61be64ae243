package session

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
)

// Registry is the in-memory authority on which sessions exist and whether
// they are recording. The store is the durable source of truth; the
// registry caches what it has seen and lazily rehydrates codes it has not,
// re-arming the summary timer for sessions that were active when the
// process last stopped.
type Registry struct {
	mu     sync.Mutex
	store  Store
	sched  *Scheduler
	states map[string]*State

	defaultInterval int64

	now      func() int64
	newID    func() string
	randCode func() string
}

func NewRegistry(store Store, sched *Scheduler) *Registry {
	return &Registry{
		store:           store,
		sched:           sched,
		states:          make(map[string]*State),
		defaultInterval: DefaultIntervalMS,
		now:             func() int64 { return time.Now().UnixMilli() },
		newID:           func() string { return uuid.NewString() },
		randCode: func() string {
			return fmt.Sprintf("%06d", 100000+rand.IntN(900000))
		},
	}
}

// SetDefaultInterval overrides the interval used when a session is created
// or restored without one.
func (r *Registry) SetDefaultInterval(ms int64) {
	if ms <= 0 {
		return
	}
	r.mu.Lock()
	r.defaultInterval = ms
	r.mu.Unlock()
}

// CreateSession mints a new session with a unique 6-digit code. The session
// starts inactive; recording begins with SetActive.
func (r *Registry) CreateSession(intervalMS int64) (State, error) {
	if intervalMS <= 0 {
		intervalMS = r.defaultInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 20; attempt++ {
		code := r.randCode()
		if _, taken := r.states[code]; taken {
			continue
		}
		if _, err := r.store.GetSessionByCode(code); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return State{}, fmt.Errorf("check code: %w", err)
		}

		st := &State{
			ID:         r.newID(),
			Code:       code,
			IntervalMS: intervalMS,
		}
		if err := r.store.CreateSession(st.ID, code, intervalMS, r.now()); err != nil {
			return State{}, fmt.Errorf("create session: %w", err)
		}
		r.states[code] = st
		log.Printf("Session created: code=%s interval=%dms", code, intervalMS)
		return *st, nil
	}
	return State{}, errors.New("could not find a free session code")
}

// GetOrRestore returns the state for code, loading it from the store if the
// registry has not seen it. A restored session that was marked active (a
// restart mid-recording) gets its summary timer re-armed.
func (r *Registry) GetOrRestore(code string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrRestoreLocked(code)
}

func (r *Registry) getOrRestoreLocked(code string) (State, error) {
	if st, ok := r.states[code]; ok {
		return *st, nil
	}

	sess, err := r.store.GetSessionByCode(code)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, ErrSessionNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load session: %w", err)
	}

	st := &State{
		ID:         sess.ID,
		Code:       sess.Code,
		Active:     sess.Active,
		IntervalMS: sess.IntervalMS,
	}
	if st.IntervalMS <= 0 {
		st.IntervalMS = r.defaultInterval
	}
	r.states[code] = st

	if st.Active {
		st.StartTime = r.now()
		r.sched.Start(code, time.Duration(st.IntervalMS)*time.Millisecond)
		log.Printf("Session restored mid-recording: code=%s interval=%dms", code, st.IntervalMS)
	}
	return *st, nil
}

// SetActive starts or stops recording for code. The store is written before
// the cache so a crash between the two re-reads the durable value, and the
// timer is armed or cancelled last.
func (r *Registry) SetActive(code string, active bool, intervalMS int64) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getOrRestoreLocked(code); err != nil {
		return State{}, err
	}
	st := r.states[code]

	if active {
		if intervalMS <= 0 {
			intervalMS = st.IntervalMS
		}
		if intervalMS <= 0 {
			intervalMS = r.defaultInterval
		}
		if err := r.store.ActivateSession(code, intervalMS); err != nil {
			return State{}, fmt.Errorf("activate session: %w", err)
		}
		st.Active = true
		st.IntervalMS = intervalMS
		st.StartTime = r.now()
		r.sched.Start(code, time.Duration(intervalMS)*time.Millisecond)
		log.Printf("Recording started: code=%s interval=%dms", code, intervalMS)
	} else {
		if err := r.store.DeactivateSession(code); err != nil {
			return State{}, fmt.Errorf("deactivate session: %w", err)
		}
		st.Active = false
		st.StartTime = 0
		r.sched.Stop(code)
		log.Printf("Recording stopped: code=%s", code)
	}
	return *st, nil
}

// IsActive reports the cached recording flag. Unknown codes are inactive;
// ticks re-validate against the store separately.
func (r *Registry) IsActive(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[code]
	return ok && st.Active
}

// markInactive downgrades the cache when the store turns out to disagree,
// without touching the store or the scheduler.
func (r *Registry) markInactive(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[code]; ok {
		st.Active = false
		st.StartTime = 0
	}
}
