package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc runs one summary tick for a session. Returning false tells the
// scheduler the session is no longer live and its timer should stop.
type TickFunc func(ctx context.Context, code string) bool

type timerEntry struct {
	cancel   context.CancelFunc
	inFlight *atomic.Bool
}

// Scheduler owns at most one periodic timer per session code. Starting a
// code that already has a timer cancels the old one first, so two timers
// can never tick for the same session. A tick that is still running when
// the next interval elapses is skipped, not queued.
type Scheduler struct {
	mu     sync.Mutex
	tick   TickFunc
	timers map[string]*timerEntry

	// inFlight guards survive Stop/Start cycles so a restarted timer
	// still skips while an old tick is mid-flight.
	flags map[string]*atomic.Bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*timerEntry),
		flags:  make(map[string]*atomic.Bool),
	}
}

// OnTick sets the tick callback. It must be called before the first Start;
// the registry and pipeline are wired to each other through it after both
// exist.
func (s *Scheduler) OnTick(fn TickFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = fn
}

// Start arms the timer for code, replacing any existing one.
func (s *Scheduler) Start(code string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Duration(DefaultIntervalMS) * time.Millisecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[code]; ok {
		old.cancel()
	}
	flag, ok := s.flags[code]
	if !ok {
		flag = &atomic.Bool{}
		s.flags[code] = flag
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &timerEntry{cancel: cancel, inFlight: flag}
	s.timers[code] = entry

	go s.run(ctx, code, interval, entry)
}

func (s *Scheduler) run(ctx context.Context, code string, interval time.Duration, entry *timerEntry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !entry.inFlight.CompareAndSwap(false, true) {
			slog.Warn("summary tick still running, skipping interval", "code", code)
			continue
		}
		keep := s.tickFn()(ctx, code)
		entry.inFlight.Store(false)

		if ctx.Err() != nil {
			return
		}
		if !keep {
			s.remove(code, entry)
			return
		}
	}
}

func (s *Scheduler) tickFn() TickFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick == nil {
		return func(context.Context, string) bool { return false }
	}
	return s.tick
}

// remove drops the timer entry only if it is still the current one for the
// code; a restart may have replaced it while the last tick ran.
func (s *Scheduler) remove(code string, entry *timerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[code]; ok && cur == entry {
		entry.cancel()
		delete(s.timers, code)
	}
}

// Stop cancels the timer for code, if any.
func (s *Scheduler) Stop(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[code]; ok {
		entry.cancel()
		delete(s.timers, code)
	}
}

// StopAll cancels every timer; used on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, entry := range s.timers {
		entry.cancel()
		delete(s.timers, code)
	}
}

// IsRunning reports whether a timer is armed for code.
func (s *Scheduler) IsRunning(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[code]
	return ok
}
