// Package audio buffers raw audio chunks per connection until the next
// pipeline tick drains them.
package audio

import "sync"

const (
	DefaultMaxChunks = 512
	DefaultMaxBytes  = 8 << 20
)

// Aggregator owns one bounded chunk buffer per connection. Ingest and
// drain are synchronous; a drained buffer is swapped out atomically under
// the lock so no chunk can land between check and clear.
type Aggregator struct {
	mu        sync.Mutex
	maxChunks int
	maxBytes  int
	buffers   map[string]*buffer
}

type buffer struct {
	chunks  [][]byte
	bytes   int
	dropped int
}

func NewAggregator(maxChunks, maxBytes int) *Aggregator {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Aggregator{
		maxChunks: maxChunks,
		maxBytes:  maxBytes,
		buffers:   make(map[string]*buffer),
	}
}

// Ingest appends a copy of chunk to the connection's buffer. When the
// buffer is at capacity the chunk is dropped and counted; already-buffered
// audio is kept. Returns false when the chunk was dropped.
func (a *Aggregator) Ingest(connID string, chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.buffers[connID]
	if b == nil {
		b = &buffer{}
		a.buffers[connID] = b
	}

	if len(b.chunks) >= a.maxChunks || b.bytes+len(chunk) > a.maxBytes {
		b.dropped++
		return false
	}

	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	b.chunks = append(b.chunks, owned)
	b.bytes += len(owned)
	return true
}

// Drain swaps out and concatenates the buffers of the given connections,
// in the order given. Returns nil when no connection contributed bytes.
func (a *Aggregator) Drain(connIDs []string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total int
	drained := make([][][]byte, 0, len(connIDs))
	for _, id := range connIDs {
		b := a.buffers[id]
		if b == nil || len(b.chunks) == 0 {
			continue
		}
		drained = append(drained, b.chunks)
		total += b.bytes
		b.chunks = nil
		b.bytes = 0
	}

	if total == 0 {
		return nil
	}

	out := make([]byte, 0, total)
	for _, chunks := range drained {
		for _, c := range chunks {
			out = append(out, c...)
		}
	}
	return out
}

// Remove discards the connection's buffer. Undrained audio is lost, which
// is acceptable: in-flight audio is not persisted anywhere else.
func (a *Aggregator) Remove(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, connID)
}

// Dropped reports how many chunks the connection has lost to the cap.
func (a *Aggregator) Dropped(connID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.buffers[connID]; b != nil {
		return b.dropped
	}
	return 0
}

// Buffered reports the byte count currently held for a connection.
func (a *Aggregator) Buffered(connID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b := a.buffers[connID]; b != nil {
		return b.bytes
	}
	return 0
}
