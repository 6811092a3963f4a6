package transport

import "sync"

// streamRegistry is the Stream Registry of spec.md §4.2: a concurrent
// mapping from stream id to *Stream. Lookup and remove are safe from any
// goroutine; insertion (paired with id assignment) is only ever done by the
// Transport while holding its own lock, per spec.md's invariant that
// assignment and insertion happen atomically together.
//
// Adapted from the teacher's sorted-slice Streams type (streams.go): a
// single connection's own goroutine no longer owns every lookup, so the
// backing structure is generalized from a slice protected by the caller to
// a map guarded by the registry's own sync.RWMutex, safe under concurrent
// lookup/remove on its own.
type streamRegistry struct {
	mu      sync.RWMutex
	streams map[uint32]*Stream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[uint32]*Stream)}
}

// insert adds s under s.id. Callers must already hold the Transport lock.
func (r *streamRegistry) insert(s *Stream) {
	r.mu.Lock()
	r.streams[s.id] = s
	r.mu.Unlock()
}

// get returns the stream for id, or nil if not present.
func (r *streamRegistry) get(id uint32) *Stream {
	r.mu.RLock()
	s := r.streams[id]
	r.mu.RUnlock()
	return s
}

// remove deletes id and reports whether it was present.
func (r *streamRegistry) remove(id uint32) (*Stream, bool) {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	return s, ok
}

// len reports the number of live streams; used for the quiescence check.
func (r *streamRegistry) len() int {
	r.mu.RLock()
	n := len(r.streams)
	r.mu.RUnlock()
	return n
}

// snapshot returns every currently-registered stream. Per spec.md §5, bulk
// iteration for a GOAWAY-abort set must be performed while the Transport
// lock is held by the caller, to avoid racing with id assignment; snapshot
// itself only takes the registry's own lock, briefly, to copy the slice.
func (r *streamRegistry) snapshot() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}
