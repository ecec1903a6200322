// Package scratch implements the per-request scratch-state record:
// a small string-keyed map shared by reference between the parsing
// stage, the handler, and the response-writing stage, plus the
// write-poisoning flag a timed-out or disconnected connection sets so
// a late-arriving handler completion becomes a no-op.
package scratch

import "sync"

// Keys the router and common middleware publish into a State.
const (
	KeyMatch        = "match"
	KeyMatches      = "matches"
	KeyRequestID    = "requestID"
	KeyRequestObj   = "requestObject"
	KeyAuthUsername = "authUsername"
)

// State is the scratch record attached to one request/response pair.
// It is safe for concurrent Finish/Finished calls (the handler
// goroutine and the connection's timeout goroutine both touch it),
// but Get/Set are expected to be single-owner per protocol phase,
// same as the rest of the engine.
type State struct {
	mu       sync.Mutex
	finished bool
	values   map[string]any
}

// New returns an empty scratch State.
func New() *State {
	return &State{values: make(map[string]any)}
}

// Get returns the value stored under key, if any.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.values[key] = value
}

// Finished reports whether this request/response pair has been
// finalized (by timeout, disconnect, or normal completion). Handlers
// and middleware MUST consult this before mutating the response from
// outside the normal dispatch path.
func (s *State) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Finish marks the pair finished, returning true the first time it's
// called (so callers can tell whether they won the race to finalize).
func (s *State) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}
