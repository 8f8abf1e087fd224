package chat

import (
	"context"
	"errors"
	"sync"
)

// ErrTurnActive is returned when a second turn is started on a thread
// whose previous turn has not finished.
var ErrTurnActive = errors.New("a turn is already active on this thread")

// Session is the ephemeral streaming buffer for one thread. It is owned
// exclusively by that thread's active conversation and never shared.
type Session struct {
	ThreadID string

	mu       sync.Mutex
	messages []*UIMessage
	active   bool
	cancel   context.CancelFunc
}

// BeginTurn claims the session for one model turn and stores the cancel
// handle for user-initiated aborts. At most one turn runs per thread.
func (s *Session) BeginTurn(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrTurnActive
	}
	s.active = true
	s.cancel = cancel
	return nil
}

// EndTurn releases the session after a turn completes or aborts.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.active = false
	s.cancel = nil
	s.mu.Unlock()
}

// TurnActive reports whether a turn currently holds the session.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CancelTurn aborts the in-flight turn, if any.
func (s *Session) CancelTurn() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Append adds one in-flight message to the buffer.
func (s *Session) Append(m *UIMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

// Messages snapshots the buffer in order.
func (s *Session) Messages() []*UIMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*UIMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset discards the buffer. Called on thread navigation, explicit clear
// and turn abort; discarded state is never flushed to persistence.
func (s *Session) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Sessions is the registry of live streaming buffers, keyed by thread id.
// Lifecycle is explicit: GetOrCreate, Reset, Destroy.
type Sessions struct {
	mu       sync.RWMutex
	byThread map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byThread: make(map[string]*Session)}
}

// GetOrCreate returns the session for a thread, creating it on first use.
func (r *Sessions) GetOrCreate(threadID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byThread[threadID]
	if !ok {
		s = &Session{ThreadID: threadID}
		r.byThread[threadID] = s
	}
	return s
}

// Get returns the session for a thread, or nil when none exists.
func (r *Sessions) Get(threadID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byThread[threadID]
}

// Reset clears a thread's buffer without destroying the session.
func (r *Sessions) Reset(threadID string) {
	if s := r.Get(threadID); s != nil {
		s.Reset()
	}
}

// Destroy cancels any in-flight turn and drops the session entirely.
func (r *Sessions) Destroy(threadID string) {
	r.mu.Lock()
	s := r.byThread[threadID]
	delete(r.byThread, threadID)
	r.mu.Unlock()
	if s != nil {
		s.CancelTurn()
	}
}
