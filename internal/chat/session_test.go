package chat

import (
	"context"
	"testing"
)

func TestSessionSingleActiveTurn(t *testing.T) {
	s := &Session{ThreadID: "t1"}
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.BeginTurn(cancel); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	if err := s.BeginTurn(cancel); err != ErrTurnActive {
		t.Fatalf("second BeginTurn err = %v, want ErrTurnActive", err)
	}
	s.EndTurn()
	if err := s.BeginTurn(cancel); err != nil {
		t.Fatalf("BeginTurn after EndTurn: %v", err)
	}
}

func TestSessionCancelTurn(t *testing.T) {
	s := &Session{ThreadID: "t1"}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.BeginTurn(cancel); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	if !s.CancelTurn() {
		t.Fatal("CancelTurn returned false with a turn active")
	}
	if ctx.Err() == nil {
		t.Fatal("turn context not cancelled")
	}
	s.EndTurn()
	if s.CancelTurn() {
		t.Fatal("CancelTurn returned true with no turn active")
	}
}

func TestSessionsLifecycle(t *testing.T) {
	r := NewSessions()

	s := r.GetOrCreate("t1")
	if again := r.GetOrCreate("t1"); again != s {
		t.Fatal("GetOrCreate created a second session for the same thread")
	}
	s.Append(&UIMessage{ID: "a1", Role: "assistant"})
	if len(s.Messages()) != 1 {
		t.Fatal("message not buffered")
	}

	r.Reset("t1")
	if len(s.Messages()) != 0 {
		t.Fatal("Reset did not clear the buffer")
	}

	r.Destroy("t1")
	if r.Get("t1") != nil {
		t.Fatal("Destroy left the session registered")
	}
}

func TestSessionsAreThreadScoped(t *testing.T) {
	r := NewSessions()
	a := r.GetOrCreate("t1")
	b := r.GetOrCreate("t2")
	a.Append(&UIMessage{ID: "m1", Role: "assistant"})
	if len(b.Messages()) != 0 {
		t.Fatal("buffer leaked across threads")
	}
}
