package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestThreadLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, "t1", "alice", "first thread")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if created.Owner != "alice" {
		t.Fatalf("owner = %q, want alice", created.Owner)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.Title != "first thread" {
		t.Fatalf("title = %q, want first thread", got.Title)
	}
	if got.LastAIResponseAt != nil {
		t.Fatal("new thread should have no last_ai_response_at")
	}

	if err := s.RenameThread(ctx, "t1", "renamed"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	got, err = s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread after rename: %v", err)
	}
	if got.Title != "renamed" {
		t.Fatalf("title = %q, want renamed", got.Title)
	}

	if err := s.DeleteThread(ctx, "t1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := s.GetThread(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetThread after delete: err = %v, want ErrNotFound", err)
	}
}

func TestListThreadsScopedToOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "a1", "alice", "one"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := s.CreateThread(ctx, "b1", "bob", "two"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	threads, err := s.ListThreads(ctx, "alice")
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != "a1" {
		t.Fatalf("ListThreads(alice) = %+v, want only a1", threads)
	}
}

func TestAppendMessagePreservesCallerID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	msg, err := s.AppendMessage(ctx, Message{ID: "msg-abc", ThreadID: "t1", Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID != "msg-abc" {
		t.Fatalf("id = %q, want msg-abc (caller-supplied id must survive persistence)", msg.ID)
	}

	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg-abc" {
		t.Fatalf("ListMessages = %+v, want one row msg-abc", msgs)
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := s.AppendMessage(ctx, Message{ID: "m1", ThreadID: "t1", Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for role=tool")
	}
}

func TestAssistantMessageStampsLastAIResponse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := s.AppendMessage(ctx, Message{ID: "m1", ThreadID: "t1", Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage user: %v", err)
	}
	thread, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.LastAIResponseAt != nil {
		t.Fatal("user message must not stamp last_ai_response_at")
	}

	if _, err := s.AppendMessage(ctx, Message{ID: "m2", ThreadID: "t1", Role: RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}
	thread, err = s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.LastAIResponseAt == nil {
		t.Fatal("assistant message must stamp last_ai_response_at")
	}
}

func TestMessagesOrderedByCreationThenID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Second)
	rows := []Message{
		{ID: "m2", ThreadID: "t1", Role: RoleAssistant, Content: "b", CreatedAt: base},
		{ID: "m1", ThreadID: "t1", Role: RoleUser, Content: "a", CreatedAt: base},
		{ID: "m3", ThreadID: "t1", Role: RoleUser, Content: "c", CreatedAt: base.Add(time.Second)},
	}
	for _, m := range rows {
		if _, err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage %s: %v", m.ID, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []string{"m1", "m2", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, id)
		}
	}
}

func TestDeleteThreadCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := s.AppendMessage(ctx, Message{ID: "m1", ThreadID: "t1", Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteThread(ctx, "t1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived thread delete: %+v", msgs)
	}
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, "t1", "alice", ""); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := s.AppendMessage(ctx, Message{ID: "m1", ThreadID: "t1", Role: RoleUser, Content: "draft"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.UpdateMessageContent(ctx, "m1", "final"); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if msgs[0].Content != "final" {
		t.Fatalf("content = %q, want final", msgs[0].Content)
	}

	if err := s.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := s.DeleteMessage(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}
