package mockclient

import (
	"context"
	"testing"
	"time"

	"relay/internal/llm"
)

func TestStreamClosesUnderCancelledContext(t *testing.T) {
	client := New(TextScript("never delivered"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream, err := client.StreamChat(ctx, llm.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		for range stream.Chunks() {
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel never closed under a cancelled context")
	}
	if stream.Err() == nil {
		t.Fatal("cancelled stream reports no error")
	}
}
