package llm

import (
	"context"
	"sync"
)

// ChunkType discriminates the events a completion stream can carry.
type ChunkType string

const (
	ChunkTextDelta        ChunkType = "text-delta"
	ChunkThinkingDelta    ChunkType = "thinking-delta"
	ChunkToolCallDelta    ChunkType = "tool-call-delta"
	ChunkToolCallComplete ChunkType = "tool-call-complete"
	ChunkToolResult       ChunkType = "tool-result"
	ChunkFinish           ChunkType = "finish"
)

// FinishReason explains why the provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Chunk is one typed event on a completion stream. Only the fields
// relevant to its Type are populated.
type Chunk struct {
	Type ChunkType `json:"type"`

	// Text carries the delta payload for text-delta and thinking-delta.
	Text string `json:"text,omitempty"`

	// Tool call fields. ArgsDelta grows fragment by fragment; Args is
	// the full raw JSON, set only on tool-call-complete and tool-result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsDelta  string `json:"args_delta,omitempty"`
	Args       string `json:"args,omitempty"`

	// Result carries the serialized outcome on tool-result chunks.
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// Stream is a channel-backed sequence of chunks with an explicit close.
// Producers Send until done, then Close (or CloseWithError); consumers
// range over Chunks and check Err once the channel is drained.
type Stream struct {
	ch   chan Chunk
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewStream allocates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	return &Stream{
		ch:   make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Chunks exposes the receive side. The channel closes when the producer
// calls Close or CloseWithError.
func (s *Stream) Chunks() <-chan Chunk {
	return s.ch
}

// Send delivers one chunk. It returns false when the stream is already
// closed or the context is cancelled, so producers can stop early.
func (s *Stream) Send(ctx context.Context, c Chunk) bool {
	// Checked up front so a cancelled context or closed stream always
	// refuses the send, even when the buffer still has room.
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case s.ch <- c:
		return true
	}
}

// Close terminates the stream normally. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// CloseWithError terminates the stream and records the failure cause.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// Err reports the failure that closed the stream, if any. Valid once
// Chunks is drained.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
