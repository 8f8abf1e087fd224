package llm

import (
	"context"

	"relay/internal/tooling"
)

// Message is the provider wire format for one conversation entry. Tool
// results travel as role "tool" with the originating call id.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a provider-issued request to invoke a named tool.
// Arguments is the raw JSON string exactly as the provider produced it.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the provider-agnostic payload for a streamed completion.
type ChatRequest struct {
	Model       string                   `json:"model"`
	Messages    []Message                `json:"messages"`
	Tools       []tooling.ToolDefinition `json:"tools,omitempty"`
	Temperature float64                  `json:"temperature,omitempty"`
}

// Usage contains token consumption metrics reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client represents an LLM provider capable of streamed chat completions.
// The returned stream always terminates with a finish chunk unless the
// stream itself fails, in which case Err reports the cause after Chunks
// is drained.
type Client interface {
	StreamChat(ctx context.Context, req ChatRequest) (*Stream, error)
}
