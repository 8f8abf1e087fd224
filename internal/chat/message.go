package chat

import "strings"

// PartType discriminates the variants a message part can take.
type PartType string

const (
	PartText       PartType = "text"
	PartThinking   PartType = "thinking"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// MessagePart is a tagged variant. Exactly one payload field matches Type.
type MessagePart struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolResult is the serialized outcome of one executed tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// UIMessage is one entry of the ephemeral streaming buffer. Assistant
// messages built here carry the same id they will have once flushed to the
// durable store, so the merged view can deduplicate by id.
type UIMessage struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// AppendText grows the trailing text part, starting one when needed.
func (m *UIMessage) AppendText(delta string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartText {
		m.Parts[n-1].Text += delta
		return
	}
	m.Parts = append(m.Parts, MessagePart{Type: PartText, Text: delta})
}

// AppendThinking grows the trailing thinking part, starting one when needed.
func (m *UIMessage) AppendThinking(delta string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartThinking {
		m.Parts[n-1].Text += delta
		return
	}
	m.Parts = append(m.Parts, MessagePart{Type: PartThinking, Text: delta})
}

// Text concatenates the visible text parts into the durable content form.
func (m *UIMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FindToolCall returns the tool call with the given id, or nil.
func (m *UIMessage) FindToolCall(id string) *ToolCall {
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil && p.ToolCall.ID == id {
			return p.ToolCall
		}
	}
	return nil
}

// ToolCalls lists the tool-call parts in order.
func (m *UIMessage) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, p.ToolCall)
		}
	}
	return calls
}
