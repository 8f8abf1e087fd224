package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"relay/internal/llm"
)

// Client is a deterministic llm.Client used for tests and CI. Each call to
// StreamChat plays the next scripted chunk sequence; once the scripts run
// out it falls back to echoing the last user message.
type Client struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	prefix  string

	// Requests records every payload StreamChat received, in order.
	Requests []llm.ChatRequest
}

// New returns a mock client that plays the given scripts in order.
func New(scripts ...[]llm.Chunk) *Client {
	return &Client{scripts: scripts, prefix: "MOCK"}
}

// TextScript builds a script that streams text and finishes with stop.
func TextScript(text string) []llm.Chunk {
	return []llm.Chunk{
		{Type: llm.ChunkTextDelta, Text: text},
		{Type: llm.ChunkFinish, FinishReason: llm.FinishStop},
	}
}

// ToolCallScript builds a script that requests one tool call. The args
// JSON arrives split across two delta fragments to exercise accumulation.
func ToolCallScript(callID, name, args string) []llm.Chunk {
	half := len(args) / 2
	return []llm.Chunk{
		{Type: llm.ChunkToolCallDelta, ToolCallID: callID, ToolName: name, ArgsDelta: args[:half]},
		{Type: llm.ChunkToolCallDelta, ToolCallID: callID, ToolName: name, ArgsDelta: args[half:]},
		{Type: llm.ChunkToolCallComplete, ToolCallID: callID, ToolName: name, Args: args},
		{Type: llm.ChunkFinish, FinishReason: llm.FinishToolCalls},
	}
}

// StreamChat satisfies the llm.Client interface.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (*llm.Stream, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	var script []llm.Chunk
	if len(c.scripts) > 0 {
		script = c.scripts[0]
		c.scripts = c.scripts[1:]
	} else {
		script = TextScript(c.echo(req))
	}
	c.mu.Unlock()

	stream := llm.NewStream(len(script))
	go func() {
		// The stream must close on every exit path, including a refused
		// send, or the consumer blocks on Chunks forever.
		defer func() {
			if err := ctx.Err(); err != nil {
				stream.CloseWithError(err)
				return
			}
			stream.Close()
		}()
		for _, chunk := range script {
			if !stream.Send(ctx, chunk) {
				return
			}
		}
	}()
	return stream, nil
}

func (c *Client) echo(req llm.ChatRequest) string {
	if n := len(req.Messages); n > 0 {
		last := strings.TrimSpace(req.Messages[n-1].Content)
		if last != "" {
			return fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
	}
	return fmt.Sprintf("%s RESPONSE", c.prefix)
}
