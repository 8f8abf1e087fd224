package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"relay/internal/llm"
	"relay/internal/logging"
)

const providerName = "openrouter"

// Client is a streaming HTTP wrapper around an OpenAI-compatible chat
// completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// NewClient wires together the dependencies for API access. The timeout
// bounds dialing and waiting for response headers only: a whole-client
// timeout would cut the response body mid-stream on long turns, so body
// reads stop with the request context instead.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	trimmed := strings.TrimRight(baseURL, "/")
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    trimmed,
		apiKey:     apiKey,
		logger:     logger,
	}
}

type streamRequest struct {
	llm.ChatRequest
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// sseEvent mirrors one data frame of the provider's SSE stream.
type sseEvent struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// StreamChat opens a streamed completion. The request is sent before this
// returns; frame decoding continues on a background goroutine until the
// provider signals completion or the context is cancelled.
func (c *Client) StreamChat(ctx context.Context, reqPayload llm.ChatRequest) (*llm.Stream, error) {
	payload, err := json.Marshal(streamRequest{
		ChatRequest:   reqPayload,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Printf("streaming %d messages to model %s", len(reqPayload.Messages), reqPayload.Model)
	logging.DevLog("openrouter: opening stream to %s with %d messages", reqPayload.Model, len(reqPayload.Messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		logging.ErrorLog("openrouter API error: %d - %s", resp.StatusCode, string(body))
		return nil, llm.ClassifyHTTPError(providerName, resp.StatusCode, string(body), resp.Header)
	}

	stream := llm.NewStream(64)
	go c.decode(ctx, resp.Body, stream)
	return stream, nil
}

// decode reads SSE frames off body and republishes them as typed chunks.
func (c *Client) decode(ctx context.Context, body io.ReadCloser, stream *llm.Stream) {
	defer body.Close()
	// Every exit path must close the stream, or the consumer ranging
	// over Chunks blocks forever. The first recorded error wins.
	defer func() {
		if err := ctx.Err(); err != nil {
			stream.CloseWithError(err)
			return
		}
		stream.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	calls := map[int]*pendingCall{}
	var (
		finishReason string
		usage        *llm.Usage
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logging.DevLog("openrouter: skipping malformed frame: %v", err)
			continue
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if len(ev.Choices) == 0 {
			continue
		}
		choice := ev.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}

		if choice.Delta.Reasoning != "" {
			if !stream.Send(ctx, llm.Chunk{Type: llm.ChunkThinkingDelta, Text: choice.Delta.Reasoning}) {
				return
			}
		}
		if choice.Delta.Content != "" {
			if !stream.Send(ctx, llm.Chunk{Type: llm.ChunkTextDelta, Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &pendingCall{}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
			}
			if !stream.Send(ctx, llm.Chunk{
				Type:       llm.ChunkToolCallDelta,
				ToolCallID: call.id,
				ToolName:   call.name,
				ArgsDelta:  tc.Function.Arguments,
			}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logging.ErrorLog("openrouter stream read error: %v", err)
		stream.CloseWithError(fmt.Errorf("read stream: %w", err))
		return
	}

	// Tool call arguments are only complete once the provider stops
	// emitting frames, so the complete chunks flush here, in index order.
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := calls[i]
		if !stream.Send(ctx, llm.Chunk{
			Type:       llm.ChunkToolCallComplete,
			ToolCallID: call.id,
			ToolName:   call.name,
			Args:       call.args.String(),
		}) {
			return
		}
	}

	stream.Send(ctx, llm.Chunk{
		Type:         llm.ChunkFinish,
		FinishReason: mapFinishReason(finishReason),
		Usage:        usage,
	})
}

func mapFinishReason(raw string) llm.FinishReason {
	switch raw {
	case "stop":
		return llm.FinishStop
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishError
	}
}
