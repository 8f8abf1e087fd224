package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relay/internal/chat"
	"relay/internal/config"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/tooling"
)

// EventFunc receives the typed events of one turn stream, in order. Both
// the SSE layer and the CLI plug in here.
type EventFunc func(eventType string, data any) error

// Runner drives the agent loop for one thread at a time: it persists the
// user message, streams model turns, routes tool calls through the
// approval gate and execution gateway, and flushes the final assistant
// message back to the store.
type Runner struct {
	client   llm.Client
	cfg      config.Config
	store    *store.Store
	registry *tooling.Registry
	sessions *chat.Sessions
	broker   *chat.Broker
	logger   *log.Logger
	slog     *logging.StructuredLogger
}

func NewRunner(client llm.Client, cfg config.Config, st *store.Store, registry *tooling.Registry, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		client:   client,
		cfg:      cfg,
		store:    st,
		registry: registry,
		sessions: chat.NewSessions(),
		broker:   chat.NewBroker(),
		logger:   logger,
		slog:     logging.NewStructuredLogger(logger, "agent", false),
	}
}

// Sessions exposes the streaming-buffer registry to the transport layers.
func (r *Runner) Sessions() *chat.Sessions { return r.sessions }

// Broker exposes the approval broker so transports can deliver decisions.
func (r *Runner) Broker() *chat.Broker { return r.broker }

// Registry exposes the tool gateway for the direct tool endpoints.
func (r *Runner) Registry() *tooling.Registry { return r.registry }

// MergedView renders the thread's current merged history: durable rows
// plus whatever the streaming buffer holds.
func (r *Runner) MergedView(ctx context.Context, threadID string) ([]chat.UIMessage, error) {
	persisted, err := r.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	var streaming []*chat.UIMessage
	if s := r.sessions.Get(threadID); s != nil {
		streaming = s.Messages()
	}
	return chat.Merge(persisted, true, streaming), nil
}

// RunRequest executes one full user request against a thread: persist the
// user message, then loop model turns until the controller stops. The
// final assistant text is returned once it has been flushed durably.
func (r *Runner) RunRequest(ctx context.Context, threadID, content string, emit EventFunc) (string, error) {
	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}

	session := r.sessions.GetOrCreate(threadID)
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := session.BeginTurn(cancel); err != nil {
		return "", err
	}
	defer session.EndTurn()

	// The user message lands durably before the model request that
	// consumes it. The merger sources user entries from the store only.
	userMsg, err := r.store.AppendMessage(turnCtx, store.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Role:     store.RoleUser,
		Content:  content,
	})
	if err != nil {
		return "", err
	}
	emitEvent(emit, "user-message", map[string]any{"id": userMsg.ID, "content": content})

	asm := &chat.UIMessage{ID: uuid.NewString(), Role: store.RoleAssistant}
	session.Append(asm)

	tlog := r.slog.WithThread(threadID)
	loop := chat.NewLoopController(r.cfg.MaxIterations, tlog)

	for {
		persisted, err := r.store.ListMessages(turnCtx, threadID)
		if err != nil {
			return r.discard(session, err)
		}
		req := llm.ChatRequest{
			Model:       r.cfg.Model,
			Messages:    buildProviderMessages(r.cfg.SystemPrompt, persisted, asm),
			Tools:       r.registry.Definitions(),
			Temperature: r.cfg.Temperature,
		}

		stream, err := r.openStreamWithRetry(turnCtx, req, emit)
		if err != nil {
			return r.discard(session, err)
		}

		finishReason, newCalls, err := r.consumeTurn(turnCtx, stream, asm, emit)
		if err != nil {
			return r.discard(session, err)
		}

		if len(newCalls) > 0 {
			r.settleToolCalls(turnCtx, newCalls, asm, emit)
			if turnCtx.Err() != nil {
				return r.discard(session, turnCtx.Err())
			}
		}

		if !loop.TurnCompleted(finishReason) {
			break
		}
	}

	// Flush: the streaming message and the durable row share an id, so
	// the merged view stays duplicate-free across the transition.
	final := asm.Text()
	if final != "" {
		if _, err := r.store.AppendMessage(context.WithoutCancel(turnCtx), store.Message{
			ID:       asm.ID,
			ThreadID: threadID,
			Role:     store.RoleAssistant,
			Content:  final,
		}); err != nil {
			return r.discard(session, err)
		}
	}
	session.Reset()

	if thread.Title == "" {
		go r.generateTitle(threadID, content, final)
	}
	tlog.Info("request complete", map[string]any{"iterations": loop.Iteration(), "final_chars": len(final)})
	return final, nil
}

// discard drops the unflushed streaming state. Interrupted turns never
// partially persist an assistant message.
func (r *Runner) discard(session *chat.Session, err error) (string, error) {
	for _, m := range session.Messages() {
		for _, call := range m.ToolCalls() {
			call.Deny("cancelled")
		}
	}
	session.Reset()
	return "", err
}

// consumeTurn applies one model turn's chunks to the streaming message in
// arrival order and returns the finish reason plus the tool calls this
// turn introduced.
func (r *Runner) consumeTurn(ctx context.Context, stream *llm.Stream, asm *chat.UIMessage, emit EventFunc) (llm.FinishReason, []*chat.ToolCall, error) {
	finishReason := llm.FinishError
	sawFinish := false
	var newCalls []*chat.ToolCall

	for chunk := range stream.Chunks() {
		switch chunk.Type {
		case llm.ChunkTextDelta:
			asm.AppendText(chunk.Text)
		case llm.ChunkThinkingDelta:
			asm.AppendThinking(chunk.Text)
		case llm.ChunkToolCallDelta:
			call := asm.FindToolCall(chunk.ToolCallID)
			if call == nil {
				call = chat.NewToolCall(chunk.ToolCallID, chunk.ToolName)
				asm.Parts = append(asm.Parts, chat.MessagePart{Type: chat.PartToolCall, ToolCall: call})
				newCalls = append(newCalls, call)
			}
			if call.Name == "" {
				call.Name = chunk.ToolName
			}
			if chunk.ArgsDelta != "" {
				if err := call.AppendArgs(chunk.ArgsDelta); err != nil {
					logging.DevLog("late argument fragment for %s: %v", call.ID, err)
				}
			}
		case llm.ChunkToolCallComplete:
			call := asm.FindToolCall(chunk.ToolCallID)
			if call == nil {
				call = chat.NewToolCall(chunk.ToolCallID, chunk.ToolName)
				asm.Parts = append(asm.Parts, chat.MessagePart{Type: chat.PartToolCall, ToolCall: call})
				newCalls = append(newCalls, call)
			}
			// Arguments parse exactly once, here. A malformed payload
			// denies the call; it never reaches execution.
			if err := call.CompleteInput(chunk.Args); err != nil {
				logging.ErrorLog("tool call %s arguments rejected: %v", call.ID, err)
			}
		case llm.ChunkFinish:
			finishReason = chunk.FinishReason
			sawFinish = true
		}
		emitEvent(emit, string(chunk.Type), chunk)
	}

	if err := stream.Err(); err != nil {
		denyStreaming(newCalls, "stream interrupted")
		return finishReason, newCalls, err
	}
	if ctx.Err() != nil {
		denyStreaming(newCalls, "cancelled")
		return finishReason, newCalls, ctx.Err()
	}
	if !sawFinish {
		denyStreaming(newCalls, "stream interrupted")
		return finishReason, newCalls, errors.New("model stream ended without finish chunk")
	}
	return finishReason, newCalls, nil
}

func denyStreaming(calls []*chat.ToolCall, reason string) {
	for _, call := range calls {
		if !call.State.Terminal() {
			call.Deny(reason)
		}
	}
}

// settleToolCalls takes every tool call of the finished turn to a
// terminal state: gated calls wait on the broker, independent approved
// calls execute concurrently, and each outcome re-enters the stream as a
// tool-result chunk.
func (r *Runner) settleToolCalls(ctx context.Context, calls []*chat.ToolCall, asm *chat.UIMessage, emit EventFunc) {
	g, gctx := errgroup.WithContext(ctx)

	for _, call := range calls {
		call := call
		if call.State.Terminal() {
			continue
		}
		// The finish chunk arrived without a tool-call-complete for this
		// call; its arguments were never parsed, so it cannot run.
		if call.State != chat.CallInputComplete {
			call.Deny("tool call input never completed")
			continue
		}
		tool, ok := r.registry.Lookup(call.Name)
		if !ok {
			call.Deny(fmt.Sprintf("unknown tool: %s", call.Name))
			continue
		}

		if tool.SideEffecting() {
			emitEvent(emit, "approval-requested", map[string]any{
				"id":             call.ID,
				"name":           call.Name,
				"args":           call.Args,
				"needs_approval": true,
			})
		}

		g.Go(func() error {
			if tool.SideEffecting() {
				decision, err := r.broker.RequestApproval(gctx, call)
				if err != nil || !decision.Approved {
					return nil
				}
			}
			res, verr := tool.Call(gctx, call.Args)
			if verr != nil {
				res = tooling.Fail("invalid input: %v", verr)
			}
			if err := r.executeOutcome(call, res); err != nil {
				logging.ErrorLog("record tool outcome %s: %v", call.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Every call is terminal now; results re-enter the stream in the
	// order the model issued the calls.
	for _, call := range calls {
		result := &chat.ToolResult{CallID: call.ID, Output: call.Output, IsError: call.OutputIsError}
		asm.Parts = append(asm.Parts, chat.MessagePart{Type: chat.PartToolResult, ToolResult: result})
		emitEvent(emit, string(llm.ChunkToolResult), llm.Chunk{
			Type:       llm.ChunkToolResult,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     call.Output,
			IsError:    call.OutputIsError,
		})
	}
}

func (r *Runner) executeOutcome(call *chat.ToolCall, res tooling.Result) error {
	return call.MarkExecuted(res.JSON(), !res.Success)
}

// openStreamWithRetry opens a model stream, retrying transient provider
// failures with exponential backoff.
func (r *Runner) openStreamWithRetry(ctx context.Context, req llm.ChatRequest, emit EventFunc) (*llm.Stream, error) {
	const (
		maxRetries   = 5
		initialDelay = time.Second
		maxDelay     = 16 * time.Second
	)
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		stream, err := r.client.StreamChat(ctx, req)
		if err == nil {
			logging.DevLog("provider stream opened in %s (attempt %d/%d)", time.Since(start).Round(time.Millisecond), attempt, maxRetries)
			return stream, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, context.Canceled
		}

		if pe, ok := llm.IsProviderError(err); ok {
			if !pe.Retryable {
				r.logger.Printf("[agent] provider error (non-retryable): %s", pe.Error())
				emitEvent(emit, "provider-error", map[string]any{
					"type":      string(pe.Type),
					"provider":  pe.Provider,
					"code":      pe.Code,
					"message":   pe.Message,
					"retryable": false,
				})
				return nil, err
			}
			if pe.RetryAfter != nil && *pe.RetryAfter > delay {
				delay = *pe.RetryAfter
			}
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}
		r.logger.Printf("[agent] retrying provider call (attempt %d/%d) after %v", attempt+1, maxRetries, err)
		emitEvent(emit, "request-retry", map[string]any{
			"attempt":      attempt,
			"next_attempt": attempt + 1,
			"max_attempts": maxRetries,
			"delay_ms":     delay.Milliseconds(),
			"error":        err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, context.Canceled
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, lastErr
}

// buildProviderMessages rebuilds the provider wire history from the
// durable rows plus the in-flight assistant message's parts. Thinking
// parts stay client-side.
func buildProviderMessages(systemPrompt string, persisted []store.Message, asm *chat.UIMessage) []llm.Message {
	out := make([]llm.Message, 0, len(persisted)+4)
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range persisted {
		if m.ID == asm.ID {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}

	cur := llm.Message{Role: store.RoleAssistant}
	flush := func() {
		if cur.Content != "" || len(cur.ToolCalls) > 0 {
			out = append(out, cur)
		}
		cur = llm.Message{Role: store.RoleAssistant}
	}
	for _, p := range asm.Parts {
		switch p.Type {
		case chat.PartText:
			cur.Content += p.Text
		case chat.PartToolCall:
			cur.ToolCalls = append(cur.ToolCalls, llm.ToolCall{
				ID:   p.ToolCall.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      p.ToolCall.Name,
					Arguments: p.ToolCall.RawArgs,
				},
			})
		case chat.PartToolResult:
			flush()
			out = append(out, llm.Message{
				Role:       "tool",
				Content:    p.ToolResult.Output,
				ToolCallID: p.ToolResult.CallID,
			})
		}
	}
	flush()
	return out
}

func emitEvent(emit EventFunc, eventType string, data any) {
	if emit == nil {
		return
	}
	if err := emit(eventType, data); err != nil {
		logging.DevLog("emit %s: %v", eventType, err)
	}
}
