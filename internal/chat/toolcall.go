package chat

import (
	"encoding/json"
	"fmt"
)

// CallState is one step in a tool call's lifecycle. States only ever
// advance; terminal states are CallExecuted and CallDenied.
type CallState int

const (
	CallAwaitingInput CallState = iota
	CallInputStreaming
	CallInputComplete
	CallApprovalRequested
	CallApprovalResponded
	CallExecuted
	CallDenied
)

func (s CallState) String() string {
	switch s {
	case CallAwaitingInput:
		return "awaiting-input"
	case CallInputStreaming:
		return "input-streaming"
	case CallInputComplete:
		return "input-complete"
	case CallApprovalRequested:
		return "approval-requested"
	case CallApprovalResponded:
		return "approval-responded"
	case CallExecuted:
		return "executed"
	case CallDenied:
		return "denied"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is legal.
func (s CallState) Terminal() bool {
	return s == CallExecuted || s == CallDenied
}

// Decision is the recorded outcome of an approval round trip.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ToolCall tracks one model-requested tool invocation through its
// lifecycle. Arguments stream in as raw text and are parsed exactly once,
// when input completes.
type ToolCall struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	RawArgs       string         `json:"raw_args"`
	Args          map[string]any `json:"args,omitempty"`
	State         CallState      `json:"state"`
	NeedsApproval bool           `json:"needs_approval"`
	Decision      *Decision      `json:"decision,omitempty"`
	Output        string         `json:"output,omitempty"`
	OutputIsError bool           `json:"output_is_error,omitempty"`
}

// NewToolCall starts a call in the awaiting-input state.
func NewToolCall(id, name string) *ToolCall {
	return &ToolCall{ID: id, Name: name, State: CallAwaitingInput}
}

// advance moves to a strictly later state. Backward and repeated
// transitions are rejected, which keeps the lifecycle monotonic.
func (c *ToolCall) advance(to CallState) error {
	if c.State.Terminal() {
		return fmt.Errorf("tool call %s: cannot leave terminal state %s", c.ID, c.State)
	}
	if to <= c.State {
		return fmt.Errorf("tool call %s: illegal transition %s -> %s", c.ID, c.State, to)
	}
	c.State = to
	return nil
}

// AppendArgs accumulates one streamed argument fragment.
func (c *ToolCall) AppendArgs(fragment string) error {
	switch c.State {
	case CallAwaitingInput:
		if err := c.advance(CallInputStreaming); err != nil {
			return err
		}
	case CallInputStreaming:
	default:
		return fmt.Errorf("tool call %s: arguments arrived in state %s", c.ID, c.State)
	}
	c.RawArgs += fragment
	return nil
}

// CompleteInput records the final raw arguments and parses them. This is
// the single place parsing happens; a malformed payload denies the call
// instead of ever reaching execution.
func (c *ToolCall) CompleteInput(raw string) error {
	if c.State.Terminal() {
		return fmt.Errorf("tool call %s: input completed after terminal state %s", c.ID, c.State)
	}
	if raw != "" {
		c.RawArgs = raw
	}
	if err := c.advance(CallInputComplete); err != nil {
		return err
	}

	args := map[string]any{}
	if trimmed := c.RawArgs; trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			c.Deny(fmt.Sprintf("invalid tool arguments: %v", err))
			return fmt.Errorf("tool call %s: parse arguments: %w", c.ID, err)
		}
	}
	c.Args = args
	return nil
}

// RequestApproval marks the call as waiting on a human decision. Legal
// only once input is complete: a call whose arguments were never parsed
// must not enter the approval path.
func (c *ToolCall) RequestApproval() error {
	if c.State != CallInputComplete {
		return fmt.Errorf("tool call %s: approval requested in state %s", c.ID, c.State)
	}
	c.NeedsApproval = true
	return c.advance(CallApprovalRequested)
}

// RecordDecision applies the approval outcome. Replaying an identical
// decision is a no-op; a conflicting decision is rejected.
func (c *ToolCall) RecordDecision(d Decision) error {
	if c.Decision != nil {
		if c.Decision.Approved == d.Approved {
			return nil
		}
		return fmt.Errorf("tool call %s: conflicting decision (already %v)", c.ID, c.Decision.Approved)
	}
	if c.State != CallApprovalRequested {
		return fmt.Errorf("tool call %s: decision arrived in state %s", c.ID, c.State)
	}
	c.Decision = &d
	if err := c.advance(CallApprovalResponded); err != nil {
		return err
	}
	if !d.Approved {
		reason := d.Reason
		if reason == "" {
			reason = "denied by user"
		}
		c.State = CallDenied
		c.Output = reason
		c.OutputIsError = true
	}
	return nil
}

// MarkExecuted records the execution outcome. Legal only from
// approval-responded with a positive decision, or straight from
// input-complete for calls that never needed approval.
func (c *ToolCall) MarkExecuted(output string, isError bool) error {
	switch c.State {
	case CallApprovalResponded:
		if c.Decision == nil || !c.Decision.Approved {
			return fmt.Errorf("tool call %s: execution without positive decision", c.ID)
		}
	case CallInputComplete:
		if c.NeedsApproval {
			return fmt.Errorf("tool call %s: execution before approval", c.ID)
		}
	default:
		return fmt.Errorf("tool call %s: execution from state %s", c.ID, c.State)
	}
	if err := c.advance(CallExecuted); err != nil {
		return err
	}
	c.Output = output
	c.OutputIsError = isError
	return nil
}

// Deny forces the call into its failed terminal state. Used for parse
// failures, stream interruption and cancellation. Denying an already
// terminal call is a no-op.
func (c *ToolCall) Deny(reason string) {
	if c.State.Terminal() {
		return
	}
	c.State = CallDenied
	c.Output = reason
	c.OutputIsError = true
	if c.Decision == nil {
		c.Decision = &Decision{Approved: false, Reason: reason}
	}
}
