package chat

import (
	"strings"
	"testing"
)

func TestToolCallHappyPathWithApproval(t *testing.T) {
	call := NewToolCall("c1", "bash")

	if err := call.AppendArgs(`{"command":`); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	if err := call.AppendArgs(`"ls"}`); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	if call.State != CallInputStreaming {
		t.Fatalf("state = %s, want input-streaming", call.State)
	}

	if err := call.CompleteInput(""); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if call.Args["command"] != "ls" {
		t.Fatalf("parsed args = %v, want command=ls", call.Args)
	}

	if err := call.RequestApproval(); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if err := call.RecordDecision(Decision{Approved: true}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if err := call.MarkExecuted("ok", false); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if call.State != CallExecuted {
		t.Fatalf("state = %s, want executed", call.State)
	}
}

func TestToolCallStatesAreMonotonic(t *testing.T) {
	call := NewToolCall("c1", "bash")
	if err := call.CompleteInput(`{}`); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if err := call.advance(CallInputStreaming); err == nil {
		t.Fatal("backward transition accepted")
	}
	if err := call.advance(CallInputComplete); err == nil {
		t.Fatal("repeated transition accepted")
	}
}

func TestToolCallParseFailureDenies(t *testing.T) {
	call := NewToolCall("c1", "edit")
	if err := call.AppendArgs(`{"path": "a.txt"`); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	if err := call.CompleteInput(""); err == nil {
		t.Fatal("expected parse error for truncated JSON")
	}
	if call.State != CallDenied {
		t.Fatalf("state = %s, want denied", call.State)
	}
	if !call.OutputIsError || !strings.Contains(call.Output, "invalid tool arguments") {
		t.Fatalf("output = %q, want parse error payload", call.Output)
	}
}

func TestToolCallStreamInterruptionDenies(t *testing.T) {
	call := NewToolCall("c1", "write")
	if err := call.AppendArgs(`{"path"`); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	call.Deny("stream interrupted")
	if call.State != CallDenied {
		t.Fatalf("state = %s, want denied", call.State)
	}
	if call.Output != "stream interrupted" {
		t.Fatalf("output = %q, want stream interrupted", call.Output)
	}
	// Terminal state is sticky.
	if err := call.MarkExecuted("late", false); err == nil {
		t.Fatal("execution after denial accepted")
	}
}

func TestToolCallNoExecutionWithoutPositiveDecision(t *testing.T) {
	call := NewToolCall("c1", "bash")
	if err := call.CompleteInput(`{"command":"rm -rf /tmp/x"}`); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if err := call.RequestApproval(); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	// Execution straight from approval-requested is illegal.
	if err := call.MarkExecuted("out", false); err == nil {
		t.Fatal("execution before decision accepted")
	}

	if err := call.RecordDecision(Decision{Approved: false, Reason: "too risky"}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if call.State != CallDenied {
		t.Fatalf("state = %s, want denied after negative decision", call.State)
	}
}

func TestToolCallShortcutSkipsApproval(t *testing.T) {
	call := NewToolCall("c1", "read")
	if err := call.CompleteInput(`{"path":"/tmp/a"}`); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if err := call.MarkExecuted("contents", false); err != nil {
		t.Fatalf("MarkExecuted via shortcut: %v", err)
	}
	if call.State != CallExecuted {
		t.Fatalf("state = %s, want executed", call.State)
	}
}

func TestToolCallApprovalRequiresCompletedInput(t *testing.T) {
	call := NewToolCall("c1", "bash")
	if err := call.AppendArgs(`{"command":"ls"`); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	// Approval is unreachable while arguments are still streaming; the
	// parse step cannot be skipped.
	if err := call.RequestApproval(); err == nil {
		t.Fatal("approval requested before input completed")
	}
	if call.State != CallInputStreaming {
		t.Fatalf("state = %s, want input-streaming", call.State)
	}

	if err := call.CompleteInput(`{"command":"ls"}`); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if err := call.RequestApproval(); err != nil {
		t.Fatalf("RequestApproval after completed input: %v", err)
	}
}

func TestToolCallDecisionIdempotenceAndConflict(t *testing.T) {
	call := NewToolCall("c1", "bash")
	if err := call.CompleteInput(`{}`); err != nil {
		t.Fatalf("CompleteInput: %v", err)
	}
	if err := call.RequestApproval(); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if err := call.RecordDecision(Decision{Approved: true}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if err := call.RecordDecision(Decision{Approved: true}); err != nil {
		t.Fatalf("identical replay should be a no-op, got %v", err)
	}
	if err := call.RecordDecision(Decision{Approved: false}); err == nil {
		t.Fatal("conflicting decision accepted")
	}
}
