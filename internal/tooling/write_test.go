package tooling

import (
	"context"
	"path/filepath"
	"testing"
)

func TestWriteCreatesAndOverwrites(t *testing.T) {
	guard := testGuard(t)
	tool := NewWriteTool(guard)
	path := filepath.Join(guard.root, "sub", "a.txt")

	res, err := tool.Call(context.Background(), map[string]any{
		"path":    path,
		"content": "first",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %s, want success", res.JSON())
	}
	if got := readBack(t, path); got != "first" {
		t.Fatalf("file = %q, want first", got)
	}

	res, err = tool.Call(context.Background(), map[string]any{
		"path":    path,
		"content": "second",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Fatalf("overwrite result = %s, want success", res.JSON())
	}
	if got := readBack(t, path); got != "second" {
		t.Fatalf("file = %q, want second", got)
	}
}

func TestWriteRequiresAbsolutePath(t *testing.T) {
	guard := testGuard(t)
	tool := NewWriteTool(guard)

	if _, err := tool.Call(context.Background(), map[string]any{
		"path":    "relative.txt",
		"content": "x",
	}); err == nil {
		t.Fatal("expected validation error for relative path")
	}
}

func TestWriteRejectsEscapingPath(t *testing.T) {
	guard := testGuard(t)
	tool := NewWriteTool(guard)

	if _, err := tool.Call(context.Background(), map[string]any{
		"path":    "/etc/relay-test-escape",
		"content": "x",
	}); err == nil {
		t.Fatal("expected path guard rejection")
	}
}

func TestReadReturnsNumberedWindow(t *testing.T) {
	guard := testGuard(t)
	writeFile(t, guard, "a.txt", "one\ntwo\nthree")
	tool := NewReadTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path":   "a.txt",
		"offset": 2,
		"limit":  1,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %s, want success", res.JSON())
	}
	content, _ := res.Fields["content"].(string)
	if content != "     2\ttwo\n" {
		t.Fatalf("content = %q, want line 2 only", content)
	}
	if res.Fields["total_lines"] != 3 {
		t.Fatalf("total_lines = %v, want 3", res.Fields["total_lines"])
	}
}

func TestSideEffectFlags(t *testing.T) {
	guard := testGuard(t)
	for _, tc := range []struct {
		tool Tool
		want bool
	}{
		{NewReadTool(guard), false},
		{NewListTool(guard), false},
		{NewFetchTool(0), false},
		{NewEditTool(guard), true},
		{NewMultiEditTool(guard), true},
		{NewWriteTool(guard), true},
		{NewBashTool(guard, 0), true},
	} {
		name := tc.tool.Definition().Function.Name
		if got := tc.tool.SideEffecting(); got != tc.want {
			t.Fatalf("%s.SideEffecting() = %v, want %v", name, got, tc.want)
		}
	}
}
