package tooling

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testGuard(t *testing.T) pathGuard {
	t.Helper()
	guard, err := newPathGuard(t.TempDir())
	if err != nil {
		t.Fatalf("newPathGuard: %v", err)
	}
	return guard
}

func writeFile(t *testing.T, guard pathGuard, name, content string) string {
	t.Helper()
	path := filepath.Join(guard.root, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestEditReplacesExactCount(t *testing.T) {
	guard := testGuard(t)
	path := writeFile(t, guard, "a.txt", "foo bar foo baz foo")
	tool := NewEditTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path":                  "a.txt",
		"old_text":              "foo",
		"new_text":              "qux",
		"expected_replacements": 3,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %s, want success", res.JSON())
	}
	if got := readBack(t, path); got != "qux bar qux baz qux" {
		t.Fatalf("file = %q, want all occurrences replaced", got)
	}
	if res.Fields["replacements"] != 3 {
		t.Fatalf("replacements = %v, want 3", res.Fields["replacements"])
	}
	if diff, _ := res.Fields["diff"].(string); !strings.Contains(diff, "- foo bar foo baz foo") {
		t.Fatalf("diff snippet missing before line: %q", diff)
	}
}

func TestEditWrongCountLeavesFileUnmodified(t *testing.T) {
	guard := testGuard(t)
	original := "foo bar foo"
	path := writeFile(t, guard, "a.txt", original)
	tool := NewEditTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path":     "a.txt",
		"old_text": "foo",
		"new_text": "qux",
		// defaults to expected_replacements=1, file has 2
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Success {
		t.Fatal("edit succeeded although occurrence count mismatched")
	}
	if got := readBack(t, path); got != original {
		t.Fatalf("file = %q, want untouched original", got)
	}
}

func TestEditMissingTextFails(t *testing.T) {
	guard := testGuard(t)
	writeFile(t, guard, "a.txt", "hello")
	tool := NewEditTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path":     "a.txt",
		"old_text": "absent",
		"new_text": "x",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Fatalf("result = %s, want not-found failure", res.JSON())
	}
}

func TestEditValidationErrors(t *testing.T) {
	guard := testGuard(t)
	tool := NewEditTool(guard)

	cases := []map[string]any{
		{"old_text": "a", "new_text": "b"},                             // missing path
		{"path": "a.txt", "old_text": "same", "new_text": "same"},      // identical
		{"path": "a.txt", "old_text": "", "new_text": "b"},             // empty old
		{"path": "../../etc/passwd", "old_text": "a", "new_text": "b"}, // escape
	}
	for i, args := range cases {
		if _, err := tool.Call(context.Background(), args); err == nil {
			t.Fatalf("case %d: expected validation error for %v", i, args)
		}
	}
}

func TestMultiEditAppliesSequentially(t *testing.T) {
	guard := testGuard(t)
	path := writeFile(t, guard, "a.txt", "one two three")
	tool := NewMultiEditTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path": "a.txt",
		"edits": []any{
			map[string]any{"old_text": "one", "new_text": "1"},
			// Sees the output of the first edit.
			map[string]any{"old_text": "1 two", "new_text": "1-2"},
		},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %s, want success", res.JSON())
	}
	if got := readBack(t, path); got != "1-2 three" {
		t.Fatalf("file = %q, want 1-2 three", got)
	}
	if res.Fields["applied_edits"] != 2 || res.Fields["total_edits"] != 2 {
		t.Fatalf("counts = %v/%v, want 2/2", res.Fields["applied_edits"], res.Fields["total_edits"])
	}
}

func TestMultiEditPartialApplicationNoRollback(t *testing.T) {
	guard := testGuard(t)
	path := writeFile(t, guard, "a.txt", "alpha beta")
	tool := NewMultiEditTool(guard)

	res, err := tool.Call(context.Background(), map[string]any{
		"path": "a.txt",
		"edits": []any{
			map[string]any{"old_text": "alpha", "new_text": "A"},
			map[string]any{"old_text": "missing", "new_text": "x"},
			map[string]any{"old_text": "beta", "new_text": "B"},
		},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Success {
		t.Fatal("batch with failing edit reported success")
	}
	if res.Fields["applied_edits"] != 1 || res.Fields["total_edits"] != 3 {
		t.Fatalf("counts = %v/%v, want 1/3", res.Fields["applied_edits"], res.Fields["total_edits"])
	}
	// First edit stays applied, third never ran.
	if got := readBack(t, path); got != "A beta" {
		t.Fatalf("file = %q, want partially applied A beta", got)
	}
}
