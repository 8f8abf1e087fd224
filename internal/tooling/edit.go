package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"relay/internal/logging"
)

// EditTool performs one exact find-and-replace against a file. The
// occurrence count of old_text must equal expected_replacements or the
// file is left untouched.
type EditTool struct {
	guard pathGuard
}

func NewEditTool(guard pathGuard) *EditTool {
	return &EditTool{guard: guard}
}

func (EditTool) SideEffecting() bool { return true }

func (EditTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "edit",
			Description: "Perform exact string replacement in a file. old_text must match exactly (including whitespace and indentation) and occur exactly expected_replacements times, or the file is left unmodified.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to edit, relative to workspace root.",
					},
					"old_text": map[string]any{
						"type":        "string",
						"description": "The exact text to replace.",
					},
					"new_text": map[string]any{
						"type":        "string",
						"description": "The replacement text.",
					},
					"expected_replacements": map[string]any{
						"type":        "integer",
						"description": "How many occurrences of old_text the file must contain (default 1). All of them are replaced.",
					},
				},
				"required": []string{"path", "old_text", "new_text"},
			},
		},
	}
}

// editSpec is one validated replacement instruction.
type editSpec struct {
	oldText  string
	newText  string
	expected int
}

func parseEditSpec(args map[string]any) (editSpec, error) {
	oldText, ok := stringArg(args, "old_text")
	if !ok {
		return editSpec{}, errors.New("old_text is required")
	}
	newText, ok := stringArg(args, "new_text")
	if !ok {
		return editSpec{}, errors.New("new_text is required")
	}
	if oldText == newText {
		return editSpec{}, errors.New("old_text and new_text must be different")
	}
	if oldText == "" {
		return editSpec{}, errors.New("old_text must not be empty")
	}
	expected := intArg(args, "expected_replacements", 1)
	if expected < 1 {
		return editSpec{}, errors.New("expected_replacements must be at least 1")
	}
	return editSpec{oldText: oldText, newText: newText, expected: expected}, nil
}

// apply runs the replacement against content. Failure means content is
// returned unchanged.
func (s editSpec) apply(content string) (string, error) {
	count := strings.Count(content, s.oldText)
	if count == 0 {
		return content, fmt.Errorf("old_text not found (check whitespace and indentation, preview: %q)", auditPrefix(s.oldText, 80))
	}
	if count != s.expected {
		return content, fmt.Errorf("old_text occurs %d times, expected %d; file unmodified", count, s.expected)
	}
	return strings.ReplaceAll(content, s.oldText, s.newText), nil
}

func (e *EditTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Result{}, errors.New("path is required")
	}
	spec, err := parseEditSpec(args)
	if err != nil {
		return Result{}, err
	}

	absPath, err := e.guard.Resolve(path)
	if err != nil {
		return Result{}, err
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return Fail("read file: %v", err), nil
	}
	before := string(raw)
	after, err := spec.apply(before)
	if err != nil {
		return Fail("%v", err), nil
	}
	if err := os.WriteFile(absPath, []byte(after), 0o644); err != nil {
		return Fail("write file: %v", err), nil
	}

	logging.DevLog("edit: %s (%d replacement(s))", e.guard.Rel(absPath), spec.expected)
	return Ok(map[string]any{
		"path":         e.guard.Rel(absPath),
		"replacements": spec.expected,
		"diff":         diffSnippet(before, after),
	}), nil
}

// MultiEditTool applies a batch of edits sequentially to one file. A
// failing edit aborts the remainder; earlier edits stay applied and the
// result reports applied_edits/total_edits rather than rolling back.
type MultiEditTool struct {
	guard pathGuard
}

func NewMultiEditTool(guard pathGuard) *MultiEditTool {
	return &MultiEditTool{guard: guard}
}

func (MultiEditTool) SideEffecting() bool { return true }

func (MultiEditTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "multi_edit",
			Description: "Apply several exact string replacements to one file, in order. Later edits see the output of earlier ones. A failing edit stops the batch; earlier edits are not rolled back.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to edit, relative to workspace root.",
					},
					"edits": map[string]any{
						"type":        "array",
						"description": "Ordered list of edits.",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"old_text":              map[string]any{"type": "string"},
								"new_text":              map[string]any{"type": "string"},
								"expected_replacements": map[string]any{"type": "integer"},
							},
							"required": []string{"old_text", "new_text"},
						},
					},
				},
				"required": []string{"path", "edits"},
			},
		},
	}
}

func (m *MultiEditTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Result{}, errors.New("path is required")
	}
	rawEdits, ok := args["edits"].([]any)
	if !ok || len(rawEdits) == 0 {
		return Result{}, errors.New("edits must be a non-empty array")
	}
	specs := make([]editSpec, 0, len(rawEdits))
	for i, raw := range rawEdits {
		obj, ok := raw.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("edits[%d] is not an object", i)
		}
		spec, err := parseEditSpec(obj)
		if err != nil {
			return Result{}, fmt.Errorf("edits[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}

	absPath, err := m.guard.Resolve(path)
	if err != nil {
		return Result{}, err
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return Fail("read file: %v", err), nil
	}

	content := string(raw)
	applied := 0
	var failure error
	for _, spec := range specs {
		next, err := spec.apply(content)
		if err != nil {
			failure = err
			break
		}
		content = next
		applied++
	}

	// Partial batches still land on disk; the result says how far we got.
	if applied > 0 {
		if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
			return Fail("write file after %d/%d edits: %v", applied, len(specs), err), nil
		}
	}
	logging.DevLog("multi_edit: %s (%d/%d edits)", m.guard.Rel(absPath), applied, len(specs))

	fields := map[string]any{
		"path":          m.guard.Rel(absPath),
		"applied_edits": applied,
		"total_edits":   len(specs),
	}
	if failure != nil {
		res := Fail("edit %d of %d failed: %v", applied+1, len(specs), failure)
		res.Fields = fields
		return res, nil
	}
	return Ok(fields), nil
}

// diffSnippet renders the changed region with a little context, in
// unified-ish form, bounded so huge files stay readable in results.
func diffSnippet(before, after string) string {
	const context = 2
	const maxLines = 12

	bl := strings.Split(before, "\n")
	al := strings.Split(after, "\n")

	start := 0
	for start < len(bl) && start < len(al) && bl[start] == al[start] {
		start++
	}
	endB, endA := len(bl), len(al)
	for endB > start && endA > start && bl[endB-1] == al[endA-1] {
		endB--
		endA--
	}

	from := start - context
	if from < 0 {
		from = 0
	}

	var lines []string
	for i := from; i < start; i++ {
		lines = append(lines, "  "+bl[i])
	}
	for i := start; i < endB && len(lines) < maxLines; i++ {
		lines = append(lines, "- "+bl[i])
	}
	for i := start; i < endA && len(lines) < maxLines; i++ {
		lines = append(lines, "+ "+al[i])
	}
	for i := endB; i < len(bl) && i-endB < context; i++ {
		lines = append(lines, "  "+bl[i])
	}
	return strings.Join(lines, "\n")
}
