package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadTool returns file contents. Pure read, so it skips the approval
// gate.
type ReadTool struct {
	guard pathGuard
}

func NewReadTool(guard pathGuard) *ReadTool {
	return &ReadTool{guard: guard}
}

func (ReadTool) SideEffecting() bool { return false }

func (ReadTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "read",
			Description: "Read a file and return its content with line numbers. Supports an optional offset/limit window for large files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file, relative to workspace root.",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "1-based line to start from (default 1).",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of lines to return (default 2000).",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (r *ReadTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Result{}, errors.New("path is required")
	}
	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", 2000)
	if limit < 1 {
		limit = 2000
	}

	absPath, err := r.guard.Resolve(path)
	if err != nil {
		return Result{}, err
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return Fail("read file: %v", err), nil
	}

	lines := strings.Split(string(raw), "\n")
	if offset > len(lines) {
		return Fail("offset %d beyond end of file (%d lines)", offset, len(lines)), nil
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return Ok(map[string]any{
		"path":        r.guard.Rel(absPath),
		"content":     b.String(),
		"total_lines": len(lines),
	}), nil
}

// ListTool lists a directory inside the workspace. Pure read.
type ListTool struct {
	guard pathGuard
}

func NewListTool(guard pathGuard) *ListTool {
	return &ListTool{guard: guard}
}

func (ListTool) SideEffecting() bool { return false }

func (ListTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "list",
			Description: "List the entries of a directory within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to list, relative to workspace root (default the root itself).",
					},
				},
			},
		},
	}
}

func (l *ListTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	path, _ := stringArg(args, "path")
	absPath, err := l.guard.Resolve(path)
	if err != nil {
		return Result{}, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return Fail("read directory: %v", err), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Ok(map[string]any{
		"path":    l.guard.Rel(absPath),
		"entries": names,
	}), nil
}
