package tooling

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"relay/internal/logging"
)

// WriteTool creates or overwrites one file at an absolute path inside the
// workspace root.
type WriteTool struct {
	guard pathGuard
}

func NewWriteTool(guard pathGuard) *WriteTool {
	return &WriteTool{guard: guard}
}

func (WriteTool) SideEffecting() bool { return true }

func (WriteTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "write",
			Description: "Create or overwrite a file with the given content. The path must be absolute. Parent directories are created as needed. Prefer edit for targeted changes to existing files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Absolute path of the file to write.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full content to write.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (w *WriteTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return Result{}, errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		return Result{}, errors.New("path must be absolute")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return Result{}, errors.New("content is required")
	}

	absPath, err := w.guard.Resolve(path)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return Fail("create parent directory: %v", err), nil
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return Fail("write file: %v", err), nil
	}

	logging.DevLog("write: %s (%d bytes)", w.guard.Rel(absPath), len(content))
	return Ok(map[string]any{
		"path":  w.guard.Rel(absPath),
		"bytes": len(content),
	}), nil
}
