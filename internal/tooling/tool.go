package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is one gated capability. Call validates its arguments and returns a
// structured result; the error return is reserved for malformed input that
// never reaches execution. Execution failures (missing file, non-zero
// exit, timeout) are reported inside the Result, never as an error.
type Tool interface {
	Definition() ToolDefinition
	SideEffecting() bool
	Call(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the uniform tool outcome: a success flag, tool-specific
// fields, and an optional error string. It serializes flat.
type Result struct {
	Success bool
	Error   string
	Fields  map[string]any
}

func Ok(fields map[string]any) Result {
	return Result{Success: true, Fields: fields}
}

func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Error != "" {
		m["error"] = r.Error
	}
	return json.Marshal(m)
}

// JSON renders the result for the model and the wire.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"serialize result: %v"}`, err)
	}
	return string(data)
}

type Registry struct {
	tools       map[string]Tool
	definitions []ToolDefinition
}

func NewRegistry(tools ...Tool) *Registry {
	bucket := make(map[string]Tool, len(tools))
	defs := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		def := tool.Definition()
		bucket[def.Function.Name] = tool
		defs = append(defs, def)
	}
	return &Registry{tools: bucket, definitions: defs}
}

func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

type Options struct {
	WorkspaceRoot string
	BashTimeout   time.Duration
	FetchTimeout  time.Duration
}

// DefaultTools assembles the standard gateway set rooted at the workspace.
func DefaultTools(opts Options) []Tool {
	guard, err := newPathGuard(opts.WorkspaceRoot)
	if err != nil {
		panic(err)
	}
	return []Tool{
		NewReadTool(guard),
		NewListTool(guard),
		NewFetchTool(opts.FetchTimeout),
		NewEditTool(guard),
		NewMultiEditTool(guard),
		NewWriteTool(guard),
		NewBashTool(guard, opts.BashTimeout),
	}
}

type pathGuard struct {
	root string
}

func newPathGuard(root string) (pathGuard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return pathGuard{}, err
	}
	return pathGuard{root: abs}, nil
}

func (p pathGuard) Resolve(path string) (string, error) {
	var target string
	if path == "" {
		target = p.root
	} else if filepath.IsAbs(path) {
		target = path
	} else {
		target = filepath.Join(p.root, path)
	}
	cleaned, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if cleaned != p.root && !strings.HasPrefix(cleaned, p.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes workspace root", path)
	}
	return cleaned, nil
}

func (p pathGuard) Rel(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return path
	}
	return rel
}

// auditPrefix bounds a command or payload for audit logging so the log
// carries identifying detail without the full content.
func auditPrefix(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch n := val.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultVal
	}
}
