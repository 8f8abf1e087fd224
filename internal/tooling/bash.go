package tooling

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"relay/internal/logging"
)

// DefaultBashTimeout bounds shell executions that carry no override.
const DefaultBashTimeout = 30 * time.Second

const maxCapturedOutput = 100_000

// BashTool executes one shell command with an enforced timeout. A timeout
// kills the whole process group and is reported in the result, never as
// an error; exit_code is null in that case.
type BashTool struct {
	guard   pathGuard
	timeout time.Duration
}

func NewBashTool(guard pathGuard, timeout time.Duration) *BashTool {
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	return &BashTool{guard: guard, timeout: timeout}
}

func (BashTool) SideEffecting() bool { return true }

func (b *BashTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "bash",
			Description: "Execute a shell command in the workspace root and capture stdout, stderr, exit code and elapsed time. Commands that exceed the timeout are killed and reported with timed_out=true.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The command to run.",
					},
					"timeout_ms": map[string]any{
						"type":        "integer",
						"description": "Optional timeout override in milliseconds.",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

func (b *BashTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return Result{}, errors.New("command is required")
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return Result{}, err
	}

	timeout := b.timeout
	if ms := intArg(args, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	logging.UserLog("bash: %s", auditPrefix(command, 80))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.guard.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group, so a timeout can kill the command and every
	// child it spawned.
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Fail("start command: %v", err), nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		timedOut bool
		waitErr  error
	)
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return Result{}, ctx.Err()
	case <-timer.C:
		timedOut = true
		killGroup(cmd)
		<-done
	}
	elapsed := time.Since(start)

	fields := map[string]any{
		"stdout":     truncateOutput(stdout.String()),
		"stderr":     truncateOutput(stderr.String()),
		"elapsed_ms": elapsed.Milliseconds(),
		"timed_out":  timedOut,
	}
	if timedOut {
		fields["exit_code"] = nil
		res := Fail("command timed out after %s", timeout)
		res.Fields = fields
		return res, nil
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			res := Fail("command failed: %v", waitErr)
			res.Fields = fields
			return res, nil
		}
	}
	fields["exit_code"] = exitCode
	if exitCode != 0 {
		res := Fail("command exited with code %d", exitCode)
		res.Fields = fields
		return res, nil
	}
	return Ok(fields), nil
}

func truncateOutput(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + "\n... output truncated"
}
