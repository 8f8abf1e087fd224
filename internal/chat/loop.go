package chat

import (
	"relay/internal/llm"
	"relay/internal/logging"
)

// DefaultMaxIterations bounds the model/tool round trips of one user
// request when no override is configured.
const DefaultMaxIterations = 10

// LoopController decides, after each completed model turn, whether the
// agent loop feeds tool results back for another turn or stops. The bound
// is enforced purely on iteration count so behaviour stays deterministic.
type LoopController struct {
	maxIterations int
	iteration     int
	log           *logging.StructuredLogger
}

// NewLoopController starts a fresh counter for one user-initiated request.
func NewLoopController(maxIterations int, log *logging.StructuredLogger) *LoopController {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &LoopController{maxIterations: maxIterations, log: log}
}

// Iteration reports how many model turns have completed so far.
func (l *LoopController) Iteration() int {
	return l.iteration
}

// TurnCompleted consumes one finished model turn and reports whether the
// loop should continue. It increments the counter exactly once per turn.
// Hitting the bound is a graceful stop, not an error; the partial output
// already streamed is the final answer.
func (l *LoopController) TurnCompleted(reason llm.FinishReason) bool {
	l.iteration++
	if reason != llm.FinishToolCalls {
		return false
	}
	if l.iteration >= l.maxIterations {
		if l.log != nil {
			l.log.Warn("iteration bound reached, stopping agent loop", map[string]any{
				"iterations": l.iteration,
				"max":        l.maxIterations,
			})
		}
		return false
	}
	return true
}
