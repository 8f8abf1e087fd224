package chat

import (
	"context"
	"fmt"
	"sync"
)

// Broker mediates the approval round trip for side-effecting tool calls.
// RequestApproval suspends the calling goroutine until Resolve delivers a
// decision for that call id, or the context is cancelled. Decisions may be
// resolved in any order and ahead of the request.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan Decision
	decided map[string]Decision
}

func NewBroker() *Broker {
	return &Broker{
		pending: make(map[string]chan Decision),
		decided: make(map[string]Decision),
	}
}

// RequestApproval transitions the call to approval-requested and blocks
// until a decision is recorded against its id. On context cancellation the
// call is denied with a "cancelled" reason and the context error returned.
func (b *Broker) RequestApproval(ctx context.Context, call *ToolCall) (Decision, error) {
	if err := call.RequestApproval(); err != nil {
		return Decision{}, err
	}

	b.mu.Lock()
	if d, ok := b.decided[call.ID]; ok {
		b.mu.Unlock()
		return d, call.RecordDecision(d)
	}
	ch, ok := b.pending[call.ID]
	if !ok {
		ch = make(chan Decision, 1)
		b.pending[call.ID] = ch
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		call.Deny("cancelled")
		b.mu.Lock()
		delete(b.pending, call.ID)
		b.mu.Unlock()
		return Decision{}, ctx.Err()
	case d := <-ch:
		return d, call.RecordDecision(d)
	}
}

// Resolve records the user's decision for a call id. Replaying an
// identical decision is a no-op; a conflicting replay is rejected.
func (b *Broker) Resolve(callID string, d Decision) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.decided[callID]; ok {
		if prev.Approved == d.Approved {
			return nil
		}
		return fmt.Errorf("approval %s: conflicting decision (already %v)", callID, prev.Approved)
	}
	b.decided[callID] = d
	if ch, ok := b.pending[callID]; ok {
		ch <- d
		delete(b.pending, callID)
	}
	return nil
}

// Pending lists call ids currently waiting on a decision.
func (b *Broker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}
