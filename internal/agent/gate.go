package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalGate pauses side-effecting agent actions until the user
// approves or rejects them. Pending requests live in memory; the
// durable record is the proposal the caller files alongside.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]chan bool
	timeout time.Duration
}

// NewApprovalGate creates a gate. timeout bounds how long a request
// waits before being treated as rejected; zero means 5 minutes.
func NewApprovalGate(timeout time.Duration) *ApprovalGate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ApprovalGate{
		pending: make(map[string]chan bool),
		timeout: timeout,
	}
}

// Request registers a pending approval and blocks until it is
// resolved, times out, or the context is cancelled. It returns the
// request id alongside the decision so callers can correlate.
func (g *ApprovalGate) Request(ctx context.Context, description string) (id string, approved bool, err error) {
	id = uuid.NewString()
	ch := make(chan bool, 1)

	g.mu.Lock()
	g.pending[id] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
	}()

	select {
	case approved = <-ch:
		return id, approved, nil
	case <-time.After(g.timeout):
		return id, false, fmt.Errorf("approval %s timed out", id)
	case <-ctx.Done():
		return id, false, ctx.Err()
	}
}

// Resolve answers a pending request. Unknown ids return false.
func (g *ApprovalGate) Resolve(id string, approved bool) bool {
	g.mu.Lock()
	ch, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	return true
}

// Pending returns the ids currently waiting for a decision.
func (g *ApprovalGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}
