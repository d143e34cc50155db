package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoWaiter is returned by Resolve when no run is waiting on the feature.
// The caller should fall back to restart recovery: persist the decision and
// let the scheduler pick the feature up on its next pass.
var ErrNoWaiter = errors.New("no pending approval request for feature")

// Decision is an operator's verdict on a generated plan.
type Decision struct {
	// Approved is true to proceed with implementation.
	Approved bool
	// Feedback carries the rejection reason when not approved.
	Feedback string
}

// ApprovalHub hands operator decisions to runs blocked on plan approval.
// A run registers before announcing the plan, so a decision arriving between
// announcement and wait is never lost.
type ApprovalHub struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewApprovalHub creates an empty hub.
func NewApprovalHub() *ApprovalHub {
	return &ApprovalHub{pending: make(map[string]chan Decision)}
}

// Register creates the pending request for a feature. Call it before telling
// anyone the plan is ready for review. Returns an error if a request is
// already pending for the feature.
func (h *ApprovalHub) Register(featureID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.pending[featureID]; exists {
		return fmt.Errorf("approval request already pending for feature %s", featureID)
	}
	h.pending[featureID] = make(chan Decision, 1)
	return nil
}

// Await blocks until a decision arrives for the feature or ctx is done.
// The registration is consumed either way.
func (h *ApprovalHub) Await(ctx context.Context, featureID string) (Decision, error) {
	h.mu.Lock()
	ch, ok := h.pending[featureID]
	h.mu.Unlock()
	if !ok {
		return Decision{}, fmt.Errorf("feature %s has no registered approval request", featureID)
	}

	defer h.Cancel(featureID)

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision to the waiting run. Returns ErrNoWaiter when
// nothing is registered for the feature.
func (h *ApprovalHub) Resolve(featureID string, d Decision) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.pending[featureID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoWaiter, featureID)
	}
	select {
	case ch <- d:
		return nil
	default:
		return fmt.Errorf("decision already delivered for feature %s", featureID)
	}
}

// Cancel drops the pending request for a feature, if any.
func (h *ApprovalHub) Cancel(featureID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, featureID)
}

// Pending returns the feature ids with a registered approval request.
func (h *ApprovalHub) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.pending))
	for id := range h.pending {
		out = append(out, id)
	}
	return out
}
