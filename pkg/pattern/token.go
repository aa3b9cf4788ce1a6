// Package pattern implements the Pattern/Flow Engine (P): expansion of a
// named multi-step program into scheduled command items sharing one
// execution id, and cooperative cancellation of not-yet-dispatched steps.
package pattern

import "sync/atomic"

// token is the concrete model.CancellationToken: a single atomic flag,
// first-class and per-execution, per DESIGN.md's resolution of the
// "cancelled flag polled by queue workers" redesign note — P owns
// creation, Q only observes it.
type token struct {
	cancelled atomic.Bool
}

// newToken returns a fresh, uncancelled token.
func newToken() *token { return &token{} }

func (t *token) Cancel()         { t.cancelled.Store(true) }
func (t *token) Cancelled() bool { return t.cancelled.Load() }
