// Package safety implements the Safety Arbiter (S): the emergency-stop
// latch, global/per-device/per-user rate ledger, and command validation
// that every item passes through immediately before dispatch.
package safety

import "sync"

// Latch is the shared emergency-stop flag checked at two points in the
// dispatch path (Queue, when a worker starts dispatching a claimed item;
// Safety,
// as the first step of Validate) per DESIGN.md's resolution of the
// emergency-stop ownership question. Safety owns and constructs it;
// Queue only holds a reference.
type Latch struct {
	mu      sync.RWMutex
	tripped bool
	reason  string
}

// NewLatch returns a latch initialized from the emergencyStopEnabled
// config flag.
func NewLatch(initiallyTripped bool) *Latch {
	return &Latch{tripped: initiallyTripped}
}

// Trip sets the latch, recording a human-readable reason for admin
// surfacing and alerting.
func (l *Latch) Trip(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = true
	l.reason = reason
}

// Clear releases the latch.
func (l *Latch) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = false
	l.reason = ""
}

// Tripped reports the current state.
func (l *Latch) Tripped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tripped
}

// Reason returns the last trip reason, empty if the latch is clear.
func (l *Latch) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}
