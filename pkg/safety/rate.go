package safety

import (
	"sync"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// RateLedger is a sliding-window rate limiter with one global counter,
// one counter per originating user and one per device. Timestamps older than the window are
// pruned lazily on each check, the same opportunistic-GC approach used by
// mapping.CooldownLedger.
type RateLedger struct {
	mu     sync.Mutex
	clock  model.Clock
	window time.Duration

	global   []time.Time
	byUser   map[string][]time.Time
	byDevice map[string][]time.Time
}

// NewRateLedger constructs an empty ledger for the given window.
func NewRateLedger(clock model.Clock, window time.Duration) *RateLedger {
	return &RateLedger{
		clock:    clock,
		window:   window,
		byUser:   make(map[string][]time.Time),
		byDevice: make(map[string][]time.Time),
	}
}

// AllowGlobal reports whether one more dispatch fits under limit within
// the window, without recording it. Call Record after a successful
// admission.
func (r *RateLedger) AllowGlobal(limit int) bool {
	if limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = prune(r.global, r.clock.Now(), r.window)
	return len(r.global) < limit
}

// AllowUser reports whether one more dispatch for userID fits under limit
// within the window.
func (r *RateLedger) AllowUser(userID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := prune(r.byUser[userID], r.clock.Now(), r.window)
	r.byUser[userID] = pruned
	return len(pruned) < limit
}

// AllowDevice reports whether one more dispatch to deviceID fits under
// limit within the window.
func (r *RateLedger) AllowDevice(deviceID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := prune(r.byDevice[deviceID], r.clock.Now(), r.window)
	r.byDevice[deviceID] = pruned
	return len(pruned) < limit
}

// Record registers one dispatch for userID on deviceID at the current
// clock time, counting against the global, per-user, and per-device
// windows.
func (r *RateLedger) Record(userID, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.global = append(prune(r.global, now, r.window), now)
	r.byUser[userID] = append(prune(r.byUser[userID], now, r.window), now)
	r.byDevice[deviceID] = append(prune(r.byDevice[deviceID], now, r.window), now)
}

func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) > window {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[cut:]...)
}
