package mapping

import (
	"sync"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// staleAfter bounds how long a cooldown entry is kept once it can no
// longer be active for any realistic cooldown duration, so the ledger
// does not grow without bound across a long stream session.
const staleAfter = time.Hour

// cooldownShard is one lock-guarded bucket of the ledger. Sharding by
// mapping ID keeps contention local to the mappings actually firing,
// per spec §5's concurrency model.
type cooldownShard struct {
	mu   sync.RWMutex
	last map[string]time.Time // keyed by tier prefix: "g", "d:<id>", "u:<id>"
}

// CooldownLedger tracks the last time each cooldown tier fired for each
// mapping, at three granularities: global (per mapping), per-device, and
// per-user. Entries are registered at match time, not at dispatch time,
// so a burst of events that all match the same mapping within one event
// loop tick cannot all slip through before the first dispatch lands.
type CooldownLedger struct {
	shards map[string]*cooldownShard
	mu     sync.Mutex // guards shards map itself (creation only)
	clock  model.Clock
}

// NewCooldownLedger constructs an empty ledger using clock for all time
// comparisons, so tests can drive it deterministically.
func NewCooldownLedger(clock model.Clock) *CooldownLedger {
	return &CooldownLedger{
		shards: make(map[string]*cooldownShard),
		clock:  clock,
	}
}

func (l *CooldownLedger) shardFor(mappingID string) *cooldownShard {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.shards[mappingID]
	if !ok {
		s = &cooldownShard{last: make(map[string]time.Time)}
		l.shards[mappingID] = s
	}
	return s
}

// Active reports whether any configured tier of cooldown for mappingID is
// still in effect for the given device/user pair.
func (l *CooldownLedger) Active(mappingID string, cd model.Cooldown, deviceID, userID string) bool {
	s := l.shardFor(mappingID)
	now := l.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cd.GlobalMs > 0 {
		if t, ok := s.last["g"]; ok && now.Sub(t) < time.Duration(cd.GlobalMs)*time.Millisecond {
			return true
		}
	}
	if cd.PerDeviceMs > 0 {
		if t, ok := s.last["d:"+deviceID]; ok && now.Sub(t) < time.Duration(cd.PerDeviceMs)*time.Millisecond {
			return true
		}
	}
	if cd.PerUserMs > 0 {
		if t, ok := s.last["u:"+userID]; ok && now.Sub(t) < time.Duration(cd.PerUserMs)*time.Millisecond {
			return true
		}
	}
	return false
}

// Register records a fire of mappingID against deviceID/userID at the
// current clock time, for every tier the mapping configures. Called at
// match time (before dispatch), per the spec's cooldown-registration
// invariant.
func (l *CooldownLedger) Register(mappingID string, cd model.Cooldown, deviceID, userID string) {
	s := l.shardFor(mappingID)
	now := l.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if cd.GlobalMs > 0 {
		s.last["g"] = now
	}
	if cd.PerDeviceMs > 0 {
		s.last["d:"+deviceID] = now
	}
	if cd.PerUserMs > 0 {
		s.last["u:"+userID] = now
	}
	l.gcLocked(s, now)
}

// gcLocked opportunistically drops entries older than staleAfter. It runs
// inline on every Register call rather than on a separate ticker: cheap,
// bounded, and avoids a background goroutine per shard.
func (l *CooldownLedger) gcLocked(s *cooldownShard, now time.Time) {
	for k, t := range s.last {
		if now.Sub(t) > staleAfter {
			delete(s.last, k)
		}
	}
}
