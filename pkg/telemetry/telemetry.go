// Package telemetry is the observability side-channel of the core: a
// counters map keyed by drop/fail reason, a ring buffer of recent
// command outcomes for the admin read-only view, and fan-out hooks that
// broadcast each terminal outcome to WebSocket subscribers and raise
// admin alerts for auth failures and emergency stops.
package telemetry

import (
	"sync"
	"time"

	"github.com/streamhub/core/pkg/model"
)

// Outcome is the wire shape of one terminal command item, as served by
// the admin outcomes endpoint and broadcast over the WebSocket channel.
type Outcome struct {
	ItemID      string            `json:"itemId"`
	ExecutionID string            `json:"executionId,omitempty"`
	StepIndex   *int              `json:"stepIndex,omitempty"`
	DeviceID    string            `json:"deviceId"`
	Kind        model.CommandKind `json:"kind"`
	Intensity   int               `json:"intensity"`
	DurationMs  int64             `json:"durationMs"`
	Status      model.ItemStatus  `json:"status"`
	Reason      model.Reason      `json:"reason,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	EventKind   model.EventKind   `json:"eventKind,omitempty"`
	Attempts    int               `json:"attempts"`
	At          time.Time         `json:"at"`
}

// Broadcaster pushes an outcome to subscribed observability clients.
// Implemented by the events package; nil disables broadcasting.
type Broadcaster interface {
	BroadcastOutcome(o Outcome)
}

// Alerter raises admin alerts for the two conditions spec §7 routes
// beyond counters: device auth failures and emergency stops. Implemented
// by the slack package; nil disables alerting.
type Alerter interface {
	AlertAuthFailure(o Outcome)
	AlertEmergencyStop(reason string)
}

// Hub collects counters and recent outcomes. It implements both the
// queue's Recorder and the mapping engine's CounterSink.
type Hub struct {
	mu       sync.Mutex
	counters map[model.Reason]int64
	ring     []Outcome
	next     int
	filled   bool

	clock       model.Clock
	broadcaster Broadcaster
	alerter     Alerter
}

// NewHub constructs a Hub keeping the last ringSize outcomes.
func NewHub(ringSize int, clock model.Clock) *Hub {
	if ringSize <= 0 {
		ringSize = 100
	}
	return &Hub{
		counters: make(map[model.Reason]int64),
		ring:     make([]Outcome, ringSize),
		clock:    clock,
	}
}

// SetBroadcaster wires the WebSocket fan-out. Optional.
func (h *Hub) SetBroadcaster(b Broadcaster) { h.broadcaster = b }

// SetAlerter wires the admin alert channel. Optional.
func (h *Hub) SetAlerter(a Alerter) { h.alerter = a }

// Record receives a terminal CommandItem from the queue, counts its
// reason (if any), appends it to the ring, and fans it out.
func (h *Hub) Record(item model.CommandItem) {
	o := Outcome{
		ItemID:      item.ID,
		ExecutionID: item.ExecutionID,
		StepIndex:   item.StepIndex,
		DeviceID:    item.DeviceID,
		Kind:        item.Kind,
		Intensity:   item.Intensity,
		DurationMs:  item.Duration.Milliseconds(),
		Status:      item.Status,
		Reason:      item.DropReason,
		UserID:      item.OriginUserID,
		EventKind:   item.OriginEventKind,
		Attempts:    item.Attempts,
		At:          h.clock.Now(),
	}

	h.mu.Lock()
	if item.DropReason != "" {
		h.counters[item.DropReason]++
	}
	h.ring[h.next] = o
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
	h.mu.Unlock()

	if h.broadcaster != nil {
		h.broadcaster.BroadcastOutcome(o)
	}
	if h.alerter != nil && item.Status == model.StatusFailed && item.DropReason == model.ReasonAuth {
		h.alerter.AlertAuthFailure(o)
	}
}

// Inc bumps a reason counter without an associated item, for conditions
// swallowed before an item exists (cooldown suppression at M).
func (h *Hub) Inc(reason model.Reason) {
	h.mu.Lock()
	h.counters[reason]++
	h.mu.Unlock()
}

// EmergencyStopTriggered counts and alerts an emergency-stop trip.
func (h *Hub) EmergencyStopTriggered(reason string) {
	h.Inc(model.ReasonEmergencyStop)
	if h.alerter != nil {
		h.alerter.AlertEmergencyStop(reason)
	}
}

// Counters returns a snapshot of every reason counter.
func (h *Hub) Counters() map[model.Reason]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[model.Reason]int64, len(h.counters))
	for k, v := range h.counters {
		out[k] = v
	}
	return out
}

// Recent returns the buffered outcomes, oldest first.
func (h *Hub) Recent() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.filled {
		out := make([]Outcome, h.next)
		copy(out, h.ring[:h.next])
		return out
	}
	out := make([]Outcome, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	out = append(out, h.ring[:h.next]...)
	return out
}
