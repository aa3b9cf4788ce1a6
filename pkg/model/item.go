package model

import "time"

// ItemStatus is the lifecycle state of a CommandItem as it moves through
// the Command Queue & Dispatcher.
type ItemStatus string

// Item statuses, in the order an item normally progresses through them.
const (
	StatusPending   ItemStatus = "pending"
	StatusScheduled ItemStatus = "scheduled"
	StatusInFlight  ItemStatus = "in_flight"
	StatusDone      ItemStatus = "done"
	StatusFailed    ItemStatus = "failed"
	StatusDropped   ItemStatus = "dropped"
)

// CommandItem is one entry in the priority-ordered command queue (spec
// §4.3). An item produced directly by a Mapping has StepIndex nil and
// ExecutionID empty; an item expanded from a Pattern step carries both,
// and CancelToken lets the queue observe cooperative cancellation without
// polling a global map.
type CommandItem struct {
	ID       string
	DeviceID string
	Kind     CommandKind

	Intensity int
	Duration  time.Duration

	Priority           int
	ScheduledNotBefore time.Time
	SubmittedAt        time.Time

	OriginUserID    string
	OriginEventKind EventKind

	// Safety carries the producing mapping's local caps so the Safety
	// Arbiter can clamp against min(global, mapping) without a lookup.
	Safety *MappingSafety

	// ExecutionID and StepIndex are set only for items expanded from a
	// Pattern; StepIndex is nil for items produced by a plain Command
	// mapping.
	ExecutionID string
	StepIndex   *int
	CancelToken CancellationToken

	Attempts   int
	Status     ItemStatus
	DropReason Reason
}

// CancellationToken is a first-class handle to the cancel state of one
// pattern execution. It is owned and created by the Pattern engine and
// merely observed by the Queue: Cancel() and Cancelled() must be safe for
// concurrent use.
type CancellationToken interface {
	Cancel()
	Cancelled() bool
}

// PatternExecution tracks one in-progress expansion of a Pattern onto a
// device: the set of CommandItems it produced and the token that cancels
// the remaining ones.
type PatternExecution struct {
	ExecutionID string
	PatternID   string
	DeviceID    string
	StartedAt   time.Time
	Token       CancellationToken
}
