package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/streamhub/core/pkg/device"
	"github.com/streamhub/core/pkg/model"
	"github.com/streamhub/core/pkg/safety"
)

// DroppedError is returned by Submit when an item is refused outright
// (never enqueued) rather than enqueued and later dropped during
// dispatch. The caller — M or P — is expected to record Reason itself,
// per spec §4.3's "this is a fatal-for-this-event condition" language;
// Queue also records it through its own Recorder for the observability
// side-channel.
type DroppedError struct {
	Reason model.Reason
}

func (e *DroppedError) Error() string { return fmt.Sprintf("dropped: %s", e.Reason) }

// ExecutionCanceller lets the Queue cancel every in-flight pattern
// execution during an emergency stop, and release an execution's record
// once all its items have settled, without importing package pattern
// directly (pattern already depends on model + this narrow shape).
type ExecutionCanceller interface {
	CancelExecution(executionID string)
	CancelAll()
	Settled(executionID string)
}

// Recorder receives every CommandItem once it reaches a terminal state,
// for the observability side-channel (spec §7).
type Recorder interface {
	Record(item model.CommandItem)
}

// Queue is the Command Queue & Dispatcher (Q): a bounded, priority-aware
// collection of CommandItems plus the worker pool that drains it.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	inFlight int
	cfg      Config

	latch     *safety.Latch
	arbiter   *safety.Arbiter
	device    device.Sender
	canceller ExecutionCanceller
	recorder  Recorder
	clock     model.Clock

	pendingByExecution map[string]int

	// notify wakes one idle worker when an item arrives, so a freshly
	// submitted due item doesn't wait out a full poll interval.
	notify chan struct{}

	pool *WorkerPool
}

// New constructs a Queue. Call Start to begin dispatching.
func New(cfg Config, arbiter *safety.Arbiter, dev device.Sender, canceller ExecutionCanceller, recorder Recorder, clock model.Clock) *Queue {
	q := &Queue{
		cfg:                cfg,
		latch:              arbiter.Latch(),
		arbiter:            arbiter,
		device:             dev,
		canceller:          canceller,
		recorder:           recorder,
		clock:              clock,
		pendingByExecution: make(map[string]int),
		notify:             make(chan struct{}, 1),
	}
	q.pool = NewWorkerPool(cfg.PodID, q, cfg.WorkerCount)
	return q
}

// Start launches the worker pool.
func (q *Queue) Start() { q.pool.Start() }

// Stop gracefully stops the worker pool, waiting for in-flight items.
func (q *Queue) Stop() { q.pool.Stop() }

// Pool exposes the worker pool for the admin health view.
func (q *Queue) Pool() *WorkerPool { return q.pool }

// Submit enqueues item, enforcing the Qmax back-pressure limit and the
// emergency-stop refusal rule (spec §4.3). Both cases return
// *DroppedError so the caller can react (e.g. count it against its own
// per-event bookkeeping) in addition to Queue's own recording.
func (q *Queue) Submit(item model.CommandItem) error {
	if q.latch.Tripped() {
		q.recordRefusal(item, model.ReasonEmergencyStop)
		return &DroppedError{Reason: model.ReasonEmergencyStop}
	}

	q.mu.Lock()
	if len(q.items) >= q.cfg.MaxQueued {
		q.mu.Unlock()
		q.recordRefusal(item, model.ReasonQueueFull)
		return &DroppedError{Reason: model.ReasonQueueFull}
	}
	item.Status = model.StatusScheduled
	cp := item
	heap.Push(&q.items, &cp)
	if cp.ExecutionID != "" {
		q.pendingByExecution[cp.ExecutionID]++
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// CancelExecution cancels executionID via the owning Pattern engine. The
// Queue itself holds no cancellation state beyond the pending-item
// counter; at dispatch time it only observes item.CancelToken.Cancelled().
// A no-op on an unknown execution id (spec §8 idempotence).
func (q *Queue) CancelExecution(executionID string) {
	q.canceller.CancelExecution(executionID)
}

// TriggerEmergencyStop sets the shared latch, drains every non-terminal
// item to Dropped(emergency_stop), and cancels every pattern execution
// (spec §4.3). Idempotent: a second call while already tripped is a
// no-op beyond re-setting the reason.
func (q *Queue) TriggerEmergencyStop(reason string) {
	q.latch.Trip(reason)
	q.canceller.CancelAll()

	q.mu.Lock()
	drained := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range drained {
		q.recordDrop(*item, model.ReasonEmergencyStop)
	}
}

// ClearEmergencyStop releases the latch. Previously dropped items are
// not resurrected (spec §4.3); idempotent if already clear.
func (q *Queue) ClearEmergencyStop() {
	q.latch.Clear()
}

// Stats is the read-only queue view exposed to the admin surface
// (spec §6.3).
type Stats struct {
	Depth    int `json:"depth"`
	InFlight int `json:"inFlight"`
}

// Health reports the current queue depth, for the worker-pool health
// aggregation.
func (q *Queue) Health() (depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats reports queue depth and in-flight count together.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Depth: len(q.items), InFlight: q.inFlight}
}

// claimReady removes and returns the best ready item — highest priority,
// then earliest ScheduledNotBefore, then earliest SubmittedAt, among the
// items whose ScheduledNotBefore has arrived. A high-priority item that
// is scheduled for the future never blocks a ready lower-priority one.
// When nothing is ready, wait is how long the caller should sleep before
// checking again (bounded by the poll interval).
func (q *Queue) claimReady() (item *model.CommandItem, wait time.Duration, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	best := -1
	var nextDue time.Time
	for i, candidate := range q.items {
		if candidate.ScheduledNotBefore.After(now) {
			if nextDue.IsZero() || candidate.ScheduledNotBefore.Before(nextDue) {
				nextDue = candidate.ScheduledNotBefore
			}
			continue
		}
		if best == -1 || q.items.Less(i, best) {
			best = i
		}
	}

	if best == -1 {
		wait = q.cfg.PollInterval
		if !nextDue.IsZero() {
			if until := nextDue.Sub(now); until < wait {
				wait = until
			}
		}
		return nil, wait, false
	}

	claimed := heap.Remove(&q.items, best).(*model.CommandItem)
	q.inFlight++
	return claimed, 0, true
}

func (q *Queue) releaseInFlight() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
}

// settleExecution decrements the pending-item counter for executionID
// and tells the canceller once it reaches zero, per the PatternExecution
// lifecycle in spec §3 ("removed when all its command items settle").
func (q *Queue) settleExecution(executionID string) {
	if executionID == "" {
		return
	}
	q.mu.Lock()
	q.pendingByExecution[executionID]--
	done := q.pendingByExecution[executionID] <= 0
	if done {
		delete(q.pendingByExecution, executionID)
	}
	q.mu.Unlock()
	if done {
		q.canceller.Settled(executionID)
	}
}

// recordRefusal records an item the queue never accepted. Unlike
// recordDrop it must not settle the item's execution: the pending
// counter was never incremented for it.
func (q *Queue) recordRefusal(item model.CommandItem, reason model.Reason) {
	item.Status = model.StatusDropped
	item.DropReason = reason
	if q.recorder != nil {
		q.recorder.Record(item)
	}
}

func (q *Queue) recordDrop(item model.CommandItem, reason model.Reason) {
	item.Status = model.StatusDropped
	item.DropReason = reason
	q.recordTerminal(item)
}

func (q *Queue) recordFailed(item model.CommandItem, reason model.Reason) {
	item.Status = model.StatusFailed
	item.DropReason = reason
	q.recordTerminal(item)
}

func (q *Queue) recordDone(item model.CommandItem) {
	item.Status = model.StatusDone
	item.DropReason = ""
	q.recordTerminal(item)
}

func (q *Queue) recordTerminal(item model.CommandItem) {
	if q.recorder != nil {
		q.recorder.Record(item)
	}
	q.settleExecution(item.ExecutionID)
}
