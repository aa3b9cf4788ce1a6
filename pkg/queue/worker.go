package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/streamhub/core/pkg/device"
	"github.com/streamhub/core/pkg/model"
)

// worker is a single dispatch worker draining the queue. It claims one
// ready item at a time and owns the full dispatch sequence for it:
// cancellation check, emergency-stop check, safety validation, the
// device call, and the retry loop.
type worker struct {
	id     string
	q      *Queue
	stopCh chan struct{}

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentItemID  string
	itemsProcessed int
	lastActivity   time.Time
}

func newWorker(id string, q *Queue, stopCh chan struct{}) *worker {
	return &worker{
		id:           id,
		q:            q,
		stopCh:       stopCh,
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// run is the main worker loop.
func (w *worker) run() {
	log := slog.With("worker_id", w.id)
	log.Info("Queue worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Queue worker shutting down")
			return
		default:
		}

		item, wait, ok := w.q.claimReady()
		if !ok {
			w.sleep(w.jittered(wait))
			continue
		}

		w.setStatus(WorkerStatusWorking, item.ID)
		w.dispatch(item)
		w.q.releaseInFlight()
		w.setStatus(WorkerStatusIdle, "")

		w.mu.Lock()
		w.itemsProcessed++
		w.mu.Unlock()
	}
}

// dispatch runs the per-item dispatch sequence. The item has already
// been removed from the queue; every path out of here is a terminal
// state recorded through the Queue.
func (w *worker) dispatch(item *model.CommandItem) {
	log := slog.With("worker_id", w.id, "item_id", item.ID, "device_id", item.DeviceID)

	if tok := item.CancelToken; tok != nil && tok.Cancelled() {
		w.q.recordDrop(*item, model.ReasonCancelled)
		return
	}
	if w.q.latch.Tripped() {
		w.q.recordDrop(*item, model.ReasonEmergencyStop)
		return
	}

	decision := w.q.arbiter.Validate(*item, item.Safety)
	if !decision.Allowed {
		log.Info("Item denied by safety arbiter", "reason", decision.Reason)
		w.q.recordDrop(*item, decision.Reason)
		return
	}

	item.Status = model.StatusInFlight
	deadline := time.Now().Add(w.q.cfg.ItemWallClockBudget)
	backoff := w.q.cfg.RetryBackoffBase

	for {
		item.Attempts++

		ctx, cancel := context.WithTimeout(context.Background(), w.q.cfg.RequestTimeout)
		err := w.q.device.Send(ctx, item.DeviceID, item.Kind, decision.Intensity, decision.Duration)
		cancel()

		if err == nil {
			w.q.arbiter.RecordDispatch(item.OriginUserID, item.DeviceID)
			w.q.recordDone(*item)
			return
		}

		var classified *device.ClassifiedError
		if errors.As(err, &classified) && classified.Reason == model.ReasonAuth {
			log.Error("Device backend rejected credentials", "error", err)
			w.q.recordFailed(*item, model.ReasonAuth)
			return
		}

		// Everything else — rate-limit, 5xx, network, timeout — retries
		// with exponential backoff, honoring Retry-After when present.
		wait := backoff
		if classified != nil && classified.RetryAfter > 0 {
			wait = classified.RetryAfter
		}
		if item.Attempts > w.q.cfg.MaxRetries || time.Now().Add(wait).After(deadline) {
			log.Warn("Item exhausted its retry budget", "attempts", item.Attempts, "error", err)
			w.q.recordFailed(*item, model.ReasonExceededRetries)
			return
		}
		log.Info("Retrying item after transient failure", "attempt", item.Attempts, "wait", wait, "error", err)

		// The backoff waits its full length: submission wake-ups do not cut
		// it short, only shutdown does.
		timer := time.NewTimer(wait)
		select {
		case <-w.stopCh:
			timer.Stop()
			// Shutdown mid-backoff: the item never reached the backend on
			// this attempt, surface the failure rather than losing it.
			w.q.recordFailed(*item, model.ReasonExceededRetries)
			return
		case <-timer.C:
		}

		// Re-check the cooperative signals after every backoff sleep so a
		// cancellation or emergency stop lands within one backoff period.
		if tok := item.CancelToken; tok != nil && tok.Cancelled() {
			w.q.recordDrop(*item, model.ReasonCancelled)
			return
		}
		if w.q.latch.Tripped() {
			w.q.recordDrop(*item, model.ReasonEmergencyStop)
			return
		}

		backoff = time.Duration(float64(backoff) * w.q.cfg.RetryBackoffFactor)
	}
}

// sleep waits for d, a submission wake-up, or shutdown. Returns false
// if the worker is shutting down.
func (w *worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-w.q.notify:
		return true
	case <-timer.C:
		return true
	}
}

// jittered spreads idle polling across workers so they don't contend on
// the queue lock in lockstep.
func (w *worker) jittered(base time.Duration) time.Duration {
	jitter := w.q.cfg.PollIntervalJitter
	if jitter <= 0 || base <= jitter {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *worker) setStatus(status WorkerStatus, itemID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentItemID = itemID
	w.lastActivity = time.Now()
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{ID: w.id, Status: w.status}
}
