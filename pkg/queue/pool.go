package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

// WorkerPool manages a fixed-size pool of queue workers draining one
// Queue. Adapted from the teacher's DB-polling WorkerPool: Start/Stop
// keep the same idempotent, graceful-drain shape, but there is no
// orphan-detection background task (an in-memory queue has no orphaned
// rows to reclaim — spec's Non-goals explicitly exclude durable
// cross-restart queuing).
type WorkerPool struct {
	podID    string
	q        *Queue
	size     int
	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewWorkerPool constructs a pool of size workers draining q.
func NewWorkerPool(podID string, q *Queue, size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		podID:  podID,
		q:      q,
		size:   size,
		stopCh: make(chan struct{}),
	}
}

// Start spawns the pool's workers. Safe to call more than once;
// subsequent calls are no-ops.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate start", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.size)
	for i := 0; i < p.size; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.q, p.stopCh)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
}

// Stop signals every worker to exit its loop and waits for in-flight
// items to finish; no new item is claimed after the signal.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	slog.Info("stopping worker pool gracefully", "pod_id", p.podID)
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("worker pool stopped gracefully", "pod_id", p.podID)
}

// Health reports aggregate worker-pool health for the admin read-only
// view (spec §6.3).
func (p *WorkerPool) Health() PoolHealth {
	p.mu.Lock()
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	active := 0
	stats := make([]WorkerHealth, len(workers))
	for i, w := range workers {
		stats[i] = w.health()
		if stats[i].Status == WorkerStatusWorking {
			active++
		}
	}
	return PoolHealth{
		PodID:         p.podID,
		TotalWorkers:  len(workers),
		ActiveWorkers: active,
		QueueDepth:    p.q.Health(),
		WorkerStats:   stats,
	}
}

// PoolHealth mirrors the teacher's PoolHealth shape, trimmed to the
// fields an in-memory queue can actually report.
type PoolHealth struct {
	PodID         string
	TotalWorkers  int
	ActiveWorkers int
	QueueDepth    int
	WorkerStats   []WorkerHealth
}

// WorkerStatus mirrors the teacher's idle/working enum.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth reports one worker's current state.
type WorkerHealth struct {
	ID     string
	Status WorkerStatus
}
