package queue

import "time"

// Config is the Command Queue & Dispatcher's static configuration
// (spec §4.3).
type Config struct {
	PodID       string // names this process's workers in logs and health
	WorkerCount int    // W, default small, e.g. 4
	MaxQueued   int    // Qmax, default 1000

	PollInterval       time.Duration // base interval a worker sleeps when nothing is ready
	PollIntervalJitter time.Duration

	RequestTimeout     time.Duration // per-request deadline at D
	RetryBackoffBase   time.Duration
	RetryBackoffFactor float64
	MaxRetries         int
	ItemWallClockBudget time.Duration // 30s per spec §4.3 step 6
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		PodID:               "core",
		WorkerCount:         4,
		MaxQueued:           1000,
		PollInterval:        50 * time.Millisecond,
		PollIntervalJitter:  20 * time.Millisecond,
		RequestTimeout:      10 * time.Second,
		RetryBackoffBase:    200 * time.Millisecond,
		RetryBackoffFactor:  2,
		MaxRetries:          5,
		ItemWallClockBudget: 30 * time.Second,
	}
}
