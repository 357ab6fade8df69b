// Package agent provides the uniform lifecycle, retry and metrics wrapper
// shared by every pipeline stage. Stages embed a Runner by composition rather
// than inheriting from an abstract base: each stage owns its core logic and
// routes remote or fallible operations through Execute.
package agent

import (
	"context"
	"sync"
	"time"
)

// Operation is one fallible unit of work executed under retry and metrics.
type Operation func(ctx context.Context) error

// Metrics is a read-only snapshot of a runner's counters. Counters are never
// reset implicitly; they survive Reset and Shutdown.
type Metrics struct {
	OperationCount  int64         `json:"operationCount"`
	ErrorCount      int64         `json:"errorCount"`
	AverageDuration time.Duration `json:"averageDuration"`
	SuccessRate     float64       `json:"successRate"`
}

// Runner wraps a stage's operations with lifecycle guards, retry with
// exponential backoff, and metrics. OperationCount counts individual
// attempts, so a call that succeeds after two retries records three
// operations and two errors.
type Runner struct {
	name  string
	retry RetryConfig

	mu            sync.Mutex
	initialized   bool
	opCount       int64
	errCount      int64
	totalDuration time.Duration
}

// NewRunner creates a runner for the named stage.
func NewRunner(name string, cfg RetryConfig) *Runner {
	return &Runner{name: name, retry: cfg}
}

// Name returns the stage name the runner was created with.
func (r *Runner) Name() string {
	return r.name
}

// Initialize prepares the runner for use. Calling it twice without an
// intervening Reset fails with ErrAlreadyInitialized.
func (r *Runner) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return ErrAlreadyInitialized
	}
	r.initialized = true
	return nil
}

// Reset returns the runner to its uninitialized state. Metrics are preserved.
func (r *Runner) Reset() {
	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()
}

// Shutdown releases the runner. Subsequent Execute calls fail with
// ErrNotInitialized until Initialize is called again.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()
}

// Execute runs op with metrics and retry. Transient errors are retried up to
// MaxRetries times with exponential backoff; fatal and unclassified errors
// propagate immediately without consuming retry budget. The backoff sleep is
// context-aware.
func (r *Runner) Execute(ctx context.Context, op Operation) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	r.mu.Unlock()

	attempts := r.retry.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		err := op(ctx)
		r.record(time.Since(start), err)

		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retry.backoff(attempt)):
		}
	}

	return lastErr
}

// Metrics returns a snapshot of the runner's counters.
func (r *Runner) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		OperationCount: r.opCount,
		ErrorCount:     r.errCount,
	}
	if r.opCount > 0 {
		m.AverageDuration = r.totalDuration / time.Duration(r.opCount)
		m.SuccessRate = float64(r.opCount-r.errCount) / float64(r.opCount)
	}
	return m
}

func (r *Runner) record(d time.Duration, err error) {
	r.mu.Lock()
	r.opCount++
	r.totalDuration += d
	if err != nil {
		r.errCount++
	}
	r.mu.Unlock()
}
