package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Executor serializes access to the compute resource. It holds a single
// permit; callers wait in arrival order on a per-waiter channel and the
// permit is handed directly from the releasing holder to the next waiter.
type Executor struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}

	stats ExecutorStats
}

// ExecutorStats tracks executor usage
type ExecutorStats struct {
	Runs        int64         `json:"runs"`
	Failures    int64         `json:"failures"`
	Panics      int64         `json:"panics"`
	Abandoned   int64         `json:"abandoned"` // callers that left before acquiring the permit
	PeakWaiters int           `json:"peak_waiters"`
	TotalWait   time.Duration `json:"total_wait_ns"`
	TotalBusy   time.Duration `json:"total_busy_ns"`
}

// NewExecutor returns an idle executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// RunExclusive runs fn while holding the permit. fn runs on its own
// goroutine with a context that keeps ctx's values but not its
// cancellation, so once started it runs to completion; any deadline is
// fn's to set. A caller whose ctx ends while still waiting leaves the line
// without fn ever running. Errors and panics from fn are reported as
// SYNTHESIS_FAILED.
func (e *Executor) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	waitStart := time.Now()
	if err := e.acquire(ctx); err != nil {
		return NewTTSError(ErrorCodeCanceled, "left executor queue before start", err)
	}
	waited := time.Since(waitStart)

	runCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		var err error
		defer func() {
			e.release(waited, time.Since(start), err)
			done <- err
		}()
		defer func() {
			if r := recover(); r != nil {
				e.mu.Lock()
				e.stats.Panics++
				e.mu.Unlock()
				err = NewTTSError(ErrorCodeSynthesisFailed, fmt.Sprintf("panic in exclusive section: %v", r), nil)
			}
		}()
		err = fn(runCtx)
	}()

	err := <-done
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSynthesisFailed) {
		return err
	}
	return NewTTSError(ErrorCodeSynthesisFailed, "synthesis failed", err)
}

func (e *Executor) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		e.mu.Lock()
		e.stats.Abandoned++
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	if !e.held && len(e.waiters) == 0 {
		e.held = true
		e.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	if len(e.waiters) > e.stats.PeakWaiters {
		e.stats.PeakWaiters = len(e.waiters)
	}
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for i, w := range e.waiters {
			if w == ch {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				e.stats.Abandoned++
				e.mu.Unlock()
				return ctx.Err()
			}
		}
		e.mu.Unlock()
		// The permit was handed to us while ctx ended; pass it on.
		<-ch
		e.handoff()
		e.mu.Lock()
		e.stats.Abandoned++
		e.mu.Unlock()
		return ctx.Err()
	}
}

func (e *Executor) release(waited, busy time.Duration, err error) {
	e.mu.Lock()
	e.stats.Runs++
	if err != nil {
		e.stats.Failures++
	}
	e.stats.TotalWait += waited
	e.stats.TotalBusy += busy
	e.mu.Unlock()

	e.handoff()
}

// handoff gives the permit to the oldest waiter or marks it free.
func (e *Executor) handoff() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.waiters) == 0 {
		e.held = false
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}

// Busy reports whether the permit is held.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

// Waiting returns the number of callers blocked on the permit.
func (e *Executor) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

// Stats returns a copy of the executor statistics
func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
