package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate bounds how many tasks run at once. Waiters are admitted in
// FIFO order as slots free up. It is independent of the RateGate: it limits
// local fan-out, not remote throughput.
type ConcurrencyGate struct {
	max      int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewConcurrencyGate returns a gate admitting at most max tasks concurrently.
func NewConcurrencyGate(max int) (*ConcurrencyGate, error) {
	if max < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1 (got %d)", max)
	}
	return &ConcurrencyGate{max: max, sem: semaphore.NewWeighted(int64(max))}, nil
}

// Run waits for a slot, runs task, and releases the slot however the task
// ends. Failed outcomes still carry the task's kind and envelope ID.
func (g *ConcurrencyGate) Run(ctx context.Context, task Task) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.acquire(ctx, task); err != nil {
		return emptyOutcome(task), err
	}
	return g.runHeld(ctx, task)
}

// acquire claims one slot for task. Waiters are served in arrival order.
func (g *ConcurrencyGate) acquire(ctx context.Context, task Task) error {
	if g == nil {
		return errors.New("concurrency gate is not configured")
	}
	if task == nil {
		return errors.New("task is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	// A slot handed over as the run is cancelled is returned unused.
	if err := ctx.Err(); err != nil {
		g.sem.Release(1)
		return err
	}
	return nil
}

// runHeld runs task on a slot already claimed by acquire and gives it back.
func (g *ConcurrencyGate) runHeld(ctx context.Context, task Task) (out Outcome, err error) {
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
		if r := recover(); r != nil {
			out = emptyOutcome(task)
			err = fmt.Errorf("%s task panicked: %v", task.Kind(), r)
		}
	}()

	out, err = task.Run(ctx)
	if out.Kind == "" {
		out.Kind = task.Kind()
	}
	if out.EnvelopeID == "" {
		out.EnvelopeID = task.EnvelopeID()
	}
	return out, err
}

// InFlight returns the number of tasks currently holding a slot.
func (g *ConcurrencyGate) InFlight() int {
	if g == nil {
		return 0
	}
	return int(g.inFlight.Load())
}

// Max returns the configured slot count.
func (g *ConcurrencyGate) Max() int {
	if g == nil {
		return 0
	}
	return g.max
}
