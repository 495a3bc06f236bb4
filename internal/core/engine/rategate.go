package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signcrate/signcrate/internal/core"
)

// Operation is one remote call submitted to the RateGate.
type Operation func(ctx context.Context) (any, error)

// RateGate serializes outbound calls against a sliding window shared by the
// whole process. Calls are admitted strictly in submission order.
type RateGate struct {
	limit     int
	window    time.Duration
	stallWait time.Duration
	spacing   *rate.Limiter
	clock     func() time.Time
	sleep     func(time.Duration)
	logger    Logger

	mu         sync.Mutex
	queue      []*pendingCall
	stamps     []time.Time
	processing bool
	admitted   int64
	stalls     int64
}

// RateGateConfig configures a RateGate.
type RateGateConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Spacing           time.Duration
	StallWait         time.Duration
	Clock             func() time.Time
	Logger            Logger
}

// Default throttle values for the e-signature API.
const (
	DefaultRequestsPerMinute = 300
	DefaultSpacing           = 200 * time.Millisecond
	DefaultWindow            = time.Minute
	DefaultStallWait         = time.Minute
)

// ErrInvalidCeiling is returned when the gate would never admit a call.
var ErrInvalidCeiling = errors.New("rate gate ceiling must be at least 1")

type pendingCall struct {
	ctx  context.Context
	op   Operation
	done chan callResult
}

type callResult struct {
	value any
	err   error
}

// NewRateGate validates the configuration and returns an idle gate.
func NewRateGate(cfg RateGateConfig) (*RateGate, error) {
	if cfg.RequestsPerWindow <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCeiling, cfg.RequestsPerWindow)
	}
	if cfg.Spacing < 0 {
		return nil, fmt.Errorf("rate gate spacing must not be negative (got %s)", cfg.Spacing)
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	stallWait := cfg.StallWait
	if stallWait <= 0 {
		stallWait = DefaultStallWait
	}

	limit := rate.Inf
	if cfg.Spacing > 0 {
		limit = rate.Every(cfg.Spacing)
	}

	return &RateGate{
		limit:     cfg.RequestsPerWindow,
		window:    window,
		stallWait: stallWait,
		spacing:   rate.NewLimiter(limit, 1),
		clock:     cfg.Clock,
		sleep:     time.Sleep,
		logger:    loggerOrNop(cfg.Logger),
	}, nil
}

// Submit queues op and blocks until it has been admitted and executed, or
// until ctx is done. A caller that gives up while queued is skipped by the
// drain loop without executing its operation.
func (g *RateGate) Submit(ctx context.Context, op Operation) (any, error) {
	if g == nil {
		return nil, errors.New("rate gate is not configured")
	}
	if op == nil {
		return nil, errors.New("operation is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	call := &pendingCall{ctx: ctx, op: op, done: make(chan callResult, 1)}

	g.mu.Lock()
	g.queue = append(g.queue, call)
	start := !g.processing
	if start {
		g.processing = true
	}
	g.mu.Unlock()

	if start {
		go g.drain()
	}

	select {
	case res := <-call.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call submits fn through the gate and returns its typed result.
func Call[T any](ctx context.Context, g *RateGate, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := g.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok && value != nil {
		return zero, fmt.Errorf("unexpected result type %T", value)
	}
	return typed, nil
}

// Stats reports the current window occupancy and queue depth.
func (g *RateGate) Stats() core.RateGateStats {
	if g == nil {
		return core.RateGateStats{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.window)
	inWindow := 0
	for _, stamp := range g.stamps {
		if stamp.After(cutoff) {
			inWindow++
		}
	}

	remaining := g.limit - inWindow
	if remaining < 0 {
		remaining = 0
	}

	return core.RateGateStats{
		RequestsInWindow:  inWindow,
		MaxPerWindow:      g.limit,
		QueueLength:       len(g.queue),
		RemainingCapacity: remaining,
		Admitted:          g.admitted,
		Stalls:            g.stalls,
	}
}

func (g *RateGate) drain() {
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			g.processing = false
			g.mu.Unlock()
			return
		}

		g.pruneLocked(g.now())
		if len(g.stamps) >= g.limit {
			g.stalls++
			occupancy := len(g.stamps)
			queued := len(g.queue)
			g.mu.Unlock()

			g.logger.Warn("Rate limit reached, pausing queue",
				zap.Int("requests_in_window", occupancy),
				zap.Int("max_per_window", g.limit),
				zap.Int("queue_length", queued),
				zap.Duration("wait", g.stallWait))
			g.sleep(g.stallWait)
			continue
		}

		call := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		g.mu.Unlock()

		if err := call.ctx.Err(); err != nil {
			call.done <- callResult{err: err}
			continue
		}
		if err := g.spacing.Wait(call.ctx); err != nil {
			call.done <- callResult{err: err}
			continue
		}

		value, err := g.execute(call)

		g.mu.Lock()
		g.stamps = append(g.stamps, g.now())
		g.admitted++
		occupancy := len(g.stamps)
		g.mu.Unlock()

		if err != nil {
			g.logger.Debug("Rate-gated call failed", zap.Error(err))
		}
		g.logger.Debug("Rate gate occupancy",
			zap.Int("requests_in_window", occupancy),
			zap.Int("max_per_window", g.limit))

		call.done <- callResult{value: value, err: err}
	}
}

func (g *RateGate) execute(call *pendingCall) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rate-gated operation panicked: %v", r)
		}
	}()
	return call.op(call.ctx)
}

func (g *RateGate) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	keep := 0
	for _, stamp := range g.stamps {
		if stamp.After(cutoff) {
			g.stamps[keep] = stamp
			keep++
		}
	}
	g.stamps = g.stamps[:keep]
}

func (g *RateGate) now() time.Time {
	if g != nil && g.clock != nil {
		return g.clock()
	}
	return time.Now().UTC()
}
