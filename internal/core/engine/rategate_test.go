package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRateGateRejectsZeroCeiling(t *testing.T) {
	_, err := NewRateGate(RateGateConfig{RequestsPerWindow: 0})
	require.ErrorIs(t, err, ErrInvalidCeiling)

	_, err = NewRateGate(RateGateConfig{RequestsPerWindow: -5})
	require.ErrorIs(t, err, ErrInvalidCeiling)
}

func TestRateGateReturnsOperationResult(t *testing.T) {
	gate, err := NewRateGate(RateGateConfig{RequestsPerWindow: 10})
	require.NoError(t, err)

	value, err := Call(context.Background(), gate, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", value)

	boom := errors.New("boom")
	_, err = Call(context.Background(), gate, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	stats := gate.Stats()
	require.Equal(t, 2, stats.RequestsInWindow, "failed calls still occupy a window slot")
	require.Equal(t, 8, stats.RemainingCapacity)
	require.Equal(t, int64(2), stats.Admitted)
}

func TestRateGateFIFO(t *testing.T) {
	gate, err := NewRateGate(RateGateConfig{RequestsPerWindow: 100})
	require.NoError(t, err)

	// Hold the drain loop on a first call so A, B and C queue up behind it.
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	durations := map[string]time.Duration{"A": 30 * time.Millisecond, "B": 0, "C": 10 * time.Millisecond}

	for i, name := range []string{"A", "B", "C"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				time.Sleep(durations[name])
				return name, nil
			})
			require.NoError(t, err)
		}()
		// Wait until this submission is queued before sending the next one.
		queued := i + 1
		require.Eventually(t, func() bool {
			return gate.Stats().QueueLength == queued
		}, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestRateGateWindowCeiling(t *testing.T) {
	const (
		ceiling = 3
		window  = 250 * time.Millisecond
		calls   = 8
	)

	gate, err := NewRateGate(RateGateConfig{
		RequestsPerWindow: ceiling,
		Window:            window,
		StallWait:         20 * time.Millisecond,
	})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, calls)
	for i := range starts {
		inWindow := 0
		for j := range starts {
			delta := starts[i].Sub(starts[j])
			if delta >= 0 && delta < window {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, ceiling)
	}
	require.Positive(t, gate.Stats().Stalls)
}

func TestRateGateSpacing(t *testing.T) {
	gate, err := NewRateGate(RateGateConfig{
		RequestsPerWindow: 100,
		Spacing:           40 * time.Millisecond,
	})
	require.NoError(t, err)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		_, err := gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
			stamps = append(stamps, time.Now())
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 35*time.Millisecond)
	}
}

func TestRateGateSkipsCancelledCallers(t *testing.T) {
	gate, err := NewRateGate(RateGateConfig{RequestsPerWindow: 100})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	executed := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		_, err := gate.Submit(ctx, func(ctx context.Context) (any, error) {
			executed <- struct{}{}
			return nil, nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return gate.Stats().QueueLength == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return gate.Stats().QueueLength == 0 }, time.Second, time.Millisecond)

	// A follow-up call proves the drain loop moved past the cancelled entry.
	_, err = gate.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	require.Empty(t, executed)
	require.Equal(t, int64(2), gate.Stats().Admitted)
}

func TestRateGateRecoversPanics(t *testing.T) {
	gate, err := NewRateGate(RateGateConfig{RequestsPerWindow: 10})
	require.NoError(t, err)

	_, err = gate.Submit(context.Background(), func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	require.ErrorContains(t, err, "kaboom")

	value, err := gate.Submit(context.Background(), func(ctx context.Context) (any, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, value)
}

func TestRateGateStatsUsesClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	gate, err := NewRateGate(RateGateConfig{
		RequestsPerWindow: 5,
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := gate.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
	}
	require.Equal(t, 2, gate.Stats().RequestsInWindow)

	mu.Lock()
	now = now.Add(DefaultWindow + time.Second)
	mu.Unlock()

	stats := gate.Stats()
	require.Equal(t, 0, stats.RequestsInWindow)
	require.Equal(t, 5, stats.RemainingCapacity)
	require.Equal(t, 5, stats.MaxPerWindow)
}
