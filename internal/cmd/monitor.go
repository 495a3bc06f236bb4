package cmd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/server"
	"github.com/signcrate/signcrate/internal/server/handlers"
)

// Run states reported by the monitor.
const (
	stateStarting = "starting"
	stateRunning  = "running"
	stateFinished = "finished"
)

type statsSource interface {
	Stats() core.StatsSnapshot
}

type gateSource interface {
	Stats() core.RateGateStats
}

// runMonitor tracks the live state of one download run.
type runMonitor struct {
	runID     string
	mode      string
	startedAt time.Time
	stats     statsSource
	gate      gateSource
	clock     func() time.Time

	mu    sync.RWMutex
	state string
}

func newRunMonitor(runID, mode string, stats statsSource, gate gateSource, clock func() time.Time) *runMonitor {
	if clock == nil {
		clock = time.Now
	}
	return &runMonitor{
		runID:     runID,
		mode:      mode,
		startedAt: clock(),
		stats:     stats,
		gate:      gate,
		clock:     clock,
		state:     stateStarting,
	}
}

func (m *runMonitor) setState(state string) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// RunStatus implements handlers.RunSource.
func (m *runMonitor) RunStatus() handlers.RunStatus {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	status := handlers.RunStatus{
		RunID:     m.runID,
		Mode:      m.mode,
		State:     state,
		StartedAt: m.startedAt,
		Elapsed:   engine.HumanizeDuration(m.clock().Sub(m.startedAt)),
	}
	if m.stats != nil {
		status.Stats = m.stats.Stats()
	}
	if m.gate != nil {
		status.Gate = m.gate.Stats()
	}
	return status
}

// gateHealth reports the rate gate as degraded while it has no capacity left
// in the current window.
func (m *runMonitor) gateHealth(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	stats := m.gate.Stats()
	if stats.RemainingCapacity == 0 {
		return handlers.Degraded{Reason: fmt.Sprintf("rate window full (%d/%d), %d calls queued",
			stats.RequestsInWindow, stats.MaxPerWindow, stats.QueueLength)}
	}
	return nil
}

// publishGateStats pushes the gate gauges every interval until ctx ends.
func (m *runMonitor) publishGateStats(ctx context.Context, interval time.Duration) {
	if m.gate == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			metrics.SetGateStats(m.gate.Stats())
			return
		case <-ticker.C:
			metrics.SetGateStats(m.gate.Stats())
		}
	}
}

// startMonitorServer serves the monitor endpoints on addr in the background.
// The returned stop func shuts the server down.
func startMonitorServer(addr string, monitor *runMonitor, logger engine.Logger) (stop func(context.Context), boundAddr string, err error) {
	srv := server.New(addr, versionInfo.Version, monitor)
	srv.RegisterChecker("rate_gate", handlers.CheckFunc(monitor.gateHealth))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil {
			logger.Warn("Monitor server stopped", zap.Error(serveErr))
		}
	}()

	stop = func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Monitor shutdown failed", zap.Error(err))
		}
	}
	return stop, listener.Addr().String(), nil
}
