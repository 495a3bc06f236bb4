package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/config"
	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	"github.com/signcrate/signcrate/internal/core/storage"
	"github.com/signcrate/signcrate/internal/core/store"
	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/observability"
	"github.com/signcrate/signcrate/internal/output"
)

// Run modes recorded in history.
const (
	modeIDs      = "ids"
	modeCriteria = "criteria"
	modeCombined = "combined"
)

var downloadCmd = &cobra.Command{
	Use:   "download [envelope-id...]",
	Short: "Download envelope documents and certificates",
	Long: `Download the documents and completion certificate of each envelope.

Envelopes are given as arguments or with --ids-file. Without IDs, envelopes
are found by search: --criteria, --from/--to, --status and --page-size
(default: completed envelopes from the last 30 days).`,
	Example: `  signcrate download 2f1c6a9e-0b4e-4d3b-9a55-8f1e0c2d7b10
  signcrate download --ids-file envelopes.txt --folder ./out
  signcrate download --from 2024-01-01 --to 2024-01-31 --status completed`,
	RunE: runDownload,
}

var combinedCmd = &cobra.Command{
	Use:   "combined <envelope-id...>",
	Short: "Download one merged PDF per envelope",
	Long: `Download a single combined PDF (all documents plus the certificate) per
envelope. Envelopes are fetched in parallel, bounded by download.max_concurrent.`,
	RunE: runCombined,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(combinedCmd)

	for _, c := range []*cobra.Command{downloadCmd, combinedCmd} {
		c.Flags().String("ids-file", "", "file with one envelope ID per line (- for stdin)")
		c.Flags().StringP("output-format", "f", "table", "report format: table, json, markdown")
		c.Flags().String("out", "", "write the report to a file instead of stdout")
		c.Flags().Bool("monitor", false, "serve live run status on monitor.addr")
		c.Flags().Bool("metrics", false, "serve Prometheus metrics on metrics.port")
		c.Flags().Bool("details", false, "include one row per envelope in the report")
	}
	addCriteriaFlags(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	idsFile, err := cmd.Flags().GetString("ids-file")
	if err != nil {
		return err
	}
	ids, err := collectEnvelopeIDs(args, idsFile)
	if err != nil {
		return err
	}

	if len(ids) > 0 {
		if hasCriteriaFlags(cmd) {
			return errwrap.NewInvalidInputError("envelope IDs and search criteria are mutually exclusive")
		}
		return executeRun(cmd, modeIDs, func(ctx context.Context, run *downloadRun) error {
			run.orchestrator.DownloadEnvelopes(ctx, ids)
			return nil
		})
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	criteria, err := resolveCriteria(cmd, cfg.Download.PageSize, time.Now())
	if err != nil {
		return err
	}

	return executeRun(cmd, modeCriteria, func(ctx context.Context, run *downloadRun) error {
		return run.orchestrator.DownloadByCriteria(ctx, run.session.client, criteria)
	})
}

func runCombined(cmd *cobra.Command, args []string) error {
	idsFile, err := cmd.Flags().GetString("ids-file")
	if err != nil {
		return err
	}
	ids, err := collectEnvelopeIDs(args, idsFile)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errwrap.NewInvalidInputError("at least one envelope ID is required")
	}

	return executeRun(cmd, modeCombined, func(ctx context.Context, run *downloadRun) error {
		return run.orchestrator.DownloadCombined(ctx, ids)
	})
}

// downloadRun holds everything wired for one run.
type downloadRun struct {
	id           string
	mode         string
	session      *remoteSession
	orchestrator *engine.Orchestrator
	history      *store.Store
	monitor      *runMonitor
	logger       engine.Logger
}

// executeRun wires a run, executes body and always finishes with a report,
// even when every envelope failed or the run was interrupted.
func executeRun(cmd *cobra.Command, mode string, body func(ctx context.Context, run *downloadRun) error) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	withMonitor, err := cmd.Flags().GetBool("monitor")
	if err != nil {
		return err
	}
	withMetrics, err := cmd.Flags().GetBool("metrics")
	if err != nil {
		return err
	}
	details, err := cmd.Flags().GetBool("details")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	session, err := newRemoteSession(ctx)
	if err != nil {
		return err
	}
	cfg := session.cfg
	logger := runLogger()

	if _, err := session.verifyAccount(ctx); err != nil {
		return err
	}

	run := &downloadRun{
		id:      uuid.NewString(),
		mode:    mode,
		session: session,
		logger:  logger,
	}

	recorder := &outcomeRecorder{logger: logger, startedAt: time.Now()}
	history, err := openStore(ctx)
	switch {
	case err == nil:
		run.history = history
		defer history.Close() // nolint:errcheck // best-effort cleanup
		recorder.history = &store.RunRecorder{Store: history, RunID: run.id}
	case errors.Is(err, errStoreDisabled):
		logger.Debug("Run history disabled")
	default:
		logger.Warn("Run history unavailable, continuing without it", zap.Error(err))
	}

	run.orchestrator = &engine.Orchestrator{
		Remote:        session.client,
		Storage:       storage.FS{},
		Recorder:      recorder,
		Logger:        logger,
		Folder:        cfg.Download.Folder,
		Language:      cfg.Download.Language,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		UnitPause:     cfg.Download.UnitPause,
		CriteriaPause: cfg.Download.CriteriaPause,
	}
	if err := run.orchestrator.Initialize(ctx); err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "download setup failed")
	}

	run.monitor = newRunMonitor(run.id, mode, run.orchestrator, session.gate, nil)

	if withMetrics || cfg.Metrics.Enabled {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
			logger.Warn("Metrics exporter unavailable", zap.Error(err))
		} else {
			defer observability.StopMetrics() // nolint:errcheck // best-effort cleanup
			logger.Info("Serving metrics", zap.Int("port", observability.GetMetricsPort()))
			go run.monitor.publishGateStats(ctx, 5*time.Second)
		}
	}

	if withMonitor || cfg.Monitor.Enabled {
		stop, addr, err := startMonitorServer(cfg.Monitor.Addr, run.monitor, logger)
		if err != nil {
			logger.Warn("Monitor unavailable", zap.Error(err))
		} else {
			defer stop(context.Background())
			logger.Info("Monitor listening", zap.String("addr", addr))
		}
	}

	if run.history != nil {
		record := core.RunRecord{
			ID:        run.id,
			Mode:      mode,
			Folder:    cfg.Download.Folder,
			Status:    core.RunRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := run.history.StartRun(ctx, record); err != nil {
			logger.Warn("Failed to record run start", zap.Error(err))
		}
	}

	finished := make(chan struct{})
	defer close(finished)
	installInterruptHandler(cancel, finished, logger)
	go func() {
		if err := signals.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Signal handler error", zap.Error(err))
		}
	}()

	run.monitor.setState(stateRunning)
	runErr := body(ctx, run)
	interrupted := ctx.Err() != nil
	if interrupted && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	run.monitor.setState(stateFinished)

	report, reportPath := finishRun(run, interrupted, runErr)

	if runErr != nil {
		return runErr
	}

	var outcomes []core.EnvelopeOutcome
	if details {
		outcomes = recorder.Outcomes()
	}
	if err := writeReport(format, outPath, report, outcomes); err != nil {
		return err
	}
	logger.Info("Report saved", zap.String("path", reportPath))
	return nil
}

// installInterruptHandler cancels the run on SIGINT/SIGTERM and holds the
// shutdown until the report and history have been written.
func installInterruptHandler(cancel context.CancelFunc, finished <-chan struct{}, logger engine.Logger) {
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Warn("Interrupted, finishing in-flight envelopes")
		cancel()
		select {
		case <-finished:
		case <-ctx.Done():
		}
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Debug("Double-tap force quit unavailable", zap.Error(err))
	}
}

// finalRunStatus is the history status of a finished run. An interrupt wins over
// the error it caused.
func finalRunStatus(cancelled bool, runErr error) string {
	switch {
	case cancelled:
		return core.RunCancelled
	case runErr != nil:
		return core.RunFailed
	default:
		return core.RunCompleted
	}
}

// finishRun builds and persists the report and closes the history record.
// History writes use a context that survives cancellation of the run.
func finishRun(run *downloadRun, cancelled bool, runErr error) (core.Report, string) {
	report := run.orchestrator.Report()
	report.RunID = run.id
	report.Mode = run.mode

	reportPath, err := run.orchestrator.SaveReport(report)
	if err != nil {
		run.logger.Error("Failed to save report", zap.Error(err))
	}

	status := finalRunStatus(cancelled, runErr)

	gateStats := run.session.gate.Stats()
	metrics.SetGateStats(gateStats)
	metrics.RecordRun(run.mode, status, report.Duration)

	if run.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := run.history.FinishRun(ctx, run.id, status, report, gateStats, reportPath); err != nil {
			run.logger.Warn("Failed to record run result", zap.Error(err))
		}
	}

	run.logger.Info("Run finished",
		zap.String("run_id", run.id),
		zap.String("status", status),
		zap.Int64("envelopes", report.Envelopes),
		zap.Int64("documents", report.Documents),
		zap.Int64("certificates", report.Certificates),
		zap.Float64("mb", report.MB),
		zap.Int64("errors", report.Errors),
		zap.String("duration", report.DurationText),
		zap.Int64("remote_calls", gateStats.Admitted),
		zap.Int64("rate_stalls", gateStats.Stalls))
	return report, reportPath
}

func writeReport(format output.Format, outPath string, report core.Report, outcomes []core.EnvelopeOutcome) error {
	rendered, err := output.NewFormatter(format).FormatReport(report, outcomes)
	if err != nil {
		return errwrap.WrapDataProcessing(context.Background(), err, "render report")
	}
	return writeOutput(outPath, rendered)
}

// outcomeRecorder fans each settled envelope out to run history and metrics,
// and keeps the outcomes for the detailed report.
type outcomeRecorder struct {
	history   *store.RunRecorder
	logger    engine.Logger
	startedAt time.Time

	mu       sync.Mutex
	last     time.Time
	outcomes []core.EnvelopeOutcome
}

func (r *outcomeRecorder) RecordOutcome(ctx context.Context, outcome core.EnvelopeOutcome) error {
	r.mu.Lock()
	since := r.last
	if since.IsZero() {
		since = r.startedAt
	}
	var elapsed time.Duration
	if !outcome.CompletedAt.IsZero() && !since.IsZero() {
		elapsed = outcome.CompletedAt.Sub(since)
		r.last = outcome.CompletedAt
	}
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()

	metrics.RecordEnvelope(outcome, elapsed)

	if r.history == nil {
		return nil
	}
	return r.history.RecordOutcome(context.WithoutCancel(ctx), outcome)
}

// Outcomes returns the recorded outcomes in completion order.
func (r *outcomeRecorder) Outcomes() []core.EnvelopeOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.EnvelopeOutcome(nil), r.outcomes...)
}
