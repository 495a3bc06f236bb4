package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/core"
)

const (
	// CombinedFolder holds consolidated per-envelope PDFs.
	CombinedFolder = "Combined_Documents"

	// EnvelopeInfoFile is the metadata side artifact written per envelope.
	EnvelopeInfoFile = "envelope_info.json"

	// ReportFile is the run summary written to the download folder.
	ReportFile = "download_report.json"

	defaultSubject = "No_Subject"
)

// Default pacing between sequentially processed envelopes.
const (
	DefaultUnitPause     = time.Second
	DefaultCriteriaPause = 500 * time.Millisecond
)

// Remote is the subset of the e-signature client used to download envelopes.
type Remote interface {
	GetEnvelope(ctx context.Context, envelopeID string) (*core.Envelope, error)
	ListDocuments(ctx context.Context, envelopeID string) ([]core.Document, error)
	DownloadDocument(ctx context.Context, envelopeID, documentID string, opts core.DownloadOptions) ([]byte, error)
	DownloadCertificate(ctx context.Context, envelopeID string, opts core.DownloadOptions) ([]byte, error)
	DownloadCombined(ctx context.Context, envelopeID string, opts core.DownloadOptions) ([]byte, error)
}

// Storage persists downloaded artifacts.
type Storage interface {
	EnsureDir(path string) error
	WriteFile(path string, data []byte) (int64, error)
	WriteJSON(path string, value any) (int64, error)
}

// OutcomeRecorder observes each settled envelope, e.g. for run history.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome core.EnvelopeOutcome) error
}

// Orchestrator turns envelope IDs or search criteria into stored files and
// aggregated Stats. Failures below the run level are counted and logged,
// never returned.
type Orchestrator struct {
	Remote        Remote
	Storage       Storage
	Recorder      OutcomeRecorder
	Logger        Logger
	Folder        string
	Language      string
	MaxConcurrent int
	UnitPause     time.Duration
	CriteriaPause time.Duration
	Clock         func() time.Time

	stats      Stats
	gate       *ConcurrencyGate
	startedAt  time.Time
	reportOnce sync.Once
	report     core.Report
}

// Initialize validates the orchestrator and prepares the download folder. It
// is the only step whose failure aborts a run.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o == nil {
		return errors.New("orchestrator is not configured")
	}
	if o.Remote == nil {
		return errors.New("remote client is required")
	}
	if o.Storage == nil {
		return errors.New("storage is required")
	}
	if o.Folder == "" {
		return errors.New("download folder is required")
	}
	if o.Language == "" {
		o.Language = "en"
	}

	gate, err := NewConcurrencyGate(o.MaxConcurrent)
	if err != nil {
		return err
	}
	o.gate = gate

	if err := o.Storage.EnsureDir(o.Folder); err != nil {
		return fmt.Errorf("create download folder: %w", err)
	}

	o.startedAt = o.now()
	o.logger().Info("Download folder ready",
		zap.String("folder", o.Folder),
		zap.Int("max_concurrent", o.MaxConcurrent),
		zap.Time("started_at", o.startedAt))
	return nil
}

// DownloadEnvelopes processes envelopes one after another with a short pause
// between them.
func (o *Orchestrator) DownloadEnvelopes(ctx context.Context, envelopeIDs []string) {
	o.logger().Info("Starting envelope downloads", zap.Int("envelopes", len(envelopeIDs)))
	for i, id := range envelopeIDs {
		if i > 0 && !o.pause(ctx, o.unitPause()) {
			o.logCancelled(ctx, len(envelopeIDs)-i)
			return
		}
		o.DownloadEnvelope(ctx, id, nil)
	}
}

// DownloadByCriteria searches for envelopes and downloads each match. Only a
// failed search is returned; per-envelope failures are counted.
func (o *Orchestrator) DownloadByCriteria(ctx context.Context, lister EnvelopeLister, criteria core.SearchCriteria) error {
	o.logger().Info("Searching envelopes",
		zap.Time("from_date", criteria.FromDate),
		zap.Time("to_date", criteria.ToDate),
		zap.String("status", string(criteria.Status)))

	envelopes, err := Search(ctx, lister, criteria)
	if err != nil {
		return err
	}
	o.logger().Info("Envelope search complete", zap.Int("envelopes", len(envelopes)))

	for i := range envelopes {
		if i > 0 && !o.pause(ctx, o.criteriaPause()) {
			o.logCancelled(ctx, len(envelopes)-i)
			return nil
		}
		envelope := envelopes[i]
		o.DownloadEnvelope(ctx, envelope.EnvelopeID, &envelope)
	}
	return nil
}

// DownloadEnvelope runs the per-envelope sequence: metadata, folder, metadata
// artifact, document listing, then documents and certificate in parallel.
func (o *Orchestrator) DownloadEnvelope(ctx context.Context, envelopeID string, meta *core.Envelope) core.EnvelopeOutcome {
	outcome := core.EnvelopeOutcome{EnvelopeID: envelopeID}
	o.logger().Info("Processing envelope", zap.String("envelope_id", envelopeID))

	if err := o.processEnvelope(ctx, envelopeID, meta, &outcome); err != nil {
		o.stats.addError()
		outcome.Errors++
		outcome.Message = err.Error()
		o.logger().Error("Envelope failed",
			zap.String("envelope_id", envelopeID),
			zap.Error(err))
	} else {
		o.stats.addEnvelopes(1)
		o.logger().Info("Envelope processed",
			zap.String("envelope_id", envelopeID),
			zap.Int("documents", outcome.Documents),
			zap.Int("certificates", outcome.Certificates),
			zap.Int("errors", outcome.Errors))
	}

	outcome.CompletedAt = o.now()
	o.record(ctx, outcome)
	return outcome
}

func (o *Orchestrator) processEnvelope(ctx context.Context, envelopeID string, meta *core.Envelope, outcome *core.EnvelopeOutcome) error {
	if o.gate == nil {
		return errors.New("orchestrator is not initialized")
	}

	if meta == nil {
		fetched, err := (&metadataTask{remote: o.Remote, envelopeID: envelopeID}).Run(ctx)
		if err != nil {
			return err
		}
		meta = fetched.Envelope
	}
	outcome.Subject = meta.EmailSubject

	folder := filepath.Join(o.Folder, EnvelopeFolderName(envelopeID, meta))
	outcome.Folder = folder
	if err := o.Storage.EnsureDir(folder); err != nil {
		return fmt.Errorf("create envelope folder: %w", err)
	}
	if _, err := o.Storage.WriteJSON(filepath.Join(folder, EnvelopeInfoFile), metadataPayload(meta)); err != nil {
		return fmt.Errorf("write envelope metadata: %w", err)
	}

	documents, err := o.Remote.ListDocuments(ctx, envelopeID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	tasks := make([]Task, 0, len(documents)+1)
	for _, document := range documents {
		if document.IsSummary() {
			continue
		}
		tasks = append(tasks, &documentTask{
			remote:     o.Remote,
			storage:    o.Storage,
			envelopeID: envelopeID,
			document:   document,
			folder:     folder,
			language:   o.Language,
		})
	}
	tasks = append(tasks, &certificateTask{
		remote:     o.Remote,
		storage:    o.Storage,
		envelopeID: envelopeID,
		folder:     folder,
		language:   o.Language,
	})

	for _, settled := range SettleAll(ctx, o.gate, tasks) {
		if settled.Err != nil {
			o.stats.addError()
			outcome.Errors++
			o.logger().Error("Download failed",
				zap.String("envelope_id", envelopeID),
				zap.String("task", string(settled.Task.Kind())),
				zap.Error(settled.Err))
			continue
		}

		outcome.Bytes += settled.Outcome.Bytes
		switch settled.Outcome.Kind {
		case TaskFetchCertificate:
			o.stats.addCertificate(settled.Outcome.Bytes)
			outcome.Certificates++
		default:
			o.stats.addDocument(settled.Outcome.Bytes)
			outcome.Documents++
		}
		o.logger().Debug("Saved file",
			zap.String("envelope_id", envelopeID),
			zap.String("path", settled.Outcome.Path),
			zap.Int64("bytes", settled.Outcome.Bytes))
	}

	return nil
}

// DownloadCombined fetches one consolidated PDF per envelope, fanning out
// across envelopes under the concurrency cap.
func (o *Orchestrator) DownloadCombined(ctx context.Context, envelopeIDs []string) error {
	if o.gate == nil {
		return errors.New("orchestrator is not initialized")
	}

	folder := filepath.Join(o.Folder, CombinedFolder)
	if err := o.Storage.EnsureDir(folder); err != nil {
		return fmt.Errorf("create combined folder: %w", err)
	}
	o.logger().Info("Starting combined downloads", zap.Int("envelopes", len(envelopeIDs)))

	tasks := make([]Task, 0, len(envelopeIDs))
	for _, id := range envelopeIDs {
		tasks = append(tasks, &combinedTask{
			remote:     o.Remote,
			storage:    o.Storage,
			envelopeID: id,
			folder:     folder,
			language:   o.Language,
		})
	}

	var succeeded, failed int
	for _, settled := range SettleAll(ctx, o.gate, tasks) {
		outcome := core.EnvelopeOutcome{
			EnvelopeID:  settled.Task.EnvelopeID(),
			Folder:      folder,
			CompletedAt: o.now(),
		}
		if settled.Outcome.Envelope != nil {
			outcome.Subject = settled.Outcome.Envelope.EmailSubject
		}

		if settled.Err != nil {
			failed++
			o.stats.addError()
			outcome.Errors = 1
			outcome.Message = settled.Err.Error()
			o.logger().Error("Combined download failed",
				zap.String("envelope_id", outcome.EnvelopeID),
				zap.Error(settled.Err))
		} else {
			succeeded++
			o.stats.addEnvelopes(1)
			o.stats.addDocument(settled.Outcome.Bytes)
			outcome.Documents = 1
			outcome.Bytes = settled.Outcome.Bytes
			o.logger().Info("Combined file saved",
				zap.String("envelope_id", outcome.EnvelopeID),
				zap.String("path", settled.Outcome.Path),
				zap.Int64("kb", settled.Outcome.Bytes/1024))
		}
		o.record(ctx, outcome)
	}

	o.logger().Info("Combined downloads finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
	return nil
}

// Stats returns a snapshot of the counters so far.
func (o *Orchestrator) Stats() core.StatsSnapshot {
	return o.stats.Snapshot()
}

// Report builds the run summary. It is computed once; later calls return the
// same value.
func (o *Orchestrator) Report() core.Report {
	o.reportOnce.Do(func() {
		started := o.startedAt
		finished := o.now()
		if started.IsZero() {
			started = finished
		}
		o.report = BuildReport(o.stats.Snapshot(), started, finished)
	})
	return o.report
}

// SaveReport writes the report to the download folder and returns the path.
func (o *Orchestrator) SaveReport(report core.Report) (string, error) {
	path := filepath.Join(o.Folder, ReportFile)
	if _, err := o.Storage.WriteJSON(path, report); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return path, nil
}

// EnvelopeFolderName derives the per-envelope directory name.
func EnvelopeFolderName(envelopeID string, meta *core.Envelope) string {
	return SanitizeName(envelopeID + "_" + subjectOrDefault(meta))
}

func subjectOrDefault(meta *core.Envelope) string {
	if meta == nil || meta.EmailSubject == "" {
		return defaultSubject
	}
	return meta.EmailSubject
}

func metadataPayload(meta *core.Envelope) any {
	if len(meta.Raw) > 0 && json.Valid(meta.Raw) {
		return meta.Raw
	}
	return meta
}

func (o *Orchestrator) record(ctx context.Context, outcome core.EnvelopeOutcome) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.RecordOutcome(ctx, outcome); err != nil {
		o.logger().Warn("Failed to record envelope outcome",
			zap.String("envelope_id", outcome.EnvelopeID),
			zap.Error(err))
	}
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) logCancelled(ctx context.Context, remaining int) {
	o.logger().Warn("Run cancelled, skipping remaining envelopes",
		zap.Int("remaining", remaining),
		zap.Error(ctx.Err()))
}

func (o *Orchestrator) unitPause() time.Duration {
	if o.UnitPause < 0 {
		return 0
	}
	if o.UnitPause == 0 {
		return DefaultUnitPause
	}
	return o.UnitPause
}

func (o *Orchestrator) criteriaPause() time.Duration {
	if o.CriteriaPause < 0 {
		return 0
	}
	if o.CriteriaPause == 0 {
		return DefaultCriteriaPause
	}
	return o.CriteriaPause
}

func (o *Orchestrator) logger() Logger {
	return loggerOrNop(o.Logger)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}
