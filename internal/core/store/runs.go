package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signcrate/signcrate/internal/core"
	apperrors "github.com/signcrate/signcrate/internal/errors"
)

const defaultRunLimit = 20

// StartRun inserts a run in the running state.
func (s *Store) StartRun(ctx context.Context, run core.RunRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}

	status := run.Status
	if status == "" {
		status = core.RunRunning
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, mode, folder, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.Folder, status, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, report core.Report, gate core.RateGateStats, reportPath string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	finishedAt := report.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, finished_at = ?, envelopes = ?, documents = ?, certificates = ?,
			bytes = ?, errors = ?, remote_calls = ?, rate_stalls = ?, report_path = ?
		WHERE id = ?
	`, status, finishedAt.UnixMilli(), report.Envelopes, report.Documents, report.Certificates,
		report.Bytes, report.Errors, gate.Admitted, gate.Stalls, nullString(reportPath), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NewDatabaseError(fmt.Sprintf("run %s not found", runID))
	}
	return nil
}

// GetRun returns a run by ID, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := s.DB.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var runs []core.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// RecordOutcome stores the result of one envelope within a run.
func (s *Store) RecordOutcome(ctx context.Context, runID string, outcome core.EnvelopeOutcome) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	completedAt := outcome.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO envelope_outcomes
			(run_id, envelope_id, subject, folder, documents, certificates, bytes, errors, message, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, outcome.EnvelopeID, nullString(outcome.Subject), nullString(outcome.Folder),
		outcome.Documents, outcome.Certificates, outcome.Bytes, outcome.Errors,
		nullString(outcome.Message), completedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert envelope outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the envelope outcomes of a run in completion order.
func (s *Store) ListOutcomes(ctx context.Context, runID string) ([]core.EnvelopeOutcome, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT envelope_id, subject, folder, documents, certificates, bytes, errors, message, completed_at
		FROM envelope_outcomes
		WHERE run_id = ?
		ORDER BY completed_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list envelope outcomes: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var outcomes []core.EnvelopeOutcome
	for rows.Next() {
		var (
			outcome     core.EnvelopeOutcome
			subject     sql.NullString
			folder      sql.NullString
			message     sql.NullString
			completedAt int64
		)
		if err := rows.Scan(&outcome.EnvelopeID, &subject, &folder, &outcome.Documents, &outcome.Certificates,
			&outcome.Bytes, &outcome.Errors, &message, &completedAt); err != nil {
			return nil, fmt.Errorf("scan envelope outcome: %w", err)
		}
		outcome.Subject = subject.String
		outcome.Folder = folder.String
		outcome.Message = message.String
		outcome.CompletedAt = time.UnixMilli(completedAt).UTC()
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list envelope outcomes: %w", err)
	}
	return outcomes, nil
}

// RunRecorder binds outcome recording to a single run.
type RunRecorder struct {
	Store *Store
	RunID string
}

// RecordOutcome implements the orchestrator's outcome sink.
func (r *RunRecorder) RecordOutcome(ctx context.Context, outcome core.EnvelopeOutcome) error {
	if r == nil {
		return nil
	}
	return r.Store.RecordOutcome(ctx, r.RunID, outcome)
}

const selectRuns = `
	SELECT id, mode, folder, status, started_at, finished_at, envelopes, documents, certificates,
		bytes, errors, remote_calls, rate_stalls, report_path
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.RunRecord, error) {
	var (
		run        core.RunRecord
		startedAt  int64
		finishedAt sql.NullInt64
		reportPath sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Mode, &run.Folder, &run.Status, &startedAt, &finishedAt,
		&run.Envelopes, &run.Documents, &run.Certificates, &run.Bytes, &run.Errors,
		&run.Admitted, &run.Stalls, &reportPath); err != nil {
		return nil, err
	}

	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		value := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &value
	}
	run.ReportPath = reportPath.String
	return &run, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
