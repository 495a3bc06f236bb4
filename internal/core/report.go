package core

import "time"

// StatsSnapshot is a copy of the run counters taken at one instant.
type StatsSnapshot struct {
	Envelopes    int64 `json:"envelopes"`
	Documents    int64 `json:"documents"`
	Certificates int64 `json:"certificates"`
	Bytes        int64 `json:"bytes"`
	Errors       int64 `json:"errors"`
}

// Report summarizes a completed download run. It is never mutated after
// construction.
type Report struct {
	RunID        string        `json:"run_id,omitempty"`
	Mode         string        `json:"mode,omitempty"`
	Envelopes    int64         `json:"total_envelopes"`
	Documents    int64         `json:"total_documents"`
	Certificates int64         `json:"total_certificates"`
	Bytes        int64         `json:"total_bytes"`
	MB           float64       `json:"total_mb"`
	Errors       int64         `json:"errors"`
	Duration     time.Duration `json:"duration_ns"`
	DurationText string        `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// EnvelopeOutcome records what happened to one envelope during a run.
type EnvelopeOutcome struct {
	EnvelopeID   string    `json:"envelope_id"`
	Subject      string    `json:"subject,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	Documents    int       `json:"documents"`
	Certificates int       `json:"certificates"`
	Bytes        int64     `json:"bytes"`
	Errors       int       `json:"errors"`
	Message      string    `json:"message,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Run statuses recorded in the history store.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// RunRecord is one download run as kept in the history store.
type RunRecord struct {
	ID           string     `json:"id"`
	Mode         string     `json:"mode"`
	Folder       string     `json:"folder"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Envelopes    int64      `json:"envelopes"`
	Documents    int64      `json:"documents"`
	Certificates int64      `json:"certificates"`
	Bytes        int64      `json:"bytes"`
	Errors       int64      `json:"errors"`
	Admitted     int64      `json:"remote_calls"`
	Stalls       int64      `json:"rate_stalls"`
	ReportPath   string     `json:"report_path,omitempty"`
}
