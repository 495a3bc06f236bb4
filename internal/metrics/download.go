package metrics

import (
	"time"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/observability"
)

// Download metrics following Prometheus conventions
const (
	EnvelopesTotal    = "download_envelopes_total"
	DocumentsTotal    = "download_documents_total"
	CertificatesTotal = "download_certificates_total"
	BytesTotal        = "download_bytes_total"
	ArtifactErrors    = "download_artifact_errors_total"
	EnvelopeDuration  = "download_envelope_duration_ms"

	RunsTotal   = "download_runs_total"
	RunDuration = "download_run_duration_ms"

	GateRequestsInWindow = "rate_gate_requests_in_window"
	GateQueueLength      = "rate_gate_queue_length"
	GateRemaining        = "rate_gate_remaining_capacity"
	GateAdmittedTotal    = "rate_gate_admitted"
	GateStallsTotal      = "rate_gate_stalls"
)

// RecordEnvelope records the outcome of one envelope unit.
func RecordEnvelope(outcome core.EnvelopeOutcome, elapsed time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	result := "success"
	switch {
	case outcome.Errors > 0 && outcome.Documents == 0 && outcome.Certificates == 0:
		result = "failure"
	case outcome.Errors > 0:
		result = "partial"
	}

	_ = sys.Counter(EnvelopesTotal, 1, map[string]string{"result": result})
	if outcome.Documents > 0 {
		_ = sys.Counter(DocumentsTotal, float64(outcome.Documents), nil)
	}
	if outcome.Certificates > 0 {
		_ = sys.Counter(CertificatesTotal, float64(outcome.Certificates), nil)
	}
	if outcome.Bytes > 0 {
		_ = sys.Counter(BytesTotal, float64(outcome.Bytes), nil)
	}
	if outcome.Errors > 0 {
		_ = sys.Counter(ArtifactErrors, float64(outcome.Errors), nil)
	}
	if elapsed > 0 {
		_ = sys.Histogram(EnvelopeDuration, elapsed, nil)
	}
}

// RecordRun records a finished run with its mode and final status.
func RecordRun(mode, status string, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(RunsTotal, 1, map[string]string{"mode": mode, "status": status})
	_ = sys.Histogram(RunDuration, duration, map[string]string{"mode": mode})
}

// SetGateStats publishes a snapshot of the rate gate.
func SetGateStats(stats core.RateGateStats) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Gauge(GateRequestsInWindow, float64(stats.RequestsInWindow), nil)
	_ = sys.Gauge(GateQueueLength, float64(stats.QueueLength), nil)
	_ = sys.Gauge(GateRemaining, float64(stats.RemainingCapacity), nil)
	_ = sys.Gauge(GateAdmittedTotal, float64(stats.Admitted), nil)
	_ = sys.Gauge(GateStallsTotal, float64(stats.Stalls), nil)
}
