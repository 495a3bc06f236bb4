package metrics

import (
	"strconv"

	"github.com/signcrate/signcrate/internal/observability"
)

const (
	// MonitorErrorsTotal counts error responses written by the monitor server.
	MonitorErrorsTotal = "monitor_errors_total"
	// MonitorPanicsTotal counts panics recovered by the monitor server.
	MonitorPanicsTotal = "monitor_panics_total"
	// RemoteErrorsTotal counts failed calls to the e-signature service.
	RemoteErrorsTotal = "remote_errors_total"
)

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(MonitorErrorsTotal, 1, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

func RecordPanic() {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(MonitorPanicsTotal, 1, nil)
	}
}

// RecordRemoteError counts a failed remote call. endpoint must already be a
// low-cardinality group such as "documents", never a raw path.
func RecordRemoteError(endpoint string, errorCode string) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(RemoteErrorsTotal, 1, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}
