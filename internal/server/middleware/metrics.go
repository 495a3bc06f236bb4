package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/observability"
)

// Monitor request metrics.
const (
	MonitorRequestsTotal   = "monitor_requests_total"
	MonitorRequestDuration = "monitor_request_duration_ms"
	MonitorResponseBytes   = "monitor_response_bytes"
)

// knownRoutes are the monitor paths reported as-is when chi has no pattern.
var knownRoutes = map[string]string{
	"/":             "/",
	"/health":       "/health",
	"/health/live":  "/health",
	"/health/ready": "/health",
	"/version":      "/version",
	"/metrics":      "/metrics",
	"/run":          "/run",
	"/ratelimit":    "/ratelimit",
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// routeLabel keeps the endpoint label bounded: the chi pattern when routed,
// a known monitor path otherwise, and "/unknown" for anything else.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if label, ok := knownRoutes[r.URL.Path]; ok {
		return label
	}
	return "/unknown"
}

// RequestMetrics counts and times monitor requests. It is a pass-through
// when telemetry is not initialized.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		route := routeLabel(r)
		labels := map[string]string{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		_ = sys.Counter(MonitorRequestsTotal, 1, labels)
		_ = sys.Histogram(MonitorRequestDuration, elapsed, labels)
		_ = sys.Gauge(MonitorResponseBytes, float64(rec.bytes), map[string]string{"route": route})

		if logger := observability.ServerLogger; logger != nil {
			logger.Debug("Monitor request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed),
				zap.Int64("bytes", rec.bytes),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
