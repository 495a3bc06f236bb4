package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRequestMetricsRecordsMonitorRequests(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"running"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, collector.CountMetricsByName(MonitorRequestsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(MonitorRequestDuration))
	assert.Equal(t, 1, collector.CountMetricsByName(MonitorResponseBytes))
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ratelimit", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/health":        "/health",
		"/health/live":   "/health",
		"/health/ready":  "/health",
		"/version":       "/version",
		"/metrics":       "/metrics",
		"/run":           "/run",
		"/ratelimit":     "/ratelimit",
		"/envelopes/123": "/unknown",
		"/":              "/",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
}

func TestRouteLabelUsesChiPattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = routeLabel(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/runs/abc", nil))
	assert.Equal(t, "/runs/{id}", got)
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "caller-id", seen)
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), seen)
}

func TestRecoveryWritesErrorBody(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("status source exploded")
	})))

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Message, "status source exploded")
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Equal(t, 1, collector.CountMetricsByName(metrics.MonitorPanicsTotal))
}
