package integration

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/observability"
	"github.com/signcrate/signcrate/internal/server"
	"github.com/signcrate/signcrate/internal/server/handlers"
)

// isPermissionError reports whether err comes from a sandbox that forbids
// loopback sockets, so the network tests can skip instead of fail.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}

// startExporter brings up the Prometheus exporter on a random port and tears
// the global telemetry state down afterwards.
func startExporter(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: metrics exporter cannot bind: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// liveRun is a RunSource whose counters move while the test scrapes it.
type liveRun struct {
	mu     sync.Mutex
	status handlers.RunStatus
}

func (l *liveRun) RunStatus() handlers.RunStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *liveRun) complete(outcome core.EnvelopeOutcome) {
	l.mu.Lock()
	l.status.Stats.Envelopes++
	l.status.Stats.Documents += int64(outcome.Documents)
	l.status.Stats.Certificates += int64(outcome.Certificates)
	l.status.Stats.Bytes += outcome.Bytes
	l.status.Gate.Admitted += int64(outcome.Documents + outcome.Certificates + 2)
	l.mu.Unlock()
	metrics.RecordEnvelope(outcome, 5*time.Millisecond)
}

func startMonitor(t *testing.T, source handlers.RunSource) (*httptest.Server, *http.Client) {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: monitor cannot bind: %v", err)
		}
		require.NoError(t, err)
	}

	srv := server.New("127.0.0.1:0", "test", source)
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: srv.Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func scrape(t *testing.T, client *http.Client, url string) (int, string, string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func TestMonitorServesRunWhileDownloading(t *testing.T) {
	observability.InitCLILogger("test", "info", false)
	observability.InitServerLogger("test", "info")
	startExporter(t)

	run := &liveRun{status: handlers.RunStatus{
		RunID: "run-42",
		Mode:  "criteria",
		State: core.RunRunning,
		Gate:  core.RateGateStats{MaxPerWindow: 300, RemainingCapacity: 300},
	}}
	ts, client := startMonitor(t, run)

	const envelopes = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < envelopes; i++ {
			run.complete(core.EnvelopeOutcome{Documents: 2, Certificates: 1, Bytes: 2048})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < envelopes; i++ {
			for _, path := range []string{"/run", "/ratelimit", "/health/live"} {
				if resp, err := client.Get(ts.URL + path); err == nil {
					_ = resp.Body.Close()
				}
			}
		}
	}()
	wg.Wait()

	code, _, body := scrape(t, client, ts.URL+"/run")
	require.Equal(t, http.StatusOK, code)
	var status handlers.RunStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "run-42", status.RunID)
	assert.Equal(t, int64(envelopes), status.Stats.Envelopes)
	assert.Equal(t, int64(2*envelopes), status.Stats.Documents)
	assert.Equal(t, int64(envelopes*5), status.Gate.Admitted)

	code, contentType, body := scrape(t, client, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(contentType, "text/plain; version=0.0.4"), contentType)
	assert.Contains(t, body, "test_download_envelopes_total")
	assert.Contains(t, body, "test_download_documents_total")
	assert.Contains(t, body, "test_monitor_requests_total")
}

func TestMonitorMetricsLinesAreLabelled(t *testing.T) {
	observability.InitCLILogger("test", "info", false)
	startExporter(t)

	ts, client := startMonitor(t, &liveRun{status: handlers.RunStatus{State: core.RunRunning}})
	_, _, _ = scrape(t, client, ts.URL+"/ratelimit")

	_, _, body := scrape(t, client, ts.URL+"/metrics")
	labelled := 0
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			labelled++
		}
	}
	assert.Greater(t, labelled, 0, "expected labelled Prometheus samples")
}

func TestMonitorWithoutExporterOrRun(t *testing.T) {
	observability.InitCLILogger("test", "info", false)

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})
	t.Setenv("SIGNCRATE_METRICS_ENABLED", "false")

	ts, client := startMonitor(t, nil)

	for _, path := range []string{"/metrics", "/run", "/ratelimit"} {
		code, _, _ := scrape(t, client, ts.URL+path)
		assert.Equal(t, http.StatusServiceUnavailable, code, path)
	}
	code, _, _ := scrape(t, client, ts.URL+"/health/live")
	assert.Equal(t, http.StatusOK, code)
}
