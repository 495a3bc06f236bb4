package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	"github.com/signcrate/signcrate/internal/core/esign"
	"github.com/signcrate/signcrate/internal/core/storage"
	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/observability"
)

const (
	testAccount = "acct-1"
	certificate = "%PDF-certificate"
)

// fakeService mimics the e-signature REST and OAuth endpoints.
type fakeService struct {
	mu       sync.Mutex
	calls    int
	failures map[string]bool // "envelope/document" pairs answered with 500
}

func (f *fakeService) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeService) apiCalls() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.calls)
}

func (f *fakeService) router() http.Handler {
	r := chi.NewRouter()

	r.Post("/oauth/token", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"access_token": "token-1", "token_type": "Bearer", "expires_in": 3600})
	})
	r.Get("/oauth/userinfo", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"sub":      "user-1",
			"name":     "Test User",
			"accounts": []map[string]any{{"account_id": testAccount, "account_name": "Test", "is_default": true}},
		})
	})

	r.Route("/restapi/v2.1/accounts/"+testAccount, func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				f.count()
				if req.Header.Get("Authorization") != "Bearer token-1" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, req)
			})
		})

		r.Get("/envelopes", func(w http.ResponseWriter, req *http.Request) {
			start, _ := strconv.Atoi(req.URL.Query().Get("start_position"))
			page := core.EnvelopePage{}
			if start == 0 {
				page.Envelopes = []core.Envelope{
					{EnvelopeID: "env-1", EmailSubject: "Lease: unit 4/B", Status: core.StatusCompleted},
					{EnvelopeID: "env-2", EmailSubject: "NDA", Status: core.StatusCompleted},
				}
			}
			writeJSON(w, page)
		})
		r.Get("/envelopes/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			writeJSON(w, map[string]any{"envelopeId": id, "emailSubject": "Subject " + id, "status": "completed"})
		})
		r.Get("/envelopes/{id}/documents", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, map[string]any{"envelopeDocuments": []map[string]any{
				{"documentId": "1", "name": "Contract"},
				{"documentId": "2", "name": "Annex"},
				{"documentId": "certificate", "name": "Summary", "type": "summary"},
			}})
		})
		r.Get("/envelopes/{id}/documents/{doc}", func(w http.ResponseWriter, req *http.Request) {
			id, doc := chi.URLParam(req, "id"), chi.URLParam(req, "doc")
			if f.failures[id+"/"+doc] {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"errorCode":"UNSPECIFIED_ERROR","message":"boom"}`))
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			if doc == "certificate" {
				_, _ = w.Write([]byte(certificate))
				return
			}
			_, _ = w.Write([]byte("%PDF-" + id + "-" + doc))
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}

func newFakeServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping pipeline test: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: svc.router()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func setupCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

type metricsRecorder struct{}

func (metricsRecorder) RecordOutcome(_ context.Context, outcome core.EnvelopeOutcome) error {
	metrics.RecordEnvelope(outcome, time.Millisecond)
	return nil
}

func TestDownloadPipeline_CriteriaRun(t *testing.T) {
	svc := &fakeService{failures: map[string]bool{"env-2/2": true}}
	ts := newFakeServer(t, svc)
	collector := setupCollector(t)

	auth := &esign.JWTAuth{
		IntegrationKey: "ik",
		UserID:         "user-1",
		AccountID:      testAccount,
		BasePath:       ts.URL + "/restapi",
		OAuthBaseURL:   ts.URL,
		PrivateKeyPEM:  testKeyPEM(t),
		Client:         ts.Client(),
	}

	gate, err := engine.NewRateGate(engine.RateGateConfig{
		RequestsPerWindow: 300,
		Window:            time.Minute,
		Spacing:           time.Millisecond,
		StallWait:         time.Second,
	})
	require.NoError(t, err)

	client := &esign.Client{
		BasePath:  ts.URL + "/restapi",
		AccountID: testAccount,
		Tokens:    auth,
		HTTP:      ts.Client(),
		Gate:      gate,
		Timeout:   5 * time.Second,
	}

	ctx := context.Background()
	info, err := auth.UserInfo(ctx)
	require.NoError(t, err)
	_, ok := info.Account(testAccount)
	require.True(t, ok)

	folder := t.TempDir()
	orchestrator := &engine.Orchestrator{
		Remote:        client,
		Storage:       storage.FS{},
		Recorder:      metricsRecorder{},
		Folder:        folder,
		Language:      "pt_BR",
		MaxConcurrent: 3,
		UnitPause:     -1,
		CriteriaPause: -1,
	}
	require.NoError(t, orchestrator.Initialize(ctx))

	criteria := core.SearchCriteria{}.WithDefaults(time.Now())
	require.NoError(t, orchestrator.DownloadByCriteria(ctx, client, criteria))

	report := orchestrator.Report()
	assert.Equal(t, int64(2), report.Envelopes)
	assert.Equal(t, int64(3), report.Documents, "env-2's annex fails, the rest succeed")
	assert.Equal(t, int64(2), report.Certificates)
	assert.Equal(t, int64(1), report.Errors)

	// report bytes equal the sum of every file written
	var written int64
	require.NoError(t, filepath.Walk(folder, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".pdf" {
			return err
		}
		written += info.Size()
		return nil
	}))
	assert.Equal(t, written, report.Bytes)

	path, err := orchestrator.SaveReport(report)
	require.NoError(t, err)
	assert.FileExists(t, path)

	// every API call went through the gate: one full and one empty search
	// page, then a listing and three downloads per envelope
	stats := gate.Stats()
	assert.Equal(t, svc.apiCalls(), stats.Admitted)
	assert.Equal(t, int64(2+2*4), stats.Admitted)
	assert.Zero(t, stats.QueueLength)

	assert.Equal(t, 2, collector.CountMetricsByName(metrics.EnvelopesTotal))
}

func TestDownloadPipeline_CombinedRun(t *testing.T) {
	svc := &fakeService{failures: map[string]bool{"env-9/combined": true}}
	ts := newFakeServer(t, svc)

	auth := &esign.JWTAuth{
		IntegrationKey: "ik",
		UserID:         "user-1",
		AccountID:      testAccount,
		OAuthBaseURL:   ts.URL,
		PrivateKeyPEM:  testKeyPEM(t),
		Client:         ts.Client(),
	}
	gate, err := engine.NewRateGate(engine.RateGateConfig{RequestsPerWindow: 300, Spacing: time.Millisecond})
	require.NoError(t, err)

	orchestrator := &engine.Orchestrator{
		Remote: &esign.Client{
			BasePath:  ts.URL + "/restapi",
			AccountID: testAccount,
			Tokens:    auth,
			HTTP:      ts.Client(),
			Gate:      gate,
		},
		Storage:       storage.FS{},
		Folder:        t.TempDir(),
		MaxConcurrent: 2,
	}
	ctx := context.Background()
	require.NoError(t, orchestrator.Initialize(ctx))
	require.NoError(t, orchestrator.DownloadCombined(ctx, []string{"env-1", "env-9", "env-3"}))

	stats := orchestrator.Stats()
	assert.Equal(t, int64(2), stats.Envelopes)
	assert.Equal(t, int64(2), stats.Documents)
	assert.Equal(t, int64(1), stats.Errors)

	entries, err := os.ReadDir(filepath.Join(orchestrator.Folder, engine.CombinedFolder))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
