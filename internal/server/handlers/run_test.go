package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
)

type staticSource RunStatus

func (s staticSource) RunStatus() RunStatus { return RunStatus(s) }

func TestRunHandler(t *testing.T) {
	source := staticSource{
		RunID:     "run-1",
		Mode:      "ids",
		State:     core.RunRunning,
		StartedAt: time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC),
		Stats:     core.StatsSnapshot{Envelopes: 2, Documents: 5, Bytes: 4096},
		Gate:      core.RateGateStats{RequestsInWindow: 7, MaxPerWindow: 300, RemainingCapacity: 293, Admitted: 12},
	}

	rec := httptest.NewRecorder()
	RunHandler(source)(rec, httptest.NewRequest(http.MethodGet, "/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status RunStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "run-1", status.RunID)
	require.Equal(t, int64(5), status.Stats.Documents)
	require.Equal(t, 293, status.Gate.RemainingCapacity)

	rec = httptest.NewRecorder()
	RateLimitHandler(source)(rec, httptest.NewRequest(http.MethodGet, "/ratelimit", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var gate core.RateGateStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&gate))
	require.Equal(t, int64(12), gate.Admitted)
}

func TestRunHandlerWithoutSource(t *testing.T) {
	rec := httptest.NewRecorder()
	RunHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/run", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
