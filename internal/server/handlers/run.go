package handlers

import (
	"net/http"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/signcrate/signcrate/internal/core"
)

// RunStatus is the live view of the download run a monitor reports on.
type RunStatus struct {
	RunID     string             `json:"run_id,omitempty"`
	Mode      string             `json:"mode,omitempty"`
	State     string             `json:"state"`
	StartedAt time.Time          `json:"started_at"`
	Elapsed   string             `json:"elapsed"`
	Stats     core.StatsSnapshot `json:"stats"`
	Gate      core.RateGateStats `json:"rate_gate"`
}

// RunSource supplies the current run status.
type RunSource interface {
	RunStatus() RunStatus
}

// RunHandler serves the live counters of the current run.
func RunHandler(source RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "no download run is attached to this monitor"))
			return
		}
		writeJSON(w, http.StatusOK, source.RunStatus())
	}
}

// RateLimitHandler serves the rate gate snapshot of the current run.
func RateLimitHandler(source RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "no download run is attached to this monitor"))
			return
		}
		writeJSON(w, http.StatusOK, source.RunStatus().Gate)
	}
}
