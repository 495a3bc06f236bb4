package esign

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/signcrate/signcrate/internal/core/engine"
	apperrors "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/metrics"
)

// Logger is the structured logger used by the client and auth flow.
type Logger = engine.Logger

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return engine.NopLogger()
	}
	return logger
}

// remoteError is the error body returned by the e-signature REST API.
type remoteError struct {
	ErrorCode        string `json:"errorCode"`
	Message          string `json:"message"`
	OAuthError       string `json:"error"`
	OAuthDescription string `json:"error_description"`
}

func statusError(endpoint string, resp *http.Response, body []byte) *gferrors.ErrorEnvelope {
	details := apperrors.RemoteDetails{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfterHeader(resp),
	}

	var parsed remoteError
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		details.ErrorCode = parsed.ErrorCode
		details.Message = parsed.Message
		if details.ErrorCode == "" {
			details.ErrorCode = parsed.OAuthError
		}
		if details.Message == "" {
			details.Message = parsed.OAuthDescription
		}
	}
	envelope := apperrors.FromRemoteStatus(details)
	metrics.RecordRemoteError(endpointGroup(endpoint), envelope.Code)
	return envelope
}

func transportError(ctx context.Context, endpoint string, err error) *gferrors.ErrorEnvelope {
	code := apperrors.CodeExternalService
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.CodeTimeout
	}
	envelope := apperrors.Wrap(ctx, code, err, "request to e-signature service failed")
	if updated, updateErr := envelope.WithContext(map[string]interface{}{"endpoint": endpoint}); updateErr == nil {
		envelope = updated
	}
	metrics.RecordRemoteError(endpointGroup(endpoint), code)
	return envelope
}

// endpointGroup collapses an account-relative path into a low-cardinality
// label, dropping envelope and document IDs.
func endpointGroup(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1:
		return parts[0]
	case len(parts) == 2:
		return "envelope"
	case len(parts) == 3:
		return parts[2]
	case len(parts) == 4 && (parts[3] == "certificate" || parts[3] == "combined"):
		return parts[3]
	case len(parts) == 4:
		return "document"
	default:
		return "other"
	}
}

func retryAfterHeader(resp *http.Response) string {
	if resp == nil || resp.Header == nil {
		return ""
	}
	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return ""
	}
	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds.String()
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed).Round(time.Second).String()
	}
	return retry
}
