package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/metrics"
	"github.com/signcrate/signcrate/internal/observability"
	"github.com/signcrate/signcrate/internal/server/middleware"
)

// Error codes used across the CLI, the remote client and the monitor server.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeTimeout         = "TIMEOUT"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeDataProcessing  = "DATA_PROCESSING_ERROR"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabase        = "DATABASE_ERROR"
	CodeInternal        = "INTERNAL_ERROR"

	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

func NewRateLimitedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimited, message)
}

func NewTimeoutError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeTimeout, message)
}

func NewExternalServiceError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeExternalService, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

func NewDatabaseError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeDatabase, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

// Wrap builds an envelope with the given code around err, tagging it with the
// correlation ID carried by ctx.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeConfigInvalid, err, message)
}

func WrapDataProcessing(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeDataProcessing, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeDatabase, err, message)
}

// RemoteDetails describes a failed call to the e-signature service.
type RemoteDetails struct {
	Endpoint   string
	StatusCode int
	RetryAfter string
	ErrorCode  string
	Message    string
}

// FromRemoteStatus maps a non-2xx response from the e-signature service to an
// envelope carrying the status code and endpoint as context.
func FromRemoteStatus(details RemoteDetails) *errors.ErrorEnvelope {
	message := details.Message
	if message == "" {
		message = "e-signature service returned " + strconv.Itoa(details.StatusCode) + " " + http.StatusText(details.StatusCode)
	}

	var envelope *errors.ErrorEnvelope
	severity := errors.SeverityMedium
	switch {
	case details.StatusCode == http.StatusUnauthorized || details.StatusCode == http.StatusForbidden:
		envelope = NewUnauthorizedError(message)
		severity = errors.SeverityHigh
	case details.StatusCode == http.StatusNotFound:
		envelope = NewNotFoundError(message)
	case details.StatusCode == http.StatusTooManyRequests:
		envelope = NewRateLimitedError(message)
	case details.StatusCode == http.StatusRequestTimeout || details.StatusCode == http.StatusGatewayTimeout:
		envelope = NewTimeoutError(message)
	case details.StatusCode >= 500:
		envelope = NewExternalServiceError(message)
		severity = errors.SeverityHigh
	default:
		envelope = NewExternalServiceError(message)
	}

	meta := map[string]interface{}{
		"status_code": details.StatusCode,
		"endpoint":    details.Endpoint,
	}
	if details.RetryAfter != "" {
		meta["retry_after"] = details.RetryAfter
	}
	if details.ErrorCode != "" {
		meta["remote_error_code"] = details.ErrorCode
	}
	if updated, err := envelope.WithContext(meta); err == nil {
		envelope = updated
	}
	if updated, err := envelope.WithSeverity(severity); err == nil {
		envelope = updated
	}
	return envelope
}

// CodeOf returns the envelope code carried by err, or "" for plain errors.
func CodeOf(err error) string {
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}

	envelope := EnsureEnvelope(err)
	if envelope.CorrelationID == "" && r != nil {
		envelope = envelope.WithCorrelationID(extractCorrelationID(r.Context()))
	}
	statusCode := HTTPStatusFromCode(envelope.Code)

	var details map[string]interface{}
	if len(envelope.Context) > 0 {
		details = make(map[string]interface{}, len(envelope.Context))
		for key, value := range envelope.Context {
			details[key] = value
		}
	}

	logError(envelope, zap.Int("http_status", statusCode))
	metrics.RecordError(envelope.Code, statusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   details,
			RequestID: envelope.CorrelationID,
		},
	})
}

func logError(envelope *errors.ErrorEnvelope, extra ...zap.Field) {
	logger := observability.ServerLogger
	if logger == nil {
		logger = observability.CLILogger
	}
	if logger == nil || envelope == nil {
		return
	}

	fields := append([]zap.Field{zap.String("error_code", envelope.Code)}, extra...)
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
