// Package errors defines the guard error taxonomy for deckward.
//
// Every rejection the boundary can produce maps to a distinct code with a
// specific, user-displayable message. Wait-time hints are computed from the
// actual limiter/breaker state by the caller and attached as details, never
// hard-coded here.
package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deckward/deckward/internal/metrics"
	"github.com/deckward/deckward/internal/observability"
	"github.com/deckward/deckward/internal/server/middleware"
)

// Guard error codes. The rate/circuit family is retryable by the caller;
// the response-validation family is terminal for the attempt.
const (
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeConcurrencyExceeded   = "CONCURRENCY_EXCEEDED"
	CodeCooldownActive        = "COOLDOWN_ACTIVE"
	CodeCircuitOpen           = "CIRCUIT_OPEN"
	CodeMalformedResponse     = "MALFORMED_RESPONSE"
	CodeUnsafeContent         = "UNSAFE_CONTENT"
	CodeNoValidPages          = "NO_VALID_PAGES"
	CodeFileSignatureMismatch = "FILE_SIGNATURE_MISMATCH"
	CodeSignatureInvalid      = "SIGNATURE_INVALID"
	CodeCertificateMismatch   = "CERTIFICATE_MISMATCH"
	CodeOversizedInput        = "OVERSIZED_INPUT"
	CodeArchiveUnsafe         = "ARCHIVE_UNSAFE"
	CodeEncryptionFailure     = "ENCRYPTION_FAILURE"
)

// NewRateLimitExceeded reports an exhausted rolling window for an operation
// kind. The wait hint is rounded up to whole minutes for display.
func NewRateLimitExceeded(kind string, wait time.Duration) *errors.ErrorEnvelope {
	minutes := int(wait.Minutes())
	if wait > time.Duration(minutes)*time.Minute {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	env := errors.NewErrorEnvelope(CodeRateLimitExceeded,
		fmt.Sprintf("Hourly limit for %s reached. Try again in about %d minute(s).", kind, minutes))
	return withDetails(env, map[string]interface{}{
		"kind":         kind,
		"retry_after":  wait.Round(time.Second).String(),
		"wait_minutes": minutes,
	})
}

// NewConcurrencyExceeded reports that the per-actor in-flight ceiling is hit.
func NewConcurrencyExceeded(max int) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeConcurrencyExceeded,
		fmt.Sprintf("Too many generation requests in flight (limit %d). Wait for the current one to finish.", max))
	return withDetails(env, map[string]interface{}{"max_concurrent": max})
}

// NewCooldownActive reports the fixed between-generations cooldown.
func NewCooldownActive(wait time.Duration) *errors.ErrorEnvelope {
	seconds := int(wait.Seconds())
	if wait > time.Duration(seconds)*time.Second {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	env := errors.NewErrorEnvelope(CodeCooldownActive,
		fmt.Sprintf("Please wait %d second(s) between generation requests.", seconds))
	return withDetails(env, map[string]interface{}{
		"retry_after":  wait.Round(time.Second).String(),
		"wait_seconds": seconds,
	})
}

// NewCircuitOpen reports an open breaker for a named remote service,
// including the seconds remaining until the next half-open probe.
func NewCircuitOpen(service string, remaining time.Duration) *errors.ErrorEnvelope {
	seconds := int(remaining.Seconds())
	if remaining > time.Duration(seconds)*time.Second {
		seconds++
	}
	if seconds < 0 {
		seconds = 0
	}
	env := errors.NewErrorEnvelope(CodeCircuitOpen,
		fmt.Sprintf("The %s service is temporarily unavailable. Retry in %d second(s).", service, seconds))
	return withDetails(env, map[string]interface{}{
		"service":          service,
		"retry_after_secs": seconds,
	})
}

// NewMalformedResponse reports a provider response that failed the schema walk.
func NewMalformedResponse(provider, reason string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeMalformedResponse,
		fmt.Sprintf("The %s response was malformed: %s.", provider, reason))
	return withDetails(env, map[string]interface{}{"provider": provider, "reason": reason})
}

// NewUnsafeContent reports content that matched a safety screening category.
func NewUnsafeContent(category string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeUnsafeContent,
		fmt.Sprintf("Content was rejected by safety screening (%s).", category))
	return withDetails(env, map[string]interface{}{"category": category})
}

// NewNoValidPages reports a structural parse that yielded zero usable pages.
func NewNoValidPages(segmentErrors []string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeNoValidPages,
		"No valid pages could be extracted from the generated content.")
	return withDetails(env, map[string]interface{}{"segment_errors": segmentErrors})
}

// NewFileSignatureMismatch reports magic bytes that contradict the declared type.
func NewFileSignatureMismatch(declared string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeFileSignatureMismatch,
		fmt.Sprintf("File content does not match the declared type %q.", declared))
	return withDetails(env, map[string]interface{}{"declared_type": declared})
}

// NewSignatureInvalid reports a failed or expired request signature.
func NewSignatureInvalid(reason string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeSignatureInvalid,
		fmt.Sprintf("Request signature verification failed: %s.", reason))
	return withDetails(env, map[string]interface{}{"reason": reason})
}

// NewCertificateMismatch reports a pinned-host fingerprint mismatch.
func NewCertificateMismatch(host string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeCertificateMismatch,
		fmt.Sprintf("The certificate presented by %s does not match any pinned fingerprint.", host))
	return withDetails(env, map[string]interface{}{"host": host})
}

// NewOversizedInput reports input exceeding a hard size ceiling.
func NewOversizedInput(size, limit int64) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeOversizedInput,
		fmt.Sprintf("Input of %d bytes exceeds the %d byte limit.", size, limit))
	return withDetails(env, map[string]interface{}{"size": size, "limit": limit})
}

// NewArchiveUnsafe reports a zip-bomb heuristic violation.
func NewArchiveUnsafe(reason string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeArchiveUnsafe,
		fmt.Sprintf("Archive rejected: %s.", reason))
	return withDetails(env, map[string]interface{}{"reason": reason})
}

// NewEncryptionFailure reports a failed encryption of a secret. Fatal to the
// write; decryption failures never produce this (they degrade to pass-through).
func NewEncryptionFailure(reason string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeEncryptionFailure,
		"Failed to encrypt the credential. The value was not saved.")
	return withDetails(env, map[string]interface{}{"reason": reason})
}

// General-purpose codes shared with the HTTP surface.

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INVALID_INPUT", message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("NOT_FOUND", message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("METHOD_NOT_ALLOWED", message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INTERNAL_ERROR", message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("CONFIG_INVALID", message)
}

// WrapInternal wraps an existing error as INTERNAL_ERROR with correlation IDs
// from the request context.
func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = withWrappedError(envelope, err)
	return envelope
}

// WrapExternalService wraps a provider transport failure.
func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope("EXTERNAL_SERVICE_ERROR", message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = withWrappedError(envelope, err)
	return envelope
}

// WrapConfigInvalid wraps a configuration loading failure.
func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope("CONFIG_INVALID", message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = withWrappedError(envelope, err)
	return envelope
}

// IsRetryable reports whether the caller may retry after waiting. Guard
// rejections from the limiter and breaker are retryable; validation failures
// are terminal for the attempt.
func IsRetryable(envelope *errors.ErrorEnvelope) bool {
	if envelope == nil {
		return false
	}
	switch envelope.Code {
	case CodeRateLimitExceeded, CodeConcurrencyExceeded, CodeCooldownActive, CodeCircuitOpen:
		return true
	}
	return false
}

// extractCorrelationID gets the request ID from context, falling back to a
// fresh UUID when the context carries none.
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
		env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the
// context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code for an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code for an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeRateLimitExceeded, CodeConcurrencyExceeded, CodeCooldownActive:
		return http.StatusTooManyRequests
	case CodeCircuitOpen, "SERVICE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	case CodeMalformedResponse:
		return http.StatusBadGateway
	case CodeUnsafeContent, CodeNoValidPages:
		return http.StatusUnprocessableEntity
	case CodeOversizedInput:
		return http.StatusRequestEntityTooLarge
	case CodeFileSignatureMismatch, CodeArchiveUnsafe, "INVALID_INPUT", "VALIDATION_FAILED":
		return http.StatusBadRequest
	case CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodeCertificateMismatch, "EXTERNAL_SERVICE_ERROR":
		return http.StatusBadGateway
	case "NOT_FOUND":
		return http.StatusNotFound
	case "METHOD_NOT_ALLOWED":
		return http.StatusMethodNotAllowed
	case "TIMEOUT":
		return http.StatusGatewayTimeout
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

func withDetails(envelope *errors.ErrorEnvelope, details map[string]interface{}) *errors.ErrorEnvelope {
	if envelope == nil || len(details) == 0 {
		return envelope
	}
	updated, err := envelope.WithContext(details)
	if err != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs the API-safe details map by merging envelope
// details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})

	for key, value := range envelope.Details {
		details[key] = value
	}

	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}

	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting
// metrics. Rate-family rejections also carry a Retry-After header when the
// envelope computed one.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			Retryable: IsRetryable(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if retryAfter := retryAfterSeconds(envelope); retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterSeconds(envelope *errors.ErrorEnvelope) string {
	if envelope == nil {
		return ""
	}
	if raw, ok := envelope.Context["wait_seconds"]; ok {
		return fmt.Sprintf("%v", raw)
	}
	if raw, ok := envelope.Context["wait_minutes"]; ok {
		if minutes, ok := raw.(int); ok {
			return fmt.Sprintf("%d", minutes*60)
		}
	}
	if raw, ok := envelope.Context["retry_after_secs"]; ok {
		return fmt.Sprintf("%v", raw)
	}
	return ""
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

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
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
