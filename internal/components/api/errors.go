// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/drivebags/drivebags-go/internal/components/apperr"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Authentication and authorization
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"

	// Rate limiting
	ReasonRateLimited = "rate_limited"

	// Request validation
	ReasonBadRequest   = "bad_request"
	ReasonMissingField = "missing_field"
	ReasonInvalidField = "invalid_field"
	ReasonNotFound     = "not_found"

	// Workflow state
	ReasonAlreadyMember    = "already_member"
	ReasonAlreadyProcessed = "already_processed"
	ReasonMismatch         = "mismatch"

	// Storage delegation
	ReasonStorageNotConnected     = "storage_not_connected"
	ReasonHostStorageDisconnected = "host_storage_disconnected"
	ReasonDecryptionFailed        = "decryption_failed"
	ReasonStorageUnavailable      = "storage_unavailable"

	// Server errors
	ReasonInternalError = "internal_error"
)

// RetryAfterSeconds is advertised on storage_unavailable responses.
const RetryAfterSeconds = 5

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "Forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message

	// CanRequest is set on bag access denials: true when the caller may file
	// an access request instead.
	CanRequest *bool `json:"can_request,omitempty"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	writeEnvelope(w, statusCode, ErrorDetail{ReasonCode: reasonCode, Message: message})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, d ErrorDetail) {
	d.Code = http.StatusText(statusCode)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorEnvelope{Error: d})
}

// canRequester is implemented by access denials that know whether the
// request workflow is open (bags.AccessDeniedError).
type canRequester interface {
	error
	RequestAllowed() bool
}

type mapping struct {
	status int
	reason string
}

var kindMappings = map[error]mapping{
	apperr.ErrUnauthenticated:         {http.StatusUnauthorized, ReasonUnauthenticated},
	apperr.ErrForbidden:               {http.StatusForbidden, ReasonForbidden},
	apperr.ErrNotFound:                {http.StatusNotFound, ReasonNotFound},
	apperr.ErrInvalid:                 {http.StatusBadRequest, ReasonBadRequest},
	apperr.ErrAlreadyMember:           {http.StatusConflict, ReasonAlreadyMember},
	apperr.ErrAlreadyProcessed:        {http.StatusConflict, ReasonAlreadyProcessed},
	apperr.ErrMismatch:                {http.StatusBadRequest, ReasonMismatch},
	apperr.ErrStorageNotConnected:     {http.StatusBadRequest, ReasonStorageNotConnected},
	apperr.ErrHostStorageDisconnected: {http.StatusBadRequest, ReasonHostStorageDisconnected},
	apperr.ErrDecryptionFailed:        {http.StatusInternalServerError, ReasonDecryptionFailed},
	apperr.ErrStorageUnavailable:      {http.StatusServiceUnavailable, ReasonStorageUnavailable},
}

// WriteDomainError maps a workflow error onto the envelope. Unclassified
// errors are logged on log and reported as a generic 500.
func WriteDomainError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	m, ok := kindMappings[kind]
	if !ok {
		if log != nil {
			log.Error("unhandled error", "error", err)
		}
		WriteInternalError(w, "internal error")
		return
	}

	d := ErrorDetail{ReasonCode: m.reason, Message: apperr.Message(err)}

	var denied canRequester
	if errors.As(err, &denied) {
		allowed := denied.RequestAllowed()
		d.CanRequest = &allowed
		d.Message = "Access denied"
	}

	if apperr.Retryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		if log != nil {
			log.Warn("storage unavailable", "error", err)
		}
	}
	if kind == apperr.ErrDecryptionFailed {
		if log != nil {
			log.Error("credential decryption failed", "error", err)
		}
		d.Message = "Stored Google Drive credential is unreadable. Reconnect Google Drive."
	}

	writeEnvelope(w, m.status, d)
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// MaxJSONBody bounds request bodies decoded by DecodeJSON.
const MaxJSONBody = 1 << 20

// DecodeJSON decodes a bounded JSON body into v. On failure it writes a 400
// and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBody)).Decode(v); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
