// Package errors provides the retrieval core's closed error-kind vocabulary:
// every error a caller of internal/orchestrator can observe maps to one of
// these codes, the way the teacher's internal/errors package maps every
// MCP/HTTP/GraphQL error to one ErrorCode.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode is the closed set of kinds surfaced to callers of the
// retrieval core (spec §7).
type ErrorCode string

const (
	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeDegraded    ErrorCode = "DEGRADED"
	ErrorCodeNoChannels  ErrorCode = "NO_CHANNELS"
	ErrorCodeTimeout     ErrorCode = "TIMEOUT"
	ErrorCodeCancelled   ErrorCode = "CANCELLED"
	ErrorCodeInternal    ErrorCode = "INTERNAL"
	ErrorCodeInvalidArg  ErrorCode = "INVALID_ARGUMENT"
)

// RetrievalError is the single error type the retrieval core returns.
// SessionID and RequestID are carried so the caller can log them without
// re-deriving context that the orchestrator already had.
type RetrievalError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

func (e *RetrievalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *RetrievalError) Unwrap() error { return e.Cause }

// New builds a RetrievalError with the given code and message.
func New(code ErrorCode, message string) *RetrievalError {
	return &RetrievalError{Code: code, Message: message}
}

// Wrap builds a RetrievalError carrying cause as its Internal reason,
// mapping anything not otherwise recognised to ErrorCodeInternal per the
// propagation policy in spec §7.
func Wrap(cause error, message string) *RetrievalError {
	if re, ok := cause.(*RetrievalError); ok {
		return re
	}
	return &RetrievalError{Code: ErrorCodeInternal, Message: message, Cause: cause}
}

// NotFound reports a missing chunk or procedure.
func NotFound(message string) *RetrievalError {
	return New(ErrorCodeNotFound, message)
}

// NoChannels reports that both the dense and lexical retrieval channels
// failed for a request.
func NoChannels() *RetrievalError {
	return New(ErrorCodeNoChannels, "no-retrieval-channels")
}

// Timeout reports that the overall request deadline fired.
func Timeout(message string) *RetrievalError {
	return New(ErrorCodeTimeout, message)
}

// Cancelled reports that the caller cancelled the request.
func Cancelled() *RetrievalError {
	return New(ErrorCodeCancelled, "request cancelled")
}

// WithSession attaches a session id for logging/correlation.
func (e *RetrievalError) WithSession(sessionID string) *RetrievalError {
	e.SessionID = sessionID
	return e
}

// WithRequestID attaches a request id for logging/correlation.
func (e *RetrievalError) WithRequestID(requestID string) *RetrievalError {
	e.RequestID = requestID
	return e
}

// HTTPStatus maps a RetrievalError to the status code the illustrative
// cmd/server boundary returns (spec §7: Timeout -> 504, Cancelled -> 499).
func (e *RetrievalError) HTTPStatus() int {
	switch e.Code {
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeInvalidArg:
		return http.StatusBadRequest
	case ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrorCodeCancelled:
		return 499 // client closed request, no stdlib constant
	case ErrorCodeDegraded, ErrorCodeNoChannels:
		return http.StatusOK // still a served response, see metadata
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON serialises the error for an HTTP error body.
func (e *RetrievalError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes the error as a JSON HTTP response.
func (e *RetrievalError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	body, _ := e.ToJSON()
	_, _ = w.Write(body)
}

// IsTimeout reports whether err is a Timeout RetrievalError.
func IsTimeout(err error) bool {
	re, ok := err.(*RetrievalError)
	return ok && re.Code == ErrorCodeTimeout
}

// IsCancelled reports whether err is a Cancelled RetrievalError.
func IsCancelled(err error) bool {
	re, ok := err.(*RetrievalError)
	return ok && re.Code == ErrorCodeCancelled
}
