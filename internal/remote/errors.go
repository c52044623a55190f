package remote

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: name conflict")
	ErrPrecondition = errors.New("remote: precondition failed")
	ErrRateLimited  = errors.New("remote: too many requests")
	ErrServerError  = errors.New("remote: server error")

	// ErrNotModified is returned by ConditionalGet when the entity still
	// carries the supplied etag. It is a success signal, not a failure.
	ErrNotModified = errors.New("remote: not modified")
)

// APIError is a failed remote call. It unwraps to one of the sentinels
// above so callers can classify with errors.Is.
type APIError struct {
	StatusCode int
	Code       string // service error code, e.g. "item_name_in_use"
	Message    string
	RequestID  string

	// RetryAfter is the server's retry hint; zero when absent.
	RetryAfter time.Duration

	// Conflict is the entity a name collision was reported against, when
	// the service included it in the failure payload.
	Conflict *Entity

	Err error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}

	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, msg)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes that have no dedicated sentinel.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPrecondition
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotModified:
		return ErrNotModified
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// NewAPIError builds an APIError for the given status code with the
// matching sentinel attached.
func NewAPIError(code int, message string) *APIError {
	return &APIError{
		StatusCode: code,
		Message:    message,
		Err:        ClassifyStatus(code),
	}
}

// RetryAfterOf returns the retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}

	return 0
}

// ConflictOf returns the conflicting entity named by err, or nil.
func ConflictOf(err error) *Entity {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Conflict
	}

	return nil
}
