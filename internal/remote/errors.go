// Package remote provides the document-store collaborator consumed by the
// sync engine: the Store interface, an HTTP JSON implementation, and error
// classification at the network boundary. Errors are classified exactly once,
// into a closed kind set, so no layer above ever matches on error strings.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed classification of a remote-call failure.
type Kind int

// Error kinds. Transient errors are retried by the retry policy; permanent
// errors are surfaced immediately regardless of remaining budget.
const (
	KindUnknown Kind = iota
	KindTransient
	KindPermanent
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
)

// Error wraps a sentinel with the HTTP status code, response message, and
// classification kind.
type Error struct {
	StatusCode int
	Kind       Kind
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the error is worth retrying. This is the hook
// the retry policy's default classifier consumes.
func (e *Error) Temporary() bool {
	return e.Kind == KindTransient
}

// classifyStatus maps an HTTP status code to (sentinel, kind).
// Returns (nil, KindUnknown) for 2xx success codes.
func classifyStatus(code int) (error, Kind) {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest, KindPermanent
	case http.StatusUnauthorized:
		return ErrUnauthorized, KindPermanent
	case http.StatusForbidden:
		return ErrForbidden, KindPermanent
	case http.StatusNotFound:
		return ErrNotFound, KindPermanent
	case http.StatusRequestTimeout:
		return ErrServerError, KindTransient
	case http.StatusTooManyRequests:
		return ErrThrottled, KindTransient
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError, KindTransient
		}

		return nil, KindUnknown
	}
}

// NewStatusError builds a classified Error for a non-2xx response.
func NewStatusError(code int, message string) *Error {
	sentinel, kind := classifyStatus(code)

	return &Error{
		StatusCode: code,
		Kind:       kind,
		Message:    message,
		Err:        sentinel,
	}
}
