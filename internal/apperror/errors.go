package apperror

import (
	"errors"
	"fmt"
)

// ErrMalformedResult marks a classifier response or result that lacks the fields needed to display it.
var ErrMalformedResult = errors.New("malformed result")

// RequestFailure is returned when the backend answers with a non-2xx status.
type RequestFailure struct {
	Op         string
	StatusCode int
	StatusText string
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Op, e.StatusText)
}

// NetworkFailure wraps a transport level error (connection refused, reset, DNS ...).
type NetworkFailure struct {
	Op  string
	Err error
}

func (e *NetworkFailure) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *NetworkFailure) Unwrap() error {
	return e.Err
}

// RenderFailure is raised when a result could not be turned into HTML.
type RenderFailure struct {
	View string
	Err  error
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("failed to render %s: %v", e.View, e.Err)
}

func (e *RenderFailure) Unwrap() error {
	return e.Err
}

// IsNetworkFailure reports whether err is a rejected request or a non-2xx answer.
func IsNetworkFailure(err error) bool {
	var nf *NetworkFailure
	var rf *RequestFailure
	return errors.As(err, &nf) || errors.As(err, &rf)
}

// Malformed wraps ErrMalformedResult with a reason.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResult, fmt.Sprintf(format, args...))
}
