// Package apperr defines the error taxonomy shared by the extraction pipeline
// and its HTTP and MCP surfaces.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindBusy           Kind = "service_busy"
	KindUpstreamAuth   Kind = "upstream_auth"
	KindNavigation     Kind = "upstream_navigation"
	KindWidgetNotReady Kind = "widget_not_ready"
	KindTimeout        Kind = "timeout"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal"
)

// Error carries a Kind plus the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
	// RetryAfter is set on KindBusy.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind to err. A context deadline always wins over the given kind
// so timeouts surface consistently regardless of which step was running.
func Wrap(kind Kind, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Busy builds a service-busy error with a retry hint.
func Busy(op string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindBusy, Op: op, Msg: "a lookup is already running, retry later", RetryAfter: retryAfter}
}

// KindOf reports the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// HTTPStatus maps a Kind to the status code returned by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
