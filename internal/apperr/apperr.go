// Package apperr classifies failures from remote services and the store so
// callers can decide between retrying, skipping an item and aborting a run.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

type Kind int

const (
	Unknown Kind = iota
	Transient
	Permanent
	RateLimit
	Parse
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "TransientNetworkError"
	case Permanent:
		return "PermanentClientError"
	case RateLimit:
		return "RateLimitError"
	case Parse:
		return "ParseError"
	case Persistence:
		return "PersistenceError"
	default:
		return "UnknownError"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind       Kind
	Op         string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Delay reports the server-requested wait, if any. retry.Do honours it.
func (e *Error) Delay() time.Duration { return e.RetryAfter }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// FromResponse classifies a non-2xx HTTP response. body is included in the
// message and should already be truncated by the caller.
func FromResponse(op string, resp *http.Response, body string) *Error {
	e := &Error{Op: op, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = RateLimit
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		e.Kind = Transient
	default:
		e.Kind = Permanent
	}
	if body != "" {
		e.Err = errors.New(body)
	} else {
		e.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	return e
}

// FromStatus classifies a bare status code.
func FromStatus(op string, status int, err error) *Error {
	e := &Error{Op: op, Status: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimit
	case status >= 500:
		e.Kind = Transient
	case status >= 400:
		e.Kind = Permanent
	default:
		e.Kind = Unknown
	}
	return e
}

// ParseRetryAfter accepts both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Classify wraps a transport-level error with its kind. Errors that are
// already classified are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kindOfTransport(err), Op: op, Err: err}
}

func kindOfTransport(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return Permanent
		}
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	// Anything else that failed below HTTP (EOF mid-body, TLS resets) is
	// treated as network flakiness.
	return Transient
}

func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case Transient, RateLimit:
		return true
	default:
		return false
	}
}

func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// ToFetchError converts err into the record persisted alongside a story.
func ToFetchError(err error) *models.FetchError {
	if err == nil {
		return nil
	}
	return &models.FetchError{
		Type:       KindOf(err).String(),
		Message:    err.Error(),
		HTTPStatus: StatusOf(err),
	}
}
