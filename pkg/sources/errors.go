package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrInvalidJSON is wrapped by a ParseError when the body is not JSON at all.
var ErrInvalidJSON = errors.New("invalid json")

// StatusError is returned when a source answers with a non-2xx status.
type StatusError struct {
	Source string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d: %s", e.Source, e.Code, e.Body)
}

// ParseError is returned when a response body cannot be decoded.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RequestError is returned when a request cannot be issued as configured:
// a missing or malformed URL, or a scheme the client does not speak.
type RequestError struct {
	Source string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: invalid request: %v", e.Source, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt: connection
// failures, timeouts, truncated bodies, 5xx and 429. Request, parse and
// other 4xx errors are permanent, as is caller cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var parseErr *ParseError
	var reqErr *RequestError
	if errors.As(err, &parseErr) || errors.As(err, &reqErr) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError || statusErr.Code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// *url.Error satisfies net.Error for any failure inside Client.Do, so
	// only the dial/read layer and timeouts count.
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Reason maps an error to a short metrics label.
func Reason(err error) string {
	var statusErr *StatusError
	var parseErr *ParseError
	var reqErr *RequestError
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &reqErr):
		return "request"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%dxx", statusErr.Code/100)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case IsTransient(err):
		return "transport"
	default:
		return "other"
	}
}
