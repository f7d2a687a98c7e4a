package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrMalformedResponse is returned when a response lacks the fields a caller
// needs, such as a first choice with a message.
var ErrMalformedResponse = errors.New("malformed response")

// Kind classifies a provider failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindProtocol
	KindReadTimeout
	KindRateLimit
	KindServer
	KindUnavailable
	KindTimeout
	KindBadRequest
	KindMalformedResponse
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindConnection:        "connection",
	KindProtocol:          "protocol",
	KindReadTimeout:       "read timeout",
	KindRateLimit:         "rate limit",
	KindServer:            "server error",
	KindUnavailable:       "service unavailable",
	KindTimeout:           "timeout",
	KindBadRequest:        "bad request",
	KindMalformedResponse: "malformed response",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure from an upstream provider.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewStatusError builds an Error for a non-2xx HTTP response.
func NewStatusError(provider string, statusCode int, err error) *Error {
	return &Error{Kind: KindForStatus(statusCode), Provider: provider, StatusCode: statusCode, Err: err}
}

// Wrap classifies err and attaches the provider name. Errors that are already
// classified keep their kind.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: Classify(err), Provider: provider, Err: err}
}

// KindForStatus maps an HTTP status code to a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusBadRequest,
		code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnprocessableEntity:
		return KindBadRequest
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusServiceUnavailable, code == 529:
		return KindUnavailable
	case code >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// Classify maps any error to a Kind. Unrecognized errors are KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrMalformedResponse) {
		return KindMalformedResponse
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindReadTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindProtocol
	}
	return KindUnknown
}

// IsRetryable reports whether err is transient and worth retrying against
// the same model.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindConnection, KindProtocol, KindReadTimeout, KindRateLimit,
		KindServer, KindUnavailable, KindTimeout:
		return true
	}
	return false
}

// IsRecoverable reports whether err should move a fallback chain on to the
// next model.
func IsRecoverable(err error) bool {
	switch Classify(err) {
	case KindBadRequest, KindMalformedResponse:
		return true
	}
	return false
}
