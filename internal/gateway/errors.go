package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies why a submission did not reach a confirmed result.
type ErrorKind string

const (
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindServerRejected     ErrorKind = "server_rejected"
	KindTimeout            ErrorKind = "timeout"
)

// Error is the only error type returned by gateway calls.
type Error struct {
	Kind       ErrorKind
	Reason     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServerRejected:
		if e.StatusCode > 0 {
			return fmt.Sprintf("server rejected (http %d): %s", e.StatusCode, e.Reason)
		}
		return "server rejected: " + e.Reason
	case KindTimeout:
		if e.Err != nil {
			return "timeout: " + e.Err.Error()
		}
		return "timeout"
	default:
		if e.Err != nil {
			return "network unavailable: " + e.Err.Error()
		}
		return "network unavailable"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from err. Errors that did not come from the
// gateway report network unavailable.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindNetworkUnavailable
}

func rejected(status int, reason string) *Error {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &Error{Kind: KindServerRejected, Reason: reason, StatusCode: status}
}

// classifyTransport maps an error from http.Client.Do.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetworkUnavailable, Err: err}
}

// classifyStatus maps a non-2xx response. 408 and 504 mean the request may
// never have been processed, so they count as timeouts.
func classifyStatus(status int, reason string) *Error {
	switch status {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, StatusCode: status, Err: fmt.Errorf("http %d", status)}
	default:
		return rejected(status, reason)
	}
}
