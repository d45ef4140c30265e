package intercom

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the closed classification of device client failures. Every error
// returned by Client maps to exactly one kind.
type Kind int

const (
	KindAPI Kind = iota
	KindAuthentication
	KindConnection
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	default:
		return "api"
	}
}

// AuthenticationError means the device rejected the configured credentials.
type AuthenticationError struct {
	Endpoint string
}

func (e *AuthenticationError) Error() string {
	if e == nil {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed for %s: invalid credentials", e.Endpoint)
}

// ConnectionError wraps a transport-level failure reaching the device.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "connection failed"
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError means the device did not answer within the request deadline.
type TimeoutError struct {
	Endpoint string
	Err      error
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "request timed out"
	}
	return fmt.Sprintf("request to %s timed out: %v", e.Endpoint, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// APIError is a device-side error: an HTTP error status, a failure
// envelope, or a payload the client could not interpret.
type APIError struct {
	Endpoint    string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("device error %d for %s: %s", e.Code, e.Endpoint, e.Description)
	}
	return fmt.Sprintf("device error for %s: %s", e.Endpoint, e.Description)
}

// Classify maps any client error to its failure kind. Unknown errors
// count as API errors so the caller always sees a closed set.
func Classify(err error) Kind {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return KindAuthentication
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return KindTimeout
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return KindConnection
	}
	return KindAPI
}

// wrapTransport converts a raw http.Client error into the typed taxonomy.
func wrapTransport(endpoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Endpoint: endpoint, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{Endpoint: endpoint, Err: err}
	}
	return &ConnectionError{Endpoint: endpoint, Err: err}
}
