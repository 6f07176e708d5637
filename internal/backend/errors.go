// Package backend holds the HTTP plumbing shared by every model backend client:
// the error taxonomy, JSON/bytes POST helpers, and bounded retry with
// exponential backoff.
package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectivityError is returned when a backend could not be reached or
// answered with a non-2xx status. StatusCode is 0 for transport failures.
type ConnectivityError struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *ConnectivityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: %v", e.Backend, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *ConnectivityError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// MalformedResponseError is returned when a backend answered successfully but
// the payload has the wrong shape or type.
type MalformedResponseError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Backend, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Malformed builds a MalformedResponseError.
func Malformed(backend, reason string, err error) error {
	return &MalformedResponseError{Backend: backend, Reason: reason, Err: err}
}

// IsConnectivity reports whether err is, or wraps, a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsMalformed reports whether err is, or wraps, a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsRetryable reports whether err is a retryable ConnectivityError.
func IsRetryable(err error) bool {
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
