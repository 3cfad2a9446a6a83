// Package sdkerr defines the error taxonomy of the telemetry pipeline.
//
// Only the instrumented function's own error ever reaches its caller.
// Every error defined here is absorbed at the boundary nearest its
// origin, logged in debug mode, and optionally forwarded to the single
// global error callback via Report.
package sdkerr

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingCredential is wrapped by ConfigurationError when no API key
// is configured. Sending is suppressed; nothing fails.
var ErrMissingCredential = errors.New("api key is not set")

// ConfigurationError reports an unusable configuration value.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NetworkError is a failed delivery attempt: transport failure or a
// non-2xx response.
type NetworkError struct {
	StatusCode int // 0 for transport failures
	Status     string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network: HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a delivery attempt cancelled by the per-call timeout.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no response within %v", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// PersistenceError is a durable storage failure. The queue keeps
// working in memory.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InstrumentationError is a failure inside the monitoring scaffolding,
// middleware hooks included.
type InstrumentationError struct {
	Stage string // e.g. "beforeCall", "capture", "filter"
	Name  string // middleware or monitored function name
	Err   error
}

func (e *InstrumentationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("instrumentation: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("instrumentation: %s (%s): %v", e.Stage, e.Name, e.Err)
}

func (e *InstrumentationError) Unwrap() error { return e.Err }

// Retryable reports whether a failed delivery attempt is worth retrying.
// Configuration errors and payloads that cannot be encoded fail the same
// way on every attempt; everything else is assumed to be transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		cfgErr  *ConfigurationError
		instErr *InstrumentationError
	)
	return !errors.As(err, &cfgErr) && !errors.As(err, &instErr)
}

// FromPanic converts a recovered panic value into an error.
func FromPanic(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
