// Package errorsx contains the error taxonomy of the experiment
// pipeline. Each error class wraps an underlying cause and records the
// operation that failed; use errors.As to classify.
//
// Configuration, topology, flow, and capture errors abort only the
// current run, which the runner retries up to a bound. Parse errors
// surface post hoc and mark the run's record invalid instead. The
// sentinel errors [ErrLockBusy] and [ErrStaleResources] are fatal and
// abort the whole matrix.
package errorsx

import (
	"errors"
	"fmt"
)

// ErrLockBusy indicates that another process holds the global run
// lock. The matrix must not start.
var ErrLockBusy = errors.New("errorsx: run lock held by a live process")

// ErrStaleResources indicates that a previously crashed run left
// virtual resources behind. They must be cleaned explicitly, never
// silently reused.
var ErrStaleResources = errors.New("errorsx: stale virtual resources detected")

// ErrDuplicateRun indicates an attempt to append a second record for
// a run identity already present in the store.
var ErrDuplicateRun = errors.New("errorsx: record already present for run")

// ConfigurationError means the AQM discipline rejected the parameters
// or is unavailable on this system.
type ConfigurationError struct {
	// Op names the failed operation.
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a [ConfigurationError].
func NewConfigurationError(op string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

// TopologyError means the virtual network could not be constructed
// or torn down.
type TopologyError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying cause.
func (e *TopologyError) Unwrap() error { return e.Err }

// NewTopologyError builds a [TopologyError].
func NewTopologyError(op string, err error) *TopologyError {
	return &TopologyError{Op: op, Err: err}
}

// FlowError means a traffic generator failed to start or crashed
// mid-run. A single failed flow invalidates the whole run, because a
// missing competing flow would bias the AQM comparison.
type FlowError struct {
	// Flow is the label of the failed flow.
	Flow string

	Op  string
	Err error
}

// Error implements error.
func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s: %s: %s", e.Flow, e.Op, e.Err.Error())
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError builds a [FlowError].
func NewFlowError(flow, op string, err error) *FlowError {
	return &FlowError{Flow: flow, Op: op, Err: err}
}

// CaptureError means the capture tool failed or produced a truncated
// or non-covering file.
type CaptureError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error { return e.Err }

// NewCaptureError builds a [CaptureError].
func NewCaptureError(op string, err error) *CaptureError {
	return &CaptureError{Op: op, Err: err}
}

// ParseError means a capture or generator log was malformed during
// metric extraction.
type ParseError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a [ParseError].
func NewParseError(op string, err error) *ParseError {
	return &ParseError{Op: op, Err: err}
}

// IsFatal returns whether err must abort the whole matrix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLockBusy) || errors.Is(err, ErrStaleResources)
}

// IsParseError returns whether err is a [ParseError].
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
