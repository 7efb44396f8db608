package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind tags a per-target failure with its category.
type ErrorKind string

const (
	ErrTransport    ErrorKind = "TRANSPORT_FAILURE"
	ErrScriptStep   ErrorKind = "SCRIPT_STEP_FAILURE"
	ErrTimeout      ErrorKind = "TIMEOUT"
	ErrHealthCheck  ErrorKind = "HEALTH_CHECK_FAILURE"
	ErrCancelledRun ErrorKind = "CANCELLED"
)

// ErrCancelled marks targets that never got an attempt because the run
// was shut down first.
var ErrCancelled = errors.New("run cancelled before target was attempted")

// TransportError wraps a copy or connection failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports a bounded operation exceeding its allotted
// time, distinct from a nonzero remote exit.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// StepError reports a remote script step exiting nonzero, tagged with
// the step that failed.
type StepError struct {
	Step       string
	ExitStatus int
	Output     string
	Err        error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %q exited with status %d", e.Step, e.ExitStatus)
}

func (e *StepError) Unwrap() error { return e.Err }

// HealthCheckError reports a started process that never answered the
// liveness probe.
type HealthCheckError struct {
	Addr string
	Err  error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check against %s failed: %v", e.Addr, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// Classify maps an error to its taxonomy kind. Timeouts win over the
// step or transport that carried them.
func Classify(err error) ErrorKind {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return ErrTimeout
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelledRun
	}
	var health *HealthCheckError
	if errors.As(err, &health) {
		return ErrHealthCheck
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return ErrTransport
	}
	var step *StepError
	if errors.As(err, &step) {
		return ErrScriptStep
	}
	return ErrScriptStep
}
