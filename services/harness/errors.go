// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyName indicates a definition was built without a name.
	ErrEmptyName = errors.New("benchmark name must not be empty")

	// ErrInvalidMode indicates an unknown benchmark mode.
	ErrInvalidMode = errors.New("invalid benchmark mode")

	// ErrNilOperation indicates a nil measured operation or hook.
	ErrNilOperation = errors.New("operation must not be nil")

	// ErrNilDefinition indicates a nil definition was registered.
	ErrNilDefinition = errors.New("definition must not be nil")

	// ErrAlreadyRegistered indicates a duplicate benchmark name.
	ErrAlreadyRegistered = errors.New("benchmark already registered")

	// ErrNotFound indicates a benchmark name is not registered.
	ErrNotFound = errors.New("benchmark not found")

	// ErrInvalidConfig indicates an invalid iteration configuration.
	ErrInvalidConfig = errors.New("invalid iteration configuration")

	// ErrInvalidTransition indicates an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// -----------------------------------------------------------------------------
// Failure taxonomy
// -----------------------------------------------------------------------------

// FailureKind classifies a lifecycle failure.
type FailureKind string

const (
	// FailureSetup means a setup hook returned an error or panicked.
	FailureSetup FailureKind = "setup"

	// FailureTeardown means a teardown hook returned an error or panicked.
	FailureTeardown FailureKind = "teardown"

	// FailureMeasurement means the measured operation returned an error or
	// panicked during warmup or measurement.
	FailureMeasurement FailureKind = "measurement"

	// FailureClock means the clock degraded: wall-clock fallback, a
	// backwards reading, or resolution too coarse to time the operation.
	FailureClock FailureKind = "clock"

	// FailureCancelled means the suite was cancelled before the benchmark
	// could complete.
	FailureCancelled FailureKind = "cancelled"
)

// Valid reports whether k is a known failure kind.
func (k FailureKind) Valid() bool {
	switch k {
	case FailureSetup, FailureTeardown, FailureMeasurement, FailureClock, FailureCancelled:
		return true
	}
	return false
}

// String returns the wire name of the failure kind.
func (k FailureKind) String() string { return string(k) }

// LifecycleError records a failure against one benchmark.
//
// Description:
//
//	LifecycleError ties an underlying error to the benchmark it happened in
//	and to its place in the failure taxonomy. It unwraps to the underlying
//	error, so errors.Is(err, context.Canceled) works on cancellations.
type LifecycleError struct {
	Kind      FailureKind
	Benchmark string
	Err       error
}

// Error implements error.
func (e *LifecycleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Benchmark, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Benchmark, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *LifecycleError) Unwrap() error { return e.Err }

// NewLifecycleError builds a LifecycleError.
func NewLifecycleError(kind FailureKind, benchmark string, err error) *LifecycleError {
	return &LifecycleError{Kind: kind, Benchmark: benchmark, Err: err}
}

// KindOf extracts the failure kind from err, if err wraps a LifecycleError.
func KindOf(err error) (FailureKind, bool) {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// PanicError wraps a value recovered from a panicking user operation.
type PanicError struct {
	Value any
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
