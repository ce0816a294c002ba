package domain

import (
	"errors"
	"fmt"
)

// ErrorClass drives the stream consumer's commit-vs-retry-vs-dead-letter
// decision for a failed sample.
type ErrorClass int

const (
	// ClassOK: no error.
	ClassOK ErrorClass = iota
	// ClassInvalid: permanent input error; drop the sample, never retry.
	ClassInvalid
	// ClassRetryable: transient dependency failure; retry with backoff,
	// dead-letter after the budget is spent.
	ClassRetryable
	// ClassFatal: the worker cannot continue; terminate and let the
	// supervisor restart the process.
	ClassFatal
)

// InvalidInputError marks a sample or geometry that can never succeed.
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Reason, e.Err)
	}
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// RetryableError wraps a transient failure from a backing service.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError wraps an unrecoverable condition.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// InvalidCoordinate reports a coordinate outside the WGS 84 domain.
func InvalidCoordinate(lat, lon float64) error {
	return &InvalidInputError{Reason: fmt.Sprintf("coordinate (%f, %f) out of range", lat, lon)}
}

// MalformedGeometry reports a fence whose geometry violates the ring or
// radius invariants. Treated as an input error: the fence is skipped.
func MalformedGeometry(geofenceID string, err error) error {
	return &InvalidInputError{Reason: "malformed geometry for geofence " + geofenceID, Err: err}
}

// Retryable wraps err as transient, keeping the failing operation name.
func Retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// Fatal wraps err as unrecoverable.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// ClassOf classifies an error for the consumer loop. Unwrapped, unknown
// errors default to retryable: dropping data needs positive proof that a
// retry cannot help.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassOK
	}
	var inv *InvalidInputError
	if errors.As(err, &inv) {
		return ClassInvalid
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	return ClassRetryable
}
