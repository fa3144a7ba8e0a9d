package common

import "github.com/pkg/errors"

// ErrorClass is the taxonomy this process uses to decide whether an error is
// swallowed, retried, or surfaced to the host application.
type ErrorClass uint8

const (
	// ClassRecoverableInternal covers a transport disconnect, a single failed
	// reconnect attempt, or one failed chunk download. The Fetcher retries
	// these and they never leave it.
	ClassRecoverableInternal ErrorClass = iota
	// ClassRecoverableExternal is a rate-limit response from the remote
	// store. The Session Pool absorbs it by waiting out the server-specified
	// duration.
	ClassRecoverableExternal
	// ClassSurfacedFetchFailure means MAX_RETRIES was exhausted for a chunk.
	// Callers see nil bytes; the Range Server escalates via its
	// consecutive-failure counter.
	ClassSurfacedFetchFailure
	// ClassResponseAbort means MAX_CONSECUTIVE_FAILURES was reached; the
	// response is terminated cleanly and the client is expected to retry.
	ClassResponseAbort
	// ClassFatal covers authentication failures that are not rate-limits,
	// failure to bind the loopback socket, and allocation failure for a
	// transient buffer. These are surfaced to the host.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRecoverableInternal:
		return "recoverable-internal"
	case ClassRecoverableExternal:
		return "recoverable-external"
	case ClassSurfacedFetchFailure:
		return "surfaced-fetch-failure"
	case ClassResponseAbort:
		return "response-abort"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError attaches an ErrorClass to an underlying cause so logging
// and escalation code can branch on severity without string matching.
type ClassifiedError struct {
	Class   ErrorClass
	Op      string
	cause   error
}

func NewClassifiedError(class ErrorClass, op string, cause error) *ClassifiedError {
	return &ClassifiedError{Class: class, Op: op, cause: cause}
}

func (e *ClassifiedError) Error() string {
	if e.cause == nil {
		return e.Op + ": " + e.Class.String()
	}
	return e.Op + ": " + e.Class.String() + ": " + e.cause.Error()
}

func (e *ClassifiedError) Cause() error { return e.cause }
func (e *ClassifiedError) Unwrap() error { return e.cause }

// ClassOf walks err's cause chain looking for a ClassifiedError and returns
// its class; an error with no classification is treated as fatal, since
// fatal is the safest default for something this process didn't anticipate.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			ce = c
			break
		}
		err = errors.Unwrap(err)
	}
	if ce == nil {
		return ClassFatal
	}
	return ce.Class
}
