// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCategory classifies a step failure for retry decisions.
type ErrorCategory string

const (
	// CategoryValidation marks malformed input or missing prerequisite state.
	// Never retried.
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound marks a missing entity. Fatal by default, but a policy
	// may allow a small bounded retry for eventual-consistency races.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimited marks a tenant that exhausted its rate window.
	// Retryable with a mandatory delay, outside normal backoff accounting.
	CategoryRateLimited ErrorCategory = "rate_limited"
	// CategoryTimeout marks a timed-out external call.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryExternalAPI marks a failed call to an external dependency.
	CategoryExternalAPI ErrorCategory = "external_api_error"
	// CategoryCircuitOpen marks a call short-circuited by an open breaker.
	// Not retried by the inner policy; the caller may reschedule later.
	CategoryCircuitOpen ErrorCategory = "circuit_open"
	// CategoryUnknown is the conservative bucket for anything unclassified.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError carries an ErrorCategory alongside the underlying error so
// retry decisions can be made on data instead of type switches at every layer.
type ClassifiedError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Err.Error())
	}
	return string(e.Category)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError builds a ClassifiedError wrapping err.
func NewClassifiedError(category ErrorCategory, err error) *ClassifiedError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ClassifiedError{Category: category, Message: msg, Err: err}
}

// Errorf builds a ClassifiedError from a format string.
func Errorf(category ErrorCategory, format string, args ...any) *ClassifiedError {
	err := fmt.Errorf(format, args...)
	return &ClassifiedError{Category: category, Message: err.Error(), Err: err}
}

// Classify maps an arbitrary error onto an ErrorCategory. An error that is
// already a ClassifiedError keeps its category; everything else is inspected
// for well-known shapes (deadline, net timeout) and falls back to unknown.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	// Last-resort string sniffing for errors from SDKs that expose no types.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "rate limit"):
		return CategoryRateLimited
	case strings.Contains(msg, "not found"):
		return CategoryNotFound
	default:
		return CategoryUnknown
	}
}

// AsClassified returns err as a ClassifiedError, classifying it first when needed.
func AsClassified(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}
	return NewClassifiedError(Classify(err), err)
}
