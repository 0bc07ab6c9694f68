// SPDX-License-Identifier: MIT

// Package worker implements the daemon-side half of the worker
// contract: typed queue payloads in, events on the five bus channels
// out, and stage chaining between download, dub and mux.
package worker

import (
	"context"
	"errors"
	"net"
)

// Error codes published on the error channel.
const (
	CodeTransient         = "worker_transient"
	CodePermanent         = "worker_permanent"
	CodeInsufficientSpace = "insufficient_space"
)

// Error is a classified worker failure. Retryable decides whether the
// queue layer spends another attempt on it.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Transient builds a retryable failure.
func Transient(msg string, cause error) *Error {
	return &Error{Code: CodeTransient, Message: msg, Retryable: true, Cause: cause}
}

// Permanent builds a non-retryable failure.
func Permanent(msg string, cause error) *Error {
	return &Error{Code: CodePermanent, Message: msg, Retryable: false, Cause: cause}
}

// Classify maps an arbitrary capability error onto the taxonomy.
// Unknown errors are treated as transient so the attempt budget gets
// used before a job fails.
func Classify(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient("attempt timed out", err)
	case errors.Is(err, context.Canceled):
		// A cancelled attempt is interrupted work, not a broken job;
		// the entry stays recoverable.
		return Transient("attempt canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("network error", err)
	}
	return Transient(err.Error(), err)
}
