// Package invoker issues the single outbound call to the external workflow
// engine that actually computes answers. It performs no retries; re-triggering
// is a coordinator policy.
package invoker

import (
	"context"
	"errors"
)

// Failure causes, distinguishable with errors.Is. Each drives a different
// error message on the stored job.
var (
	ErrTimeout     = errors.New("worker: call timed out")
	ErrUnreachable = errors.New("worker: unreachable")
	ErrFailed      = errors.New("worker: returned failure status")
)

// FallbackAnswer is substituted when the worker responds successfully but no
// recognized answer field is present or the body does not parse.
const FallbackAnswer = "The answer could not be loaded. Please try again in a moment."

// Request carries the identifiers the worker needs to correlate its reply.
type Request struct {
	Message   string
	SessionID string
	JobID     string
}

// Invoker performs one bounded call to the external worker.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (answer string, err error)
}
