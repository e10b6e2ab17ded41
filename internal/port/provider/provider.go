// Package provider defines the image generation provider port (interface).
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind string

const (
	// KindRejected means the provider refused the request as invalid.
	// Never retried.
	KindRejected ErrorKind = "rejected"
	// KindUnavailable means a transient network or 5xx failure. Retried
	// with backoff.
	KindUnavailable ErrorKind = "unavailable"
	// KindAuth means credentials are invalid or expired. Never retried.
	KindAuth ErrorKind = "auth"
	// KindHandleNotFound means the provider no longer recognizes an async
	// handle. Triggers exactly one re-submission.
	KindHandleNotFound ErrorKind = "handle_not_found"
	// KindRateLimit means local admission timed out. Retried with backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindTimeout means a task exceeded its lifetime ceiling.
	KindTimeout ErrorKind = "timeout"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// Errorf builds a classified provider error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated
// as transient.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// ErrUnsupported is returned by adapters for operations the provider does
// not support (Poll/Cancel on synchronous providers, Cancel after
// submission on providers without cancellation).
var ErrUnsupported = errors.New("operation not supported by provider")

// Spec is a validated generation request handed to an adapter.
type Spec struct {
	Prompt  string
	Size    string
	Quality string
	Count   int
	Options map[string]string
}

// Outcome is the uniform result of a Submit or Poll call.
//
// Synchronous providers return Done with Images from Submit. Asynchronous
// providers return a Handle from Submit and report Progress and eventually
// Done through Poll or webhook callbacks.
type Outcome struct {
	Handle        string
	Progress      float64
	Images        []string
	RevisedPrompt string
	Done          bool
}

// Adapter is the uniform capability contract implemented per provider.
type Adapter interface {
	// Name returns the provider name used for dispatch and task records.
	Name() string

	// Async reports whether Submit returns a handle that must be
	// reconciled through Poll or callbacks.
	Async() bool

	// Submit sends a generation request. Failures carry an ErrorKind.
	Submit(ctx context.Context, spec Spec) (Outcome, error)

	// Poll fetches current progress or the terminal result for a handle.
	// Returns KindHandleNotFound when the provider no longer knows the
	// handle, or ErrUnsupported for synchronous providers.
	Poll(ctx context.Context, handle string) (Outcome, error)

	// Cancel asks the provider to stop work on a handle. Best effort:
	// ErrUnsupported is not an error condition for callers.
	Cancel(ctx context.Context, handle string) error
}
