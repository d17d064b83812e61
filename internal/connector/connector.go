// Package connector defines the unit of work the hub executes and the
// registry that resolves connectors by name.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Connector performs one integration call. Implementations must be safe for
// concurrent use and must never touch job or execution records. The payload
// is the caller's own copy, and the returned output must not alias it.
//
// A failed call returns an *Error so the engine can record its category.
type Connector interface {
	Execute(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Factory builds a Connector. The registry calls it once per Resolve.
type Factory func() Connector

// Failure categories recorded as the prefix of an execution's error_message.
const (
	CategoryNetwork        = "NetworkError"
	CategoryTimeout        = "Timeout"
	CategoryInvalidPayload = "InvalidPayload"
	CategoryUpstream       = "UpstreamError"
)

// Error is a categorised connector failure.
type Error struct {
	Category string
	Message  string
}

func (e *Error) Error() string {
	return e.Category + ": " + e.Message
}

// NewError returns an *Error with a formatted message.
func NewError(category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// classifyError maps transport-level errors to Timeout or NetworkError.
func classifyError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CategoryTimeout, "%v", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(CategoryTimeout, "%v", err)
	}

	return NewError(CategoryNetwork, "%v", err)
}
