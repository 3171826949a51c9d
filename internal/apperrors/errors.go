// Package apperrors provides the structured error taxonomy shared by the queue client stack.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrTransport             = errors.New("transport error")
	ErrDecode                = errors.New("decode error")
	ErrInvalidMethod         = errors.New("invalid method")
	ErrNotImplemented        = errors.New("not implemented")
	ErrSubscriptionCancelled = errors.New("subscription cancelled")
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Op         string // Operation that failed (e.g., "queue.status")
	StatusCode int    // HTTP status for transport errors, 0 when the request never got a response
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Transport creates an error for a failed or non-2xx HTTP exchange. The
// status is added to the message unless the cause already leads with it.
func Transport(op string, statusCode int, cause error) error {
	msg := fmt.Sprintf("%s: %v", op, cause)
	if status := fmt.Sprintf("HTTP %d", statusCode); statusCode > 0 && !strings.HasPrefix(fmt.Sprint(cause), status) {
		msg = fmt.Sprintf("%s: %s: %v", op, status, cause)
	}
	return &Error{
		Sentinel:   ErrTransport,
		Message:    msg,
		Op:         op,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Decode creates an error for a response body that does not fit the expected shape.
func Decode(op string, cause error) error {
	return &Error{
		Sentinel: ErrDecode,
		Message:  fmt.Sprintf("%s: failed to decode response: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// InvalidMethod creates an error for an HTTP verb outside the supported set.
func InvalidMethod(op, method string) error {
	return &Error{
		Sentinel: ErrInvalidMethod,
		Message:  fmt.Sprintf("%s: invalid HTTP method %q", op, method),
		Op:       op,
	}
}

// NotImplemented creates an error for a requested feature the client cannot provide.
func NotImplemented(feature string) error {
	return &Error{
		Sentinel: ErrNotImplemented,
		Message:  fmt.Sprintf("%s is not implemented", feature),
		Op:       feature,
	}
}

// Cancelled creates an error for a subscription stopped by cancellation or timeout.
func Cancelled(op string, cause error) error {
	return &Error{
		Sentinel: ErrSubscriptionCancelled,
		Message:  fmt.Sprintf("%s: subscription cancelled: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
