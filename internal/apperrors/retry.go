package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// Retryable reports whether resubmitting the whole operation could succeed.
// Network failures, 429 and 5xx responses qualify; everything the caller
// would repeat verbatim (bad input, unsupported options, cancellation) does not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSubscriptionCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var appErr *Error
	if !errors.As(err, &appErr) || !errors.Is(err, ErrTransport) {
		return false
	}

	switch {
	case appErr.StatusCode == 0:
		return true
	case appErr.StatusCode == http.StatusTooManyRequests:
		return true
	case appErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}
