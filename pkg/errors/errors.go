package errors

import (
	"errors"
	"fmt"
)

// Fatal: the command cannot start.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrUnreadableInput   = errors.New("unreadable input")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// Transient: the batch is skipped and retried on the next run.
var (
	ErrTransient         = errors.New("transient provider failure")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Data quality: the item is logged and excluded.
var (
	ErrEmptyText        = errors.New("empty rendered text")
	ErrMissingEmbedding = errors.New("missing embedding in response")
	ErrInvalidRecord    = errors.New("invalid record")
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsFatal reports whether err should abort the command.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrUnreadableInput) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsTransient reports whether err is worth retrying on a later run.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMalformedResponse)
}

// Class returns a short label for logs and metrics.
func Class(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsFatal(err):
		return "fatal"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrEmptyText), errors.Is(err, ErrMissingEmbedding), errors.Is(err, ErrInvalidRecord):
		return "data_quality"
	default:
		return "internal"
	}
}
