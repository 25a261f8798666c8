package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an existing error with a code and message.
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err (or any error in its chain) is retryable.
// Unstructured errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var ce CommError
	if stderrors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeInternal for
// unstructured errors. Returns an empty code for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce CommError
	if stderrors.As(err, &ce) {
		return ce.Code()
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce CommError
	if stderrors.As(err, &ce) {
		return ce.Code() == code
	}
	return false
}

// Is delegates to the standard library for sentinel comparison.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As delegates to the standard library for type assertion.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
