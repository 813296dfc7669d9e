package errors

import (
	"errors"
	"fmt"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. A nil err still produces an
// Error so callers can use Wrap on paths where the cause is optional.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Unauthorized creates a [CodeAuthentication] error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates a [CodeAuthorization] error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Internal creates a [CodeInternal] error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError returns err as an *Error. Errors that are not already coded
// are wrapped with [CodeInternal]. Nil stays nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "internal error")
}
