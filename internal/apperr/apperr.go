// Package apperr defines the failure categories surfaced by the query pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Category string

const (
	ModelUnavailable   Category = "ModelUnavailable"
	ModelOutputInvalid Category = "ModelOutputInvalid"
	ValidationRejected Category = "ValidationRejected"
	ExecutionFailed    Category = "ExecutionFailed"
	StreamInterrupted  Category = "StreamInterrupted"

	InvalidRequest Category = "InvalidRequest"
	Unauthorized   Category = "Unauthorized"
	RateLimited    Category = "RateLimited"
	Internal       Category = "Internal"
)

type Error struct {
	Category Category
	// Message is safe to show to the caller.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by category only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Category == e.Category && t.Message == ""
}

func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

func Wrap(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// Retryable reports whether the same request may succeed if simply retried.
func (c Category) Retryable() bool {
	switch c {
	case ModelUnavailable, StreamInterrupted, RateLimited:
		return true
	}
	return false
}

func (c Category) HTTPStatus() int {
	switch c {
	case ModelUnavailable:
		return http.StatusBadGateway
	case ModelOutputInvalid:
		return http.StatusUnprocessableEntity
	case ValidationRejected, InvalidRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks by category.
var (
	ErrModelUnavailable   = &Error{Category: ModelUnavailable}
	ErrModelOutputInvalid = &Error{Category: ModelOutputInvalid}
	ErrValidationRejected = &Error{Category: ValidationRejected}
	ErrExecutionFailed    = &Error{Category: ExecutionFailed}
	ErrStreamInterrupted  = &Error{Category: StreamInterrupted}
)

// CategoryOf returns the category of err, or Internal when err carries none.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Internal
}

// PublicMessage returns the caller-facing text for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
