// Package errs holds the error taxonomy shared by the HTTP layer and the
// task workers. Internal faults are wrapped into one of four kinds; the
// wrapped cause is for logs, the message is safe to show callers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	KindValidation = "VALIDATION_ERROR"
	KindStorage    = "STORAGE_ERROR"
	KindTransform  = "TRANSFORM_ERROR"
	KindNotFound   = "NOT_FOUND"
	KindInternal   = "INTERNAL_ERROR"
)

type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func Transform(message string, err error) *Error {
	return &Error{Kind: KindTransform, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// KindOf classifies any error. Unwrapped errors count as internal faults.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// UserMessage returns the caller-safe description of an error. Raw causes
// (paths, stderr, stack context) stay in the logs.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
