// Package errors defines the sentinel errors shared by the index builder,
// the query resolver and the HTTP layer, plus an AppError carrying a status
// code for handlers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPath reports an unusable collection root or document directory.
	ErrPath = errors.New("invalid collection path")

	// ErrStoreOpen reports a store that could not be opened, created or closed.
	ErrStoreOpen = errors.New("store unavailable")
	ErrSchema    = errors.New("schema creation failed")

	// Per-document build failures. These never abort a build.
	ErrFileRead     = errors.New("document unreadable")
	ErrEmptyContent = errors.New("document has no indexable terms")
	ErrPostingWrite = errors.New("posting write failed")

	ErrQueryStore   = errors.New("query store access failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTimeout      = errors.New("request timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsDocumentError reports whether err is a per-document build failure that
// the builder logs and skips.
func IsDocumentError(err error) bool {
	return errors.Is(err, ErrFileRead) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrPostingWrite)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrQueryStore), errors.Is(err, ErrStoreOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
