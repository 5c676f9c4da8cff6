package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", Newf(ErrQueryStore, http.StatusTeapot, "brewing"), http.StatusTeapot},
		{"wrapped query store", fmt.Errorf("term %q: %w", "alpha", ErrQueryStore), http.StatusServiceUnavailable},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"not found", fmt.Errorf("static: %w", ErrNotFound), http.StatusNotFound},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"store unavailable", fmt.Errorf("open: %w", ErrStoreOpen), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsDocumentError(t *testing.T) {
	for _, err := range []error{ErrFileRead, ErrEmptyContent, ErrPostingWrite} {
		wrapped := fmt.Errorf("wiki/a.html: %w", err)
		if !IsDocumentError(wrapped) {
			t.Errorf("expected %v to be a document error", wrapped)
		}
	}
	for _, err := range []error{ErrPath, ErrStoreOpen, ErrSchema, ErrQueryStore} {
		if IsDocumentError(err) {
			t.Errorf("did not expect %v to be a document error", err)
		}
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "query longer than %d bytes", 10)
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("AppError should unwrap to its sentinel")
	}
	if err.Error() != "invalid input: query longer than 10 bytes" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
