// Package errs holds the error taxonomy shared by services and handlers.
// Callers wrap these sentinels with fmt.Errorf and test them with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks input rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown session or other missing entity.
	ErrNotFound = errors.New("not found")
	// ErrUnknownTool is reported to the model when it names a tool outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrLoopExceeded is returned when the model keeps requesting tools past the iteration cap.
	ErrLoopExceeded = errors.New("tool loop exceeded maximum iterations")
	// ErrStorageWrite wraps failures while persisting memory or session documents.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrUpstream wraps failures of the chat-completions endpoint.
	ErrUpstream = errors.New("upstream completion failed")
)

// Validation returns an ErrValidation carrying a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code returned by the web surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrLoopExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
