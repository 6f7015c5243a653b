// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Status returns the HTTP status matching the error kind carried by err.
func Status(err error) int {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal
// errors are logged and their detail is withheld from the client.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, status, http.StatusText(status), "")
		return
	}
	Problem(w, status, http.StatusText(status), err.Error())
}
