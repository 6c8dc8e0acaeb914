package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

// statusFor maps streaming error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, streaming.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, streaming.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, streaming.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, streaming.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, streaming.ErrCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, streaming.ErrUpstreamFailure):
		return http.StatusBadGateway
	case errors.Is(err, streaming.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrMediaIDRequired),
		errors.Is(err, models.ErrPathRequired),
		errors.Is(err, models.ErrPathNotAbsolute):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// apiError converts a service error into a huma error carrying the mapped status.
func apiError(msg string, err error) error {
	return huma.NewError(statusFor(err), msg, err)
}

// writeError answers a raw chi request with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	http.Error(w, http.StatusText(status), status)
}
