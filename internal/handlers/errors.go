package handlers

import (
	"context"
	"errors"

	"ticket-backoffice/internal/status"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError maps service errors onto API errors.
func apiError(message string, err error) error {
	switch {
	case errors.Is(err, status.ErrNotFound), errors.Is(err, status.ErrSessionNotFound):
		return apis.NewNotFoundError(message, err)
	case errors.Is(err, status.ErrInvalidInput),
		errors.Is(err, status.ErrNoMorePages),
		errors.Is(err, status.ErrFetchInFlight),
		errors.Is(err, status.ErrClosed),
		errors.Is(err, context.Canceled):
		return apis.NewBadRequestError(message, err)
	default:
		return apis.NewInternalServerError(message, err)
	}
}
