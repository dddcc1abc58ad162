// Package handlers provides HTTP handlers for the signing API.
package handlers

import (
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/models"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteDomainError maps service-layer errors onto structured API responses.
// Anything unrecognized becomes a 500 without leaking internals.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := chimiddleware.GetReqID(r.Context())

	var apiErr *apierrors.APIError

	var validationErr *models.ValidationError
	var mismatchErr *magiclink.MismatchError
	switch {
	case errors.As(err, &validationErr):
		apiErr = apierrors.NewValidationError(validationErr.Message).WithDetails(map[string]any{
			"field": validationErr.Field,
		})
	case errors.Is(err, envelope.ErrEnvelopeNotFound),
		errors.Is(err, envelope.ErrDocumentNotFound),
		errors.Is(err, envelope.ErrSignerNotFound),
		errors.Is(err, envelope.ErrSignatureNotFound),
		errors.Is(err, magiclink.ErrSignerNotFound),
		errors.Is(err, magiclink.ErrLinkNotFound):
		apiErr = apierrors.NewNotFoundError(err.Error())
	case errors.Is(err, envelope.ErrAlreadySigned):
		apiErr = apierrors.NewConflictError(err.Error())
	case errors.Is(err, envelope.ErrInvalidState):
		apiErr = apierrors.NewInvalidStateError(err.Error())
	case errors.Is(err, envelope.ErrWorkflowViolation):
		apiErr = apierrors.NewWorkflowViolationError(err.Error())
	case errors.As(err, &mismatchErr):
		apiErr = apierrors.NewUnauthorizedError(err.Error()).WithDetails(map[string]any{
			"attempts_remaining": mismatchErr.AttemptsRemaining,
		})
	case errors.Is(err, magiclink.ErrOTPMismatch):
		apiErr = apierrors.NewUnauthorizedError(err.Error())
	case errors.Is(err, magiclink.ErrLockedOut):
		apiErr = apierrors.NewTooManyAttemptsError(err.Error())
	case errors.Is(err, magiclink.ErrLinkExpired),
		errors.Is(err, magiclink.ErrLinkInvalid),
		errors.Is(err, magiclink.ErrOTPExpired):
		apiErr = apierrors.NewGoneError(err.Error())
	default:
		apiErr = apierrors.NewInternalError("An unexpected error occurred")
	}

	apierrors.WriteErrorWithRequestID(w, apiErr, requestID)
}
