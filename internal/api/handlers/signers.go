package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/api/middleware"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
)

// SignerHandler handles envelope signer endpoints.
type SignerHandler struct {
	envelopes *envelope.Service
	links     *magiclink.Service
	logger    *slog.Logger
}

// NewSignerHandler creates a new signer handler.
func NewSignerHandler(svc *envelope.Service, links *magiclink.Service, logger *slog.Logger) *SignerHandler {
	return &SignerHandler{
		envelopes: svc,
		links:     links,
		logger:    logger,
	}
}

type addSignerRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	SequenceNumber *int   `json:"sequence_number"`
}

// Add invites a signer to a DRAFT envelope.
func (h *SignerHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addSignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	signer, err := h.envelopes.AddSigner(r.Context(), chi.URLParam(r, "envelopeID"), middleware.GetUserID(r.Context()), envelope.SignerInput{
		Name:           req.Name,
		Email:          req.Email,
		Role:           req.Role,
		SequenceNumber: req.SequenceNumber,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, signer)
}

// Remove removes a signer from a DRAFT envelope.
func (h *SignerHandler) Remove(w http.ResponseWriter, r *http.Request) {
	err := h.envelopes.RemoveSigner(r.Context(),
		chi.URLParam(r, "envelopeID"),
		chi.URLParam(r, "signerID"),
		middleware.GetUserID(r.Context()),
	)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

// ResendInvite reissues the signer's magic link and re-sends the invitation
// email. The old link stops working immediately.
func (h *SignerHandler) ResendInvite(w http.ResponseWriter, r *http.Request) {
	link, err := h.envelopes.ResendInvite(r.Context(),
		chi.URLParam(r, "envelopeID"),
		chi.URLParam(r, "signerID"),
		middleware.GetUserID(r.Context()),
	)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"expires_at": link.ExpiresAt})
}

// RevokeLink invalidates the signer's magic link, pending code and session.
func (h *SignerHandler) RevokeLink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.RevokeLink(r.Context(), chi.URLParam(r, "signerID")); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
