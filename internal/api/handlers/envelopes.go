package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/api/middleware"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
)

// EnvelopeHandler handles envelope lifecycle endpoints.
type EnvelopeHandler struct {
	envelopes *envelope.Service
	store     store.Store
	logger    *slog.Logger
}

// NewEnvelopeHandler creates a new envelope handler.
func NewEnvelopeHandler(svc *envelope.Service, st store.Store, logger *slog.Logger) *EnvelopeHandler {
	return &EnvelopeHandler{
		envelopes: svc,
		store:     st,
		logger:    logger,
	}
}

type createEnvelopeRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Workflow    string     `json:"signing_workflow"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Create creates a new DRAFT envelope.
func (h *EnvelopeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	env, err := h.envelopes.Create(r.Context(), middleware.GetUserID(r.Context()), envelope.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Workflow:    models.SigningWorkflow(req.Workflow),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, env)
}

// List lists envelopes created by the authenticated user.
func (h *EnvelopeHandler) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.envelopes.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list envelopes", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	if envs == nil {
		envs = []*models.Envelope{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"envelopes": envs})
}

// Get retrieves an envelope with its documents, signers, signatures and
// audit trail.
func (h *EnvelopeHandler) Get(w http.ResponseWriter, r *http.Request) {
	env, err := h.envelopes.Get(r.Context(), chi.URLParam(r, "envelopeID"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

type updateEnvelopeRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Workflow    *string    `json:"signing_workflow"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Update edits a DRAFT envelope.
func (h *EnvelopeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	in := envelope.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.Workflow != nil {
		wf := models.SigningWorkflow(*req.Workflow)
		in.Workflow = &wf
	}

	env, err := h.envelopes.Update(r.Context(), chi.URLParam(r, "envelopeID"), middleware.GetUserID(r.Context()), in)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

// Send transitions the envelope to PENDING and dispatches signing
// invitations.
func (h *EnvelopeHandler) Send(w http.ResponseWriter, r *http.Request) {
	env, err := h.envelopes.Send(r.Context(), chi.URLParam(r, "envelopeID"), middleware.GetUserID(r.Context()))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

type cancelEnvelopeRequest struct {
	Reason string `json:"reason"`
}

// Cancel voids an in-flight envelope.
func (h *EnvelopeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelEnvelopeRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	env, err := h.envelopes.Cancel(r.Context(), chi.URLParam(r, "envelopeID"), middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

// Stats returns envelope counts grouped by status.
func (h *EnvelopeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.envelopes.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// AuditLog returns the envelope's append-only audit trail, oldest first.
func (h *EnvelopeHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	envelopeID := chi.URLParam(r, "envelopeID")

	env, err := h.store.Envelopes().Get(r.Context(), envelopeID)
	if err != nil {
		h.logger.Error("failed to load envelope", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	if env == nil {
		WriteDomainError(w, r, envelope.ErrEnvelopeNotFound)
		return
	}

	entries, err := h.store.Audit().ListByEnvelope(r.Context(), envelopeID)
	if err != nil {
		h.logger.Error("failed to list audit log", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.EnvelopeAuditLog{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// VerifySignature recomputes a captured signature's digest and reports
// whether it still matches the stored artifact.
func (h *EnvelopeHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	valid, err := h.envelopes.VerifySignatureIntegrity(r.Context(), chi.URLParam(r, "signatureID"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

// ExpireOverdue sweeps envelopes past their expiry and returns how many
// were marked EXPIRED.
func (h *EnvelopeHandler) ExpireOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := h.envelopes.ExpireOverdue(r.Context())
	if err != nil {
		h.logger.Error("expiry sweep failed", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"expired": n})
}
