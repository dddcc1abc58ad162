package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/models"
)

// SessionHeader carries the signing session ID on authenticated signer
// requests.
const SessionHeader = "X-Signing-Session"

// SigningHandler handles the public signing surface. Every route hangs off a
// magic-link token; there is no admin authentication here.
type SigningHandler struct {
	envelopes *envelope.Service
	links     *magiclink.Service
	logger    *slog.Logger
}

// NewSigningHandler creates a new signing handler.
func NewSigningHandler(svc *envelope.Service, links *magiclink.Service, logger *slog.Logger) *SigningHandler {
	return &SigningHandler{
		envelopes: svc,
		links:     links,
		logger:    logger,
	}
}

// signingView is what a signer sees when opening their link. Other signers'
// emails and the audit trail stay private.
type signingView struct {
	Envelope struct {
		ID              string                 `json:"id"`
		Name            string                 `json:"name"`
		Description     string                 `json:"description,omitempty"`
		Status          models.EnvelopeStatus  `json:"status"`
		SigningWorkflow models.SigningWorkflow `json:"signing_workflow"`
	} `json:"envelope"`
	Documents []*models.Document `json:"documents"`
	Signer    *models.Signer     `json:"signer"`
	CanSign   bool               `json:"can_sign"`
	// WaitReason explains a denied turn in a sequential workflow.
	WaitReason string `json:"wait_reason,omitempty"`
}

// View resolves a magic link, records the signer's first view and returns
// the signing context.
func (h *SigningHandler) View(w http.ResponseWriter, r *http.Request) {
	env, signer, err := h.envelopes.ResolveByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	if err := h.envelopes.RecordView(r.Context(), signer.ID); err != nil {
		h.logger.Error("failed to record view", "signer_id", signer.ID, "error", err)
	}

	decision := envelope.CanSign(env.SigningWorkflow, env.Signers, env.Signatures, signer.ID)

	var view signingView
	view.Envelope.ID = env.ID
	view.Envelope.Name = env.Name
	view.Envelope.Description = env.Description
	view.Envelope.Status = env.Status
	view.Envelope.SigningWorkflow = env.SigningWorkflow
	view.Documents = env.Documents
	view.Signer = signer
	view.CanSign = decision.Allowed
	view.WaitReason = decision.Reason

	WriteJSON(w, http.StatusOK, view)
}

// RequestOTP issues a one-time code for the signer behind the link and
// emails it to them. The code itself never appears in the response.
func (h *SigningHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	signer, err := h.links.ValidateLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	otp, err := h.links.IssueOTP(r.Context(), signer.ID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"expires_at": otp.ExpiresAt})
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

// VerifyOTP checks a submitted code and, on success, returns a signing
// session for the follow-up signature or decline call.
func (h *SigningHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}
	if req.Code == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("code is required"))
		return
	}

	signer, err := h.links.ValidateLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	session, err := h.links.VerifyOTP(r.Context(), signer.ID, req.Code)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, session)
}

type captureSignatureRequest struct {
	SignatureDataURL string  `json:"signature_data_url"`
	InitialsDataURL  string  `json:"initials_data_url"`
	PageNumber       int     `json:"page_number"`
	PositionX        float64 `json:"position_x"`
	PositionY        float64 `json:"position_y"`
}

// Sign captures the signer's signature. Requires a live signing session in
// the X-Signing-Session header on top of the magic link.
func (h *SigningHandler) Sign(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req captureSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	env, err := h.envelopes.CaptureSignature(r.Context(), envelope.CaptureInput{
		SignerID:         signer.ID,
		SignatureDataURL: req.SignatureDataURL,
		InitialsDataURL:  req.InitialsDataURL,
		PageNumber:       req.PageNumber,
		PositionX:        req.PositionX,
		PositionY:        req.PositionY,
		SignerIP:         r.RemoteAddr,
		SignerUserAgent:  r.UserAgent(),
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"envelope_status": env.Status})
}

type declineRequest struct {
	Reason string `json:"reason"`
}

// Decline records the signer's refusal and cancels the envelope.
func (h *SigningHandler) Decline(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req declineRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	env, err := h.envelopes.DeclineSignature(r.Context(), signer.ID, req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"envelope_status": env.Status})
}

// requireSession resolves the magic link and checks the signing session
// header. Writes the error response itself when the check fails.
func (h *SigningHandler) requireSession(w http.ResponseWriter, r *http.Request) (*models.Signer, bool) {
	signer, err := h.links.ValidateLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteDomainError(w, r, err)
		return nil, false
	}

	ok, err := h.links.ValidateSession(r.Context(), signer.ID, r.Header.Get(SessionHeader))
	if err != nil {
		h.logger.Error("session validation failed", "signer_id", signer.ID, "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred"))
		return nil, false
	}
	if !ok {
		apierrors.WriteError(w, apierrors.NewUnauthorizedError("a valid signing session is required"))
		return nil, false
	}
	return signer, true
}
