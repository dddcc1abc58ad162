package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/api/middleware"
	"github.com/lenswork/studio-sign/internal/envelope"
)

// DocumentHandler handles envelope document endpoints.
type DocumentHandler struct {
	envelopes *envelope.Service
	logger    *slog.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(svc *envelope.Service, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		envelopes: svc,
		logger:    logger,
	}
}

type addDocumentRequest struct {
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	// Content is the base64-encoded file body. The digest recorded on the
	// document is computed from it once, at attach time.
	Content string `json:"content"`
}

// Add attaches a document to a DRAFT envelope.
func (h *DocumentHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("content must be base64 encoded"))
		return
	}

	doc, err := h.envelopes.AddDocument(r.Context(), chi.URLParam(r, "envelopeID"), middleware.GetUserID(r.Context()), envelope.DocumentInput{
		Name:     req.Name,
		FileName: req.FileName,
		FilePath: req.FilePath,
		Content:  content,
		FileSize: int64(len(content)),
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, doc)
}

// Remove detaches a document from a DRAFT envelope.
func (h *DocumentHandler) Remove(w http.ResponseWriter, r *http.Request) {
	err := h.envelopes.RemoveDocument(r.Context(),
		chi.URLParam(r, "envelopeID"),
		chi.URLParam(r, "documentID"),
		middleware.GetUserID(r.Context()),
	)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
