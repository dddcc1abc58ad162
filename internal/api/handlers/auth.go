package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/lenswork/studio-sign/internal/api/errors"
	"github.com/lenswork/studio-sign/internal/auth"
	"github.com/lenswork/studio-sign/internal/store"
)

// AuthHandler handles back-office authentication endpoints.
type AuthHandler struct {
	store       store.Store
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(st store.Store, authSvc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		store:       st,
		authService: authSvc,
		logger:      logger,
	}
}

// SetupCheck returns whether initial setup is complete.
func (h *AuthHandler) SetupCheck(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.AdminUsers().Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count admin users", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"setup_complete": count > 0,
		"user_count":     count,
	})
}

// Register creates the first back-office user. Once a user exists,
// registration is closed.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	if req.Email == "" || req.Password == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("email and password required"))
		return
	}
	if len(req.Password) < 8 {
		apierrors.WriteError(w, apierrors.NewValidationError("password must be at least 8 characters"))
		return
	}

	ctx := r.Context()

	count, err := h.store.AdminUsers().Count(ctx)
	if err != nil {
		h.logger.Error("failed to count admin users", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred"))
		return
	}
	if count > 0 {
		apierrors.WriteError(w, apierrors.NewForbiddenError("registration is closed"))
		return
	}

	user, err := h.store.AdminUsers().Create(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		h.logger.Error("failed to create admin user", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("failed to create user"))
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("failed to generate token"))
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"token":   token,
	})
}

// Login authenticates a back-office user and issues a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.NewValidationError("invalid request body"))
		return
	}

	if req.Email == "" || req.Password == "" {
		apierrors.WriteError(w, apierrors.NewValidationError("email and password required"))
		return
	}

	user, err := h.store.AdminUsers().Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Error("authentication failed", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred"))
		return
	}
	if user == nil {
		apierrors.WriteError(w, apierrors.NewUnauthorizedError("invalid email or password"))
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		apierrors.WriteError(w, apierrors.NewInternalError("failed to generate token"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"name":    user.Name,
		"token":   token,
	})
}
