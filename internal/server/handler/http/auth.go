// Package http provides the HTTP handlers and routing of the glucosync API.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/middleware"
	"github.com/atinyakov/glucosync/internal/models"
)

// AuthService defines the account operations required by the HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*models.AuthResult, error)
	Login(ctx context.Context, email, password string) (*models.AuthResult, error)
	RequestPasswordReset(ctx context.Context, email string)
	DeleteAccount(ctx context.Context, userID string) error
}

// AuthHandler handles HTTP requests for accounts and sessions.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	Log         *zap.Logger
}

// CredentialsRequest is the JSON payload of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResetRequest is the JSON payload of a password reset request.
type ResetRequest struct {
	Email string `json:"email"`
}

// Register creates an account and answers 201 with the session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Log, apperr.Invalid("request", "malformed JSON"))
		return
	}
	res, err := h.AuthService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Login opens a session. Wrong credentials answer 401.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, h.Log, apperr.Invalid("request", "email and password are required"))
		return
	}
	res, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PasswordReset answers 204 whether or not the email is registered.
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, h.Log, apperr.Invalid("email", "must not be empty"))
		return
	}
	h.AuthService.RequestPasswordReset(r.Context(), req.Email)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount removes the authenticated user and all their data.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, h.Log, apperr.ErrAuthentication)
		return
	}
	if err := h.AuthService.DeleteAccount(r.Context(), userID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status mapped from err. Internal failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
