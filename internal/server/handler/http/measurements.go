package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/middleware"
	"github.com/atinyakov/glucosync/internal/models"
)

// MeasurementService defines the measurement operations required by the HTTP handlers.
type MeasurementService interface {
	List(ctx context.Context, userID string) ([]models.Measurement, error)
	Save(ctx context.Context, userID string, m models.Measurement) (*models.Measurement, error)
	Delete(ctx context.Context, userID, id string) error
}

// MeasurementHandler serves the authenticated user's measurements.
type MeasurementHandler struct {
	MeasurementService MeasurementService
	Log                *zap.Logger
}

// List answers with every measurement of the user, newest first.
func (h *MeasurementHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, h.Log, apperr.ErrAuthentication)
		return
	}
	ms, err := h.MeasurementService.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ms == nil {
		ms = []models.Measurement{}
	}
	writeJSON(w, http.StatusOK, ms)
}

// Create upserts the measurement in the body and answers 201 with the stored record.
func (h *MeasurementHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, h.Log, apperr.ErrAuthentication)
		return
	}
	var m models.Measurement
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, h.Log, apperr.Invalid("request", "malformed JSON"))
		return
	}
	stored, err := h.MeasurementService.Save(r.Context(), userID, m)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// Delete removes one measurement. Deleting an unknown id also answers 204.
func (h *MeasurementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, h.Log, apperr.ErrAuthentication)
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, h.Log, apperr.Invalid("id", "must not be empty"))
		return
	}
	if err := h.MeasurementService.Delete(r.Context(), userID, id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
