package service

import (
	"context"

	"github.com/atinyakov/glucosync/internal/models"
)

// MeasurementRepository defines the persistence operations needed by the MeasurementService.
type MeasurementRepository interface {
	// ListByUser returns the user's measurements, newest first.
	ListByUser(ctx context.Context, userID string) ([]models.Measurement, error)
	// Upsert inserts or replaces by (id, user) and returns the stored record.
	Upsert(ctx context.Context, userID string, m models.Measurement) (*models.Measurement, error)
	// DeleteByIDs removes the user's rows with the given ids.
	DeleteByIDs(ctx context.Context, userID string, ids []string) (int64, error)
}

// MeasurementService implements the measurement CRUD contract.
type MeasurementService struct {
	// repo is the underlying persistence repository.
	repo MeasurementRepository
}

// NewMeasurementService constructs a MeasurementService with the provided repository.
func NewMeasurementService(repo MeasurementRepository) *MeasurementService {
	return &MeasurementService{repo: repo}
}

// List returns the user's measurements, newest first.
func (s *MeasurementService) List(ctx context.Context, userID string) ([]models.Measurement, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Save validates m and upserts it for the user. The physiological range is
// an entry-time rule of the client and is not enforced here.
func (s *MeasurementService) Save(ctx context.Context, userID string, m models.Measurement) (*models.Measurement, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, userID, m)
}

// Delete removes id from the user's measurements. An unknown id, or one
// owned by another user, is not an error.
func (s *MeasurementService) Delete(ctx context.Context, userID, id string) error {
	_, err := s.repo.DeleteByIDs(ctx, userID, []string{id})
	return err
}
