package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/glucosync/internal/models"
)

// PostgresMeasurementRepository stores measurements keyed by (id, user_id).
type PostgresMeasurementRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresMeasurementRepository creates a new PostgresMeasurementRepository using the provided *sql.DB.
func NewPostgresMeasurementRepository(db *sql.DB) *PostgresMeasurementRepository {
	return &PostgresMeasurementRepository{DB: db}
}

// ListByUser returns the user's measurements, newest first.
func (r *PostgresMeasurementRepository) ListByUser(ctx context.Context, userID string) ([]models.Measurement, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, value, type, timestamp, notes FROM measurements
		WHERE user_id = $1
		ORDER BY timestamp DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	out := []models.Measurement{}
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.ID, &m.Value, &m.Type, &m.Timestamp, &m.Notes); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return out, nil
}

// Upsert inserts m for the user or replaces the row with the same id, and
// returns the stored record.
func (r *PostgresMeasurementRepository) Upsert(ctx context.Context, userID string, m models.Measurement) (*models.Measurement, error) {
	var stored models.Measurement
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO measurements (id, user_id, value, type, timestamp, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, user_id) DO UPDATE SET
			value = EXCLUDED.value,
			type = EXCLUDED.type,
			timestamp = EXCLUDED.timestamp,
			notes = EXCLUDED.notes
		RETURNING id, value, type, timestamp, notes
	`, m.ID, userID, m.Value, m.Type, m.Timestamp, m.Notes,
	).Scan(&stored.ID, &stored.Value, &stored.Type, &stored.Timestamp, &stored.Notes)
	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return &stored, nil
}

// DeleteByIDs removes the user's rows with the given ids and reports how many
// went. Ids owned by someone else are left alone.
func (r *PostgresMeasurementRepository) DeleteByIDs(ctx context.Context, userID string, ids []string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM measurements WHERE user_id = $1 AND id = ANY($2)`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteByIDs: %w", err)
	}
	return res.RowsAffected()
}
