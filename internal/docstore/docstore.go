// Package docstore implements the document backend: a per-user collection of
// encrypted measurement envelopes kept in an embedded SQLite database.
//
// Documents are keyed by (user_id, id). Put has document "set" semantics: the
// whole document, repair bookkeeping included, is replaced.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS envelopes (
	user_id TEXT NOT NULL,
	id TEXT NOT NULL,
	encrypted_data TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	corrupted INTEGER NOT NULL DEFAULT 0,
	original_encrypted_data TEXT NOT NULL DEFAULT '',
	corrupted_at INTEGER NOT NULL DEFAULT 0,
	repair_attempts INTEGER NOT NULL DEFAULT 0,
	repaired_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_envelopes_user_ts ON envelopes(user_id, timestamp DESC);
`

const selectColumns = `id, user_id, encrypted_data, timestamp, corrupted,
	original_encrypted_data, corrupted_at, repair_attempts, repaired_at`

// Store is a SQLite-backed envelope collection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the collection database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create docstore directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	// A single connection serialises writers; the client is single-user.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping docstore: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns every envelope of the user, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]models.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM envelopes
		WHERE user_id = ?
		ORDER BY timestamp DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []models.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// Get returns a single envelope or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID, id string) (*models.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM envelopes WHERE user_id = ? AND id = ?
	`, userID, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	return &env, nil
}

// Put writes the whole document, inserting or replacing by (user_id, id).
func (s *Store) Put(ctx context.Context, env models.Envelope) error {
	if env.UserID == "" || env.ID == "" {
		return apperr.Invalid("envelope", "user id and id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelopes (user_id, id, encrypted_data, timestamp, corrupted,
			original_encrypted_data, corrupted_at, repair_attempts, repaired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			encrypted_data = excluded.encrypted_data,
			timestamp = excluded.timestamp,
			corrupted = excluded.corrupted,
			original_encrypted_data = excluded.original_encrypted_data,
			corrupted_at = excluded.corrupted_at,
			repair_attempts = excluded.repair_attempts,
			repaired_at = excluded.repaired_at
	`, env.UserID, env.ID, env.EncryptedData, env.Timestamp, env.Corrupted,
		env.OriginalEncryptedData, env.CorruptedAt, env.RepairAttempts, env.RepairedAt)
	if err != nil {
		return fmt.Errorf("put envelope: %w", err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	return nil
}

// DeleteUser removes every document of the user and returns how many went.
func (s *Store) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user envelopes: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row scanner) (models.Envelope, error) {
	var env models.Envelope
	err := row.Scan(&env.ID, &env.UserID, &env.EncryptedData, &env.Timestamp, &env.Corrupted,
		&env.OriginalEncryptedData, &env.CorruptedAt, &env.RepairAttempts, &env.RepairedAt)
	return env, err
}
