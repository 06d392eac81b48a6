// Package remote provides one CRUD interface over the two interchangeable
// remote backends: the relational HTTP API and the encrypted document
// collection.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

// Backend names accepted by New.
const (
	BackendAPI      = "api"
	BackendDocument = "docstore"
)

// Snapshot is one fetch of the user's remote set.
type Snapshot struct {
	// Measurements are the readable records, newest first.
	Measurements []models.Measurement
	// Skipped holds the ids of records that exist remotely but could not be read.
	Skipped []string
}

// Store is the capability every backend offers.
type Store interface {
	// GetMeasurements returns the user's measurements newest first, leaving
	// out records that cannot be read.
	GetMeasurements(ctx context.Context) ([]models.Measurement, error)
	// FetchMeasurements is GetMeasurements that also reports what it left out.
	FetchMeasurements(ctx context.Context) (Snapshot, error)
	// AddMeasurement upserts m by (id, user).
	AddMeasurement(ctx context.Context, m models.Measurement) error
	// DeleteMeasurement removes id; a missing id is not an error.
	DeleteMeasurement(ctx context.Context, id string) error
}

// SessionProvider returns the current login session, or nil.
type SessionProvider interface {
	Session() *models.Session
}

// Config selects and wires a backend.
type Config struct {
	Backend    string
	BaseURL    string
	HTTPClient *http.Client
	Collection Collection
	Cipher     Cipher
	Sessions   SessionProvider
	Log        *zap.Logger
}

// New builds the Store named by cfg.Backend.
func New(cfg Config) (Store, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("remote: session provider is required")
	}
	switch cfg.Backend {
	case BackendAPI, "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("remote: api backend needs a base URL")
		}
		return NewAPIStore(cfg.HTTPClient, cfg.BaseURL, cfg.Sessions, cfg.Log), nil
	case BackendDocument:
		if cfg.Collection == nil || cfg.Cipher == nil {
			return nil, fmt.Errorf("remote: document backend needs a collection and a cipher")
		}
		return NewDocumentStore(cfg.Collection, cfg.Cipher, cfg.Sessions, cfg.Log), nil
	default:
		return nil, fmt.Errorf("remote: unknown backend %q", cfg.Backend)
	}
}

// activeSession fails with ErrAuthentication before any remote call when
// there is no usable session.
func activeSession(p SessionProvider, now time.Time) (*models.Session, error) {
	sess := p.Session()
	if !sess.Valid(now) {
		return nil, apperr.ErrAuthentication
	}
	return sess, nil
}
