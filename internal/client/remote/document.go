package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/encryption"
	"github.com/atinyakov/glucosync/internal/client/storage"
	"github.com/atinyakov/glucosync/internal/models"
)

// Collection is the per-user envelope collection of the document backend.
// *docstore.Store satisfies it.
type Collection interface {
	List(ctx context.Context, userID string) ([]models.Envelope, error)
	Put(ctx context.Context, env models.Envelope) error
	Delete(ctx context.Context, userID, id string) error
}

// Encrypter seals payloads with the current key.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Cipher encrypts and decrypts measurement payloads. *encryption.Service
// satisfies it.
type Cipher interface {
	Encrypter
	Decrypt(ciphertext string) (string, error)
}

// payload is the plaintext sealed inside an envelope.
type payload struct {
	Value     float64 `json:"value"`
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Notes     string  `json:"notes,omitempty"`
}

// DocumentStore stores measurements as encrypted envelopes. Only the id and
// the timestamp are visible to the backend.
type DocumentStore struct {
	coll     Collection
	cipher   Cipher
	sessions SessionProvider
	log      *zap.Logger
	now      func() time.Time
}

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(coll Collection, c Cipher, sessions SessionProvider, log *zap.Logger) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentStore{coll: coll, cipher: c, sessions: sessions, log: log, now: time.Now}
}

// GetMeasurements lists the user's envelopes and decrypts them. Flagged,
// malformed or undecryptable envelopes are logged and left out; one bad
// document never fails the whole fetch.
func (s *DocumentStore) GetMeasurements(ctx context.Context) ([]models.Measurement, error) {
	snap, err := s.FetchMeasurements(ctx)
	return snap.Measurements, err
}

// FetchMeasurements lists and decrypts the user's envelopes, reporting the
// ids it left out. An envelope that no known key can open is flagged as
// corrupted so the repair workflow picks it up.
func (s *DocumentStore) FetchMeasurements(ctx context.Context) (Snapshot, error) {
	sess, err := activeSession(s.sessions, s.now())
	if err != nil {
		return Snapshot{}, err
	}
	envs, err := s.coll.List(ctx, sess.UserID)
	if err != nil {
		return Snapshot{}, &apperr.NetworkError{Op: "list documents", Err: err}
	}

	snap := Snapshot{Measurements: make([]models.Measurement, 0, len(envs))}
	for _, env := range envs {
		m, err := s.open(env)
		if err != nil {
			s.log.Warn("skipping unreadable document", zap.String("id", env.ID), zap.Error(err))
			snap.Skipped = append(snap.Skipped, env.ID)
			if apperr.IsDecryption(err) {
				s.flag(ctx, env)
			}
			continue
		}
		snap.Measurements = append(snap.Measurements, m)
	}
	storage.SortByTimestampDesc(snap.Measurements)
	return snap, nil
}

// flag marks env corrupted and keeps its ciphertext for recovery.
func (s *DocumentStore) flag(ctx context.Context, env models.Envelope) {
	env.Corrupted = true
	if env.OriginalEncryptedData == "" {
		env.OriginalEncryptedData = env.EncryptedData
	}
	env.CorruptedAt = s.now().UnixMilli()
	if err := s.coll.Put(ctx, env); err != nil {
		s.log.Warn("failed to flag document", zap.String("id", env.ID), zap.Error(err))
		return
	}
	s.log.Info("flagged undecryptable document", zap.String("id", env.ID))
}

// AddMeasurement encrypts m and writes it as a whole document, clearing any
// repair flags an earlier version carried.
func (s *DocumentStore) AddMeasurement(ctx context.Context, m models.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	sess, err := activeSession(s.sessions, s.now())
	if err != nil {
		return err
	}
	env, err := Seal(s.cipher, sess.UserID, m)
	if err != nil {
		return err
	}
	if err := s.coll.Put(ctx, env); err != nil {
		return &apperr.NetworkError{Op: "put document", Err: err}
	}
	return nil
}

// DeleteMeasurement removes the document with id.
func (s *DocumentStore) DeleteMeasurement(ctx context.Context, id string) error {
	if id == "" {
		return apperr.Invalid("id", "must not be empty")
	}
	sess, err := activeSession(s.sessions, s.now())
	if err != nil {
		return err
	}
	if err := s.coll.Delete(ctx, sess.UserID, id); err != nil {
		return &apperr.NetworkError{Op: "delete document", Err: err}
	}
	return nil
}

func (s *DocumentStore) open(env models.Envelope) (models.Measurement, error) {
	if env.Corrupted {
		return models.Measurement{}, fmt.Errorf("document is flagged as corrupted")
	}
	if err := encryption.CheckStructure(env.EncryptedData); err != nil {
		return models.Measurement{}, err
	}
	plain, err := s.cipher.Decrypt(env.EncryptedData)
	if err != nil {
		var decErr *apperr.DecryptionError
		if errors.As(err, &decErr) {
			return models.Measurement{}, &apperr.DecryptionError{ID: env.ID, Attempts: decErr.Attempts}
		}
		return models.Measurement{}, err
	}
	return Unseal(env, plain)
}

// Seal encrypts m into an envelope owned by userID.
func Seal(c Encrypter, userID string, m models.Measurement) (models.Envelope, error) {
	data, err := json.Marshal(payload{Value: m.Value, Type: m.Type, Timestamp: m.Timestamp, Notes: m.Notes})
	if err != nil {
		return models.Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	ct, err := c.Encrypt(string(data))
	if err != nil {
		return models.Envelope{}, fmt.Errorf("encrypt payload: %w", err)
	}
	return models.Envelope{ID: m.ID, UserID: userID, EncryptedData: ct, Timestamp: m.Timestamp}, nil
}

// Unseal decodes the decrypted plaintext of env into a validated measurement.
func Unseal(env models.Envelope, plaintext string) (models.Measurement, error) {
	var p payload
	if err := json.Unmarshal([]byte(plaintext), &p); err != nil {
		return models.Measurement{}, apperr.Invalid("payload", err.Error())
	}
	m := models.Measurement{ID: env.ID, Value: p.Value, Type: p.Type, Timestamp: p.Timestamp, Notes: p.Notes}
	if m.Timestamp == 0 {
		m.Timestamp = env.Timestamp
	}
	if err := m.Validate(); err != nil {
		return models.Measurement{}, err
	}
	return m, nil
}
