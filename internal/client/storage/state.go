package storage

import (
	"path/filepath"
	"sync"

	"github.com/atinyakov/glucosync/internal/models"
)

const (
	stateFile = "state.json"
	keysFile  = "keys.json"
)

type state struct {
	Sync    models.SyncMetadata `json:"sync"`
	Session *models.Session     `json:"session,omitempty"`
}

// StateStore persists the sync metadata and the login session.
type StateStore struct {
	path string

	mu    sync.Mutex
	state state
}

// OpenState loads the state file under dir, starting empty when absent.
func OpenState(dir string) (*StateStore, error) {
	s := &StateStore{path: filepath.Join(dir, stateFile)}
	if _, err := readJSON(s.path, &s.state); err != nil {
		return nil, err
	}
	return s, nil
}

// Metadata returns a copy of the sync metadata.
func (s *StateStore) Metadata() models.SyncMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.state.Sync
	if meta.LastSyncTime != nil {
		t := *meta.LastSyncTime
		meta.LastSyncTime = &t
	}
	return meta
}

// UpdateMetadata applies fn to the metadata and persists the result. On a
// write failure the in-memory metadata is left unchanged.
func (s *StateStore) UpdateMetadata(fn func(meta *models.SyncMetadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	fn(&next.Sync)
	if err := writeJSONAtomic(s.path, next, 0o600); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Session returns the stored session or nil.
func (s *StateStore) Session() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Session == nil {
		return nil
	}
	cp := *s.state.Session
	return &cp
}

// SetSession stores sess, or clears the session when sess is nil.
func (s *StateStore) SetSession(sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	next.Session = sess
	if err := writeJSONAtomic(s.path, next, 0o600); err != nil {
		return err
	}
	s.state = next
	return nil
}

// KeyFile stores the encryption key record in its own file.
type KeyFile struct {
	path string
}

// NewKeyFile returns a KeyFile under dir.
func NewKeyFile(dir string) *KeyFile {
	return &KeyFile{path: filepath.Join(dir, keysFile)}
}

// LoadKeyRecord returns the stored record, or nil when none exists yet.
func (k *KeyFile) LoadKeyRecord() (*models.KeyRecord, error) {
	var rec models.KeyRecord
	found, err := readJSON(k.path, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// SaveKeyRecord replaces the stored record in a single atomic rename, so the
// key and its legacy list always change together.
func (k *KeyFile) SaveKeyRecord(rec *models.KeyRecord) error {
	return writeJSONAtomic(k.path, rec, 0o600)
}
