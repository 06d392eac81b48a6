// Package storage persists the client's local-first state: the measurement
// cache mirror with its pending operations, the sync metadata and session,
// and the encryption key record.
package storage

import (
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/atinyakov/glucosync/internal/models"
)

const storageFile = "measurements.json"

// LocalStorage is the on-device measurement store and the source of truth
// while offline.
type LocalStorage struct {
	Measurements []models.Measurement `json:"measurements"`
	Pending      []PendingOp          `json:"pending"`

	path string
	mu   sync.Mutex
}

// NewLocalStorage returns a store persisted under dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{path: filepath.Join(dir, storageFile)}
}

// Load reads the store from disk. A missing file yields an empty store.
func (ls *LocalStorage) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var data struct {
		Measurements []models.Measurement `json:"measurements"`
		Pending      []PendingOp          `json:"pending"`
	}
	if _, err := readJSON(ls.path, &data); err != nil {
		return err
	}
	ls.Measurements = data.Measurements
	ls.Pending = data.Pending
	if ls.Measurements == nil {
		ls.Measurements = []models.Measurement{}
	}
	return nil
}

// Save writes the store to disk atomically.
func (ls *LocalStorage) Save() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return writeJSONAtomic(ls.path, ls, 0o600)
}

// Add inserts m, replacing a stored measurement with the same id.
func (ls *LocalStorage) Add(m models.Measurement) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i := range ls.Measurements {
		if ls.Measurements[i].ID == m.ID {
			ls.Measurements[i] = m
			return
		}
	}
	ls.Measurements = append(ls.Measurements, m)
}

// Get returns a copy of the measurement with the given id, or nil.
func (ls *LocalStorage) Get(id string) *models.Measurement {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, m := range ls.Measurements {
		if m.ID == id {
			return &m
		}
	}
	return nil
}

// Delete removes the measurement with the given id and reports whether it existed.
func (ls *LocalStorage) Delete(id string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, m := range ls.Measurements {
		if m.ID == id {
			ls.Measurements = slices.Delete(ls.Measurements, i, i+1)
			return true
		}
	}
	return false
}

// List returns all measurements, newest first.
func (ls *LocalStorage) List() []models.Measurement {
	ls.mu.Lock()
	out := slices.Clone(ls.Measurements)
	ls.mu.Unlock()
	SortByTimestampDesc(out)
	return out
}

// Replace overwrites the cache wholesale with ms.
func (ls *LocalStorage) Replace(ms []models.Measurement) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.Measurements = slices.Clone(ms)
	if ls.Measurements == nil {
		ls.Measurements = []models.Measurement{}
	}
}

// QueueOp records a pending mutation. A newer op for the same measurement
// supersedes an older one.
func (ls *LocalStorage) QueueOp(kind OpKind, id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.Pending = slices.DeleteFunc(ls.Pending, func(op PendingOp) bool { return op.MeasurementID == id })
	ls.Pending = append(ls.Pending, PendingOp{Kind: kind, MeasurementID: id, QueuedAt: time.Now().UnixMilli()})
}

// ResolveOp drops the pending op for id if it is still of the given kind.
func (ls *LocalStorage) ResolveOp(kind OpKind, id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.Pending = slices.DeleteFunc(ls.Pending, func(op PendingOp) bool {
		return op.MeasurementID == id && op.Kind == kind
	})
}

// PendingOps returns a snapshot of the queued mutations in queue order.
func (ls *LocalStorage) PendingOps() []PendingOp {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return slices.Clone(ls.Pending)
}

// PendingCount returns the number of queued mutations.
func (ls *LocalStorage) PendingCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.Pending)
}

// SortByTimestampDesc orders ms newest first, breaking ties by id.
func SortByTimestampDesc(ms []models.Measurement) {
	slices.SortStableFunc(ms, func(a, b models.Measurement) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
