// Package syncer reconciles the local measurement store with the remote
// backend and owns the sync state machine.
//
//	disabled --SetSyncEnabled(true), session ok--> idle --SyncNow--> syncing
//	syncing --success--> idle
//	syncing --failure--> error
//	any --SetSyncEnabled(false)--> disabled
//
// Reconciliation is a full replace: after pushing pending operations the
// remote set is fetched, merged by id and written over the local cache. This
// is sized for a personal log of a few thousand readings.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/remote"
	"github.com/atinyakov/glucosync/internal/client/storage"
	"github.com/atinyakov/glucosync/internal/models"
)

// State is a node of the sync state machine.
type State string

const (
	StateDisabled State = "disabled"
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateError    State = "error"
)

// Result reports the outcome of one reconciliation run.
type Result struct {
	Pushed     int   `json:"pushed"`
	PushFailed int   `json:"pushFailed"`
	Fetched    int   `json:"fetched"`
	Skipped    int   `json:"skipped"`
	KeptLocal  int   `json:"keptLocal"`
	Total      int   `json:"total"`
	SyncedAt   int64 `json:"syncedAt,omitempty"`
	Err        error `json:"-"`
}

// Status is a snapshot of the coordinator for display.
type Status struct {
	State     State               `json:"state"`
	Metadata  models.SyncMetadata `json:"metadata"`
	LastError string              `json:"lastError,omitempty"`
}

// Coordinator drives reconciliation between the local cache and a remote store.
type Coordinator struct {
	local  *storage.LocalStorage
	state  *storage.StateStore
	remote remote.Store
	log    *zap.Logger
	now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	current State
	lastErr error
}

// New creates a Coordinator. Its initial state follows the persisted enabled flag.
func New(local *storage.LocalStorage, st *storage.StateStore, rs remote.Store, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{local: local, state: st, remote: rs, log: log, now: time.Now, current: StateDisabled}
	if st.Metadata().Enabled {
		c.current = StateIdle
	}
	return c
}

// SetSyncEnabled turns sync on or off. Turning it on requires a valid session
// and immediately runs a sync, whose outcome is returned.
func (c *Coordinator) SetSyncEnabled(ctx context.Context, enabled bool) (Result, error) {
	if !enabled {
		if err := c.state.UpdateMetadata(func(meta *models.SyncMetadata) { meta.Enabled = false }); err != nil {
			return Result{}, fmt.Errorf("persist sync flag: %w", err)
		}
		c.setState(StateDisabled, nil)
		c.log.Info("sync disabled")
		return Result{}, nil
	}

	if !c.state.Session().Valid(c.now()) {
		return Result{}, apperr.ErrAuthRequired
	}
	if err := c.state.UpdateMetadata(func(meta *models.SyncMetadata) { meta.Enabled = true }); err != nil {
		return Result{}, fmt.Errorf("persist sync flag: %w", err)
	}
	c.setState(StateIdle, nil)
	c.log.Info("sync enabled")
	return c.SyncNow(ctx)
}

// SyncNow runs one reconciliation. Concurrent callers share a single run.
// With sync disabled it returns ErrSyncDisabled without any remote access.
func (c *Coordinator) SyncNow(ctx context.Context) (Result, error) {
	if !c.state.Metadata().Enabled {
		return Result{}, apperr.ErrSyncDisabled
	}
	v, _, _ := c.group.Do("sync", func() (any, error) {
		return c.run(ctx), nil
	})
	res := v.(Result)
	return res, res.Err
}

func (c *Coordinator) run(ctx context.Context) Result {
	c.setState(StateSyncing, nil)
	start := c.now()

	res, err := c.reconcile(ctx)
	if err != nil {
		res.Err = err
		c.settle(StateError, err)
		if perr := c.state.UpdateMetadata(func(meta *models.SyncMetadata) {
			meta.PendingOperationsCount = c.local.PendingCount()
		}); perr != nil {
			c.log.Error("failed to persist sync metadata", zap.Error(perr))
		}
		c.log.Warn("sync failed",
			zap.Error(err),
			zap.Bool("retryable", apperr.IsRetryable(err)),
			zap.Duration("elapsed", c.now().Sub(start)))
		return res
	}

	syncedAt := c.now().UnixMilli()
	if err := c.state.UpdateMetadata(func(meta *models.SyncMetadata) {
		meta.LastSyncTime = &syncedAt
		meta.PendingOperationsCount = c.local.PendingCount()
	}); err != nil {
		res.Err = fmt.Errorf("persist sync metadata: %w", err)
		c.settle(StateError, res.Err)
		return res
	}
	res.SyncedAt = syncedAt
	c.settle(StateIdle, nil)
	c.log.Info("sync completed",
		zap.Int("pushed", res.Pushed),
		zap.Int("push_failed", res.PushFailed),
		zap.Int("fetched", res.Fetched),
		zap.Int("skipped", res.Skipped),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", c.now().Sub(start)))
	return res
}

func (c *Coordinator) reconcile(ctx context.Context) (Result, error) {
	var res Result

	// Push. An authentication or transport failure stops the run; a rejected
	// record stays pending and does not block the others.
	for _, op := range c.local.PendingOps() {
		err := c.push(ctx, op)
		switch {
		case err == nil:
			c.local.ResolveOp(op.Kind, op.MeasurementID)
			res.Pushed++
		case errors.Is(err, apperr.ErrAuthentication), apperr.IsRetryable(err), ctx.Err() != nil:
			c.saveProgress()
			return res, err
		default:
			res.PushFailed++
			c.log.Warn("pending operation rejected",
				zap.String("kind", string(op.Kind)),
				zap.String("id", op.MeasurementID),
				zap.Error(err))
		}
	}

	snap, err := c.remote.FetchMeasurements(ctx)
	if err != nil {
		c.saveProgress()
		return res, err
	}
	res.Fetched = len(snap.Measurements)
	res.Skipped = len(snap.Skipped)

	merged, kept := merge(c.local.List(), snap.Measurements, snap.Skipped, c.local.PendingOps())
	res.KeptLocal = kept
	res.Total = len(merged)

	c.local.Replace(merged)
	if err := c.local.Save(); err != nil {
		return res, fmt.Errorf("save local store: %w", err)
	}
	return res, nil
}

// saveProgress persists ops resolved so far; they are already applied remotely.
func (c *Coordinator) saveProgress() {
	if err := c.local.Save(); err != nil {
		c.log.Error("failed to save local store", zap.Error(err))
	}
}

func (c *Coordinator) push(ctx context.Context, op storage.PendingOp) error {
	switch op.Kind {
	case storage.OpDelete:
		return c.remote.DeleteMeasurement(ctx, op.MeasurementID)
	case storage.OpAdd:
		m := c.local.Get(op.MeasurementID)
		if m == nil {
			// Added then deleted locally before any push; nothing to mirror.
			return nil
		}
		return c.remote.AddMeasurement(ctx, *m)
	default:
		return fmt.Errorf("unknown pending op %q", op.Kind)
	}
}

// merge builds the new local cache from the remote set. Remote wins on id
// conflicts unless the local copy is still pending and strictly newer.
// Local records with a pending add that the remote lacks are kept, and so are
// records the remote holds but could not read (skipped). Records with a
// pending delete stay deleted.
func merge(local, remoteSet []models.Measurement, skipped []string, pending []storage.PendingOp) ([]models.Measurement, int) {
	pendingKind := make(map[string]storage.OpKind, len(pending))
	for _, op := range pending {
		pendingKind[op.MeasurementID] = op.Kind
	}
	localByID := make(map[string]models.Measurement, len(local))
	for _, m := range local {
		localByID[m.ID] = m
	}

	unreadable := make(map[string]bool, len(skipped))
	for _, id := range skipped {
		unreadable[id] = true
	}

	kept := 0
	seen := make(map[string]bool, len(remoteSet))
	out := make([]models.Measurement, 0, len(remoteSet)+len(pending))
	for _, r := range remoteSet {
		seen[r.ID] = true
		switch pendingKind[r.ID] {
		case storage.OpDelete:
			continue
		case storage.OpAdd:
			if l, ok := localByID[r.ID]; ok && l.Timestamp > r.Timestamp {
				out = append(out, l)
				kept++
				continue
			}
		}
		out = append(out, r)
	}
	for _, l := range local {
		if seen[l.ID] || pendingKind[l.ID] == storage.OpDelete {
			continue
		}
		if pendingKind[l.ID] == storage.OpAdd || unreadable[l.ID] {
			out = append(out, l)
			kept++
		}
	}
	storage.SortByTimestampDesc(out)
	return out, kept
}

// AddMeasurement stores m locally, queues it and, with sync enabled, mirrors
// it right away. A failed mirror leaves the operation pending and is not an
// error for the caller; the reading is safe locally.
func (c *Coordinator) AddMeasurement(ctx context.Context, m models.Measurement) error {
	if err := m.ValidateEntry(); err != nil {
		return err
	}
	c.local.Add(m)
	c.local.QueueOp(storage.OpAdd, m.ID)
	if err := c.local.Save(); err != nil {
		return fmt.Errorf("save local store: %w", err)
	}
	c.mirror(ctx, storage.PendingOp{Kind: storage.OpAdd, MeasurementID: m.ID})
	return nil
}

// DeleteMeasurement removes id locally and remotely. Deleting an unknown id
// is not an error.
func (c *Coordinator) DeleteMeasurement(ctx context.Context, id string) error {
	if id == "" {
		return apperr.Invalid("id", "must not be empty")
	}
	c.local.Delete(id)
	c.local.QueueOp(storage.OpDelete, id)
	if err := c.local.Save(); err != nil {
		return fmt.Errorf("save local store: %w", err)
	}
	c.mirror(ctx, storage.PendingOp{Kind: storage.OpDelete, MeasurementID: id})
	return nil
}

func (c *Coordinator) mirror(ctx context.Context, op storage.PendingOp) {
	if c.state.Metadata().Enabled {
		if err := c.push(ctx, op); err != nil {
			c.log.Warn("mirror deferred",
				zap.String("kind", string(op.Kind)),
				zap.String("id", op.MeasurementID),
				zap.Error(err))
		} else {
			c.local.ResolveOp(op.Kind, op.MeasurementID)
			if err := c.local.Save(); err != nil {
				c.log.Error("failed to save local store", zap.Error(err))
			}
		}
	}
	if err := c.state.UpdateMetadata(func(meta *models.SyncMetadata) {
		meta.PendingOperationsCount = c.local.PendingCount()
	}); err != nil {
		c.log.Error("failed to persist sync metadata", zap.Error(err))
	}
}

// Status returns the current state and metadata.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{State: c.current}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	st.Metadata = c.state.Metadata()
	return st
}

// StartAutoSync runs SyncNow every interval until ctx is done. Failures are
// logged; the loop keeps going so a later tick can recover.
func (c *Coordinator) StartAutoSync(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.SyncNow(ctx); err != nil && !errors.Is(err, apperr.ErrSyncDisabled) {
					c.log.Debug("auto sync attempt failed", zap.Error(err))
				}
			}
		}
	}()
}

// settle ends a run. Sync may have been switched off while it was in flight.
func (c *Coordinator) settle(s State, err error) {
	if !c.state.Metadata().Enabled {
		s = StateDisabled
	}
	c.setState(s, err)
}

func (c *Coordinator) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
	c.lastErr = err
}
