package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/encryption"
	"github.com/atinyakov/glucosync/internal/client/remote"
	"github.com/atinyakov/glucosync/internal/client/repair"
	"github.com/atinyakov/glucosync/internal/client/storage"
	"github.com/atinyakov/glucosync/internal/docstore"
	"github.com/atinyakov/glucosync/internal/models"
)

// fakeRemote is an in-memory remote.Store.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]models.Measurement
	calls   int32
	skipped []string
	failGet error
	failAdd error
	// failAddID limits failAdd to one measurement when set.
	failAddID string
	block     chan struct{}
}

func newFakeRemote(ms ...models.Measurement) *fakeRemote {
	f := &fakeRemote{records: map[string]models.Measurement{}}
	for _, m := range ms {
		f.records[m.ID] = m
	}
	return f
}

func (f *fakeRemote) GetMeasurements(ctx context.Context) ([]models.Measurement, error) {
	snap, err := f.FetchMeasurements(ctx)
	return snap.Measurements, err
}

func (f *fakeRemote) FetchMeasurements(context.Context) (remote.Snapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return remote.Snapshot{}, f.failGet
	}
	out := make([]models.Measurement, 0, len(f.records))
	for _, m := range f.records {
		out = append(out, m)
	}
	storage.SortByTimestampDesc(out)
	return remote.Snapshot{Measurements: out, Skipped: f.skipped}, nil
}

func (f *fakeRemote) AddMeasurement(_ context.Context, m models.Measurement) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil && (f.failAddID == "" || f.failAddID == m.ID) {
		return f.failAdd
	}
	f.records[m.ID] = m
	return nil
}

func (f *fakeRemote) DeleteMeasurement(_ context.Context, id string) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeRemote) get(id string) (models.Measurement, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	return m, ok
}

type fixture struct {
	dir    string
	local  *storage.LocalStorage
	state  *storage.StateStore
	remote *fakeRemote
	coord  *Coordinator
}

func newFixture(t *testing.T, rs *fakeRemote, loggedIn bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	local := storage.NewLocalStorage(dir)
	require.NoError(t, local.Load())
	st, err := storage.OpenState(dir)
	require.NoError(t, err)
	if loggedIn {
		require.NoError(t, st.SetSession(&models.Session{
			UserID: "u1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour),
		}))
	}
	return &fixture{dir: dir, local: local, state: st, remote: rs, coord: New(local, st, rs, nil)}
}

func reading(id string, value float64, ts int64) models.Measurement {
	return models.Measurement{ID: id, Value: value, Type: string(models.Fasting), Timestamp: ts}
}

func TestSyncNow_DisabledMakesNoRemoteCall(t *testing.T) {
	f := newFixture(t, newFakeRemote(), true)
	synced := int64(1234)
	require.NoError(t, f.state.UpdateMetadata(func(m *models.SyncMetadata) { m.LastSyncTime = &synced }))

	_, err := f.coord.SyncNow(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSyncDisabled)
	assert.Zero(t, atomic.LoadInt32(&f.remote.calls))
	require.NotNil(t, f.state.Metadata().LastSyncTime)
	assert.Equal(t, synced, *f.state.Metadata().LastSyncTime)
	assert.Equal(t, StateDisabled, f.coord.Status().State)
}

func TestSetSyncEnabled_RequiresSession(t *testing.T) {
	f := newFixture(t, newFakeRemote(), false)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	assert.ErrorIs(t, err, apperr.ErrAuthRequired)
	assert.Equal(t, StateDisabled, f.coord.Status().State)
	assert.False(t, f.state.Metadata().Enabled)
	assert.Zero(t, atomic.LoadInt32(&f.remote.calls))
}

func TestSetSyncEnabled_RunsInitialSync(t *testing.T) {
	f := newFixture(t, newFakeRemote(reading("r1", 100, 1000)), true)
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("l1", 120, 2000)))
	assert.Equal(t, 1, f.state.Metadata().PendingOperationsCount, "disabled sync keeps the add pending")

	res, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Total)

	st := f.coord.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.Metadata.Enabled)
	require.NotNil(t, st.Metadata.LastSyncTime)
	assert.Zero(t, st.Metadata.PendingOperationsCount)

	list := f.local.List()
	require.Len(t, list, 2)
	assert.Equal(t, "l1", list[0].ID)
	assert.Equal(t, "r1", list[1].ID)
}

func TestSyncNow_FailureKeepsLastSyncTime(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)
	before := *f.state.Metadata().LastSyncTime

	rs.failGet = &apperr.NetworkError{Op: "list measurements", Err: errors.New("offline")}
	res, err := f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, err, res.Err)

	st := f.coord.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.LastError, "offline")
	assert.Equal(t, before, *st.Metadata.LastSyncTime)

	rs.failGet = nil
	_, err = f.coord.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, f.coord.Status().State)
}

func TestSyncNow_RemoteWinsConflicts(t *testing.T) {
	rs := newFakeRemote(reading("a", 150, 5000))
	f := newFixture(t, rs, true)
	// Stale local copy with no pending op.
	f.local.Add(reading("a", 90, 4000))
	// Local-only record that was never queued is dropped by the full replace.
	f.local.Add(reading("ghost", 90, 4500))
	require.NoError(t, f.local.Save())

	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)

	list := f.local.List()
	require.Len(t, list, 1)
	assert.Equal(t, 150.0, list[0].Value)
}

func TestMerge_PendingNewerLocalIsKept(t *testing.T) {
	local := []models.Measurement{reading("a", 99, 9000), reading("b", 80, 100), reading("new", 70, 50)}
	remoteSet := []models.Measurement{reading("a", 150, 5000), reading("b", 120, 200), reading("gone", 1, 1)}
	pending := []storage.PendingOp{
		{Kind: storage.OpAdd, MeasurementID: "a"},
		{Kind: storage.OpAdd, MeasurementID: "b"},
		{Kind: storage.OpAdd, MeasurementID: "new"},
		{Kind: storage.OpDelete, MeasurementID: "gone"},
	}

	got, kept := merge(local, remoteSet, nil, pending)
	assert.Equal(t, 2, kept)
	assert.Equal(t, []models.Measurement{
		reading("a", 99, 9000), // pending and strictly newer
		reading("b", 120, 200), // pending but older: remote wins
		reading("new", 70, 50), // pending add unknown to the remote
	}, got)
}

func TestAddMeasurement_MirrorsWhenEnabled(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)

	m := reading("x", 95, 7000)
	require.NoError(t, f.coord.AddMeasurement(context.Background(), m))
	got, ok := rs.get("x")
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Zero(t, f.local.PendingCount())

	require.NoError(t, f.coord.DeleteMeasurement(context.Background(), "x"))
	_, ok = rs.get("x")
	assert.False(t, ok)
	assert.Nil(t, f.local.Get("x"))
	assert.Zero(t, f.state.Metadata().PendingOperationsCount)

	assert.NoError(t, f.coord.DeleteMeasurement(context.Background(), "never-existed"))
}

func TestAddMeasurement_FailedMirrorStaysPending(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)

	rs.failAdd = &apperr.NetworkError{Op: "add measurement", Err: errors.New("offline")}
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("x", 95, 7000)))
	assert.Equal(t, 1, f.state.Metadata().PendingOperationsCount)
	assert.NotNil(t, f.local.Get("x"), "the reading is kept locally")

	rs.failAdd = nil
	res, err := f.coord.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Zero(t, f.state.Metadata().PendingOperationsCount)
}

func TestAddMeasurement_RejectsOutOfRange(t *testing.T) {
	f := newFixture(t, newFakeRemote(), true)
	err := f.coord.AddMeasurement(context.Background(), reading("x", 900, 1))
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, f.local.List())
}

func TestSyncNow_ConcurrentCallsShareOneRun(t *testing.T) {
	rs := newFakeRemote(reading("a", 100, 1))
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)
	atomic.StoreInt32(&rs.calls, 0)

	rs.block = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.SyncNow(context.Background())
			assert.NoError(t, err)
		}()
	}
	// Let the goroutines pile onto the in-flight run before releasing it.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rs.calls) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(rs.block)
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&rs.calls), int32(5))
}

func TestSetSyncEnabled_Disable(t *testing.T) {
	f := newFixture(t, newFakeRemote(), true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)

	_, err = f.coord.SetSyncEnabled(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, f.coord.Status().State)

	// A new coordinator over the same files starts disabled.
	st, err := storage.OpenState(f.dir)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, New(f.local, st, f.remote, nil).Status().State)
}

func TestSyncNow_AuthFailureStopsPush(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)

	rs.failAdd = apperr.ErrAuthentication
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("x", 95, 7000)))
	_, err = f.coord.SyncNow(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Equal(t, StateError, f.coord.Status().State)
	assert.Equal(t, 1, f.local.PendingCount())
}

func TestStartAutoSync(t *testing.T) {
	rs := newFakeRemote(reading("a", 100, 1))
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)
	before := atomic.LoadInt32(&rs.calls)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.StartAutoSync(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&rs.calls) > before+1
	}, time.Second, 5*time.Millisecond)
}

func TestMerge_UnreadableRemoteKeepsLocalCopy(t *testing.T) {
	local := []models.Measurement{reading("x", 95, 100), reading("y", 80, 200), reading("stale", 70, 50)}
	remoteSet := []models.Measurement{reading("y", 80, 200)}

	got, kept := merge(local, remoteSet, []string{"x"}, nil)
	assert.Equal(t, 1, kept)
	assert.Equal(t, []models.Measurement{reading("y", 80, 200), reading("x", 95, 100)}, got)

	// A pending delete still wins over an unreadable remote copy.
	got, _ = merge(nil, nil, []string{"x"}, []storage.PendingOp{{Kind: storage.OpDelete, MeasurementID: "x"}})
	assert.Empty(t, got)
}

func TestSyncNow_SkippedRemoteRecordStaysLocal(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	_, err := f.coord.SetSyncEnabled(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("x", 95, 7000)))

	// The remote still holds x but can no longer read it.
	rs.mu.Lock()
	delete(rs.records, "x")
	rs.skipped = []string{"x"}
	rs.mu.Unlock()

	res, err := f.coord.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.KeptLocal)
	require.NotNil(t, f.local.Get("x"))
	assert.Equal(t, 95.0, f.local.Get("x").Value)
}

func TestSyncNow_PushFailurePersistsResolvedOps(t *testing.T) {
	rs := newFakeRemote()
	f := newFixture(t, rs, true)
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("a", 100, 1000)))
	require.NoError(t, f.coord.AddMeasurement(context.Background(), reading("b", 110, 2000)))
	require.NoError(t, f.state.UpdateMetadata(func(m *models.SyncMetadata) { m.Enabled = true }))

	rs.failAdd = &apperr.NetworkError{Op: "add measurement", Err: errors.New("offline")}
	rs.failAddID = "b"
	res, err := f.coord.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 1, res.Pushed)

	reloaded := storage.NewLocalStorage(f.dir)
	require.NoError(t, reloaded.Load())
	ops := reloaded.PendingOps()
	require.Len(t, ops, 1)
	assert.Equal(t, "b", ops[0].MeasurementID)
	assert.Equal(t, 1, f.state.Metadata().PendingOperationsCount)
}

func TestSyncNow_FlaggedDocumentKeepsLocalReading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeRemote(), true)
	coll, err := docstore.Open(filepath.Join(f.dir, "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = coll.Close() })
	keys := encryption.NewService(storage.NewKeyFile(f.dir), 0, nil)
	require.NoError(t, keys.InitializeEncryptionKey(ctx))

	coord := New(f.local, f.state, remote.NewDocumentStore(coll, keys, f.state, nil), nil)
	_, err = coord.SetSyncEnabled(ctx, true)
	require.NoError(t, err)
	require.NoError(t, coord.AddMeasurement(ctx, reading("x", 95, 7000)))

	clean, err := repair.New(coll, keys, nil).CleanCorruptedMeasurements(ctx, "u1", repair.CleanOptions{
		Mode:        repair.ModeFlag,
		KnownBadIDs: []string{"x"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, clean.Flagged)

	res, err := coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Total)
	require.NotNil(t, f.local.Get("x"))
	assert.Equal(t, 95.0, f.local.Get("x").Value)
}
