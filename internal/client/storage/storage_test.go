package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/atinyakov/glucosync/internal/models"
)

func TestLoad_FileNotExist(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	if err := ls.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(ls.Measurements) != 0 {
		t.Errorf("expected no measurements, got %d", len(ls.Measurements))
	}
	if ls.PendingCount() != 0 {
		t.Errorf("expected no pending ops, got %d", ls.PendingCount())
	}
}

func TestLoad_FileExists(t *testing.T) {
	dir := t.TempDir()
	data := map[string]any{
		"measurements": []models.Measurement{{ID: "1", Value: 101, Type: "random", Timestamp: 5}},
		"pending":      []PendingOp{{Kind: OpAdd, MeasurementID: "1", QueuedAt: 5}},
	}
	buf, _ := json.Marshal(data)
	if err := os.WriteFile(filepath.Join(dir, storageFile), buf, 0o600); err != nil {
		t.Fatal(err)
	}

	ls := NewLocalStorage(dir)
	if err := ls.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(ls.Measurements) != 1 || ls.Measurements[0].ID != "1" {
		t.Errorf("unexpected measurements: %+v", ls.Measurements)
	}
	if ls.PendingCount() != 1 {
		t.Errorf("expected 1 pending op, got %d", ls.PendingCount())
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, storageFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := NewLocalStorage(dir).Load(); err == nil {
		t.Error("expected decode error")
	}
}

func TestSaveAndReload_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := models.Measurement{ID: "2", Value: 95, Type: "fasting", Timestamp: 1700000000000, Notes: "after run"}

	ls := NewLocalStorage(dir)
	ls.Add(m)
	if err := ls.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out := NewLocalStorage(dir)
	if err := out.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := out.Get("2")
	if got == nil || !reflect.DeepEqual(*got, m) {
		t.Errorf("round trip = %+v; want %+v", got, m)
	}

	info, err := os.Stat(filepath.Join(dir, storageFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %v; want 0600", perm)
	}
}

func TestAddGetDelete(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	m := models.Measurement{ID: "a", Value: 110, Type: "bedtime", Timestamp: 10}
	ls.Add(m)
	if got := ls.Get("a"); got == nil || *got != m {
		t.Errorf("Get = %+v; want %+v", got, m)
	}

	// Re-adding the same id replaces rather than duplicates.
	m.Value = 120
	ls.Add(m)
	if len(ls.Measurements) != 1 || ls.Get("a").Value != 120 {
		t.Errorf("expected a single updated record, got %+v", ls.Measurements)
	}

	if !ls.Delete("a") {
		t.Error("Delete returned false for existing id")
	}
	if ls.Delete("nonexistent") {
		t.Error("Delete returned true for nonexistent id")
	}
	if ls.Get("a") != nil {
		t.Error("deleted measurement still readable")
	}
}

func TestListOrder(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	ls.Add(models.Measurement{ID: "old", Timestamp: 1})
	ls.Add(models.Measurement{ID: "new", Timestamp: 3})
	ls.Add(models.Measurement{ID: "mid", Timestamp: 2})

	var ids []string
	for _, m := range ls.List() {
		ids = append(ids, m.ID)
	}
	if want := []string{"new", "mid", "old"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List order = %v; want %v", ids, want)
	}
}

func TestPendingOps(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	ls.QueueOp(OpAdd, "x")
	ls.QueueOp(OpAdd, "y")
	ls.QueueOp(OpDelete, "x")

	ops := ls.PendingOps()
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %+v", ops)
	}
	if ops[0].MeasurementID != "y" || ops[1].MeasurementID != "x" || ops[1].Kind != OpDelete {
		t.Errorf("unexpected queue: %+v", ops)
	}

	// Resolving with a stale kind is ignored.
	ls.ResolveOp(OpAdd, "x")
	if ls.PendingCount() != 2 {
		t.Errorf("stale resolve removed an op: %+v", ls.PendingOps())
	}
	ls.ResolveOp(OpDelete, "x")
	if ls.PendingCount() != 1 {
		t.Errorf("expected 1 op left, got %+v", ls.PendingOps())
	}
}

func TestReplace(t *testing.T) {
	ls := NewLocalStorage(t.TempDir())
	ls.Add(models.Measurement{ID: "gone"})
	ls.Replace([]models.Measurement{{ID: "kept"}})
	if ls.Get("gone") != nil || ls.Get("kept") == nil {
		t.Errorf("Replace did not overwrite the cache: %+v", ls.Measurements)
	}
	ls.Replace(nil)
	if ls.Measurements == nil || len(ls.Measurements) != 0 {
		t.Errorf("Replace(nil) should leave an empty cache, got %#v", ls.Measurements)
	}
}
