package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutListOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, env := range []models.Envelope{
		{ID: "a", UserID: "u1", EncryptedData: "x", Timestamp: 1},
		{ID: "b", UserID: "u1", EncryptedData: "y", Timestamp: 3},
		{ID: "c", UserID: "u2", EncryptedData: "z", Timestamp: 2},
	} {
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("Put(%s): %v", env.ID, err)
		}
	}

	got, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("List(u1) = %+v; want b, a", got)
	}
}

func TestPut_UpsertReplacesDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	flagged := models.Envelope{ID: "a", UserID: "u1", EncryptedData: "bad", Timestamp: 1,
		Corrupted: true, OriginalEncryptedData: "bad", CorruptedAt: 10, RepairAttempts: 2}
	if err := s.Put(ctx, flagged); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, models.Envelope{ID: "a", UserID: "u1", EncryptedData: "good", Timestamp: 5}); err != nil {
		t.Fatal(err)
	}

	all, _ := s.List(ctx, "u1")
	if len(all) != 1 {
		t.Fatalf("expected one document, got %d", len(all))
	}
	got, err := s.Get(ctx, "u1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.EncryptedData != "good" || got.Corrupted || got.RepairAttempts != 0 || got.Timestamp != 5 {
		t.Errorf("document not replaced: %+v", got)
	}
}

func TestGetAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing = %v; want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "u1", "missing"); err != nil {
		t.Errorf("Delete missing = %v; want nil", err)
	}

	_ = s.Put(ctx, models.Envelope{ID: "a", UserID: "u1", EncryptedData: "x", Timestamp: 1})
	// Another user's id is untouched.
	if err := s.Delete(ctx, "u2", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "u1", "a"); err != nil {
		t.Errorf("document deleted across users: %v", err)
	}
	if err := s.Delete(ctx, "u1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "u1", "a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestPut_RequiresKeys(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(context.Background(), models.Envelope{ID: "a"}); !apperr.IsValidation(err) {
		t.Errorf("Put without user = %v; want ValidationError", err)
	}
}

func TestDeleteUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, models.Envelope{ID: "a", UserID: "u1", Timestamp: 1})
	_ = s.Put(ctx, models.Envelope{ID: "b", UserID: "u1", Timestamp: 2})
	_ = s.Put(ctx, models.Envelope{ID: "c", UserID: "u2", Timestamp: 3})

	n, err := s.DeleteUser(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("DeleteUser = %d, %v; want 2, nil", n, err)
	}
	rest, _ := s.List(ctx, "u2")
	if len(rest) != 1 {
		t.Errorf("other user's documents affected: %+v", rest)
	}
}
