package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestInitPostgres_ErrorPaths(t *testing.T) {
	cases := []struct {
		name       string
		dsn        string
		wantSubstr string
	}{
		{"unreachable host", "postgres://u:p@127.0.0.1:1/glucosync?sslmode=disable&connect_timeout=1", "ping postgres"},
		{"empty DSN", "", "ping postgres"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := InitPostgres(tc.dsn)
			if err == nil {
				t.Fatalf("InitPostgres(%q) did not return error", tc.dsn)
			}
			if !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Errorf("InitPostgres(%q) error = %q; want substring %q", tc.dsn, err.Error(), tc.wantSubstr)
			}
		})
	}
}

func TestSchema_Tables(t *testing.T) {
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS users",
		"email TEXT NOT NULL UNIQUE",
		"CREATE TABLE IF NOT EXISTS sessions",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires_at",
		"CREATE TABLE IF NOT EXISTS measurements",
		"PRIMARY KEY (id, user_id)",
		"REFERENCES users(id) ON DELETE CASCADE",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema is missing %q", want)
		}
	}
	if n := strings.Count(schema, "ON DELETE CASCADE"); n != 2 {
		t.Errorf("schema has %d cascading references; want 2 (sessions and measurements)", n)
	}
}

func TestMigrate(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec(regexp.QuoteMeta(schema)).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Migrate(context.Background(), dbMock); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigrate_Error(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), dbMock)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "create schema") || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("unexpected error: %v", err)
	}
}
