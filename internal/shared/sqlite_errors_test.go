package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"modernc.org/sqlite"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{fmt.Errorf("insert staging: %v", errors.New("database table is locked (6) (SQLITE_LOCKED)")), true},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsSQLiteBusyErrorFromDriver(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "busy.db") + "?_pragma=busy_timeout(0)"

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writer.Close()
	if _, err := writer.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	conn, err := writer.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer conn.ExecContext(ctx, `ROLLBACK`) //nolint:errcheck

	other, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	defer other.Close()

	_, err = other.ExecContext(ctx, `INSERT INTO t (id) VALUES (1)`)
	if err == nil {
		t.Fatal("insert succeeded while another connection held the write lock")
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not a driver error", err)
	}
	wrapped := fmt.Errorf("insert staging: %w", err)
	if !IsSQLiteBusyError(wrapped) {
		t.Errorf("IsSQLiteBusyError(%v) = false, code %d", wrapped, se.Code())
	}
	if IsSQLiteLockedError(wrapped) {
		t.Errorf("IsSQLiteLockedError(%v) = true", wrapped)
	}
	if !IsSQLiteConflictError(wrapped) {
		t.Errorf("IsSQLiteConflictError(%v) = false", wrapped)
	}
}
