package atagone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device-config.json")
		store := NewFileStore(path)

		if err := store.Write(ctx, "http://10.0.0.9:10000"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		// A fresh store simulates a restart.
		got, ok := NewFileStore(path).Read(ctx)
		if !ok {
			t.Fatal("Read() reported absent after Write()")
		}
		if got != "http://10.0.0.9:10000" {
			t.Errorf("Read() = %q, want %q", got, "http://10.0.0.9:10000")
		}
	})

	t.Run("writes baseUrl record", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device-config.json")
		if err := NewFileStore(path).Write(ctx, "http://10.0.0.9:10000"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		want := "{\n  \"baseUrl\": \"http://10.0.0.9:10000\"\n}"
		if string(data) != want {
			t.Errorf("file = %s, want %s", data, want)
		}
	})

	t.Run("overwrites previous record", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "device-config.json"))
		if err := store.Write(ctx, "http://10.0.0.9:10000"); err != nil {
			t.Fatal(err)
		}
		if err := store.Write(ctx, "http://10.0.0.10:10000"); err != nil {
			t.Fatal(err)
		}
		if got, _ := store.Read(ctx); got != "http://10.0.0.10:10000" {
			t.Errorf("Read() = %q, want the latest endpoint", got)
		}
	})

	t.Run("absent cases", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"empty object", `{}`},
			{"not json", `baseUrl=http://10.0.0.9:10000`},
			{"wrong type", `{"baseUrl": 42}`},
			{"not a url", `{"baseUrl": "10.0.0.9"}`},
			{"empty file", ``},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "device-config.json")
				if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
					t.Fatal(err)
				}
				if got, ok := NewFileStore(path).Read(ctx); ok {
					t.Errorf("Read() = %q, want absent", got)
				}
			})
		}
	})

	t.Run("missing file is absent", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "nope", "device-config.json"))
		if _, ok := store.Read(ctx); ok {
			t.Error("Read() reported a record for a missing file")
		}
	})

	t.Run("creates directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "device-config.json")
		if err := NewFileStore(path).Write(ctx, "http://10.0.0.9:10000"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("record not written: %v", err)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		dir := t.TempDir()
		// A regular file where the parent directory should be.
		blocker := filepath.Join(dir, "blocker")
		if err := os.WriteFile(blocker, nil, 0600); err != nil {
			t.Fatal(err)
		}
		err := NewFileStore(filepath.Join(blocker, "device-config.json")).Write(ctx, "http://10.0.0.9:10000")
		if !errors.Is(err, ErrStoreWrite) {
			t.Errorf("Write() error = %v, want ErrStoreWrite", err)
		}
	})

	t.Run("default path", func(t *testing.T) {
		if got := NewFileStore("").Path(); got != DefaultStorePath {
			t.Errorf("Path() = %q, want %q", got, DefaultStorePath)
		}
	})
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()

	t.Run("read", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT base_url FROM device_endpoint").
			WillReturnRows(sqlmock.NewRows([]string{"base_url"}).AddRow("http://10.0.0.9:10000"))

		got, ok := NewSQLStore(db).Read(ctx)
		if !ok || got != "http://10.0.0.9:10000" {
			t.Errorf("Read() = %q, %v", got, ok)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("read with no row is absent", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT base_url FROM device_endpoint").
			WillReturnRows(sqlmock.NewRows([]string{"base_url"}))

		if got, ok := NewSQLStore(db).Read(ctx); ok {
			t.Errorf("Read() = %q, want absent", got)
		}
	})

	t.Run("read error is absent", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT base_url FROM device_endpoint").
			WillReturnError(errors.New("no such table: device_endpoint"))

		if _, ok := NewSQLStore(db).Read(ctx); ok {
			t.Error("Read() reported a record on query error")
		}
	})

	t.Run("write upserts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()

		store := NewSQLStore(db)
		store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

		mock.ExpectExec("INSERT INTO device_endpoint").
			WithArgs("http://10.0.0.9:10000", "2026-03-01T12:00:00Z").
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := store.Write(ctx, "http://10.0.0.9:10000"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()

		mock.ExpectExec("INSERT INTO device_endpoint").
			WillReturnError(errors.New("database is locked"))

		err = NewSQLStore(db).Write(ctx, "http://10.0.0.9:10000")
		if !errors.Is(err, ErrStoreWrite) {
			t.Errorf("Write() error = %v, want ErrStoreWrite", err)
		}
	})
}
