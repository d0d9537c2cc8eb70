package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&strings.Builder{}, logging.LevelError)
}

// backends opens one store of each kind in a temporary location.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "files"), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	sq, err := NewSQLiteStore(filepath.Join(dir, "archive.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	bcfg := InMemoryBadgerConfig()
	bcfg.Logger = testLogger()
	bd, err := NewBadgerStore(bcfg)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}

	stores := map[string]Store{BackendFile: fs, BackendSQLite: sq, BackendBadger: bd}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

// =====================================================
// Store Contract Tests
// =====================================================

func TestStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	body := "notearchive 1\n+++ ref versions abc\nünïcode\r\n"

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Load(ctx, "journal"); !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("Load() before Save error = %v, want NOT_FOUND", err)
			}

			if err := s.Save(ctx, "journal", body); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := s.Load(ctx, "journal")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got != body {
				t.Errorf("Load() = %q, want %q", got, body)
			}

			if err := s.Save(ctx, "journal", "replaced"); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			if got, _ := s.Load(ctx, "journal"); got != "replaced" {
				t.Errorf("Load() after overwrite = %q", got)
			}

			if err := s.Save(ctx, "empty", ""); err != nil {
				t.Fatalf("Save(empty) error = %v", err)
			}
			if got, err := s.Load(ctx, "empty"); err != nil || got != "" {
				t.Errorf("Load(empty) = %q, %v", got, err)
			}
		})
	}
}

func TestStore_names(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, doc := range []string{"b", "a", "c"} {
				if err := s.Save(ctx, doc, doc); err != nil {
					t.Fatal(err)
				}
			}
			lister, ok := s.(Lister)
			if !ok {
				t.Fatalf("%T does not implement Lister", s)
			}
			names, err := lister.Names(ctx)
			if err != nil {
				t.Fatalf("Names() error = %v", err)
			}
			if strings.Join(names, ",") != "a,b,c" {
				t.Errorf("Names() = %v, want [a b c]", names)
			}
		})
	}
}

func TestStore_invalidName(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "  ", "../escape", "a/b", ".hidden"} {
				if err := s.Save(ctx, bad, "x"); !errors.Is(err, errors.ErrInvalid) {
					t.Errorf("Save(%q) error = %v, want INVALID_INPUT", bad, err)
				}
				if _, err := s.Load(ctx, bad); !errors.Is(err, errors.ErrInvalid) {
					t.Errorf("Load(%q) error = %v, want INVALID_INPUT", bad, err)
				}
			}
		})
	}
}

func TestStore_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Save(ctx, "doc", "x"); err == nil {
				t.Error("Save() with cancelled context should fail")
			}
		})
	}
}

// =====================================================
// Open Tests
// =====================================================

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		path    string
		want    string
	}{
		{BackendFile, filepath.Join(dir, "f"), "*store.FileStore"},
		{"", filepath.Join(dir, "default"), "*store.FileStore"},
		{BackendSQLite, filepath.Join(dir, "s.db"), "*store.SQLiteStore"},
		{BackendBadger, filepath.Join(dir, "b"), "*store.BadgerStore"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.backend, func(t *testing.T) {
			s, err := Open(tt.backend, tt.path, testLogger())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()
			if got := typeName(s); got != tt.want {
				t.Errorf("Open() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Open("cassette", dir, nil); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("Open(unknown) error = %v, want INVALID_INPUT", err)
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *FileStore:
		return "*store.FileStore"
	case *SQLiteStore:
		return "*store.SQLiteStore"
	case *BadgerStore:
		return "*store.BadgerStore"
	}
	return "unknown"
}
