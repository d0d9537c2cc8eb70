// Package store persists serialized note archives under a document name.
//
// Three backends are provided: plain files, a SQLite table and a Badger
// key/value store. All of them hand back exactly the text they were given.
package store

import (
	"context"
	"strings"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/telemetry"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Store reads and writes serialized archives.
//
// Load returns a NOT_FOUND error when no archive is stored under name.
type Store interface {
	Load(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, body string) error
	Close() error
}

// Locker is implemented by stores that can reserve a document for a single
// writer. Acquire fails with NOT_WRITEABLE while another holder has it.
type Locker interface {
	Acquire(name string) error
	Release(name string) error
}

// Lister is implemented by stores that can enumerate their archives.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

// Open creates the backend named by backend rooted at path. For the file
// backend path is a directory, for sqlite a database file and for badger a
// database directory.
func Open(backend, path string, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.Get()
	}
	switch backend {
	case BackendFile, "":
		return NewFileStore(path, logger)
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	case BackendBadger:
		cfg := DefaultBadgerConfig(path)
		cfg.Logger = logger
		return NewBadgerStore(cfg)
	default:
		return nil, errors.Newf(errors.ErrInvalid, "unknown store backend %q", backend)
	}
}

// ValidateName rejects names that are empty or could escape a directory.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.ErrInvalid, "document name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return errors.Newf(errors.ErrInvalid, "invalid document name %q", name)
	}
	return nil
}

func notFound(name string) error {
	return errors.Newf(errors.ErrNotFound, "no archive named %q", name)
}

// recordSave counts a write attempt for backend.
func recordSave(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.Saves.WithLabelValues(backend, result).Inc()
}
