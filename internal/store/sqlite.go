package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/kimhsiao/notearchive/internal/db"
	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/snippet"
)

// SQLiteStore keeps archives as rows of the archives table.
//
// Thread Safety: safe for concurrent use; the connection pool serializes
// writers.
type SQLiteStore struct {
	db     *db.DB
	logger *logging.Logger
}

// NewSQLiteStore opens (creating and migrating if needed) the database file
// at path. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, logger *logging.Logger) (*SQLiteStore, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "open sqlite store", err)
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &SQLiteStore{db: database, logger: logger.Component("store.sqlite")}, nil
}

// Load reads the archive stored under name and checks it against its
// recorded content hash.
func (s *SQLiteStore) Load(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	var body, hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT body, content_hash FROM archives WHERE name = ?", name).Scan(&body, &hash)
	if err == sql.ErrNoRows {
		return "", notFound(name)
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "query archive", err)
	}
	if got := snippet.CalculateHash(body); got != hash {
		return "", errors.Newf(errors.ErrStorage, "archive %q does not match its content hash", name)
	}
	return body, nil
}

// Save inserts or replaces the archive stored under name.
func (s *SQLiteStore) Save(ctx context.Context, name, body string) (err error) {
	defer func() { recordSave(BackendSQLite, err) }()

	if err := ValidateName(name); err != nil {
		return err
	}

	query := `INSERT INTO archives (name, body, content_hash, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(name) DO UPDATE SET
				body = excluded.body,
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, name, body, snippet.CalculateHash(body), time.Now().Unix()); err != nil {
		return errors.Wrap(errors.ErrStorage, "write archive", err)
	}

	s.logger.Debug("Archive written", map[string]interface{}{
		"name":  name,
		"bytes": len(body),
	})
	return nil
}

// Names lists the stored archive names, sorted.
func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM archives ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list archives", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan archive name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
