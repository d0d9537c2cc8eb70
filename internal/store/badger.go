package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
)

const badgerKeyPrefix = "archive/"

// BadgerConfig holds configuration for a Badger-backed store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger *logging.Logger

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction before a value log
	// file is rewritten.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable defaults for a database at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts logging.Logger to Badger's Logger interface. Badger's
// info output is routine, so it is logged at debug level.
type badgerLogger struct {
	logger *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), nil)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps archives as values of a Badger database.
//
// Thread Safety: safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *logging.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBadgerStore opens the database described by cfg and starts value log
// garbage collection if configured.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New(errors.ErrInvalid, "badger store path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "create badger directory", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.Component("badger")})
	} else {
		opts = opts.WithLogger(nil)
		logger = logging.Get()
	}

	database, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "open badger store", err)
	}

	s := &BadgerStore{
		db:     database,
		logger: logger.Component("store.badger"),
		stopCh: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.wg.Add(1)
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func badgerKey(name string) []byte {
	return []byte(badgerKeyPrefix + name)
}

// Load reads the archive stored under name.
func (s *BadgerStore) Load(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", notFound(name)
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "read archive", err)
	}
	return string(body), nil
}

// Save replaces the archive stored under name.
func (s *BadgerStore) Save(ctx context.Context, name, body string) (err error) {
	defer func() { recordSave(BackendBadger, err) }()

	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(name), []byte(body))
	})
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "write archive", err)
	}
	return nil
}

// Names lists the stored archive names in key order.
func (s *BadgerStore) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()[len(badgerKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list archives", err)
	}
	return names, nil
}

// runGC rewrites value log files on a ticker until Close.
func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					if err != badger.ErrNoRewrite {
						s.logger.Warn("Value log GC failed", map[string]interface{}{
							"error": err.Error(),
						})
					}
					break
				}
			}
		}
	}
}

// Close stops garbage collection and closes the database. Safe to call more
// than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
