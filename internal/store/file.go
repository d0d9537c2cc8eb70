package store

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/snippet"
)

// FileExtension is appended to document names to form archive file names.
const FileExtension = ".notes"

var errLocked = stderrors.New("file is locked by another process")

// FileStore keeps each archive in its own file inside a directory.
//
// Writes go to a temporary file that is fsynced and renamed over the
// archive, so readers see either the old or the new text. A "<name>.lock"
// file carries an advisory lock while a writer holds the document.
//
// Thread Safety: safe for concurrent use.
type FileStore struct {
	dir    string
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*os.File
	// seen is the content hash last read or written per name; Watch skips
	// events that leave the file at that hash.
	seen map[string]string
}

// NewFileStore opens (creating if needed) the directory dir.
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "create archive directory", err)
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.Component("store.file"),
		locks:  make(map[string]*os.File),
		seen:   make(map[string]string),
	}, nil
}

// Dir returns the archive directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the archive file of name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+FileExtension)
}

func (s *FileStore) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}

// Load reads the archive stored under name.
func (s *FileStore) Load(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return "", notFound(name)
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "read archive", err)
	}

	body := string(data)
	s.mu.Lock()
	s.seen[name] = snippet.CalculateHash(body)
	s.mu.Unlock()
	return body, nil
}

// Save atomically replaces the archive stored under name. Unless this store
// already holds the document lock, it is taken for the duration of the
// write.
func (s *FileStore) Save(ctx context.Context, name, body string) (err error) {
	defer func() { recordSave(BackendFile, err) }()

	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	_, held := s.locks[name]
	s.mu.Unlock()
	if !held {
		if err := s.Acquire(name); err != nil {
			return err
		}
		defer s.Release(name)
	}

	if err := s.writeAtomic(name, body); err != nil {
		return err
	}

	s.mu.Lock()
	s.seen[name] = snippet.CalculateHash(body)
	s.mu.Unlock()

	s.logger.Debug("Archive written", map[string]interface{}{
		"name":  name,
		"bytes": len(body),
	})
	return nil
}

func (s *FileStore) writeAtomic(name, body string) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "create temporary file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(body); err != nil {
		return errors.Wrap(errors.ErrStorage, "write temporary file", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(errors.ErrStorage, "sync temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrStorage, "close temporary file", err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		return errors.Wrap(errors.ErrStorage, "replace archive", err)
	}
	committed = true

	if err := syncDir(s.dir); err != nil {
		s.logger.Warn("Failed to sync archive directory", map[string]interface{}{
			"dir":   s.dir,
			"error": err.Error(),
		})
	}
	return nil
}

// Names lists the archives in the directory, sorted.
func (s *FileStore) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list archive directory", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, FileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, FileExtension))
	}
	return names, ctx.Err()
}

// Acquire takes the advisory lock of name. It fails with NOT_WRITEABLE when
// another process (or another FileStore) holds it. Acquiring a lock this
// store already holds is a no-op.
func (s *FileStore) Acquire(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[name]; ok {
		return nil
	}

	f, err := os.OpenFile(s.lockPath(name), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "open lock file", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if err == errLocked {
			return errors.Wrap(errors.ErrNotWriteable, "archive "+name+" is being written elsewhere", err)
		}
		return errors.Wrap(errors.ErrStorage, "lock archive", err)
	}
	s.locks[name] = f
	return nil
}

// Release drops the lock of name. Releasing a lock not held is a no-op.
func (s *FileStore) Release(name string) error {
	s.mu.Lock()
	f, ok := s.locks[name]
	delete(s.locks, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	unlockErr := unlockFile(f)
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrStorage, "close lock file", err)
	}
	if unlockErr != nil {
		return errors.Wrap(errors.ErrStorage, "unlock archive", unlockErr)
	}
	return nil
}

// Close releases every lock held by this store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.locks))
	for name := range s.locks {
		names = append(names, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.Release(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Watch calls fn with the new text whenever the archive file of name is
// replaced or modified by someone other than this store. The directory is
// watched rather than the file because atomic writers replace the inode.
// Watch returns once the watcher is installed; it stops when ctx is done.
func (s *FileStore) Watch(ctx context.Context, name string, fn func(body string)) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "create watcher", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return errors.Wrap(errors.ErrStorage, "watch archive directory", err)
	}

	target := filepath.Clean(s.Path(name))
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleEvent(event, name, target, fn)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("Archive watcher error", err, map[string]interface{}{
					"name": name,
				})
			}
		}
	}()
	return nil
}

func (s *FileStore) handleEvent(event fsnotify.Event, name, target string, fn func(string)) {
	if filepath.Clean(event.Name) != target {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	data, err := os.ReadFile(target)
	if err != nil {
		// Removed or mid-replace; the following Create event carries the change.
		return
	}
	body := string(data)
	hash := snippet.CalculateHash(body)

	s.mu.Lock()
	unchanged := s.seen[name] == hash
	s.seen[name] = hash
	s.mu.Unlock()
	if unchanged {
		return
	}

	s.logger.Info("Archive changed on disk", map[string]interface{}{
		"name": name,
		"hash": hash,
	})
	fn(body)
}
