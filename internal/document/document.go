// Package document binds a NoteArchive to a store and serializes access to
// it. Every operation on an open document holds the document lock, so the
// archive is never touched by two goroutines at once.
package document

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/snippet"
	"github.com/kimhsiao/notearchive/internal/store"
	"github.com/kimhsiao/notearchive/internal/telemetry"
)

// Option configures a Document.
type Option func(*Document)

// WithNotesOptions passes options to the underlying NoteArchive.
func WithNotesOptions(opts ...notes.Option) Option {
	return func(d *Document) { d.notesOpts = append(d.notesOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// ReadOnly opens the document without taking the store's writer lock. Save
// fails with NOT_WRITEABLE.
func ReadOnly() Option {
	return func(d *Document) { d.readOnly = true }
}

// Document is one named note archive loaded from a store.
type Document struct {
	mu sync.Mutex

	name      string
	store     store.Store
	notes     *notes.NoteArchive
	notesOpts []notes.Option
	logger    *logging.Logger
	readOnly  bool
	locked    bool
	isNew     bool

	// savedHash is the hash of the text last read from or written to the
	// store.
	savedHash string
}

// Open loads the document stored under name. A name the store has never
// seen yields a new, empty document. Any other load failure, including a
// corrupt archive, is reported as COULD_NOT_OPEN.
//
// Unless ReadOnly is given and the store is a store.Locker, the document
// lock is acquired and held until Close; a document held elsewhere fails
// with NOT_WRITEABLE.
func Open(ctx context.Context, st store.Store, name string, opts ...Option) (*Document, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	d := &Document{name: name, store: st}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Get()
	}
	d.logger = d.logger.With(map[string]interface{}{"document": name})
	d.notesOpts = append([]notes.Option{notes.WithLogger(d.logger.Component("notes"))}, d.notesOpts...)

	if locker, ok := st.(store.Locker); ok && !d.readOnly {
		if err := locker.Acquire(name); err != nil {
			return nil, err
		}
		d.locked = true
	}

	if err := d.load(ctx); err != nil {
		d.release()
		return nil, err
	}

	d.logger.Info("Document opened", map[string]interface{}{
		"new":       d.isNew,
		"versions":  len(d.notes.Versions()),
		"read_only": d.readOnly,
	})
	return d, nil
}

func (d *Document) load(ctx context.Context) error {
	body, err := d.store.Load(ctx, d.name)
	if errors.Is(err, errors.ErrNotFound) {
		d.notes = notes.New(d.notesOpts...)
		d.isNew = true
		d.savedHash = ""
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCouldNotOpen, "load document "+d.name, err)
	}

	n, err := notes.Parse(body, d.notesOpts...)
	if err != nil {
		d.logger.ErrorWithCode("Document is corrupt", string(errors.CodeOf(err)), err)
		return errors.Wrap(errors.ErrCouldNotOpen, "parse document "+d.name, err)
	}
	d.notes = n
	d.isNew = false
	d.savedHash = snippet.CalculateHash(body)
	return nil
}

// Name returns the document name.
func (d *Document) Name() string {
	return d.name
}

// IsNew reports whether the document did not exist in the store when it
// was opened.
func (d *Document) IsNew() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isNew
}

// Do runs fn with exclusive access to the note archive. fn must not retain
// the archive after it returns.
func (d *Document) Do(fn func(n *notes.NoteArchive) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.notes)
}

// BatchUpdate recomputes the properties of every stale page.
func (d *Document) BatchUpdate() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notes.BatchUpdatePageProperties()
}

// HasUnsavedChanges reports whether edits were made since the last save.
func (d *Document) HasUnsavedChanges() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notes.HasUncommittedChanges()
}

// Save commits a manifest version stamped ts and writes the archive to the
// store. Nothing is written when the serialized archive equals what the
// store already holds. Reports whether the store was written.
func (d *Document) Save(ctx context.Context, ts time.Time) (bool, error) {
	if d.readOnly {
		return false, errors.Newf(errors.ErrNotWriteable, "document %s is open read-only", d.name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	committed, err := d.notes.ArchivePageManifestVersion(ts)
	if err != nil {
		return false, err
	}

	body := d.notes.TextSerialized()
	telemetry.SerializedBytes.Set(float64(len(body)))
	hash := snippet.CalculateHash(body)
	if hash == d.savedHash {
		return false, nil
	}

	if err := d.store.Save(ctx, d.name, body); err != nil {
		d.logger.ErrorWithCode("Failed to save document", string(errors.CodeOf(err)), err)
		return false, err
	}
	d.savedHash = hash
	d.isNew = false

	d.logger.Info("Document saved", map[string]interface{}{
		"bytes":     len(body),
		"committed": committed,
		"versions":  len(d.notes.Versions()),
	})
	return true, nil
}

// Reload replaces the in-memory archive with the store's copy. It refuses
// with NOT_WRITEABLE while there are unsaved edits. A document removed from
// the store reloads as empty. Reports whether the archive changed.
func (d *Document) Reload(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.notes.HasUncommittedChanges() {
		return false, errors.Newf(errors.ErrNotWriteable, "document %s has unsaved changes", d.name)
	}

	prev := d.savedHash
	previous, wasNew := d.notes, d.isNew
	if err := d.load(ctx); err != nil {
		d.notes, d.isNew, d.savedHash = previous, wasNew, prev
		return false, err
	}
	if d.savedHash == prev {
		// Identical text; keep the warm cache.
		d.notes = previous
		return false, nil
	}

	d.logger.Info("Document reloaded", map[string]interface{}{
		"versions": len(d.notes.Versions()),
	})
	return true, nil
}

// Restore replaces the document with serialized, which must parse as a
// note archive, and writes it to the store. Unsaved edits are discarded.
func (d *Document) Restore(ctx context.Context, serialized string) error {
	if d.readOnly {
		return errors.Newf(errors.ErrNotWriteable, "document %s is open read-only", d.name)
	}

	n, err := notes.Parse(serialized, d.notesOpts...)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.Save(ctx, d.name, serialized); err != nil {
		return err
	}
	d.notes = n
	d.isNew = false
	d.savedHash = snippet.CalculateHash(serialized)

	d.logger.Info("Document restored", map[string]interface{}{
		"versions": len(n.Versions()),
	})
	return nil
}

// Close releases the document lock. The store stays open.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release()
}

func (d *Document) release() error {
	if !d.locked {
		return nil
	}
	d.locked = false
	return d.store.(store.Locker).Release(d.name)
}
