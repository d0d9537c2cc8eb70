package document

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/store"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory store.Store that counts writes.
type memStore struct {
	mu      sync.Mutex
	bodies  map[string]string
	saves   int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{bodies: make(map[string]string)}
}

func (s *memStore) Load(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return "", s.loadErr
	}
	body, ok := s.bodies[name]
	if !ok {
		return "", errors.New(errors.ErrNotFound, name)
	}
	return body, nil
}

func (s *memStore) Save(ctx context.Context, name, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.bodies[name] = body
	s.saves++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func testLogger() *logging.Logger {
	return logging.New(&strings.Builder{}, logging.LevelError)
}

func openTestDocument(t *testing.T, st store.Store, opts ...Option) *Document {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	d, err := Open(context.Background(), st, "journal", opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func insert(t *testing.T, d *Document, text string) string {
	t.Helper()
	var id string
	err := d.Do(func(n *notes.NoteArchive) error {
		var err error
		id, err = n.InsertNote(text, t0)
		return err
	})
	if err != nil {
		t.Fatalf("InsertNote() error = %v", err)
	}
	return id
}

// =====================================================
// Open Tests
// =====================================================

func TestOpen_newDocument(t *testing.T) {
	d := openTestDocument(t, newMemStore())
	if !d.IsNew() {
		t.Error("IsNew() = false for a document the store has never seen")
	}
	if d.Name() != "journal" {
		t.Errorf("Name() = %q", d.Name())
	}
}

func TestOpen_existingDocument(t *testing.T) {
	st := newMemStore()
	d := openTestDocument(t, st)
	id := insert(t, d, "# Hello\n")
	if _, err := d.Save(context.Background(), t0); err != nil {
		t.Fatal(err)
	}
	d.Close()

	reopened := openTestDocument(t, st)
	if reopened.IsNew() {
		t.Error("IsNew() = true for a stored document")
	}
	reopened.Do(func(n *notes.NoteArchive) error {
		if text, err := n.CurrentText(id); err != nil || text != "# Hello\n" {
			t.Errorf("CurrentText() = %q, %v", text, err)
		}
		if len(n.Versions()) != 1 {
			t.Errorf("len(Versions()) = %d, want 1", len(n.Versions()))
		}
		return nil
	})
}

func TestOpen_failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *memStore)
	}{
		{"corrupt archive", func(s *memStore) { s.bodies["journal"] = "not an archive" }},
		{"store failure", func(s *memStore) { s.loadErr = errors.New(errors.ErrStorage, "disk on fire") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			tt.setup(st)
			_, err := Open(context.Background(), st, "journal", WithLogger(testLogger()))
			if !errors.Is(err, errors.ErrCouldNotOpen) {
				t.Errorf("Open() error = %v, want COULD_NOT_OPEN", err)
			}
			if errors.CodeOf(err) != errors.ErrCouldNotOpen {
				t.Errorf("CodeOf() = %s, want COULD_NOT_OPEN outermost", errors.CodeOf(err))
			}
		})
	}

	st := newMemStore()
	st.bodies["journal"] = "garbage"
	_, err := Open(context.Background(), st, "journal", WithLogger(testLogger()))
	if !errors.Is(err, errors.ErrDeserialize) {
		t.Errorf("corrupt Open() error = %v, want DESERIALIZE_ERROR in chain", err)
	}
}

func TestOpen_invalidName(t *testing.T) {
	if _, err := Open(context.Background(), newMemStore(), "../x"); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("Open() error = %v, want INVALID_INPUT", err)
	}
}

// =====================================================
// Save Tests
// =====================================================

func TestSave(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := openTestDocument(t, st)
	insert(t, d, "first")

	if !d.HasUnsavedChanges() {
		t.Error("HasUnsavedChanges() = false after an edit")
	}
	saved, err := d.Save(ctx, t0)
	if err != nil || !saved {
		t.Fatalf("Save() = %v, %v, want true", saved, err)
	}
	if d.HasUnsavedChanges() {
		t.Error("HasUnsavedChanges() = true after Save")
	}

	saved, err = d.Save(ctx, t0.Add(time.Minute))
	if err != nil || saved {
		t.Errorf("Save() without edits = %v, %v, want false", saved, err)
	}
	if st.saveCount() != 1 {
		t.Errorf("store writes = %d, want 1", st.saveCount())
	}
}

func TestSave_storeFailure(t *testing.T) {
	st := newMemStore()
	d := openTestDocument(t, st)
	insert(t, d, "text")
	st.saveErr = errors.New(errors.ErrStorage, "full")

	if _, err := d.Save(context.Background(), t0); !errors.Is(err, errors.ErrStorage) {
		t.Fatalf("Save() error = %v, want STORAGE_ERROR", err)
	}

	// The commit happened; a retry writes the same text.
	st.saveErr = nil
	saved, err := d.Save(context.Background(), t0)
	if err != nil || !saved {
		t.Errorf("retry Save() = %v, %v, want true", saved, err)
	}
}

func TestSave_readOnly(t *testing.T) {
	d := openTestDocument(t, newMemStore(), ReadOnly())
	insert(t, d, "text")
	if _, err := d.Save(context.Background(), t0); !errors.Is(err, errors.ErrNotWriteable) {
		t.Errorf("Save() error = %v, want NOT_WRITEABLE", err)
	}
}

// =====================================================
// Locking Tests
// =====================================================

func TestOpen_lockedByOtherWriter(t *testing.T) {
	dir := t.TempDir()
	first, err := store.NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := store.NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	writer := openTestDocument(t, first)
	insert(t, writer, "text")
	if _, err := writer.Save(context.Background(), t0); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(context.Background(), second, "journal", WithLogger(testLogger())); !errors.Is(err, errors.ErrNotWriteable) {
		t.Errorf("second writer Open() error = %v, want NOT_WRITEABLE", err)
	}
	reader := openTestDocument(t, second, ReadOnly())
	if reader.IsNew() {
		t.Error("read-only Open() should load the stored archive")
	}

	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	next, err := Open(context.Background(), second, "journal", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open() after writer Close error = %v", err)
	}
	next.Close()
}

// =====================================================
// Concurrency Tests
// =====================================================

func TestDocument_concurrentAccess(t *testing.T) {
	const writers = 8
	const perWriter = 20
	d := openTestDocument(t, newMemStore())

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				d.Do(func(n *notes.NoteArchive) error {
					_, err := n.InsertNote(fmt.Sprintf("# W%d\nnote %d #w%d", w, i, w), t0)
					return err
				})
				if i%5 == 0 {
					d.BatchUpdate()
				}
				if i%7 == 0 {
					d.Save(context.Background(), t0.Add(time.Duration(i)*time.Second))
				}
			}
		}(w)
	}
	wg.Wait()

	d.Do(func(n *notes.NoteArchive) error {
		if got := len(n.PageIdentifiers()); got != writers*perWriter {
			t.Errorf("pages = %d, want %d", got, writers*perWriter)
		}
		return nil
	})
}

// =====================================================
// Reload Tests
// =====================================================

func TestReload(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := openTestDocument(t, st)
	insert(t, d, "mine")
	d.Save(ctx, t0)

	if changed, err := d.Reload(ctx); err != nil || changed {
		t.Errorf("Reload() of unchanged store = %v, %v", changed, err)
	}

	// Another writer replaces the archive.
	other := notes.New()
	other.InsertNote("theirs", t0)
	other.ArchivePageManifestVersion(t0)
	st.bodies["journal"] = other.TextSerialized()

	changed, err := d.Reload(ctx)
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v, want true", changed, err)
	}
	d.Do(func(n *notes.NoteArchive) error {
		ids := n.PageIdentifiers()
		if len(ids) != 1 {
			t.Fatalf("pages after reload = %v", ids)
		}
		if text, _ := n.CurrentText(ids[0]); text != "theirs" {
			t.Errorf("CurrentText() after reload = %q", text)
		}
		return nil
	})

	insert(t, d, "unsaved")
	if _, err := d.Reload(ctx); !errors.Is(err, errors.ErrNotWriteable) {
		t.Errorf("Reload() with unsaved edits error = %v, want NOT_WRITEABLE", err)
	}
}

// =====================================================
// Restore Tests
// =====================================================

func TestRestore(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := openTestDocument(t, st)
	insert(t, d, "discarded")

	other := notes.New()
	other.InsertNote("restored", t0)
	other.ArchivePageManifestVersion(t0)
	serialized := other.TextSerialized()

	if err := d.Restore(ctx, "garbage"); !errors.Is(err, errors.ErrDeserialize) {
		t.Errorf("Restore(garbage) error = %v, want DESERIALIZE_ERROR", err)
	}
	if err := d.Restore(ctx, serialized); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if st.bodies["journal"] != serialized {
		t.Error("Restore() did not write the store")
	}
	if d.HasUnsavedChanges() {
		t.Error("HasUnsavedChanges() = true after Restore")
	}
	if saved, _ := d.Save(ctx, t0); saved {
		t.Error("Save() right after Restore should not rewrite the store")
	}
}
