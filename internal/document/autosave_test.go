package document

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/notes"
)

func createTestAutosaver(t *testing.T, st *memStore, cfg *AutosaverConfig) (*Document, *Autosaver) {
	t.Helper()
	d := openTestDocument(t, st)
	a := NewAutosaver(d, cfg)
	t.Cleanup(a.Stop)
	return d, a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =====================================================
// Configuration Tests
// =====================================================

func TestDefaultAutosaverConfig(t *testing.T) {
	cfg := DefaultAutosaverConfig()
	if cfg.PropertyInterval != 30*time.Second {
		t.Errorf("PropertyInterval = %v, want 30s", cfg.PropertyInterval)
	}
	if cfg.SaveInterval != 5*time.Minute {
		t.Errorf("SaveInterval = %v, want 5m", cfg.SaveInterval)
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

func TestAutosaver_startStop(t *testing.T) {
	_, a := createTestAutosaver(t, newMemStore(), &AutosaverConfig{
		PropertyInterval: time.Hour,
		SaveInterval:     time.Hour,
	})

	if a.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	ctx := context.Background()
	a.Start(ctx)
	a.Start(ctx)
	if !a.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	a.Stop()
	a.Stop()
	if a.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}

	// Restart after Stop.
	a.Start(ctx)
	if !a.IsRunning() {
		t.Error("IsRunning() = false after restart")
	}
}

func TestAutosaver_stopsWithContext(t *testing.T) {
	st := newMemStore()
	d, a := createTestAutosaver(t, st, &AutosaverConfig{SaveInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)

	insert(t, d, "after cancel")
	time.Sleep(30 * time.Millisecond)
	if st.saveCount() != 0 {
		t.Errorf("store writes after cancel = %d, want 0", st.saveCount())
	}
}

// =====================================================
// Job Tests
// =====================================================

func TestAutosaver_savesDirtyDocument(t *testing.T) {
	st := newMemStore()
	d, a := createTestAutosaver(t, st, &AutosaverConfig{
		PropertyInterval: 2 * time.Millisecond,
		SaveInterval:     5 * time.Millisecond,
		Clock:            func() time.Time { return t0 },
	})
	a.Start(context.Background())

	insert(t, d, "# Autosaved\n#auto")
	waitFor(t, "autosave", func() bool { return st.saveCount() == 1 })
	a.Stop()

	status := a.Status()
	if status.Saves != 1 || status.LastSaveTime == nil || status.LastError != nil {
		t.Errorf("Status() = %+v", status)
	}

	reopened := openTestDocument(t, st)
	reopened.Do(func(n *notes.NoteArchive) error {
		tagged, err := n.PagesWithHashtag("#auto")
		if err != nil || len(tagged) != 1 {
			t.Errorf("PagesWithHashtag() after autosave = %v, %v", tagged, err)
		}
		return nil
	})
}

// lockedBuffer is an io.Writer safe to read while a logger writes to it.
type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestAutosaver_propertyUpdate(t *testing.T) {
	var logs lockedBuffer
	d, err := Open(context.Background(), newMemStore(), "journal", WithLogger(logging.New(&logs, logging.LevelDebug)))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	a := NewAutosaver(d, &AutosaverConfig{PropertyInterval: 2 * time.Millisecond})
	defer a.Stop()

	insert(t, d, "# Stale")
	a.Start(context.Background())

	waitFor(t, "property update", func() bool {
		return strings.Contains(logs.String(), "Background property update completed")
	})
	if updated, _ := d.BatchUpdate(); updated != 0 {
		t.Errorf("BatchUpdate() after background update = %d, want 0", updated)
	}
}

func TestAutosaver_saveNow(t *testing.T) {
	st := newMemStore()
	d, a := createTestAutosaver(t, st, nil)
	insert(t, d, "now")

	if err := a.SaveNow(context.Background()); err != nil {
		t.Fatalf("SaveNow() error = %v", err)
	}
	if st.saveCount() != 1 {
		t.Errorf("store writes = %d, want 1", st.saveCount())
	}

	st.saveErr = errors.New(errors.ErrStorage, "full")
	insert(t, d, "later")
	if err := a.SaveNow(context.Background()); !errors.Is(err, errors.ErrStorage) {
		t.Errorf("SaveNow() error = %v, want STORAGE_ERROR", err)
	}
	if a.Status().LastError == nil {
		t.Error("Status().LastError not recorded")
	}
}
