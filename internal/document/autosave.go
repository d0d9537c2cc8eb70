package document

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/notearchive/internal/errors"
	"github.com/kimhsiao/notearchive/internal/logging"
)

// AutosaverConfig holds autosaver configuration.
type AutosaverConfig struct {
	PropertyInterval time.Duration // How often stale page properties are recomputed (default: 30 seconds)
	SaveInterval     time.Duration // How often unsaved edits are committed and written (default: 5 minutes)

	// Clock stamps committed versions. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultAutosaverConfig returns default autosaver configuration.
func DefaultAutosaverConfig() *AutosaverConfig {
	return &AutosaverConfig{
		PropertyInterval: 30 * time.Second,
		SaveInterval:     5 * time.Minute,
	}
}

// Autosaver runs the periodic background jobs of an open document: a batch
// property update and an autosave. Both take the document lock, so they
// interleave safely with foreground edits.
type Autosaver struct {
	doc              *Document
	propertyInterval time.Duration
	saveInterval     time.Duration
	clock            func() time.Time
	logger           *logging.Logger

	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.RWMutex
	isRunning        bool
	saveInProgress   bool
	updateInProgress bool
	lastSaveTime     time.Time
	lastError        error
	saves            int
}

// NewAutosaver creates an Autosaver for doc.
func NewAutosaver(doc *Document, config *AutosaverConfig) *Autosaver {
	if config == nil {
		config = DefaultAutosaverConfig()
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Autosaver{
		doc:              doc,
		propertyInterval: config.PropertyInterval,
		saveInterval:     config.SaveInterval,
		clock:            clock,
		logger:           doc.logger.Component("autosave"),
	}
}

// Start starts the background jobs. Calling Start on a running autosaver
// does nothing.
func (a *Autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = true
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	if a.propertyInterval > 0 {
		a.wg.Add(1)
		go a.loop(ctx, a.propertyInterval, a.runPropertyUpdate)
	}
	if a.saveInterval > 0 {
		a.wg.Add(1)
		go a.loop(ctx, a.saveInterval, a.runSave)
	}

	a.logger.Info("Autosaver started", map[string]interface{}{
		"property_interval": a.propertyInterval.String(),
		"save_interval":     a.saveInterval.String(),
	})
}

// Stop stops the background jobs and waits for a running job to finish.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	stopCh := a.stopCh
	a.mu.Unlock()

	close(stopCh)
	a.wg.Wait()

	a.logger.Info("Autosaver stopped", nil)
}

// loop calls job on every tick until ctx is done or Stop is called. Jobs
// run on the loop goroutine, so Stop never returns with a job in flight.
func (a *Autosaver) loop(ctx context.Context, interval time.Duration, job func(context.Context)) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.mu.RLock()
	stopCh := a.stopCh
	a.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// runPropertyUpdate recomputes stale page properties.
func (a *Autosaver) runPropertyUpdate(ctx context.Context) {
	a.mu.Lock()
	if a.updateInProgress {
		a.mu.Unlock()
		a.logger.Debug("Property update already in progress, skipping", nil)
		return
	}
	a.updateInProgress = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.updateInProgress = false
		a.mu.Unlock()
	}()

	updated, err := a.doc.BatchUpdate()
	if err != nil {
		a.logger.ErrorWithCode("Background property update failed", string(errors.CodeOf(err)), err)
		return
	}
	if updated > 0 {
		a.logger.Debug("Background property update completed", map[string]interface{}{
			"pages": updated,
		})
	}
}

// runSave writes the document when it has unsaved edits.
func (a *Autosaver) runSave(ctx context.Context) {
	if !a.doc.HasUnsavedChanges() {
		return
	}

	a.mu.Lock()
	if a.saveInProgress {
		a.mu.Unlock()
		a.logger.Debug("Save already in progress, skipping", nil)
		return
	}
	a.saveInProgress = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.saveInProgress = false
		a.mu.Unlock()
	}()

	if err := a.save(ctx); err != nil {
		a.logger.ErrorWithCode("Autosave failed", string(errors.CodeOf(err)), err, map[string]interface{}{
			"interval_seconds": a.saveInterval.Seconds(),
		})
	}
}

func (a *Autosaver) save(ctx context.Context) error {
	saved, err := a.doc.Save(ctx, a.clock())

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = err
	if err != nil {
		return err
	}
	if saved {
		a.lastSaveTime = a.clock()
		a.saves++
	}
	return nil
}

// SaveNow saves immediately and waits for completion.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.mu.Lock()
	a.saveInProgress = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.saveInProgress = false
		a.mu.Unlock()
	}()

	return a.save(ctx)
}

// AutosaverStatus is a snapshot of the autosaver state.
type AutosaverStatus struct {
	IsRunning        bool
	SaveInProgress   bool
	UpdateInProgress bool
	LastSaveTime     *time.Time
	LastError        error
	Saves            int
}

// Status returns the current status of the autosaver.
func (a *Autosaver) Status() AutosaverStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := AutosaverStatus{
		IsRunning:        a.isRunning,
		SaveInProgress:   a.saveInProgress,
		UpdateInProgress: a.updateInProgress,
		LastError:        a.lastError,
		Saves:            a.saves,
	}
	if !a.lastSaveTime.IsZero() {
		t := a.lastSaveTime
		status.LastSaveTime = &t
	}
	return status
}

// IsRunning returns whether the autosaver is running.
func (a *Autosaver) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isRunning
}
