package memory

import (
	"sync"
	"time"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/pkg/core"
)

// Backend stores run data in memory and exports to JSON on EndRun
type Backend struct {
	cfg config.MemoryConfig
	run *core.Run

	events   []core.LifecycleEvent
	statuses []core.BeltStatus

	lastExportPath     string
	lastExportMetadata core.UploadMetadata
	mu                 sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run and drops anything recorded before.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.events = nil
	b.statuses = nil
	b.lastExportPath = ""
	b.lastExportMetadata = core.UploadMetadata{}
	return nil
}

// EndRun stamps the end time and exports the run.
func (b *Backend) EndRun(end time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrNoRun
	}
	b.run.EndTime = end
	return b.exportJSON()
}

// RecordLifecycleEvent appends a lifecycle event
func (b *Backend) RecordLifecycleEvent(e *core.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrNoRun
	}
	b.events = append(b.events, *e)
	return nil
}

// RecordStatus appends a status snapshot
func (b *Backend) RecordStatus(s *core.BeltStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrNoRun
	}
	b.statuses = append(b.statuses, *s)
	return nil
}

// Events returns a copy of the recorded lifecycle events
func (b *Backend) Events() []core.LifecycleEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.LifecycleEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Statuses returns a copy of the recorded status snapshots
func (b *Backend) Statuses() []core.BeltStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.BeltStatus, len(b.statuses))
	copy(out, b.statuses)
	return out
}

// GetExportedFilePath returns the path of the last export, or "" if none
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the last export
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMetadata
}
