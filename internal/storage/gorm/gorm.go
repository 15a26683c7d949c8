// Package gormstorage implements the storage.Backend interface using GORM
// with internal queues and a background DB writer goroutine.
package gormstorage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/OCAP2/conveyor/internal/database"
	"github.com/OCAP2/conveyor/internal/model"
	"github.com/OCAP2/conveyor/internal/model/convert"
	"github.com/OCAP2/conveyor/internal/queue"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/pkg/core"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultMaxQueued     = 100_000
)

// Dependencies holds all dependencies for the GORM storage backend.
// A nil DB runs the backend in queue-only mode.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
	FlushInterval time.Duration
	// MaxQueued caps each queue; the oldest rows are dropped while the DB is unreachable.
	MaxQueued int
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Events   *queue.Queue[model.LifecycleEvent]
	Statuses *queue.Queue[model.BeltStatus]
}

func newQueues(limit int) *queues {
	return &queues{
		Events:   queue.NewBounded[model.LifecycleEvent](limit),
		Statuses: queue.NewBounded[model.BeltStatus](limit),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues

	runID    atomic.Uint64
	started  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	flushMu           sync.Mutex
	lastWriteDuration atomic.Int64
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	if deps.MaxQueued <= 0 {
		deps.MaxQueued = defaultMaxQueued
	}
	return &Backend{deps: deps, queues: newQueues(deps.MaxQueued)}
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB != nil {
		if err := database.Setup(b.deps.DB, b.deps.DBLogger); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}

	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	b.wg.Wait()
	b.stopChan = nil
	b.flush()
	return nil
}

// StartRun inserts the run row synchronously so queued rows can reference it.
func (b *Backend) StartRun(run *core.Run) error {
	row := convert.CoreToRun(*run)
	if b.deps.DB != nil {
		if err := b.deps.DB.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
	}
	b.runID.Store(uint64(row.ID))
	b.started.Store(true)
	return nil
}

// EndRun flushes the queues and stamps the run's end time.
func (b *Backend) EndRun(end time.Time) error {
	if !b.started.Load() {
		return storage.ErrNoRun
	}
	b.flush()
	if b.deps.DB == nil {
		return nil
	}
	err := b.deps.DB.Model(&model.Run{}).
		Where("id = ?", uint(b.runID.Load())).
		Update("end_time", sql.NullTime{Time: end, Valid: true}).Error
	if err != nil {
		return fmt.Errorf("failed to update run end time: %w", err)
	}
	return nil
}

// RecordLifecycleEvent converts and queues a lifecycle event.
func (b *Backend) RecordLifecycleEvent(e *core.LifecycleEvent) error {
	if !b.started.Load() {
		return storage.ErrNoRun
	}
	b.queues.Events.Push(convert.CoreToLifecycleEvent(*e, uint(b.runID.Load())))
	return nil
}

// RecordStatus converts and queues a status snapshot.
func (b *Backend) RecordStatus(s *core.BeltStatus) error {
	if !b.started.Load() {
		return storage.ErrNoRun
	}
	b.queues.Statuses.Push(convert.CoreToBeltStatus(*s, uint(b.runID.Load())))
	return nil
}

// GetLastDBWriteDuration returns how long the most recent flush took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteDuration.Load())
}

// Dropped returns the number of rows evicted from full queues.
func (b *Backend) Dropped() uint64 {
	return b.queues.Events.Dropped() + b.queues.Statuses.Dropped()
}

// Pending returns the number of queued rows not yet written.
func (b *Backend) Pending() int {
	return b.queues.Events.Len() + b.queues.Statuses.Len()
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

// flush writes every queue to the database. Failed batches are re-queued.
func (b *Backend) flush() {
	if b.deps.DB == nil {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	writeQueue(b.deps.DB, b.queues.Events, "lifecycle events", b.deps.Logger)
	writeQueue(b.deps.DB, b.queues.Statuses, "belt statuses", b.deps.Logger)
	b.lastWriteDuration.Store(int64(time.Since(start)))
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Run").CreateInBatches(&items, 500).Error
	})
	if err != nil {
		log.Error("Error writing batch", "table", name, "count", len(items), "error", err)
		if evicted := q.PushFront(items...); evicted > 0 {
			log.Warn("Write queue full, dropped oldest rows", "table", name, "dropped", evicted)
		}
		return
	}
	log.Debug("Wrote batch", "table", name, "count", len(items))
}
