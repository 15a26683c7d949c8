// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are the in-memory DB
// and the dump to <dumpDir>/<run file stem>.db.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/database"
	gormstorage "github.com/OCAP2/conveyor/internal/storage/gorm"
	v1 "github.com/OCAP2/conveyor/internal/storage/memory/export/v1"
	"github.com/OCAP2/conveyor/pkg/core"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg config.SQLiteConfig
	log *slog.Logger

	mu       sync.Mutex
	dumpPath string
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new SQLite storage backend.
func New(cfg config.SQLiteConfig, flushInterval time.Duration, logger *slog.Logger, dbLogger zerolog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDB("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		Logger:        logger,
		DBLogger:      dbLogger,
		FlushInterval: flushInterval,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpDir != "" {
		if previous, err := database.GetBackupDBPaths(b.cfg.DumpDir); err == nil && len(previous) > 0 {
			b.log.Info("Found dumps from earlier runs", "dir", b.cfg.DumpDir, "count", len(previous))
		}
	}

	b.stopChan = make(chan struct{})
	if b.cfg.DumpDir != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}
	return b.Backend.Close()
}

// StartRun records the run and fixes the dump file for it.
func (b *Backend) StartRun(run *core.Run) error {
	if err := b.Backend.StartRun(run); err != nil {
		return err
	}
	if b.cfg.DumpDir != "" {
		b.mu.Lock()
		b.dumpPath = filepath.Join(b.cfg.DumpDir, v1.FileStem(run)+".db")
		b.mu.Unlock()
	}
	return nil
}

// EndRun flushes the run and writes a final dump.
func (b *Backend) EndRun(end time.Time) error {
	if err := b.Backend.EndRun(end); err != nil {
		return err
	}
	return b.Dump()
}

// DumpPath returns the file the database is dumped to, empty before StartRun.
func (b *Backend) DumpPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumpPath
}

// Dump writes a point-in-time snapshot of the in-memory database to disk.
// It is a no-op without a dump path.
func (b *Backend) Dump() error {
	path := b.DumpPath()
	if path == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, path); err != nil {
		return err
	}
	b.log.Debug("Dumped to disk", "path", path, "duration", time.Since(start))
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
