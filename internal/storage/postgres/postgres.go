// Package postgres implements the storage.Backend interface on PostgreSQL.
// Writes go through the queued GORM backend.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/OCAP2/conveyor/internal/database"
	gormstorage "github.com/OCAP2/conveyor/internal/storage/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
// If DB is nil, Init connects using the db.* config keys.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend on PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects when no DB was injected, then migrates and starts the writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDB()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
	}
	if b.deps.Logger != nil {
		b.deps.Logger.Info("Connected to database", "dialect", b.deps.DB.Dialector.Name())
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:            b.deps.DB,
		Logger:        b.deps.Logger,
		DBLogger:      b.deps.DBLogger,
		FlushInterval: b.deps.FlushInterval,
	})
	return b.Backend.Init()
}

// Close closes the writer and the underlying connection.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}
