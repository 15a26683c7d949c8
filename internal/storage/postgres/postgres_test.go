package postgres

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/OCAP2/conveyor/internal/model"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/pkg/core"
)

var _ storage.Backend = (*Backend)(nil)

// newTestDB creates an in-memory SQLite DB standing in for Postgres.
// MaxOpenConns=1 keeps every operation on the one in-memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestNew_NoConnectionBeforeInit(t *testing.T) {
	b := New(Dependencies{})
	require.NotNil(t, b)
	assert.Nil(t, b.Backend)
	assert.NoError(t, b.Close())
}

func TestInit_WithInjectedDB(t *testing.T) {
	db := newTestDB(t)
	b := New(Dependencies{DB: db, DBLogger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())

	assert.True(t, db.Migrator().HasTable(&model.Run{}))
	assert.True(t, db.Migrator().HasTable(&model.LifecycleEvent{}))
	assert.True(t, db.Migrator().HasTable(&model.BeltStatus{}))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.StartRun(&core.Run{ID: "run-1", StartTime: start}))
	require.NoError(t, b.RecordStatus(&core.BeltStatus{Time: start, Tracked: 4, Paused: true}))
	require.NoError(t, b.EndRun(start.Add(time.Minute)))

	var status model.BeltStatus
	require.NoError(t, db.First(&status).Error)
	assert.Equal(t, 4, status.Tracked)
	assert.True(t, status.Paused)

	require.NoError(t, b.Close())
}

func TestInit_ConnectFailure(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "127.0.0.1")
	viper.Set("db.port", "1")

	b := New(Dependencies{})
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to postgres")
}
