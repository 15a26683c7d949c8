package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ConveyorInfo{},
	&Run{},
	&LifecycleEvent{},
	&BeltStatus{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ConveyorInfo identifies the line that wrote the database
type ConveyorInfo struct {
	gorm.Model
	LineName    string `json:"lineName" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
	World       string `json:"world" gorm:"size:127"`
}

func (*ConveyorInfo) TableName() string {
	return "conveyor_infos"
}

// Run is one controller session from start to shutdown
type Run struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID     string         `json:"runId" gorm:"size:36;uniqueIndex:idx_run_run_id"`
	StartTime time.Time      `json:"startTime"`
	EndTime   sql.NullTime   `json:"endTime" gorm:"default:NULL"`
	Version   string         `json:"version" gorm:"size:64"`
	Actuator  string         `json:"actuator" gorm:"size:32"`
	Settings  datatypes.JSON `json:"settings" gorm:"default:'{}'"` // effective belt and actuator settings
}

func (*Run) TableName() string {
	return "runs"
}

////////////////////////
// TIME SERIES
////////////////////////

// LifecycleEvent is one spawn, removal, pause or recovery
type LifecycleEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_lifecycle_time"`
	RunID     uint      `json:"runId" gorm:"index:idx_lifecycle_run_id"`
	Run       Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Kind      string    `json:"kind" gorm:"size:16;index:idx_lifecycle_kind"`
	EntityID  string    `json:"entityId" gorm:"size:32;index:idx_lifecycle_entity_id"`
	Variant   string    `json:"variant" gorm:"size:16"`

	Position            geom.Point `json:"position"` // belt frame, metres, XYZ
	Reason              string     `json:"reason" gorm:"size:16"`
	DeleteOK            bool       `json:"deleteOk" gorm:"default:false"`
	ConsecutiveFailures int        `json:"consecutiveFailures" gorm:"default:0"`
	Error               string     `json:"error" gorm:"size:512"`
}

func (*LifecycleEvent) TableName() string {
	return "lifecycle_events"
}

// BeltStatus is a periodic controller snapshot
type BeltStatus struct {
	ID                  uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time                time.Time `json:"time" gorm:"index:idx_beltstatus_time"`
	RunID               uint      `json:"runId" gorm:"index:idx_beltstatus_run_id"`
	Run                 Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tracked             int       `json:"tracked"`
	Paused              bool      `json:"paused" gorm:"default:false"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	PauseEpisodes       uint64    `json:"pauseEpisodes"`
	Counters            Counters  `json:"counters" gorm:"embedded;embeddedPrefix:count_"`
}

func (*BeltStatus) TableName() string {
	return "belt_statuses"
}

// Counters are cumulative since the run started
type Counters struct {
	Spawned        uint64 `json:"spawned"`
	SpawnFailures  uint64 `json:"spawnFailures"`
	Moves          uint64 `json:"moves"`
	MoveFailures   uint64 `json:"moveFailures"`
	RemovedExit    uint64 `json:"removedExit"`
	RemovedStale   uint64 `json:"removedStale"`
	DeleteFailures uint64 `json:"deleteFailures"`
}
