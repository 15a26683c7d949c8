// pkg/core/events.go
package core

import "time"

// LifecycleKind identifies what happened to the belt or one of its cans.
type LifecycleKind string

const (
	KindSpawned     LifecycleKind = "spawned"
	KindSpawnFailed LifecycleKind = "spawn_failed"
	KindRemoved     LifecycleKind = "removed"
	KindPaused      LifecycleKind = "paused"
	KindRecovered   LifecycleKind = "recovered"
)

// LifecycleKinds lists every kind, in the order handlers are registered.
var LifecycleKinds = []LifecycleKind{
	KindSpawned,
	KindSpawnFailed,
	KindRemoved,
	KindPaused,
	KindRecovered,
}

// RemovalReason says why the reaper dropped a can.
type RemovalReason string

const (
	RemovalNone  RemovalReason = ""
	RemovalExit  RemovalReason = "exit"
	RemovalStale RemovalReason = "stale"
)

// LifecycleEvent records one lifecycle transition.
// Pause and recovery events carry no entity.
type LifecycleEvent struct {
	Time                time.Time     `json:"time"`
	Kind                LifecycleKind `json:"kind"`
	EntityID            string        `json:"entityId,omitempty"`
	Variant             Variant       `json:"variant"`
	Position            Position3D    `json:"position"`
	Reason              RemovalReason `json:"reason,omitempty"`
	DeleteOK            bool          `json:"deleteOk,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// BeltStatus is a periodic snapshot of the controller.
type BeltStatus struct {
	Time                time.Time `json:"time"`
	Tracked             int       `json:"tracked"`
	Paused              bool      `json:"paused"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	PauseEpisodes       uint64    `json:"pauseEpisodes"`
	Spawned             uint64    `json:"spawned"`
	SpawnFailures       uint64    `json:"spawnFailures"`
	Moves               uint64    `json:"moves"`
	MoveFailures        uint64    `json:"moveFailures"`
	RemovedExit         uint64    `json:"removedExit"`
	RemovedStale        uint64    `json:"removedStale"`
	DeleteFailures      uint64    `json:"deleteFailures"`
}
