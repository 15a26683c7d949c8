// Package v1 contains the v1 export format for conveyor run data.
package v1

import "time"

// FormatVersion is written into every export.
const FormatVersion = 1

// Export is the root JSON structure for v1 format
type Export struct {
	FormatVersion int               `json:"formatVersion"`
	RunID         string            `json:"runId"`
	Version       string            `json:"version"`
	Actuator      string            `json:"actuator"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	Settings      map[string]string `json:"settings"`
	Summary       Summary           `json:"summary"`
	Entities      []Entity          `json:"entities"`
	Pauses        []Pause           `json:"pauses"`
	Status        []Status          `json:"status"`
}

// Summary totals the run
type Summary struct {
	Spawned       int     `json:"spawned"`
	SpawnFailures int     `json:"spawnFailures"`
	Defective     int     `json:"defective"`
	RemovedExit   int     `json:"removedExit"`
	RemovedStale  int     `json:"removedStale"`
	DeleteFailed  int     `json:"deleteFailed"`
	StillTracked  int     `json:"stillTracked"`
	PauseEpisodes int     `json:"pauseEpisodes"`
	MeanTransitS  float64 `json:"meanTransitSeconds"`
}

// Entity is one can from spawn to removal.
// RemovedAt is nil while the can was still tracked at export.
type Entity struct {
	ID        string     `json:"id"`
	Variant   string     `json:"variant"`
	SpawnedAt time.Time  `json:"spawnedAt"`
	SpawnPos  [3]float64 `json:"spawnPos"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
	FinalPos  [3]float64 `json:"finalPos,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	DeleteOK  bool       `json:"deleteOk"`
}

// Pause is one pause episode. End is nil if the run ended paused.
type Pause struct {
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
	Failures int        `json:"failures"`
}

// Status is a compact status sample
type Status struct {
	Time    time.Time `json:"t"`
	Tracked int       `json:"tracked"`
	Paused  bool      `json:"paused"`
}
