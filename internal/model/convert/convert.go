// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/OCAP2/conveyor/internal/model"
	"github.com/OCAP2/conveyor/pkg/core"
)

// position3DToPoint converts a core.Position3D to an XYZ geom.Point
func position3DToPoint(p core.Position3D) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: p.X, Y: p.Y}, Z: p.Z, Type: geom.DimXYZ}
	return geom.NewPoint(coords)
}

// pointToPosition3D converts a geom.Point back to a core.Position3D
func pointToPosition3D(p geom.Point) core.Position3D {
	coord, ok := p.Coordinates()
	if !ok {
		return core.Position3D{}
	}
	return core.Position3D{X: coord.XY.X, Y: coord.XY.Y, Z: coord.Z}
}

// settingsToJSON converts run settings to datatypes.JSON for DB storage.
func settingsToJSON(settings map[string]string) datatypes.JSON {
	if len(settings) == 0 {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run.
func CoreToRun(r core.Run) model.Run {
	run := model.Run{
		RunID:     r.ID,
		StartTime: r.StartTime,
		Version:   r.Version,
		Actuator:  r.Actuator,
		Settings:  settingsToJSON(r.Settings),
	}
	if !r.EndTime.IsZero() {
		run.EndTime = sql.NullTime{Time: r.EndTime, Valid: true}
	}
	return run
}

// RunToCore converts a GORM model.Run to a core.Run. Unreadable settings are
// an error.
func RunToCore(r model.Run) (core.Run, error) {
	run := core.Run{
		ID:        r.RunID,
		StartTime: r.StartTime,
		Version:   r.Version,
		Actuator:  r.Actuator,
	}
	if r.EndTime.Valid {
		run.EndTime = r.EndTime.Time
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &run.Settings); err != nil {
			return run, fmt.Errorf("run %s settings: %w", r.RunID, err)
		}
	}
	return run, nil
}

// CoreToLifecycleEvent converts a core.LifecycleEvent to a GORM row owned by runID.
func CoreToLifecycleEvent(e core.LifecycleEvent, runID uint) model.LifecycleEvent {
	row := model.LifecycleEvent{
		Time:                e.Time,
		RunID:               runID,
		Kind:                string(e.Kind),
		EntityID:            e.EntityID,
		Position:            position3DToPoint(e.Position),
		Reason:              string(e.Reason),
		DeleteOK:            e.DeleteOK,
		ConsecutiveFailures: e.ConsecutiveFailures,
		Error:               e.Error,
	}
	if e.EntityID != "" {
		row.Variant = e.Variant.String()
	}
	return row
}

// LifecycleEventToCore converts a GORM row to a core.LifecycleEvent. An
// unknown variant is an error.
func LifecycleEventToCore(e model.LifecycleEvent) (core.LifecycleEvent, error) {
	ev := core.LifecycleEvent{
		Time:                e.Time,
		Kind:                core.LifecycleKind(e.Kind),
		EntityID:            e.EntityID,
		Position:            pointToPosition3D(e.Position),
		Reason:              core.RemovalReason(e.Reason),
		DeleteOK:            e.DeleteOK,
		ConsecutiveFailures: e.ConsecutiveFailures,
		Error:               e.Error,
	}
	if e.Variant != "" {
		if err := ev.Variant.UnmarshalText([]byte(e.Variant)); err != nil {
			return ev, fmt.Errorf("event %d: %w", e.ID, err)
		}
	}
	return ev, nil
}

// CoreToBeltStatus converts a core.BeltStatus to a GORM row owned by runID.
func CoreToBeltStatus(s core.BeltStatus, runID uint) model.BeltStatus {
	return model.BeltStatus{
		Time:                s.Time,
		RunID:               runID,
		Tracked:             s.Tracked,
		Paused:              s.Paused,
		ConsecutiveFailures: s.ConsecutiveFailures,
		PauseEpisodes:       s.PauseEpisodes,
		Counters: model.Counters{
			Spawned:        s.Spawned,
			SpawnFailures:  s.SpawnFailures,
			Moves:          s.Moves,
			MoveFailures:   s.MoveFailures,
			RemovedExit:    s.RemovedExit,
			RemovedStale:   s.RemovedStale,
			DeleteFailures: s.DeleteFailures,
		},
	}
}

// BeltStatusToCore converts a GORM row to a core.BeltStatus.
func BeltStatusToCore(s model.BeltStatus) core.BeltStatus {
	return core.BeltStatus{
		Time:                s.Time,
		Tracked:             s.Tracked,
		Paused:              s.Paused,
		ConsecutiveFailures: s.ConsecutiveFailures,
		PauseEpisodes:       s.PauseEpisodes,
		Spawned:             s.Counters.Spawned,
		SpawnFailures:       s.Counters.SpawnFailures,
		Moves:               s.Counters.Moves,
		MoveFailures:        s.Counters.MoveFailures,
		RemovedExit:         s.Counters.RemovedExit,
		RemovedStale:        s.Counters.RemovedStale,
		DeleteFailures:      s.Counters.DeleteFailures,
	}
}
