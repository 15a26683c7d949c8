package v1

import (
	"slices"
	"strings"
	"time"

	"github.com/OCAP2/conveyor/pkg/core"
)

// RunData contains all the data needed to build an export
type RunData struct {
	Run      *core.Run
	Events   []core.LifecycleEvent
	Statuses []core.BeltStatus
}

// Build creates an Export from the recorded run. Events are expected in
// emission order; removal events for unknown entities are kept as entities
// without a spawn.
func Build(data *RunData) Export {
	export := Export{
		FormatVersion: FormatVersion,
		Entities:      make([]Entity, 0),
		Pauses:        make([]Pause, 0),
		Status:        make([]Status, 0, len(data.Statuses)),
	}
	if r := data.Run; r != nil {
		export.RunID = r.ID
		export.Version = r.Version
		export.Actuator = r.Actuator
		export.StartTime = r.StartTime
		export.EndTime = r.EndTime
		export.Settings = r.Settings
	}

	index := make(map[string]int)
	var transit time.Duration
	var transitCount int

	for _, ev := range data.Events {
		switch ev.Kind {
		case core.KindSpawned:
			index[ev.EntityID] = len(export.Entities)
			export.Entities = append(export.Entities, Entity{
				ID:        ev.EntityID,
				Variant:   ev.Variant.String(),
				SpawnedAt: ev.Time,
				SpawnPos:  posArray(ev.Position),
			})
			export.Summary.Spawned++
			if ev.Variant == core.VariantDefective {
				export.Summary.Defective++
			}

		case core.KindSpawnFailed:
			export.Summary.SpawnFailures++

		case core.KindRemoved:
			i, ok := index[ev.EntityID]
			if !ok {
				i = len(export.Entities)
				export.Entities = append(export.Entities, Entity{ID: ev.EntityID, Variant: ev.Variant.String()})
			}
			removed := ev.Time
			e := &export.Entities[i]
			e.RemovedAt = &removed
			e.FinalPos = posArray(ev.Position)
			e.Reason = string(ev.Reason)
			e.DeleteOK = ev.DeleteOK
			delete(index, ev.EntityID)

			switch ev.Reason {
			case core.RemovalStale:
				export.Summary.RemovedStale++
			default:
				export.Summary.RemovedExit++
				if !e.SpawnedAt.IsZero() {
					transit += removed.Sub(e.SpawnedAt)
					transitCount++
				}
			}
			if !ev.DeleteOK {
				export.Summary.DeleteFailed++
			}

		case core.KindPaused:
			export.Pauses = append(export.Pauses, Pause{Start: ev.Time, Failures: ev.ConsecutiveFailures})

		case core.KindRecovered:
			if n := len(export.Pauses); n > 0 && export.Pauses[n-1].End == nil {
				end := ev.Time
				export.Pauses[n-1].End = &end
			}
		}
	}

	export.Summary.StillTracked = len(index)
	export.Summary.PauseEpisodes = len(export.Pauses)
	if transitCount > 0 {
		export.Summary.MeanTransitS = (transit / time.Duration(transitCount)).Seconds()
	}

	for _, st := range data.Statuses {
		export.Status = append(export.Status, Status{Time: st.Time, Tracked: st.Tracked, Paused: st.Paused})
	}
	slices.SortStableFunc(export.Status, func(a, b Status) int { return a.Time.Compare(b.Time) })

	return export
}

// FileStem returns a filesystem-safe base name for the export.
func FileStem(run *core.Run) string {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	id = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(id)
	return "conveyor_" + run.StartTime.Format("20060102_150405") + "_" + id
}

func posArray(p core.Position3D) [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}
