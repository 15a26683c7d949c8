package worker

import (
	"context"
	"time"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/pkg/core"
)

// Mover advances every tracked entity and reaps the ones that left the belt
// or went stale.
type Mover struct {
	deps  Dependencies
	cfg   config.BeltConfig
	belt  core.Belt
	stats *counters
	inst  *instruments
}

type removal struct {
	entity   core.Entity
	reason   core.RemovalReason
	position core.Position3D
}

// Tick runs one pass over a snapshot of the table. No lock is held while the
// actuator is called.
func (mv *Mover) Tick(ctx context.Context) {
	log := mv.deps.Logger
	snap := mv.deps.Table.Snapshot()
	if len(snap) == 0 {
		return
	}

	var marked []removal
	for _, e := range snap {
		now := mv.deps.Clock.Now()

		if e.Age(now) > mv.cfg.StaleTimeout {
			marked = append(marked, removal{entity: e, reason: core.RemovalStale, position: mv.belt.PositionAt(e, now)})
			continue
		}

		pos := mv.belt.PositionAt(e, now)
		err := mv.deps.Actuator.Move(ctx, e.ID, pos)
		tr := mv.deps.Failures.RecordResult(err == nil)
		if err != nil {
			mv.stats.moveFailures.Add(1)
			mv.inst.moveFailures.Add(ctx, 1)
			log.Debug("move failed", "entity", e.ID, "x", pos.X, "error", err)
		} else {
			mv.stats.moves.Add(1)
			mv.inst.moves.Add(ctx, 1)
		}
		recordTransition(mv.deps, mv.inst, tr, now)

		if mv.belt.PastExit(pos.X) {
			marked = append(marked, removal{entity: e, reason: core.RemovalExit, position: pos})
		}
	}

	for _, r := range marked {
		mv.remove(ctx, r)
	}
}

// remove attempts a delete and drops the entity from the table whatever the
// outcome. Delete results never reach the failure monitor.
func (mv *Mover) remove(ctx context.Context, r removal) {
	id := r.entity.ID
	err := mv.deps.Actuator.Delete(ctx, id)
	mv.deps.Table.Remove(id)
	now := mv.deps.Clock.Now()

	switch r.reason {
	case core.RemovalStale:
		mv.stats.removedStale.Add(1)
	default:
		mv.stats.removedExit.Add(1)
	}
	mv.inst.removed.Add(ctx, 1, reasonAttr(r.reason))

	ev := core.LifecycleEvent{
		Time:     now,
		Kind:     core.KindRemoved,
		EntityID: id,
		Variant:  r.entity.Variant,
		Position: r.position,
		Reason:   r.reason,
		DeleteOK: err == nil,
	}
	if err != nil {
		mv.stats.deleteFailures.Add(1)
		mv.inst.deleteFailures.Add(ctx, 1)
		ev.Error = err.Error()
		mv.deps.Logger.Warn("delete failed, entity dropped from tracking",
			"entity", id, "reason", r.reason, "error", err)
	} else {
		mv.deps.Logger.Info("removed", "entity", id, "reason", r.reason,
			"age", r.entity.Age(now).Round(time.Millisecond))
	}
	emit(mv.deps, ev)
}
