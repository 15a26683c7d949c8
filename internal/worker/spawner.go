package worker

import (
	"context"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/pkg/core"
)

// Spawner creates at most one entity per tick.
type Spawner struct {
	deps  Dependencies
	cfg   config.BeltConfig
	belt  core.Belt
	stats *counters
	inst  *instruments
}

// Tick runs one spawn attempt. A paused belt skips the tick, with one
// deliberate exception: when nothing is tracked the attempt still runs as a
// recovery probe. With an empty table no move can succeed and clear the
// pause, so skipping would leave the belt paused forever.
func (s *Spawner) Tick(ctx context.Context) {
	log := s.deps.Logger
	count := s.deps.Table.Count()

	if s.deps.Failures.IsPaused() && count > 0 {
		log.Debug("spawn skipped, paused", "tracked", count)
		return
	}
	if count >= s.cfg.MaxEntities {
		log.Debug("spawn skipped, at capacity", "tracked", count, "max", s.cfg.MaxEntities)
		return
	}

	variant := core.VariantNominal
	if s.deps.Rand.Float64() < s.cfg.DefectProbability {
		variant = core.VariantDefective
	}
	offset := (s.deps.Rand.Float64()*2 - 1) * s.cfg.LateralRange
	pos := s.belt.SpawnPosition(offset)

	seq, id := s.deps.Table.NextID()
	err := s.deps.Actuator.Spawn(ctx, id, variant, pos)
	now := s.deps.Clock.Now()
	tr := s.deps.Failures.RecordResult(err == nil)

	if err != nil {
		s.stats.spawnFailures.Add(1)
		s.inst.spawnFailures.Add(ctx, 1)
		log.Warn("spawn failed", "entity", id, "variant", variant, "error", err)
		emit(s.deps, core.LifecycleEvent{
			Time:                now,
			Kind:                core.KindSpawnFailed,
			EntityID:            id,
			Variant:             variant,
			Position:            pos,
			ConsecutiveFailures: s.deps.Failures.ConsecutiveFailures(),
			Error:               err.Error(),
		})
		recordTransition(s.deps, s.inst, tr, now)
		return
	}

	s.deps.Table.Insert(core.Entity{
		ID:            id,
		Seq:           seq,
		Variant:       variant,
		SpawnTime:     now,
		LateralOffset: offset,
	})
	s.stats.spawned.Add(1)
	s.inst.spawned.Add(ctx, 1)

	log.Info("spawned", "entity", id, "variant", variant, "y", pos.Y)
	emit(s.deps, core.LifecycleEvent{
		Time:     now,
		Kind:     core.KindSpawned,
		EntityID: id,
		Variant:  variant,
		Position: pos,
	})
	recordTransition(s.deps, s.inst, tr, now)
}
