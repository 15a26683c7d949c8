package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/conveyor/internal/actuator"
	"github.com/OCAP2/conveyor/internal/cache"
	"github.com/OCAP2/conveyor/internal/clock"
	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/monitor"
	"github.com/OCAP2/conveyor/pkg/core"
)

// ErrAlreadyStarted is returned when Start is called on a running manager.
var ErrAlreadyStarted = errors.New("worker manager already started")

// EventSink receives lifecycle events. Emit must not block for long.
type EventSink interface {
	Emit(core.LifecycleEvent)
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Table    *cache.EntityTable
	Failures *monitor.FailureMonitor
	Actuator actuator.Actuator
	Clock    clock.Clock
	Events   EventSink    // optional
	Logger   *slog.Logger // optional
	Rand     *rand.Rand   // optional; used by the Spawner only
}

// counters are cumulative since the manager was created.
type counters struct {
	spawned        atomic.Uint64
	spawnFailures  atomic.Uint64
	moves          atomic.Uint64
	moveFailures   atomic.Uint64
	removedExit    atomic.Uint64
	removedStale   atomic.Uint64
	deleteFailures atomic.Uint64
}

// Manager runs the Spawner and the Mover on their own tickers.
type Manager struct {
	deps    Dependencies
	cfg     config.BeltConfig
	spawner *Spawner
	mover   *Mover
	stats   *counters

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewManager validates the belt settings and wires both periodic tasks.
func NewManager(deps Dependencies, cfg config.BeltConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Table == nil || deps.Failures == nil || deps.Actuator == nil {
		return nil, fmt.Errorf("worker: table, failure monitor and actuator are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	inst, err := newInstruments(deps.Table)
	if err != nil {
		return nil, err
	}

	stats := &counters{}
	m := &Manager{
		deps:  deps,
		cfg:   cfg,
		stats: stats,
	}
	m.spawner = &Spawner{deps: deps, cfg: cfg, belt: cfg.Geometry(), stats: stats, inst: inst}
	m.mover = &Mover{deps: deps, cfg: cfg, belt: cfg.Geometry(), stats: stats, inst: inst}
	return m, nil
}

// Spawner returns the spawn task, mainly for driving ticks by hand.
func (m *Manager) Spawner() *Spawner { return m.spawner }

// Mover returns the move/reap task.
func (m *Manager) Mover() *Mover { return m.mover }

// Start launches both periodic tasks after the configured startup delay.
// Cancelling ctx has the same effect as Stop, except that Stop also waits.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	log := m.deps.Logger
	log.Info("conveyor starting",
		"spawnInterval", m.cfg.SpawnInterval,
		"moveInterval", m.cfg.MoveInterval,
		"speed", m.cfg.Speed,
		"spawnX", m.cfg.SpawnX,
		"exitX", m.cfg.ExitX,
		"traverseTime", m.cfg.Geometry().TraverseTime(),
		"maxEntities", m.cfg.MaxEntities,
		"failureThreshold", m.cfg.FailureThreshold,
		"staleTimeout", m.cfg.StaleTimeout,
	)

	m.wg.Add(2)
	go m.loop(runCtx, "spawner", m.cfg.SpawnInterval, m.spawner.Tick)
	go m.loop(runCtx, "mover", m.cfg.MoveInterval, m.mover.Tick)

	go func() {
		m.wg.Wait()
		close(m.stopped)
	}()

	return nil
}

// loop runs tick every interval until ctx is done. The tick itself gets a
// context detached from cancellation so shutdown never interrupts an
// in-flight actuator call.
func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer m.wg.Done()

	if d := m.cfg.StartupDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}

	tickCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.deps.Logger.Debug("periodic task stopped", "task", name)
			return
		case <-ticker.C:
			// a stop request that raced the ticker wins
			if ctx.Err() != nil {
				return
			}
			tick(tickCtx)
		}
	}
}

// Stop halts both tasks, waits for any in-flight tick and, when configured,
// deletes every entity still tracked.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-stopped

	if m.cfg.DrainOnStop {
		m.Drain(context.Background())
	}
	m.deps.Logger.Info("conveyor stopped", "spawned", m.stats.spawned.Load(), "tracked", m.deps.Table.Count())
}

// Done is closed once both tasks have returned. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Drain deletes every tracked entity, best effort, and empties the table.
func (m *Manager) Drain(ctx context.Context) int {
	snap := m.deps.Table.Snapshot()
	for _, e := range snap {
		if err := m.deps.Actuator.Delete(ctx, e.ID); err != nil {
			m.stats.deleteFailures.Add(1)
			m.deps.Logger.Warn("drain delete failed", "entity", e.ID, "error", err)
		}
		m.deps.Table.Remove(e.ID)
	}
	if len(snap) > 0 {
		m.deps.Logger.Info("drained tracked entities", "count", len(snap))
	}
	return len(snap)
}

// Status builds a point-in-time view of the belt.
func (m *Manager) Status() core.BeltStatus {
	return core.BeltStatus{
		Time:                m.deps.Clock.Now(),
		Tracked:             m.deps.Table.Count(),
		Paused:              m.deps.Failures.IsPaused(),
		ConsecutiveFailures: m.deps.Failures.ConsecutiveFailures(),
		PauseEpisodes:       m.deps.Failures.Episodes(),
		Spawned:             m.stats.spawned.Load(),
		SpawnFailures:       m.stats.spawnFailures.Load(),
		Moves:               m.stats.moves.Load(),
		MoveFailures:        m.stats.moveFailures.Load(),
		RemovedExit:         m.stats.removedExit.Load(),
		RemovedStale:        m.stats.removedStale.Load(),
		DeleteFailures:      m.stats.deleteFailures.Load(),
	}
}

// emit forwards ev to the sink, if any.
func emit(deps Dependencies, ev core.LifecycleEvent) {
	if deps.Events != nil {
		deps.Events.Emit(ev)
	}
}

// recordTransition logs and publishes a pause or recovery.
func recordTransition(deps Dependencies, inst *instruments, tr monitor.Transition, now time.Time) {
	switch tr {
	case monitor.TransitionPaused:
		inst.pauseEpisodes.Add(context.Background(), 1)
		deps.Logger.Warn("actuation failing, spawning paused",
			"consecutiveFailures", deps.Failures.ConsecutiveFailures(),
			"threshold", deps.Failures.Threshold())
		emit(deps, core.LifecycleEvent{
			Time:                now,
			Kind:                core.KindPaused,
			ConsecutiveFailures: deps.Failures.ConsecutiveFailures(),
		})
	case monitor.TransitionRecovered:
		deps.Logger.Info("actuation recovered, spawning resumed")
		emit(deps, core.LifecycleEvent{Time: now, Kind: core.KindRecovered})
	}
}
