package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/conveyor/internal/actuator"
	"github.com/OCAP2/conveyor/internal/cache"
	"github.com/OCAP2/conveyor/internal/clock"
	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/monitor"
	"github.com/OCAP2/conveyor/pkg/core"
)

var errScripted = errors.New("scripted failure")

type call struct {
	op  string
	id  string
	pos core.Position3D
}

// scriptedActuator records every call and fails the ops listed in fail.
type scriptedActuator struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
}

func newScriptedActuator() *scriptedActuator {
	return &scriptedActuator{fail: make(map[string]bool)}
}

func (a *scriptedActuator) setFail(op string, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[op] = fail
}

func (a *scriptedActuator) record(op, id string, pos core.Position3D) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call{op: op, id: id, pos: pos})
	if a.fail[op] {
		return errScripted
	}
	return nil
}

func (a *scriptedActuator) Spawn(_ context.Context, id string, _ core.Variant, pos core.Position3D) error {
	return a.record("spawn", id, pos)
}

func (a *scriptedActuator) Move(_ context.Context, id string, pos core.Position3D) error {
	return a.record("move", id, pos)
}

func (a *scriptedActuator) Delete(_ context.Context, id string) error {
	return a.record("delete", id, core.Position3D{})
}

func (a *scriptedActuator) callsFor(op string) []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []call
	for _, c := range a.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []core.LifecycleEvent
}

func (r *eventRecorder) Emit(ev core.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []core.LifecycleKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.LifecycleKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) ofKind(k core.LifecycleKind) []core.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.LifecycleEvent
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func testBeltConfig() config.BeltConfig {
	return config.BeltConfig{
		SpawnInterval:     4 * time.Second,
		MoveInterval:      300 * time.Millisecond,
		SpawnX:            -0.92,
		ExitX:             1.00,
		SpawnZ:            0.60,
		SurfaceZ:          0.54,
		LateralRange:      0.03,
		Speed:             0.06,
		DefectProbability: 0.1,
		FailureThreshold:  5,
		MaxEntities:       20,
		StaleTimeout:      120 * time.Second,
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mgr    *Manager
	table  *cache.EntityTable
	fails  *monitor.FailureMonitor
	act    *scriptedActuator
	clk    *clock.Manual
	events *eventRecorder
}

func newFixture(t *testing.T, cfg config.BeltConfig) *fixture {
	t.Helper()
	f := &fixture{
		table:  cache.NewEntityTable(),
		fails:  monitor.NewFailureMonitor(cfg.FailureThreshold),
		act:    newScriptedActuator(),
		clk:    clock.NewManual(t0),
		events: &eventRecorder{},
	}
	mgr, err := NewManager(Dependencies{
		Table:    f.table,
		Failures: f.fails,
		Actuator: f.act,
		Clock:    f.clk,
		Events:   f.events,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:     rand.New(rand.NewSource(1)),
	}, cfg)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func (f *fixture) insert(t *testing.T, spawned time.Time) core.Entity {
	t.Helper()
	seq, id := f.table.NextID()
	e := core.Entity{ID: id, Seq: seq, SpawnTime: spawned}
	f.table.Insert(e)
	return e
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := testBeltConfig()
	cfg.MaxEntities = 0

	_, err := NewManager(Dependencies{
		Table:    cache.NewEntityTable(),
		Failures: monitor.NewFailureMonitor(5),
		Actuator: newScriptedActuator(),
	}, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Dependencies{Table: cache.NewEntityTable()}, testBeltConfig())
	assert.Error(t, err)
}

func TestSpawner_SuccessInsertsEntity(t *testing.T) {
	f := newFixture(t, testBeltConfig())

	f.mgr.Spawner().Tick(context.Background())

	require.Equal(t, 1, f.table.Count())
	e, ok := f.table.Get("can_0001")
	require.True(t, ok)
	assert.Equal(t, t0, e.SpawnTime)
	assert.LessOrEqual(t, e.LateralOffset, 0.03)
	assert.GreaterOrEqual(t, e.LateralOffset, -0.03)

	spawns := f.act.callsFor("spawn")
	require.Len(t, spawns, 1)
	assert.InDelta(t, -0.92, spawns[0].pos.X, 1e-9)
	assert.InDelta(t, 0.60, spawns[0].pos.Z, 1e-9)
	assert.InDelta(t, e.LateralOffset, spawns[0].pos.Y, 1e-9)

	assert.Equal(t, []core.LifecycleKind{core.KindSpawned}, f.events.kinds())
	assert.Equal(t, uint64(1), f.mgr.Status().Spawned)
}

func TestSpawner_FailureConsumesID(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("spawn", true)

	f.mgr.Spawner().Tick(context.Background())

	assert.Equal(t, 0, f.table.Count())
	assert.Equal(t, 1, f.fails.ConsecutiveFailures())
	failed := f.events.ofKind(core.KindSpawnFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "can_0001", failed[0].EntityID)
	assert.NotEmpty(t, failed[0].Error)

	f.act.setFail("spawn", false)
	f.mgr.Spawner().Tick(context.Background())

	_, ok := f.table.Get("can_0002")
	assert.True(t, ok, "next spawn must not reuse the failed id")
	assert.Equal(t, 0, f.fails.ConsecutiveFailures())
	assert.Equal(t, uint64(1), f.mgr.Status().SpawnFailures)
}

func TestSpawner_DefectProbabilityExtremes(t *testing.T) {
	cfg := testBeltConfig()
	cfg.DefectProbability = 1
	f := newFixture(t, cfg)
	f.mgr.Spawner().Tick(context.Background())
	e, _ := f.table.Get("can_0001")
	assert.Equal(t, core.VariantDefective, e.Variant)

	cfg.DefectProbability = 0
	f = newFixture(t, cfg)
	f.mgr.Spawner().Tick(context.Background())
	e, _ = f.table.Get("can_0001")
	assert.Equal(t, core.VariantNominal, e.Variant)
}

func TestSpawner_AtCapacitySkips(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	for i := 0; i < 20; i++ {
		f.insert(t, t0)
	}

	f.mgr.Spawner().Tick(context.Background())

	assert.Empty(t, f.act.callsFor("spawn"))
	assert.Equal(t, 20, f.table.Count())
}

func TestSpawner_PausedSkipsWhileTracking(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.insert(t, t0)
	for i := 0; i < 5; i++ {
		f.fails.RecordResult(false)
	}
	require.True(t, f.fails.IsPaused())

	f.mgr.Spawner().Tick(context.Background())

	assert.Empty(t, f.act.callsFor("spawn"))
	assert.Equal(t, 1, f.table.Count())
}

func TestSpawner_PausedWithEmptyTableProbes(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	for i := 0; i < 5; i++ {
		f.fails.RecordResult(false)
	}
	require.True(t, f.fails.IsPaused())

	f.mgr.Spawner().Tick(context.Background())

	assert.Len(t, f.act.callsFor("spawn"), 1)
	assert.False(t, f.fails.IsPaused())
	assert.Equal(t, []core.LifecycleKind{core.KindSpawned, core.KindRecovered}, f.events.kinds())
}

func TestSpawner_RepeatedFailuresPauseOnce(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("spawn", true)

	// the table stays empty so every tick probes
	for i := 0; i < 8; i++ {
		f.mgr.Spawner().Tick(context.Background())
	}

	assert.True(t, f.fails.IsPaused())
	assert.Len(t, f.events.ofKind(core.KindPaused), 1)
	assert.Equal(t, uint64(1), f.mgr.Status().PauseEpisodes)
}

func TestSpawner_CountNeverExceedsCapacity(t *testing.T) {
	cfg := testBeltConfig()
	cfg.MaxEntities = 3
	f := newFixture(t, cfg)

	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, f.table.Count(), cfg.MaxEntities)
		f.mgr.Spawner().Tick(context.Background())
	}
	assert.Equal(t, 3, f.table.Count())
	assert.Len(t, f.act.callsFor("spawn"), 3)
}

func TestMover_ExitRemoval(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	e := f.insert(t, t0)

	f.clk.Set(t0.Add(31 * time.Second))
	f.mgr.Mover().Tick(context.Background())
	assert.Equal(t, 1, f.table.Count(), "not yet past exit at 31s")
	assert.Empty(t, f.act.callsFor("delete"))

	f.clk.Set(t0.Add(33 * time.Second))
	f.mgr.Mover().Tick(context.Background())

	assert.Equal(t, 0, f.table.Count())
	deletes := f.act.callsFor("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, e.ID, deletes[0].id)

	removed := f.events.ofKind(core.KindRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, core.RemovalExit, removed[0].Reason)
	assert.True(t, removed[0].DeleteOK)
	assert.Equal(t, uint64(1), f.mgr.Status().RemovedExit)
}

func TestMover_StaleRemovalWithoutMove(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("move", true)
	f.insert(t, t0)

	// moves fail every tick; the entity never reaches the exit in the sim
	for s := 1; s <= 10; s++ {
		f.clk.Set(t0.Add(time.Duration(s) * time.Second))
		f.mgr.Mover().Tick(context.Background())
	}
	require.Equal(t, 1, f.table.Count())
	movesBefore := len(f.act.callsFor("move"))

	f.clk.Set(t0.Add(121 * time.Second))
	f.mgr.Mover().Tick(context.Background())

	assert.Equal(t, 0, f.table.Count())
	assert.Equal(t, movesBefore, len(f.act.callsFor("move")), "stale entity must not be moved")
	removed := f.events.ofKind(core.KindRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, core.RemovalStale, removed[0].Reason)
}

func TestMover_MoveFailuresPause(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("move", true)
	f.insert(t, t0)

	for i := 0; i < 5; i++ {
		f.clk.Advance(300 * time.Millisecond)
		f.mgr.Mover().Tick(context.Background())
	}
	assert.True(t, f.fails.IsPaused())
	assert.Len(t, f.events.ofKind(core.KindPaused), 1)

	f.act.setFail("move", false)
	f.clk.Advance(300 * time.Millisecond)
	f.mgr.Mover().Tick(context.Background())

	assert.False(t, f.fails.IsPaused())
	assert.Len(t, f.events.ofKind(core.KindRecovered), 1)
}

func TestMover_DeleteFailureStillRemoves(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("delete", true)
	f.insert(t, t0)

	f.clk.Set(t0.Add(40 * time.Second))
	f.mgr.Mover().Tick(context.Background())

	assert.Equal(t, 0, f.table.Count())
	assert.Equal(t, 0, f.fails.ConsecutiveFailures(), "delete outcome must not feed the monitor")
	removed := f.events.ofKind(core.KindRemoved)
	require.Len(t, removed, 1)
	assert.False(t, removed[0].DeleteOK)
	assert.Equal(t, uint64(1), f.mgr.Status().DeleteFailures)
}

func TestMover_ExitStillDeletesAfterFailedMove(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.act.setFail("move", true)
	f.insert(t, t0)

	f.clk.Set(t0.Add(33 * time.Second))
	f.mgr.Mover().Tick(context.Background())

	assert.Equal(t, 0, f.table.Count())
	assert.Len(t, f.act.callsFor("delete"), 1)
}

func TestMover_PositionFromElapsedTime(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.insert(t, t0)

	// a single late tick lands where continuous ticking would have
	f.clk.Set(t0.Add(10 * time.Second))
	f.mgr.Mover().Tick(context.Background())

	moves := f.act.callsFor("move")
	require.Len(t, moves, 1)
	assert.InDelta(t, -0.92+0.06*10, moves[0].pos.X, 1e-9)
	assert.InDelta(t, 0.54, moves[0].pos.Z, 1e-9)

	for i := 0; i < 5; i++ {
		f.clk.Advance(time.Second)
		f.mgr.Mover().Tick(context.Background())
	}
	moves = f.act.callsFor("move")
	assert.InDelta(t, -0.92+0.06*15, moves[len(moves)-1].pos.X, 1e-9)
}

func TestMover_EmptyTableIsNoop(t *testing.T) {
	f := newFixture(t, testBeltConfig())
	f.mgr.Mover().Tick(context.Background())
	assert.Empty(t, f.act.calls)
}

func TestManager_StartStopDrains(t *testing.T) {
	cfg := testBeltConfig()
	cfg.SpawnInterval = 5 * time.Millisecond
	cfg.MoveInterval = 2 * time.Millisecond
	cfg.DrainOnStop = true

	sim := actuator.NewSim(actuator.SimConfig{Seed: 3})
	table := cache.NewEntityTable()
	mgr, err := NewManager(Dependencies{
		Table:    table,
		Failures: monitor.NewFailureMonitor(cfg.FailureThreshold),
		Actuator: sim,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background()))
	assert.ErrorIs(t, mgr.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return mgr.Status().Spawned >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, sim.Calls("move"), 0)

	mgr.Stop()

	select {
	case <-mgr.Done():
	default:
		t.Fatal("tasks still running after Stop")
	}
	assert.Equal(t, 0, table.Count())
	assert.Equal(t, 0, sim.Len())

	// idempotent
	mgr.Stop()
}

func TestManager_ContextCancelStopsTasks(t *testing.T) {
	cfg := testBeltConfig()
	cfg.SpawnInterval = 5 * time.Millisecond
	cfg.MoveInterval = 5 * time.Millisecond
	cfg.StartupDelay = time.Hour

	mgr, err := NewManager(Dependencies{
		Table:    cache.NewEntityTable(),
		Failures: monitor.NewFailureMonitor(cfg.FailureThreshold),
		Actuator: newScriptedActuator(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, mgr.Start(ctx))
	done := mgr.Done()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not stop on context cancellation")
	}
	assert.Equal(t, uint64(0), mgr.Status().Spawned, "startup delay must hold back the first tick")
}

func TestManager_StopLetsInflightTickFinish(t *testing.T) {
	cfg := testBeltConfig()
	cfg.SpawnInterval = time.Millisecond
	cfg.MoveInterval = time.Hour

	sim := actuator.NewSim(actuator.SimConfig{Latency: 50 * time.Millisecond, Seed: 1})
	table := cache.NewEntityTable()
	mgr, err := NewManager(Dependencies{
		Table:    table,
		Failures: monitor.NewFailureMonitor(cfg.FailureThreshold),
		Actuator: sim,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background()))
	require.Eventually(t, func() bool { return sim.Calls("spawn") >= 1 }, time.Second, time.Millisecond)
	mgr.Stop()

	st := mgr.Status()
	assert.Equal(t, uint64(0), st.SpawnFailures, "shutdown must not cancel an in-flight spawn")
	assert.Equal(t, st.Spawned, uint64(sim.Calls("spawn")))
}
