package actuator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/conveyor/pkg/core"
)

// stubActuator blocks every call until release is closed.
type stubActuator struct {
	release chan struct{}
	err     error
}

func (s *stubActuator) wait() error {
	<-s.release
	return s.err
}

func (s *stubActuator) Spawn(context.Context, string, core.Variant, core.Position3D) error {
	return s.wait()
}

func (s *stubActuator) Move(context.Context, string, core.Position3D) error { return s.wait() }

func (s *stubActuator) Delete(context.Context, string) error { return s.wait() }

func TestWithTimeouts_BoundsIgnoringImplementation(t *testing.T) {
	stub := &stubActuator{release: make(chan struct{})}
	defer close(stub.release)

	a := WithTimeouts(stub, Timeouts{Move: 20 * time.Millisecond})

	start := time.Now()
	err := a.Move(context.Background(), "can_0001", core.Position3D{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeouts_PassesResultThrough(t *testing.T) {
	stub := &stubActuator{release: make(chan struct{}), err: ErrRejected}
	close(stub.release)

	a := WithTimeouts(stub, Timeouts{Spawn: time.Second, Move: time.Second, Delete: time.Second})

	assert.ErrorIs(t, a.Spawn(context.Background(), "x", core.VariantNominal, core.Position3D{}), ErrRejected)
	assert.ErrorIs(t, a.Delete(context.Background(), "x"), ErrRejected)
}

func TestWithTimeouts_ContextAwareImplementation(t *testing.T) {
	sim := NewSim(SimConfig{Seed: 1, Latency: time.Second})
	a := WithTimeouts(sim, Timeouts{Spawn: 10 * time.Millisecond})

	err := a.Spawn(context.Background(), "can_0001", core.VariantNominal, core.Position3D{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSim_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(SimConfig{Seed: 42})

	require.NoError(t, sim.Spawn(ctx, "can_0001", core.VariantDefective, core.Position3D{X: -0.92}))
	require.NoError(t, sim.Move(ctx, "can_0001", core.Position3D{X: 0.1}))

	obj, ok := sim.Object("can_0001")
	require.True(t, ok)
	assert.Equal(t, core.VariantDefective, obj.Variant)
	assert.Equal(t, 0.1, obj.Position.X)
	assert.Equal(t, 1, obj.Moves)

	require.NoError(t, sim.Delete(ctx, "can_0001"))
	assert.Equal(t, 0, sim.Len())
	assert.Equal(t, 1, sim.Calls("spawn"))
	assert.Equal(t, 1, sim.Calls("move"))
	assert.Equal(t, 1, sim.Calls("delete"))
}

func TestSim_UnknownEntity(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(SimConfig{Seed: 1})

	assert.ErrorIs(t, sim.Move(ctx, "ghost", core.Position3D{}), ErrUnknownEntity)
	assert.ErrorIs(t, sim.Delete(ctx, "ghost"), ErrUnknownEntity)
}

func TestSim_DuplicateSpawnRejected(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(SimConfig{Seed: 1})

	require.NoError(t, sim.Spawn(ctx, "can_0001", core.VariantNominal, core.Position3D{}))
	assert.ErrorIs(t, sim.Spawn(ctx, "can_0001", core.VariantNominal, core.Position3D{}), ErrRejected)
}

func TestSim_FailureInjection(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(SimConfig{Seed: 1, FailureRate: 1})

	assert.ErrorIs(t, sim.Spawn(ctx, "can_0001", core.VariantNominal, core.Position3D{}), ErrRejected)
	assert.Equal(t, 0, sim.Len())

	sim.SetFailureRate(0)
	assert.NoError(t, sim.Spawn(ctx, "can_0001", core.VariantNominal, core.Position3D{}))
}

type recordedCall struct {
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []recordedCall
	output string
	err    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{name: name, args: args})
	return []byte(f.output), f.err
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestGz_SpawnBuildsCreateRequest(t *testing.T) {
	r := &fakeRunner{output: "data: true\n"}
	g := NewGz(GzConfig{World: "cylinder_inspection"}, r.run)

	err := g.Spawn(context.Background(), "can_0003", core.VariantDefective, core.Position3D{X: -0.92, Y: 0.015, Z: 0.6})
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	call := r.calls[0]
	assert.Equal(t, "gz", call.name)
	assert.Equal(t, "service", call.args[0])
	assert.Equal(t, "/world/cylinder_inspection/create", argAfter(call.args, "-s"))
	assert.Equal(t, "gz.msgs.EntityFactory", argAfter(call.args, "--reqtype"))
	req := argAfter(call.args, "--req")
	assert.Contains(t, req, `sdf_filename: "model://can_dented"`)
	assert.Contains(t, req, `name: "can_0003"`)
	assert.Contains(t, req, "{x: -0.92, y: 0.015, z: 0.6}")
}

func TestGz_SpawnRejectedWithoutTrue(t *testing.T) {
	r := &fakeRunner{output: "data: false\n"}
	g := NewGz(GzConfig{World: "w"}, r.run)

	err := g.Spawn(context.Background(), "can_0001", core.VariantNominal, core.Position3D{})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestGz_MoveAndDelete(t *testing.T) {
	r := &fakeRunner{output: "data: true"}
	g := NewGz(GzConfig{World: "w", Binary: "/opt/gz"}, r.run)

	require.NoError(t, g.Move(context.Background(), "can_0001", core.Position3D{X: 0.5, Y: 0, Z: 0.54}))
	require.NoError(t, g.Delete(context.Background(), "can_0001"))

	require.Len(t, r.calls, 2)
	assert.Equal(t, "/opt/gz", r.calls[0].name)
	assert.Equal(t, "/world/w/set_pose/blocking", argAfter(r.calls[0].args, "-s"))
	assert.True(t, strings.HasPrefix(argAfter(r.calls[0].args, "--req"), `name: "can_0001"`))
	assert.Equal(t, "/world/w/remove", argAfter(r.calls[1].args, "-s"))
	assert.Equal(t, `name: "can_0001", type: 2`, argAfter(r.calls[1].args, "--req"))
}

func TestGz_RunnerErrorPropagates(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	g := NewGz(GzConfig{World: "w"}, r.run)

	err := g.Move(context.Background(), "can_0001", core.Position3D{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "move can_0001")
}
