package actuator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/OCAP2/conveyor/pkg/core"
)

// SimConfig tunes the in-process simulator.
type SimConfig struct {
	FailureRate float64       // probability that any call fails
	Latency     time.Duration // added to every call
	Seed        int64         // 0 picks a time-based seed
}

// SimObject is one object in the simulated world.
type SimObject struct {
	Variant  core.Variant
	Position core.Position3D
	Moves    int
}

// Sim is an in-process stand-in for the simulator. It keeps object poses in
// memory and can inject failures and latency.
type Sim struct {
	cfg SimConfig

	mu      sync.Mutex
	rng     *rand.Rand
	objects map[string]*SimObject
	calls   map[string]int
}

// NewSim creates an empty simulated world.
func NewSim(cfg SimConfig) *Sim {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sim{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		objects: make(map[string]*SimObject),
		calls:   make(map[string]int),
	}
}

// SetFailureRate changes the injected failure probability at runtime.
func (s *Sim) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.cfg.FailureRate = rate
	s.mu.Unlock()
}

func (s *Sim) Spawn(ctx context.Context, id string, variant core.Variant, pos core.Position3D) error {
	if err := s.begin(ctx, "spawn"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; ok {
		return fmt.Errorf("spawn %s: %w: name in use", id, ErrRejected)
	}
	s.objects[id] = &SimObject{Variant: variant, Position: pos}
	return nil
}

func (s *Sim) Move(ctx context.Context, id string, pos core.Position3D) error {
	if err := s.begin(ctx, "move"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrUnknownEntity)
	}
	obj.Position = pos
	obj.Moves++
	return nil
}

func (s *Sim) Delete(ctx context.Context, id string) error {
	if err := s.begin(ctx, "delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrUnknownEntity)
	}
	delete(s.objects, id)
	return nil
}

// Object returns a copy of the object named id.
func (s *Sim) Object(id string) (SimObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return SimObject{}, false
	}
	return *obj, true
}

// Len returns the number of objects in the world.
func (s *Sim) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Calls returns how many times op was invoked.
func (s *Sim) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// begin applies latency and failure injection shared by every call.
func (s *Sim) begin(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	latency := s.cfg.Latency
	fail := s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return fmt.Errorf("%s: %w: injected failure", op, ErrRejected)
	}
	return nil
}
