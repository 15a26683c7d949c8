// Package handlers connects lifecycle events from the dispatcher to storage
// and metrics.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/OCAP2/conveyor/internal/dispatcher"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/pkg/core"
)

// EventWriter exports lifecycle events as metrics; influx.Manager satisfies it.
type EventWriter interface {
	WriteEvent(ctx context.Context, runID string, ev core.LifecycleEvent) error
}

// Dependencies holds all dependencies needed by handlers.
// Metrics is optional.
type Dependencies struct {
	Backend storage.Backend
	Metrics EventWriter
	Logger  *slog.Logger
	RunID   string
}

// Service records lifecycle events.
type Service struct {
	deps     Dependencies
	recorded atomic.Uint64
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// Recorded returns how many events reached the storage backend.
func (s *Service) Recorded() uint64 {
	return s.recorded.Load()
}

// RegisterHandlers registers a handler for every lifecycle kind.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	// High-volume entity events - buffered, dropped on overflow
	d.Register(core.KindSpawned, s.handleLifecycle, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(core.KindRemoved, s.handleLifecycle, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(core.KindSpawnFailed, s.handleLifecycle, dispatcher.Buffered(500), dispatcher.Logged())

	// Pause transitions are rare and must not be lost
	d.Register(core.KindPaused, s.handleLifecycle, dispatcher.Buffered(16), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(core.KindRecovered, s.handleLifecycle, dispatcher.Buffered(16), dispatcher.Blocking(), dispatcher.Logged())
}

func (s *Service) handleLifecycle(e dispatcher.Event) (any, error) {
	ev := e.Lifecycle
	if s.deps.Backend != nil {
		if err := s.deps.Backend.RecordLifecycleEvent(&ev); err != nil {
			return nil, fmt.Errorf("failed to record %s event: %w", e.Kind, err)
		}
		s.recorded.Add(1)
	}
	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.WriteEvent(context.Background(), s.deps.RunID, ev); err != nil {
			s.deps.Logger.Warn("Error writing event metrics", "kind", e.Kind, "error", err)
		}
	}
	return nil, nil
}
