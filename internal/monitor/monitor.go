package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/conveyor/pkg/core"
)

// StatusProvider produces the controller's current status.
type StatusProvider interface {
	Status() core.BeltStatus
}

// StatusRecorder persists status snapshots; storage backends satisfy it.
type StatusRecorder interface {
	RecordStatus(s *core.BeltStatus) error
}

// MetricsWriter exports status snapshots as metrics; influx.Manager satisfies it.
type MetricsWriter interface {
	WriteStatus(ctx context.Context, runID string, st core.BeltStatus) error
}

// Dependencies holds all dependencies for the monitor service.
// Recorder, Metrics and StatusFile are optional.
type Dependencies struct {
	Provider   StatusProvider
	Recorder   StatusRecorder
	Metrics    MetricsWriter
	Logger     *slog.Logger
	Interval   time.Duration
	StatusFile string
	RunID      string
}

// Service periodically snapshots the controller status.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	lastMu sync.RWMutex
	last   core.BeltStatus
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the most recent snapshot.
func (s *Service) GetStatus() core.BeltStatus {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Collect takes one snapshot and writes it to every configured sink.
// Sink errors are logged; the snapshot is returned regardless.
func (s *Service) Collect(ctx context.Context) core.BeltStatus {
	st := s.deps.Provider.Status()

	s.lastMu.Lock()
	s.last = st
	s.lastMu.Unlock()

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordStatus(&st); err != nil {
			s.deps.Logger.Error("Error recording status", "error", err)
		}
	}
	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.WriteStatus(ctx, s.deps.RunID, st); err != nil {
			s.deps.Logger.Warn("Error writing status metrics", "error", err)
		}
	}
	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, st); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}

	s.deps.Logger.Debug("Status",
		"tracked", st.Tracked,
		"paused", st.Paused,
		"consecutiveFailures", st.ConsecutiveFailures,
		"spawned", st.Spawned,
	)
	return st
}

// writeStatusFile replaces the status file with the indented JSON snapshot.
func writeStatusFile(path string, st core.BeltStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Start starts the status monitor goroutine
func (s *Service) Start(ctx context.Context) error {
	if s.deps.Provider == nil {
		return fmt.Errorf("monitor: no status provider")
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Collect(context.WithoutCancel(ctx))
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and takes a final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	s.Collect(context.Background())
}
