// internal/storage/storage.go
package storage

import (
	"errors"
	"time"

	"github.com/OCAP2/conveyor/pkg/core"
)

// ErrNoRun is returned when data is recorded before StartRun.
var ErrNoRun = errors.New("no run started")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun(end time.Time) error

	// Recording
	RecordLifecycleEvent(e *core.LifecycleEvent) error
	RecordStatus(s *core.BeltStatus) error
}

// Uploadable is an optional interface for storage backends that produce
// a run file on EndRun.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// Multi fans every call out to several backends. Errors are joined; one
// failing backend does not stop the others.
type Multi []Backend

func (m Multi) each(fn func(Backend) error) error {
	var errs []error
	for _, b := range m {
		if err := fn(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Init() error  { return m.each(Backend.Init) }
func (m Multi) Close() error { return m.each(Backend.Close) }

func (m Multi) StartRun(run *core.Run) error {
	return m.each(func(b Backend) error { return b.StartRun(run) })
}

func (m Multi) EndRun(end time.Time) error {
	return m.each(func(b Backend) error { return b.EndRun(end) })
}

func (m Multi) RecordLifecycleEvent(e *core.LifecycleEvent) error {
	return m.each(func(b Backend) error { return b.RecordLifecycleEvent(e) })
}

func (m Multi) RecordStatus(s *core.BeltStatus) error {
	return m.each(func(b Backend) error { return b.RecordStatus(s) })
}
