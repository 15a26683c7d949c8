// Package actuator issues spawn, move and delete commands to the simulator
// hosting the conveyor belt.
package actuator

import (
	"context"
	"errors"

	"github.com/OCAP2/conveyor/pkg/core"
)

var (
	// ErrTimeout is returned when a call exceeds its bound.
	ErrTimeout = errors.New("actuator call timed out")

	// ErrUnknownEntity is returned when the simulator has no entity with the given id.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrRejected is returned when the simulator answers but refuses the request.
	ErrRejected = errors.New("request rejected by simulator")
)

// Actuator performs the simulator-side effects for one can.
// A nil error means the call succeeded; any error is a failed call.
type Actuator interface {
	Spawn(ctx context.Context, id string, variant core.Variant, pos core.Position3D) error
	Move(ctx context.Context, id string, pos core.Position3D) error
	Delete(ctx context.Context, id string) error
}
