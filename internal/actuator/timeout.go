package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/conveyor/pkg/core"
)

// Timeouts bounds each kind of call. config.ActuatorConfig.Validate
// rejects the non-positive values that would leave a call unbounded.
type Timeouts struct {
	Spawn  time.Duration
	Move   time.Duration
	Delete time.Duration
}

type bounded struct {
	next     Actuator
	timeouts Timeouts
}

// WithTimeouts wraps a so that every call returns within its bound even if a
// ignores its context. A call that hits the bound returns ErrTimeout.
func WithTimeouts(a Actuator, t Timeouts) Actuator {
	return &bounded{next: a, timeouts: t}
}

func (b *bounded) Spawn(ctx context.Context, id string, variant core.Variant, pos core.Position3D) error {
	return call(ctx, "spawn", id, b.timeouts.Spawn, func(ctx context.Context) error {
		return b.next.Spawn(ctx, id, variant, pos)
	})
}

func (b *bounded) Move(ctx context.Context, id string, pos core.Position3D) error {
	return call(ctx, "move", id, b.timeouts.Move, func(ctx context.Context) error {
		return b.next.Move(ctx, id, pos)
	})
}

func (b *bounded) Delete(ctx context.Context, id string) error {
	return call(ctx, "delete", id, b.timeouts.Delete, func(ctx context.Context) error {
		return b.next.Delete(ctx, id)
	})
}

func call(ctx context.Context, op, id string, limit time.Duration, fn func(context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	// buffered so a late result never blocks the abandoned goroutine
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s after %s: %w", op, id, limit, ErrTimeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s after %s: %w", op, id, limit, ErrTimeout)
		}
		return ctx.Err()
	}
}
