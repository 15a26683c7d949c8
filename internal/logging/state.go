package logging

import (
	"context"
	"log/slog"
)

// StateProvider returns attributes describing the controller at call time.
type StateProvider func() []slog.Attr

// BeltState reports the tracked entity count and pause flag.
func BeltState(tracked func() int, paused func() bool) StateProvider {
	return func() []slog.Attr {
		return []slog.Attr{
			slog.Int("tracked", tracked()),
			slog.Bool("paused", paused()),
		}
	}
}

// StateHandler wraps another handler and adds the provider's attributes to
// each record it handles.
type StateHandler struct {
	inner    slog.Handler
	provider StateProvider
}

// NewStateHandler creates a StateHandler around inner.
func NewStateHandler(inner slog.Handler, provider StateProvider) *StateHandler {
	return &StateHandler{inner: inner, provider: provider}
}

func (h *StateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *StateHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *StateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StateHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *StateHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &StateHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
