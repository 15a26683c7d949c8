// Package dispatcher routes belt lifecycle events to registered handlers,
// optionally through per-kind queues drained by their own goroutine.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/conveyor/pkg/core"
)

const instrumentationName = "github.com/OCAP2/conveyor/internal/dispatcher"

// Event wraps a lifecycle event produced by the belt controller.
type Event struct {
	Kind      core.LifecycleKind
	Lifecycle core.LifecycleEvent
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Stats counts buffered events since the dispatcher was created.
type Stats struct {
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[core.LifecycleKind]HandlerFunc
	logger   Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter

	nProcessed atomic.Uint64
	nFailed    atomic.Uint64
	nDropped   atomic.Uint64

	mu      sync.RWMutex
	buffers map[core.LifecycleKind]chan Event
	closed  bool
	wg      sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[core.LifecycleKind]HandlerFunc),
		buffers:  make(map[core.LifecycleKind]chan Event),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"conveyor.dispatcher.queue.size",
		metric.WithDescription("Lifecycle events waiting in each queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for kind, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("kind", string(kind))))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"conveyor.dispatcher.events.processed",
		metric.WithDescription("Queued lifecycle events handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"conveyor.dispatcher.events.failed",
		metric.WithDescription("Queued lifecycle events whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"conveyor.dispatcher.events.dropped",
		metric.WithDescription("Lifecycle events dropped on a full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind with optional configuration.
// Registration must finish before events are dispatched. A logged, buffered
// handler logs when the queued event is handled, not when it is queued.
func (d *Dispatcher) Register(kind core.LifecycleKind, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(kind, cfg.bufferSize, cfg.blocking, cfg.logged, handler)
	}

	d.handlers[kind] = handler
}

// Stats returns the buffered event counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.nProcessed.Load(),
		Failed:    d.nFailed.Load(),
		Dropped:   d.nDropped.Load(),
	}
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind: %s", e.Kind)
	}
	return h(e)
}

// Emit dispatches a lifecycle event. Kinds without a handler are ignored;
// handler errors are logged.
func (d *Dispatcher) Emit(ev core.LifecycleEvent) {
	if !d.HasHandler(ev.Kind) {
		return
	}
	if _, err := d.Dispatch(Event{Kind: ev.Kind, Lifecycle: ev, Timestamp: ev.Time}); err != nil {
		d.logger.Error("emit failed", "kind", ev.Kind, "error", err)
	}
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind core.LifecycleKind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Close stops accepting buffered events and waits until every queued
// event has been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(kind core.LifecycleKind, size int, blocking, logged bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[kind] = buffer
	d.mu.Unlock()

	kindAttr := attribute.String("kind", string(kind))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if _, err := h(e); err != nil {
				d.nFailed.Add(1)
				d.failed.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
				if !logged {
					d.logger.Error("queued event failed", "kind", kind, "entity", e.Lifecycle.EntityID, "error", err)
				}
			}
			d.nProcessed.Add(1)
			d.processed.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
		}
	}()

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, fmt.Errorf("dispatcher closed: %s", kind)
		}

		if blocking {
			buffer <- e
			return "queued", nil
		}

		select {
		case buffer <- e:
			return "queued", nil
		default:
			d.nDropped.Add(1)
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
			return nil, fmt.Errorf("queue full: %s", kind)
		}
	}
}

func (d *Dispatcher) withLogging(kind core.LifecycleKind, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "kind", kind, "entity", e.Lifecycle.EntityID)

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "kind", kind, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "kind", kind, "duration", time.Since(start))
		}

		return result, err
	}
}
