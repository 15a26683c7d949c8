// Package websocket implements storage.Backend by streaming a run as JSON
// envelopes over a WebSocket. start_run and end_run wait for the server's
// ack; lifecycle and status messages are fire-and-forget.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/pkg/core"
	"github.com/OCAP2/conveyor/pkg/streaming"
)

// Backend streams run data to a WebSocket server.
type Backend struct {
	conn  *connection
	cfg   config.WebSocketConfig
	runID atomic.Pointer[string]
}

// New creates a WebSocket backend. No connection is made until Init.
func New(cfg config.WebSocketConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("backend", "websocket")),
		cfg:  cfg,
	}
}

// Init dials the server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close closes the connection.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Connected reports whether a socket is currently attached.
func (b *Backend) Connected() bool {
	return b.conn.current() != nil
}

// Dropped returns how many messages were dropped on a full send queue.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) sendEnvelope(msgType string, payload any) error {
	if b.runID.Load() == nil {
		return storage.ErrNoRun
	}
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun announces the run and waits for the ack. The message is kept for
// replay after a reconnect.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.startRunMsg = data
	b.conn.mu.Unlock()

	id := run.ID
	b.runID.Store(&id)
	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun closes the run on the server and waits for the ack.
func (b *Backend) EndRun(end time.Time) error {
	id := b.runID.Load()
	if id == nil {
		return storage.ErrNoRun
	}
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{
		RunID:   *id,
		EndTime: end.UnixMilli(),
	})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)

	b.conn.mu.Lock()
	b.conn.startRunMsg = nil
	b.conn.mu.Unlock()
	b.runID.Store(nil)
	return err
}

// RecordLifecycleEvent streams a lifecycle event.
func (b *Backend) RecordLifecycleEvent(e *core.LifecycleEvent) error {
	return b.sendEnvelope(streaming.TypeLifecycle, e)
}

// RecordStatus streams a status snapshot.
func (b *Backend) RecordStatus(s *core.BeltStatus) error {
	return b.sendEnvelope(streaming.TypeStatus, s)
}
