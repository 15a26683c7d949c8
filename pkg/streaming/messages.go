// Package streaming defines the JSON envelopes a conveyor run is streamed as.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/conveyor/pkg/core"
)

// Message type constants of the streaming protocol.
const (
	TypeStartRun  = "start_run"
	TypeEndRun    = "end_run"
	TypeLifecycle = "lifecycle"
	TypeStatus    = "status"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload announces a run and the settings it runs with.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// EndRunPayload closes a run.
type EndRunPayload struct {
	RunID   string `json:"runId"`
	EndTime int64  `json:"endTime"` // unix millis
}
