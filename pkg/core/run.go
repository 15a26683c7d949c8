// pkg/core/run.go
package core

import "time"

// Run is one controller session from process start to shutdown.
type Run struct {
	ID        string            `json:"id"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime,omitempty"`
	Version   string            `json:"version"`
	Actuator  string            `json:"actuator"`
	Settings  map[string]string `json:"settings"`
}

// UploadMetadata describes an exported run file.
type UploadMetadata struct {
	RunID       string
	StartTime   time.Time
	Duration    time.Duration
	EventCount  int
	StatusCount int
}
