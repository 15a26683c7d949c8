package monitor

import "sync"

// Transition reports a change of the pause state caused by one result.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionPaused
	TransitionRecovered
)

func (t Transition) String() string {
	switch t {
	case TransitionPaused:
		return "paused"
	case TransitionRecovered:
		return "recovered"
	default:
		return "none"
	}
}

// FailureMonitor counts consecutive actuation failures. After threshold
// failures in a row it pauses; the next success resumes.
type FailureMonitor struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	paused      bool
	episodes    uint64
}

// NewFailureMonitor creates a monitor that pauses after threshold consecutive
// failures. Thresholds below 1 are treated as 1.
func NewFailureMonitor(threshold int) *FailureMonitor {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureMonitor{threshold: threshold}
}

// RecordResult feeds one call outcome. The returned transition is
// TransitionPaused or TransitionRecovered exactly once per pause episode.
func (m *FailureMonitor) RecordResult(success bool) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.consecutive = 0
		if m.paused {
			m.paused = false
			return TransitionRecovered
		}
		return TransitionNone
	}

	m.consecutive++
	if m.consecutive >= m.threshold && !m.paused {
		m.paused = true
		m.episodes++
		return TransitionPaused
	}
	return TransitionNone
}

func (m *FailureMonitor) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *FailureMonitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutive
}

// Episodes returns how many times the monitor has entered the paused state.
func (m *FailureMonitor) Episodes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episodes
}

func (m *FailureMonitor) Threshold() int {
	return m.threshold
}
