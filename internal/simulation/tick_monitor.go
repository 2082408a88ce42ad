package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed host step durations.
type TickMetricsSnapshot struct {
	Samples int
	Paused  int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// AverageFPS derives the steps-per-second equivalent of the sampled duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the host loop.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	paused  int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewTickMonitor constructs an empty monitor.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records the wall-clock cost of a completed tick.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// ObservePaused counts a loop step skipped because the simulation was paused.
func (m *TickMonitor) ObservePaused() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.paused++
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	average := time.Duration(0)
	if m.samples > 0 {
		average = m.total / time.Duration(m.samples)
	}
	return TickMetricsSnapshot{Samples: m.samples, Paused: m.paused, Average: average, Max: m.max, Last: m.last}
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.paused = 0, 0
	m.total, m.max, m.last = 0, 0, 0
	m.mu.Unlock()
}
