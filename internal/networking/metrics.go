package networking

import "sync"

// SnapshotMetrics tracks encoded frame sizes and drops per subscriber.
type SnapshotMetrics struct {
	mu        sync.RWMutex
	bytes     map[string]int64
	delivered map[string]int64
	drops     map[string]int64
	dropTotal int64
}

// NewSnapshotMetrics constructs an empty metrics tracker.
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		bytes:     make(map[string]int64),
		delivered: make(map[string]int64),
		drops:     make(map[string]int64),
	}
}

// Observe records a delivered frame of payloadBytes for the subscriber.
func (m *SnapshotMetrics) Observe(clientID string, payloadBytes int) {
	if m == nil || clientID == "" {
		return
	}
	size := int64(payloadBytes)
	if size < 0 {
		size = 0
	}
	m.mu.Lock()
	m.bytes[clientID] = size
	m.delivered[clientID]++
	m.mu.Unlock()
}

// ObserveDrop records a frame the subscriber missed because its queue was full.
func (m *SnapshotMetrics) ObserveDrop(clientID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if clientID != "" {
		m.drops[clientID]++
	}
	m.dropTotal++
	m.mu.Unlock()
}

// ForgetClient removes the per-subscriber gauges. The global drop total is kept.
func (m *SnapshotMetrics) ForgetClient(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	delete(m.bytes, clientID)
	delete(m.delivered, clientID)
	delete(m.drops, clientID)
	m.mu.Unlock()
}

// BytesPerClient returns a copy of the latest frame size per subscriber.
func (m *SnapshotMetrics) BytesPerClient() map[string]int64 {
	return m.copyOf(func() map[string]int64 { return m.bytes })
}

// DeliveredPerClient returns a copy of the delivered frame counts.
func (m *SnapshotMetrics) DeliveredPerClient() map[string]int64 {
	return m.copyOf(func() map[string]int64 { return m.delivered })
}

// DropsPerClient returns a copy of the dropped frame counts.
func (m *SnapshotMetrics) DropsPerClient() map[string]int64 {
	return m.copyOf(func() map[string]int64 { return m.drops })
}

// DropTotal returns every drop recorded since start, including departed subscribers.
func (m *SnapshotMetrics) DropTotal() int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropTotal
}

func (m *SnapshotMetrics) copyOf(pick func() map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := pick()
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
