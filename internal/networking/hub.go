package networking

import (
	"context"
	"errors"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 8

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("snapshot hub closed")

// Envelope carries one encoded frame to subscribers.
type Envelope struct {
	Tick          uint64
	SimulatedTime float64
	Particles     int
	Payload       []byte
}

type subscriber struct {
	id string
	ch chan Envelope
}

// Hub fans encoded frames out to subscribers. A subscriber whose queue is full
// misses the frame instead of stalling the simulation.
type Hub struct {
	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	metrics   *SnapshotMetrics
	latest    Envelope
	published uint64
	closed    bool
}

// NewHub constructs a hub that records deliveries into metrics when non-nil.
func NewHub(metrics *SnapshotMetrics) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), metrics: metrics}
}

// Publish delivers env to every subscriber without blocking.
func (h *Hub) Publish(env Envelope) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = env
	h.published++
	for sub := range h.subs {
		select {
		case sub.ch <- env:
			h.metrics.Observe(sub.id, len(env.Payload))
		default:
			h.metrics.ObserveDrop(sub.id)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it and
// closes the channel; it also runs when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, id string, buffer int) (<-chan Envelope, func(), error) {
	if h == nil {
		return nil, func() {}, ErrHubClosed
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{id: id, ch: make(chan Envelope, buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, func() {}, ErrHubClosed
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stop)
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
			h.metrics.ForgetClient(id)
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-stop:
			}
		}()
	}
	return sub.ch, cancel, nil
}

// Latest returns the most recently published envelope.
func (h *Hub) Latest() (Envelope, bool) {
	if h == nil {
		return Envelope{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.published > 0
}

// Stats returns the number of publications and current subscribers.
func (h *Hub) Stats() (published uint64, subscribers int) {
	if h == nil {
		return 0, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published, len(h.subs)
}

// Close unregisters every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
