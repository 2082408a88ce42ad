package networking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	metrics := NewSnapshotMetrics()
	hub := NewHub(metrics)
	ch, cancel, err := hub.Subscribe(context.Background(), "viewer", 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	hub.Publish(Envelope{Tick: 1, Particles: 3, Payload: []byte{1, 2, 3}})
	select {
	case env := <-ch:
		if env.Tick != 1 || env.Particles != 3 {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for envelope")
	}
	if metrics.BytesPerClient()["viewer"] != 3 {
		t.Fatalf("expected delivery to be recorded, got %+v", metrics.BytesPerClient())
	}
	latest, ok := hub.Latest()
	if !ok || latest.Tick != 1 {
		t.Fatalf("unexpected latest envelope %+v ok=%v", latest, ok)
	}
}

func TestHubDropsWhenSubscriberFallsBehind(t *testing.T) {
	metrics := NewSnapshotMetrics()
	hub := NewHub(metrics)
	ch, cancel, err := hub.Subscribe(context.Background(), "slow", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for tick := uint64(1); tick <= 4; tick++ {
		hub.Publish(Envelope{Tick: tick})
	}
	if got := metrics.DropsPerClient()["slow"]; got != 3 {
		t.Fatalf("expected 3 drops, got %d", got)
	}
	if env := <-ch; env.Tick != 1 {
		t.Fatalf("expected the first queued envelope, got tick %d", env.Tick)
	}
	published, subscribers := hub.Stats()
	if published != 4 || subscribers != 1 {
		t.Fatalf("unexpected stats published=%d subscribers=%d", published, subscribers)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	ctx, stop := context.WithCancel(context.Background())
	ch, _, err := hub.Subscribe(ctx, "ctx", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("context cancellation did not unsubscribe")
	}

	ch2, cancel, err := hub.Subscribe(context.Background(), "manual", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch2; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if _, subscribers := hub.Stats(); subscribers != 0 {
		t.Fatalf("expected no subscribers, got %d", subscribers)
	}
}

func TestHubCloseRejectsSubscribers(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel, err := hub.Subscribe(context.Background(), "viewer", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed by hub shutdown")
	}
	cancel()
	hub.Publish(Envelope{Tick: 1})
	if _, _, err := hub.Subscribe(context.Background(), "late", 1); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}
