package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinder/internal/logging"
	"cinder/internal/networking"
)

func TestOriginChecker(t *testing.T) {
	withOrigin := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker(nil)
	assert.True(t, open(withOrigin("https://anywhere.example")))
	assert.True(t, originChecker([]string{" * "})(withOrigin("https://anywhere.example")))

	strict := originChecker([]string{"https://viewer.example", ""})
	assert.True(t, strict(withOrigin("HTTPS://viewer.example")))
	assert.True(t, strict(withOrigin("")), "non-browser clients send no origin")
	assert.False(t, strict(withOrigin("https://evil.example")))
}

func newBrokerServer(t *testing.T, hub *networking.Hub, maxClients int) (*Broker, string) {
	t.Helper()
	broker := NewBroker(hub, maxClients, 0, nil, logging.NewTestLogger())
	server := httptest.NewServer(http.HandlerFunc(broker.serveWS))
	t.Cleanup(func() {
		broker.Close()
		server.Close()
	})
	return broker, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBrokerSendsLatestFrameThenLiveFrames(t *testing.T) {
	hub := networking.NewHub(nil)
	hub.Publish(networking.Envelope{Tick: 1, Payload: networking.EncodeFrame(nil, networking.Frame{Tick: 1})})
	broker, url := newBrokerServer(t, hub, 0)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := networking.DecodeFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Tick)

	require.Eventually(t, func() bool {
		clients, _ := broker.SnapshotClientCounts()
		return clients == 1
	}, time.Second, 10*time.Millisecond)
	hub.Publish(networking.Envelope{Tick: 2, Payload: networking.EncodeFrame(nil, networking.Frame{Tick: 2})})

	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	frame, err = networking.DecodeFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), frame.Tick)
}

func TestBrokerEnforcesClientLimit(t *testing.T) {
	hub := networking.NewHub(nil)
	broker, url := newBrokerServer(t, hub, 1)

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool {
		clients, _ := broker.SnapshotClientCounts()
		return clients == 1
	}, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBrokerDropsViewerOnClose(t *testing.T) {
	hub := networking.NewHub(nil)
	broker, url := newBrokerServer(t, hub, 0)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		clients, _ := broker.SnapshotClientCounts()
		return clients == 1
	}, time.Second, 10*time.Millisecond)

	broker.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestBrokerUptimeUsesClock(t *testing.T) {
	now := time.Unix(1000, 0)
	broker := NewBroker(networking.NewHub(nil), 0, 0, nil, nil, WithBrokerClock(func() time.Time { return now }))
	now = now.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, broker.Uptime())
}
