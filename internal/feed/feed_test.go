package feed

import (
	"context"
	"encoding/json"
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
	"cinder/internal/physics"
	"cinder/internal/simulation"
)

var (
	_ Source = (*Local)(nil)
	_ Source = (*Remote)(nil)
)

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:43127":            "ws://127.0.0.1:43127/ws",
		"ws://example.com":           "ws://example.com/ws",
		"http://example.com:80/":     "ws://example.com:80/ws",
		"https://example.com/stream": "wss://example.com/stream",
	}
	for raw, want := range cases {
		got, err := StreamURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got.String(), raw)
	}
	for _, raw := range []string{"", "   ", "ftp://example.com", "ws://"} {
		_, err := StreamURL(raw)
		assert.Error(t, err, raw)
	}
}

func TestLocalRunsEngine(t *testing.T) {
	cfg := simulation.DefaultEngineConfig()
	local, err := NewLocal(cfg, simulation.WithLogger(logging.NewTestLogger()))
	require.NoError(t, err)
	defer local.Close()

	frame, ok := local.Latest()
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(frame.Particles), cfg.SeedCount)

	paused, err := local.Command(context.Background(), "pause")
	require.NoError(t, err)
	assert.True(t, paused)
	assert.True(t, local.Engine().Paused())
}

type fakeHost struct {
	frame    networking.Frame
	token    string
	commands chan string
	// hangUp closes each stream right after the frames are written.
	hangUp bool
}

func (f *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if f.token != "" && r.URL.Query().Get("auth_token") != f.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xff})
		_ = conn.WriteMessage(websocket.BinaryMessage, networking.EncodeFrame(nil, f.frame))
		if f.hangUp {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/control/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		command := strings.TrimPrefix(r.URL.Path, "/control/")
		f.commands <- command
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "command": command, "paused": command == "pause"})
	})
	return mux
}

func TestRemoteReceivesFramesAndSendsCommands(t *testing.T) {
	host := &fakeHost{
		frame: networking.Frame{
			Tick:          7,
			SimulatedTime: 0.105,
			Particles:     []physics.State{{Position: physics.Vec3{Y: 0.5}, Velocity: physics.Vec3{Y: 3}, Age: 0.2}},
		},
		token:    "viewer",
		commands: make(chan string, 1),
	}
	server := httptest.NewServer(host.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	remote, err := DialRemote(ctx, RemoteOptions{
		URL:         server.URL,
		ViewerToken: "viewer",
		AdminToken:  "admin",
		Logger:      logging.NewTestLogger(),
	})
	require.NoError(t, err)
	defer remote.Close()

	require.Eventually(t, func() bool {
		_, ok := remote.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	frame, _ := remote.Latest()
	assert.Equal(t, uint64(7), frame.Tick)
	require.Len(t, frame.Particles, 1)
	assert.Equal(t, host.frame.Particles[0], frame.Particles[0])

	paused, err := remote.Command(ctx, " Pause ")
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, "pause", <-host.commands)

	_, err = remote.Command(ctx, "")
	assert.ErrorIs(t, err, ErrCommandRejected)
}

func TestRemoteCommandWithoutAdminToken(t *testing.T) {
	host := &fakeHost{commands: make(chan string, 1)}
	server := httptest.NewServer(host.handler())
	defer server.Close()

	remote, err := DialRemote(context.Background(), RemoteOptions{URL: server.URL, Logger: logging.NewTestLogger()})
	require.NoError(t, err)
	defer remote.Close()

	_, err = remote.Command(context.Background(), "toggle")
	assert.ErrorIs(t, err, ErrCommandRejected)
}

func TestDialRemoteReportsRejectedToken(t *testing.T) {
	host := &fakeHost{token: "viewer", commands: make(chan string, 1)}
	server := httptest.NewServer(host.handler())
	defer server.Close()

	_, err := DialRemote(context.Background(), RemoteOptions{URL: server.URL, Logger: logging.NewTestLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRemoteDoneAfterHostCloses(t *testing.T) {
	host := &fakeHost{commands: make(chan string, 1), hangUp: true}
	server := httptest.NewServer(host.handler())
	defer server.Close()

	remote, err := DialRemote(context.Background(), RemoteOptions{URL: server.URL, Logger: logging.NewTestLogger()})
	require.NoError(t, err)

	select {
	case <-remote.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after host closed")
	}
	assert.Error(t, remote.Err())
	remote.Close()
}
