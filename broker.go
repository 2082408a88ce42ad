package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cinder/internal/logging"
	"cinder/internal/networking"
)

const (
	writeWait       = 5 * time.Second
	maxInboundBytes = 512
)

// Client is one websocket viewer receiving binary frames.
type Client struct {
	conn   *websocket.Conn
	id     string
	frames <-chan networking.Envelope
	cancel func()
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithBrokerClock overrides the uptime clock; used by tests.
func WithBrokerClock(clock func() time.Time) BrokerOption {
	return func(b *Broker) {
		if b != nil && clock != nil {
			b.now = clock
			b.started = clock()
		}
	}
}

// Broker upgrades viewer connections and relays hub frames to them as binary
// websocket messages.
type Broker struct {
	hub             *networking.Hub
	log             *logging.Logger
	upgrader        websocket.Upgrader
	wsAuthenticator websocketAuthenticator
	maxClients      int
	pingInterval    time.Duration
	now             func() time.Time
	started         time.Time
	nextID          atomic.Uint64

	mu         sync.Mutex
	clients    map[*Client]struct{}
	pending    int
	startupErr error
}

// NewBroker wires a broker to the frame hub.
func NewBroker(hub *networking.Hub, maxClients int, pingInterval time.Duration, allowedOrigins []string, logger *logging.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = logging.L()
	}
	b := &Broker{
		hub:             hub,
		log:             logger,
		wsAuthenticator: allowAllAuthenticator{},
		maxClients:      maxClients,
		pingInterval:    pingInterval,
		now:             time.Now,
		clients:         make(map[*Client]struct{}),
	}
	b.started = b.now()
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// originChecker accepts every origin when the allow list is empty or holds "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := b.log.With(logging.String("remote_addr", r.RemoteAddr))

	//1.- Authenticate before spending a slot on the viewer.
	subject, err := b.wsAuthenticator.Authenticate(r)
	if err != nil {
		reqLogger.Warn("websocket auth rejected", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	//2.- Reserve a slot so concurrent handshakes cannot exceed the cap.
	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients)+b.pending >= b.maxClients {
		b.mu.Unlock()
		reqLogger.Warn("websocket rejected: client limit reached", logging.Int("max_clients", b.maxClients))
		http.Error(w, "too many viewers", http.StatusServiceUnavailable)
		return
	}
	b.pending++
	b.mu.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.releasePending()
		reqLogger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	//3.- Subscribe to the hub; the subscription lives as long as the socket.
	id := fmt.Sprintf("ws-%d-%s", b.nextID.Add(1), subject)
	frames, cancel, err := b.hub.Subscribe(context.Background(), id, networking.DefaultSubscriberBuffer)
	if err != nil {
		b.releasePending()
		reqLogger.Warn("websocket subscribe failed", logging.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	client := &Client{conn: conn, id: id, frames: frames, cancel: cancel}
	b.mu.Lock()
	b.pending--
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	reqLogger.Info("viewer connected", logging.String("client_id", id))

	go b.readPump(client)
	go b.writePump(client)
}

func (b *Broker) releasePending() {
	b.mu.Lock()
	b.pending--
	b.mu.Unlock()
}

// readPump drains inbound messages so pongs and close frames are processed.
func (b *Broker) readPump(client *Client) {
	defer b.unregister(client)
	client.conn.SetReadLimit(maxInboundBytes)
	if b.pingInterval > 0 {
		deadline := 2 * b.pingInterval
		_ = client.conn.SetReadDeadline(time.Now().Add(deadline))
		client.conn.SetPongHandler(func(string) error {
			return client.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("viewer read ended", logging.String("client_id", client.id), logging.Error(err))
			}
			return
		}
	}
}

// writePump forwards frames and keepalive pings until the subscription ends.
func (b *Broker) writePump(client *Client) {
	var pings <-chan time.Time
	if b.pingInterval > 0 {
		ticker := time.NewTicker(b.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer client.conn.Close()
	//1.- Late joiners see the current population before the next publish.
	if latest, ok := b.hub.Latest(); ok {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.BinaryMessage, latest.Payload); err != nil {
			client.cancel()
			return
		}
	}
	for {
		select {
		case env, ok := <-client.frames:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := client.conn.WriteMessage(websocket.BinaryMessage, env.Payload); err != nil {
				b.log.Debug("viewer write failed", logging.String("client_id", client.id), logging.Error(err))
				client.cancel()
				return
			}
		case <-pings:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.cancel()
				return
			}
		}
	}
}

func (b *Broker) unregister(client *Client) {
	client.cancel()
	b.mu.Lock()
	_, ok := b.clients[client]
	delete(b.clients, client)
	b.mu.Unlock()
	if ok {
		b.log.Info("viewer disconnected", logging.String("client_id", client.id))
	}
}

// SnapshotClientCounts reports connected and handshaking viewers.
func (b *Broker) SnapshotClientCounts() (clients, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients), b.pending
}

// SetStartupError marks the host as not ready.
func (b *Broker) SetStartupError(err error) {
	b.mu.Lock()
	b.startupErr = err
	b.mu.Unlock()
}

// StartupError reports a failure that keeps the host from being ready.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration {
	return b.now().Sub(b.started)
}

// Close disconnects every viewer.
func (b *Broker) Close() {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.Unlock()
	for _, client := range clients {
		client.cancel()
	}
}
