package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cinder/internal/logging"
	"cinder/internal/networking"
)

const (
	defaultStreamPath = "/ws"
	controlTimeout    = 5 * time.Second
)

// RemoteOptions configures a connection to a running host.
type RemoteOptions struct {
	// URL is the websocket stream, e.g. ws://127.0.0.1:43127/ws. A bare
	// host:port is accepted.
	URL string
	// ViewerToken is sent as auth_token when the host checks viewer tokens.
	ViewerToken string
	// AdminToken authorises control commands.
	AdminToken string
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Remote follows a host's websocket stream and forwards commands to its
// control endpoint.
type Remote struct {
	conn       *websocket.Conn
	controlURL *url.URL
	adminToken string
	client     *http.Client
	log        *logging.Logger

	mu     sync.Mutex
	latest networking.Frame
	have   bool
	err    error
	done   chan struct{}
}

// StreamURL normalises raw into a websocket URL with the stream path.
func StreamURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty host address")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse host address: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host address %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultStreamPath
	}
	return u, nil
}

// DialRemote connects to the host stream and starts reading frames.
func DialRemote(ctx context.Context, opts RemoteOptions) (*Remote, error) {
	streamURL, err := StreamURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(opts.ViewerToken); token != "" {
		query := streamURL.Query()
		query.Set("auth_token", token)
		streamURL.RawQuery = query.Encode()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, streamURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", streamURL.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", streamURL.Redacted(), err)
	}

	//1.- The control endpoint lives on the same listener as the stream.
	control := *streamURL
	control.RawQuery = ""
	control.Path = "/control/"
	if control.Scheme == "wss" {
		control.Scheme = "https"
	} else {
		control.Scheme = "http"
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: controlTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	r := &Remote{
		conn:       conn,
		controlURL: &control,
		adminToken: strings.TrimSpace(opts.AdminToken),
		client:     client,
		log:        logger,
		done:       make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	defer close(r.done)
	for {
		kind, payload, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("stream read ended", logging.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		frame, err := networking.DecodeFrame(payload)
		if err != nil {
			r.log.Warn("dropping malformed frame", logging.Error(err))
			continue
		}
		r.mu.Lock()
		r.latest = frame
		r.have = true
		r.mu.Unlock()
	}
}

func (r *Remote) Latest() (networking.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.have
}

// Err reports why the stream ended, if it has.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed once the stream stops delivering frames.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Command posts command to the host control endpoint.
func (r *Remote) Command(ctx context.Context, command string) (bool, error) {
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" {
		return false, fmt.Errorf("%w: empty command", ErrCommandRejected)
	}
	target := *r.controlURL
	target.Path += url.PathEscape(command)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return false, err
	}
	if r.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.adminToken)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post %s: %w", command, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %s returned %d", ErrCommandRejected, command, resp.StatusCode)
	}
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode %s response: %w", command, err)
	}
	return body.Paused, nil
}

// Close ends the stream and waits for the reader to exit.
func (r *Remote) Close() error {
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "viewer closed"),
		time.Now().Add(time.Second))
	err := r.conn.Close()
	<-r.done
	return err
}
