package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"cinder/internal/logging"
	"cinder/internal/networking"
	"cinder/internal/replay"
	"cinder/internal/simulation"
)

// ReadinessProvider exposes host state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// Controller applies host commands. *simulation.Engine satisfies it.
type Controller interface {
	ApplyCommand(ctx context.Context, command string) (paused bool, err error)
}

// StatusFunc returns the current simulation counters.
type StatusFunc func() simulation.Status

// FrameFunc returns a copy of the current population.
type FrameFunc func() networking.Frame

// HubStatsFunc reports frame fan-out counters.
type HubStatsFunc func() (published uint64, subscribers int)

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Status       StatusFunc
	Frames       FrameFunc
	Control      Controller
	HubStats     HubStatsFunc
	Snapshots    *networking.SnapshotMetrics
	ReplayStats  func() replay.WriterStats
	StorageStats func() replay.StorageStats
	AdminToken   string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
}

// HandlerSet bundles the host operational handlers.
type HandlerSet struct {
	logger       *logging.Logger
	readiness    ReadinessProvider
	status       StatusFunc
	frames       FrameFunc
	control      Controller
	hubStats     HubStatsFunc
	snapshots    *networking.SnapshotMetrics
	replayStats  func() replay.WriterStats
	storageStats func() replay.StorageStats
	adminToken   string
	rateLimiter  RateLimiter
	now          func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:       logger,
		readiness:    opts.Readiness,
		status:       opts.Status,
		frames:       opts.Frames,
		control:      opts.Control,
		hubStats:     opts.HubStats,
		snapshots:    opts.Snapshots,
		replayStats:  opts.ReplayStats,
		storageStats: opts.StorageStats,
		adminToken:   strings.TrimSpace(opts.AdminToken),
		rateLimiter:  opts.RateLimiter,
		now:          now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/snapshot", h.SnapshotHandler())
	mux.HandleFunc("/control/", h.ControlHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports host readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
		Tick           uint64  `json:"tick"`
		Paused         bool    `json:"paused"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		if h.status != nil {
			sim := h.status()
			resp.Tick = sim.Tick
			resp.Paused = sim.Paused
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			writeMetric(w, "cinder_uptime_seconds", "gauge", "Host uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
			writeMetric(w, "cinder_clients", "gauge", "Current connected WebSocket viewers.", strconv.Itoa(clients))
			writeMetric(w, "cinder_pending_clients", "gauge", "Pending WebSocket handshakes awaiting upgrade.", strconv.Itoa(pending))
		}
		if h.status != nil {
			sim := h.status()
			paused := 0
			if sim.Paused {
				paused = 1
			}
			writeMetric(w, "cinder_simulation_ticks_total", "counter", "Completed simulation ticks.", strconv.FormatUint(sim.Tick, 10))
			writeMetric(w, "cinder_simulated_time_seconds", "gauge", "Simulated seconds since start or the last clock reset.", formatFloat(sim.SimulatedTime))
			writeMetric(w, "cinder_particles", "gauge", "Current particle population.", strconv.Itoa(sim.Particles))
			writeMetric(w, "cinder_paused", "gauge", "Whether ticking is suspended.", strconv.Itoa(paused))
			writeMetric(w, "cinder_paused_steps_total", "counter", "Loop steps skipped while paused.", strconv.Itoa(sim.Timing.Paused))
			fmt.Fprintf(w, "# HELP cinder_step_duration_seconds Wall-clock cost of simulation steps.\n")
			fmt.Fprintf(w, "# TYPE cinder_step_duration_seconds gauge\n")
			fmt.Fprintf(w, "cinder_step_duration_seconds{stat=\"avg\"} %s\n", formatFloat(sim.Timing.Average.Seconds()))
			fmt.Fprintf(w, "cinder_step_duration_seconds{stat=\"max\"} %s\n", formatFloat(sim.Timing.Max.Seconds()))
			fmt.Fprintf(w, "cinder_step_duration_seconds{stat=\"last\"} %s\n", formatFloat(sim.Timing.Last.Seconds()))
		}
		if h.hubStats != nil {
			published, subscribers := h.hubStats()
			writeMetric(w, "cinder_frames_published_total", "counter", "Encoded frames published to subscribers.", strconv.FormatUint(published, 10))
			writeMetric(w, "cinder_stream_subscribers", "gauge", "Active frame stream subscribers.", strconv.Itoa(subscribers))
		}
		if h.snapshots != nil {
			writeClientMetric(w, "cinder_frame_bytes_per_client", "gauge", "Last delivered frame size per subscriber in bytes.", h.snapshots.BytesPerClient())
			writeClientMetric(w, "cinder_frames_delivered_total", "counter", "Frames delivered per subscriber.", h.snapshots.DeliveredPerClient())
			writeClientMetric(w, "cinder_frames_dropped_per_client_total", "counter", "Frames dropped per subscriber because its queue was full.", h.snapshots.DropsPerClient())
			writeMetric(w, "cinder_frames_dropped_total", "counter", "Frames dropped across all subscribers.", strconv.FormatInt(h.snapshots.DropTotal(), 10))
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			writeMetric(w, "cinder_replay_frames_total", "counter", "Frames captured into the replay bundle.", strconv.FormatInt(stats.Frames, 10))
			writeMetric(w, "cinder_replay_frames_skipped_total", "counter", "Frames skipped by the capture interval.", strconv.FormatInt(stats.Skipped, 10))
			writeMetric(w, "cinder_replay_events_total", "counter", "Control events captured into the replay bundle.", strconv.FormatInt(stats.Events, 10))
			writeMetric(w, "cinder_replay_bytes_total", "counter", "Uncompressed frame bytes captured.", strconv.FormatInt(stats.Bytes, 10))
		}
		if h.storageStats != nil {
			stats := h.storageStats()
			writeMetric(w, "cinder_replay_sessions", "gauge", "Replay bundles on disk after the last sweep.", strconv.Itoa(stats.Sessions))
			writeMetric(w, "cinder_replay_storage_bytes", "gauge", "Replay bundle bytes on disk after the last sweep.", strconv.FormatInt(stats.Bytes, 10))
			writeMetric(w, "cinder_replay_sessions_removed_total", "counter", "Replay bundles removed by retention.", strconv.Itoa(stats.Removed))
		}
	}
}

type particleJSON struct {
	Position [3]float64 `json:"position"`
	Velocity [3]float64 `json:"velocity"`
	Age      float64    `json:"age"`
	Color    [3]uint8   `json:"color"`
}

type snapshotJSON struct {
	Tick          uint64         `json:"tick"`
	SimulatedTime float64        `json:"simulated_time"`
	Count         int            `json:"count"`
	Particles     []particleJSON `json:"particles"`
}

// SnapshotHandler returns the current population as JSON. The optional
// limit query parameter caps the number of particles listed.
func (h *HandlerSet) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.frames == nil {
			http.Error(w, "snapshots are unavailable", http.StatusServiceUnavailable)
			return
		}
		limit := -1
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		frame := h.frames()
		particles := frame.Particles
		if limit >= 0 && limit < len(particles) {
			particles = particles[:limit]
		}
		resp := snapshotJSON{
			Tick:          frame.Tick,
			SimulatedTime: frame.SimulatedTime,
			Count:         len(frame.Particles),
			Particles:     make([]particleJSON, 0, len(particles)),
		}
		for _, p := range particles {
			resp.Particles = append(resp.Particles, particleJSON{
				Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
				Velocity: [3]float64{p.Velocity.X, p.Velocity.Y, p.Velocity.Z},
				Age:      p.Age,
				Color:    networking.ColorFor(p.Age),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ControlHandler authorises and applies POST /control/{command}.
func (h *HandlerSet) ControlHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Command       string  `json:"command"`
		Paused        bool    `json:"paused"`
		Tick          uint64  `json:"tick"`
		SimulatedTime float64 `json:"simulated_time"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		command := strings.Trim(strings.TrimPrefix(r.URL.Path, "/control/"), "/")
		reqLogger := h.requestLogger(r).With(
			logging.String("handler", "control"),
			logging.String("command", command),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("control denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("control denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil {
			allowed := h.rateLimiter.Allow()
			if counter, ok := h.rateLimiter.(interface{ Remaining() int }); ok {
				if remaining := counter.Remaining(); remaining >= 0 {
					w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
				}
			}
			if !allowed {
				reqLogger.Warn("control denied: rate limit exceeded")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}
		if h.control == nil {
			reqLogger.Warn("control denied: no controller configured")
			http.Error(w, "host control is unavailable", http.StatusServiceUnavailable)
			return
		}
		paused, err := h.control.ApplyCommand(r.Context(), command)
		if errors.Is(err, simulation.ErrUnknownCommand) {
			http.Error(w, fmt.Sprintf("unknown command %q", command), http.StatusNotFound)
			return
		}
		if err != nil {
			reqLogger.Error("control command failed", logging.Error(err))
			http.Error(w, "failed to apply command", http.StatusInternalServerError)
			return
		}
		resp := response{Status: "ok", Command: command, Paused: paused}
		if h.status != nil {
			sim := h.status()
			resp.Tick = sim.Tick
			resp.SimulatedTime = sim.SimulatedTime
		}
		reqLogger.Info("control command applied", logging.Bool("paused", paused))
		writeJSON(w, http.StatusOK, resp)
	}
}

// requestLogger returns the trace-scoped logger when the request went through
// the trace middleware.
func (h *HandlerSet) requestLogger(r *http.Request) *logging.Logger {
	if logging.TraceIDFromContext(r.Context()) == "" {
		return h.logger
	}
	return logging.LoggerFromContext(r.Context()).With(logging.String("component", "http"))
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeMetric(w http.ResponseWriter, name, kind, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %s\n", name, value)
}

func writeClientMetric(w http.ResponseWriter, name, kind, help string, values map[string]int64) {
	if len(values) == 0 {
		return
	}
	clients := make([]string, 0, len(values))
	for client := range values {
		clients = append(clients, client)
	}
	sort.Strings(clients)
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	for _, client := range clients {
		fmt.Fprintf(w, "%s{client=%q} %d\n", name, client, values[client])
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
