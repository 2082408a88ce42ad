package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultAddr is the default TCP address the HTTP and websocket server listens on.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the default address of the snapshot stream.
	DefaultGRPCAddr = ":43128"
	// DisabledAddr turns the gRPC listener off when used as its address.
	DisabledAddr = "off"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 64
	// DefaultBroadcastHz caps how often snapshots are pushed to viewers.
	DefaultBroadcastHz = 30.0

	// DefaultControlWindow bounds how frequently control commands may be issued.
	DefaultControlWindow = time.Second
	// DefaultControlBurst sets how many control commands may be made per window.
	DefaultControlBurst = 10

	// DefaultGravity is the downward acceleration applied to every particle.
	DefaultGravity = 9.8
	// DefaultRestitution scales the vertical speed after a ground bounce.
	DefaultRestitution = 0.1
	// DefaultDamping scales the horizontal speed after a ground bounce.
	DefaultDamping = 0.1
	// DefaultMaxPopulation stops growth once reached.
	DefaultMaxPopulation = 5000
	// DefaultSpawnBatch is the number of particles added per growing tick.
	DefaultSpawnBatch = 20
	// DefaultMaxLifetime is the age in simulated seconds at which particles respawn.
	DefaultMaxLifetime = 5.0
	// DefaultTimestep is the fixed simulated step per tick.
	DefaultTimestep = 0.015
	// DefaultSeedCount is the initial population.
	DefaultSeedCount = 10
	// DefaultSeed drives the spawn randomness.
	DefaultSeed int64 = 1
	// DefaultTrailScale is the velocity multiplier used to draw trails.
	DefaultTrailScale = 0.04
	// DefaultTargetHz is the wall-clock tick rate of the host loop.
	DefaultTargetHz = 60.0

	// DefaultLogLevel controls verbosity for logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "cinder.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultReplayFrameInterval is how often a snapshot frame is captured while recording.
	DefaultReplayFrameInterval = 100 * time.Millisecond
	// DefaultReplayMaxSessions keeps the newest capture bundles. Zero keeps all.
	DefaultReplayMaxSessions = 20
	// DefaultReplayMaxAge removes bundles older than a week. Zero disables the check.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval is the cadence of the retention sweep.
	DefaultReplaySweepInterval = 10 * time.Minute
	// DefaultGRPCEncoding compresses frames on the gRPC stream.
	DefaultGRPCEncoding = "gzip"
)

// Config captures all runtime tunables for the cinder service.
type Config struct {
	Address           string
	GRPCAddress       string
	AllowedOrigins    []string
	PingInterval      time.Duration
	MaxClients        int
	BroadcastHz       float64
	AdminToken        string
	GRPCSharedSecret  string
	GRPCEncoding      string
	// ViewerTokenSecret enables HMAC token checks on the websocket stream when set.
	ViewerTokenSecret string
	ControlWindow     time.Duration
	ControlBurst      int
	Simulation        SimulationConfig
	Logging           LoggingConfig
	Replay            ReplayConfig
}

// SimulationConfig holds the physics constants and population policy.
type SimulationConfig struct {
	Gravity       float64
	Restitution   float64
	Damping       float64
	MaxPopulation int
	SpawnBatch    int
	MaxLifetime   float64
	Timestep      float64
	SeedCount     int
	Seed          int64
	TrailScale    float64
	TargetHz      float64
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ReplayConfig controls the optional capture of frames and control events.
type ReplayConfig struct {
	Dir           string
	FrameInterval time.Duration
	MaxSessions   int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// GRPCEnabled reports whether the snapshot stream listener should start.
func (c *Config) GRPCEnabled() bool {
	addr := strings.TrimSpace(c.GRPCAddress)
	return addr != "" && !strings.EqualFold(addr, DisabledAddr)
}

// Enabled reports whether capture is configured.
func (r ReplayConfig) Enabled() bool {
	return strings.TrimSpace(r.Dir) != ""
}

// fileConfig mirrors the TOML layout. Durations are strings so they read as "30s".
type fileConfig struct {
	Server struct {
		Address          string   `toml:"address"`
		GRPCAddress      string   `toml:"grpc_address"`
		AllowedOrigins   []string `toml:"allowed_origins"`
		PingInterval     string   `toml:"ping_interval"`
		MaxClients       *int     `toml:"max_clients"`
		BroadcastHz      *float64 `toml:"broadcast_hz"`
		AdminToken       string   `toml:"admin_token"`
		GRPCSharedSecret string   `toml:"grpc_shared_secret"`
		ViewerSecret     string   `toml:"viewer_token_secret"`
		GRPCEncoding     string   `toml:"grpc_encoding"`
	} `toml:"server"`
	Simulation struct {
		Gravity       *float64 `toml:"gravity"`
		Restitution   *float64 `toml:"restitution"`
		Damping       *float64 `toml:"damping"`
		MaxPopulation *int     `toml:"max_population"`
		SpawnBatch    *int     `toml:"spawn_batch_size"`
		MaxLifetime   *float64 `toml:"max_lifetime"`
		Timestep      *float64 `toml:"dt"`
		SeedCount     *int     `toml:"seed_count"`
		Seed          *int64   `toml:"seed"`
		TrailScale    *float64 `toml:"trail_scale"`
		TargetHz      *float64 `toml:"target_hz"`
	} `toml:"simulation"`
	Logging struct {
		Level    string `toml:"level"`
		Path     string `toml:"path"`
		Compress *bool  `toml:"compress"`
	} `toml:"logging"`
	Replay struct {
		Dir           string `toml:"dir"`
		FrameInterval string `toml:"frame_interval"`
		MaxSessions   *int   `toml:"max_sessions"`
		MaxAge        string `toml:"max_age"`
		SweepInterval string `toml:"sweep_interval"`
	} `toml:"replay"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Address:       DefaultAddr,
		GRPCAddress:   DefaultGRPCAddr,
		GRPCEncoding:  DefaultGRPCEncoding,
		PingInterval:  DefaultPingInterval,
		MaxClients:    DefaultMaxClients,
		BroadcastHz:   DefaultBroadcastHz,
		ControlWindow: DefaultControlWindow,
		ControlBurst:  DefaultControlBurst,
		Simulation: SimulationConfig{
			Gravity:       DefaultGravity,
			Restitution:   DefaultRestitution,
			Damping:       DefaultDamping,
			MaxPopulation: DefaultMaxPopulation,
			SpawnBatch:    DefaultSpawnBatch,
			MaxLifetime:   DefaultMaxLifetime,
			Timestep:      DefaultTimestep,
			SeedCount:     DefaultSeedCount,
			Seed:          DefaultSeed,
			TrailScale:    DefaultTrailScale,
			TargetHz:      DefaultTargetHz,
		},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		Replay: ReplayConfig{
			FrameInterval: DefaultReplayFrameInterval,
			MaxSessions:   DefaultReplayMaxSessions,
			MaxAge:        DefaultReplayMaxAge,
			SweepInterval: DefaultReplaySweepInterval,
		},
	}
}

// Load reads the configuration file named by CINDER_CONFIG, when set, and then
// applies CINDER_* environment overrides. Every invalid value is reported in a
// single error.
func Load() (*Config, error) {
	cfg := Default()
	var problems []string

	//1.- The file provides the base layer.
	if path := strings.TrimSpace(os.Getenv("CINDER_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		problems = append(problems, applyFile(cfg, data)...)
	}

	//2.- Environment variables win over the file.
	problems = append(problems, applyEnv(cfg)...)

	//3.- Cross-field checks run on the merged result.
	problems = append(problems, cfg.validate()...)

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	problems := applyFile(cfg, data)
	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func applyFile(cfg *Config, data []byte) []string {
	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return []string{fmt.Sprintf("config file: %v", err)}
	}
	var problems []string

	server := file.Server
	setString(&cfg.Address, server.Address)
	setString(&cfg.GRPCAddress, server.GRPCAddress)
	if len(server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = server.AllowedOrigins
	}
	if server.PingInterval != "" {
		duration, err := time.ParseDuration(server.PingInterval)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("server.ping_interval must be a positive duration, got %q", server.PingInterval))
		} else {
			cfg.PingInterval = duration
		}
	}
	setInt(&cfg.MaxClients, server.MaxClients)
	setFloat(&cfg.BroadcastHz, server.BroadcastHz)
	setString(&cfg.AdminToken, server.AdminToken)
	setString(&cfg.GRPCSharedSecret, server.GRPCSharedSecret)
	setString(&cfg.ViewerTokenSecret, server.ViewerSecret)
	setString(&cfg.GRPCEncoding, server.GRPCEncoding)

	sim := file.Simulation
	setFloat(&cfg.Simulation.Gravity, sim.Gravity)
	setFloat(&cfg.Simulation.Restitution, sim.Restitution)
	setFloat(&cfg.Simulation.Damping, sim.Damping)
	setInt(&cfg.Simulation.MaxPopulation, sim.MaxPopulation)
	setInt(&cfg.Simulation.SpawnBatch, sim.SpawnBatch)
	setFloat(&cfg.Simulation.MaxLifetime, sim.MaxLifetime)
	setFloat(&cfg.Simulation.Timestep, sim.Timestep)
	setInt(&cfg.Simulation.SeedCount, sim.SeedCount)
	if sim.Seed != nil {
		cfg.Simulation.Seed = *sim.Seed
	}
	setFloat(&cfg.Simulation.TrailScale, sim.TrailScale)
	setFloat(&cfg.Simulation.TargetHz, sim.TargetHz)

	setString(&cfg.Logging.Level, file.Logging.Level)
	setString(&cfg.Logging.Path, file.Logging.Path)
	if file.Logging.Compress != nil {
		cfg.Logging.Compress = *file.Logging.Compress
	}

	setString(&cfg.Replay.Dir, file.Replay.Dir)
	if file.Replay.FrameInterval != "" {
		duration, err := time.ParseDuration(file.Replay.FrameInterval)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("replay.frame_interval must be a positive duration, got %q", file.Replay.FrameInterval))
		} else {
			cfg.Replay.FrameInterval = duration
		}
	}
	setInt(&cfg.Replay.MaxSessions, file.Replay.MaxSessions)
	if file.Replay.MaxAge != "" {
		duration, err := time.ParseDuration(file.Replay.MaxAge)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("replay.max_age must be a non-negative duration, got %q", file.Replay.MaxAge))
		} else {
			cfg.Replay.MaxAge = duration
		}
	}
	if file.Replay.SweepInterval != "" {
		duration, err := time.ParseDuration(file.Replay.SweepInterval)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("replay.sweep_interval must be a positive duration, got %q", file.Replay.SweepInterval))
		} else {
			cfg.Replay.SweepInterval = duration
		}
	}
	return problems
}

func applyEnv(cfg *Config) []string {
	var problems []string
	cfg.Address = getString("CINDER_ADDR", cfg.Address)
	cfg.GRPCAddress = getString("CINDER_GRPC_ADDR", cfg.GRPCAddress)
	if origins := parseList(os.Getenv("CINDER_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	cfg.AdminToken = getString("CINDER_ADMIN_TOKEN", cfg.AdminToken)
	cfg.GRPCSharedSecret = getString("CINDER_GRPC_SHARED_SECRET", cfg.GRPCSharedSecret)
	cfg.ViewerTokenSecret = getString("CINDER_VIEWER_TOKEN_SECRET", cfg.ViewerTokenSecret)
	cfg.GRPCEncoding = getString("CINDER_GRPC_ENCODING", cfg.GRPCEncoding)
	cfg.Logging.Level = getString("CINDER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Path = getString("CINDER_LOG_PATH", cfg.Logging.Path)
	cfg.Replay.Dir = getString("CINDER_REPLAY_DIR", cfg.Replay.Dir)

	envDuration(&problems, "CINDER_PING_INTERVAL", &cfg.PingInterval)
	envDuration(&problems, "CINDER_CONTROL_WINDOW", &cfg.ControlWindow)
	envDuration(&problems, "CINDER_REPLAY_FRAME_INTERVAL", &cfg.Replay.FrameInterval)
	envDuration(&problems, "CINDER_REPLAY_MAX_AGE", &cfg.Replay.MaxAge)
	envDuration(&problems, "CINDER_REPLAY_SWEEP_INTERVAL", &cfg.Replay.SweepInterval)
	envInt(&problems, "CINDER_REPLAY_MAX_SESSIONS", &cfg.Replay.MaxSessions)
	envInt(&problems, "CINDER_MAX_CLIENTS", &cfg.MaxClients)
	envInt(&problems, "CINDER_CONTROL_BURST", &cfg.ControlBurst)
	envFloat(&problems, "CINDER_BROADCAST_HZ", &cfg.BroadcastHz)

	envFloat(&problems, "CINDER_GRAVITY", &cfg.Simulation.Gravity)
	envFloat(&problems, "CINDER_RESTITUTION", &cfg.Simulation.Restitution)
	envFloat(&problems, "CINDER_DAMPING", &cfg.Simulation.Damping)
	envInt(&problems, "CINDER_MAX_POPULATION", &cfg.Simulation.MaxPopulation)
	envInt(&problems, "CINDER_SPAWN_BATCH", &cfg.Simulation.SpawnBatch)
	envFloat(&problems, "CINDER_MAX_LIFETIME", &cfg.Simulation.MaxLifetime)
	envFloat(&problems, "CINDER_DT", &cfg.Simulation.Timestep)
	envInt(&problems, "CINDER_SEED_COUNT", &cfg.Simulation.SeedCount)
	envFloat(&problems, "CINDER_TRAIL_SCALE", &cfg.Simulation.TrailScale)
	envFloat(&problems, "CINDER_TARGET_HZ", &cfg.Simulation.TargetHz)
	if raw := strings.TrimSpace(os.Getenv("CINDER_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CINDER_SEED must be an integer, got %q", raw))
		} else {
			cfg.Simulation.Seed = value
		}
	}

	envInt(&problems, "CINDER_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	envInt(&problems, "CINDER_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	envInt(&problems, "CINDER_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)
	if raw := strings.TrimSpace(os.Getenv("CINDER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CINDER_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}
	return problems
}

func (c *Config) validate() []string {
	var problems []string
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			problems = append(problems, fmt.Sprintf("%s must be positive and finite, got %v", name, v))
		}
	}
	unit := func(name string, v float64) {
		if !(v >= 0 && v <= 1) {
			problems = append(problems, fmt.Sprintf("%s must lie in [0,1], got %v", name, v))
		}
	}
	sim := c.Simulation
	positive("gravity", sim.Gravity)
	positive("max lifetime", sim.MaxLifetime)
	positive("dt", sim.Timestep)
	positive("target hz", sim.TargetHz)
	positive("broadcast hz", c.BroadcastHz)
	unit("restitution", sim.Restitution)
	unit("damping", sim.Damping)
	if sim.TrailScale < 0 || math.IsNaN(sim.TrailScale) {
		problems = append(problems, fmt.Sprintf("trail scale must be non-negative, got %v", sim.TrailScale))
	}
	if sim.MaxPopulation <= 0 {
		problems = append(problems, fmt.Sprintf("max population must be positive, got %d", sim.MaxPopulation))
	}
	if sim.SpawnBatch < 0 {
		problems = append(problems, fmt.Sprintf("spawn batch must be non-negative, got %d", sim.SpawnBatch))
	}
	if sim.SeedCount < 0 {
		problems = append(problems, fmt.Sprintf("seed count must be non-negative, got %d", sim.SeedCount))
	}
	if c.MaxClients < 0 {
		problems = append(problems, fmt.Sprintf("max clients must be non-negative, got %d", c.MaxClients))
	}
	if c.ControlBurst <= 0 {
		problems = append(problems, fmt.Sprintf("control burst must be positive, got %d", c.ControlBurst))
	}
	if c.Replay.MaxSessions < 0 {
		problems = append(problems, fmt.Sprintf("replay max sessions must be non-negative, got %d", c.Replay.MaxSessions))
	}
	if c.Replay.SweepInterval <= 0 {
		problems = append(problems, fmt.Sprintf("replay sweep interval must be positive, got %s", c.Replay.SweepInterval))
	}
	if strings.TrimSpace(c.GRPCEncoding) == "" {
		problems = append(problems, "grpc encoding must not be empty")
	}
	if c.Logging.MaxSizeMB <= 0 {
		problems = append(problems, fmt.Sprintf("log max size must be positive, got %d", c.Logging.MaxSizeMB))
	}
	return problems
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(problems *[]string, key string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer, got %q", key, raw))
		return
	}
	*dst = value
}

func envFloat(problems *[]string, key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be a number, got %q", key, raw))
		return
	}
	*dst = value
}

func envDuration(problems *[]string, key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func setString(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setFloat(dst *float64, value *float64) {
	if value != nil {
		*dst = *value
	}
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
