package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"cinder/internal/logging"
	"cinder/internal/networking"
	"cinder/internal/physics"
	"cinder/internal/spawn"
)

// Host commands understood by ApplyCommand.
const (
	CommandPause      = "pause"
	CommandResume     = "resume"
	CommandToggle     = "toggle"
	CommandResetClock = "reset"
	CommandStatus     = "status"
)

// ControlEventType tags control commands in the replay event log.
const ControlEventType = "control"

// ErrUnknownCommand is returned by ApplyCommand for unsupported commands.
var ErrUnknownCommand = errors.New("unknown host command")

// Recorder captures published frames and host events. *replay.Writer satisfies it.
type Recorder interface {
	AppendFrame(tick uint64, simulatedTime float64, payload []byte) (bool, error)
	AppendEvent(tick uint64, simulatedTime float64, eventType string, payload []byte) error
}

// Publisher receives every encoded frame. *networking.Hub satisfies it.
type Publisher interface {
	Publish(env networking.Envelope)
}

// EngineConfig fixes everything the engine needs at construction.
type EngineConfig struct {
	Settings Settings
	Profile  spawn.Profile
	// Source feeds the spawner. Nil falls back to spawn.NewSeeded(1).
	Source    spawn.Source
	SeedCount int
	// Timestep is the simulated seconds advanced by every step.
	Timestep float64
	// TargetHz paces Start's loop in wall-clock time.
	TargetHz float64
	// PublishEvery publishes one frame every N ticks. Zero means every tick.
	PublishEvery int
}

// DefaultEngineConfig returns the volcano scene host settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Settings:  DefaultSettings(),
		Profile:   spawn.DefaultProfile(),
		SeedCount: 10,
		Timestep:  0.015,
		TargetHz:  60,
	}
}

// Status summarises the host state for control responses and metrics.
type Status struct {
	Tick          uint64              `json:"tick"`
	SimulatedTime float64             `json:"simulated_time"`
	Particles     int                 `json:"particles"`
	Paused        bool                `json:"paused"`
	Timing        TickMetricsSnapshot `json:"-"`
}

// EngineOption customises an engine.
type EngineOption func(*Engine)

// WithPublisher delivers encoded frames to p after each published tick.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder captures frames and control events into r.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithMonitor shares a tick monitor with the caller.
func WithMonitor(m *TickMonitor) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.monitor = m
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine hosts a Population: it serialises access, drives ticks from a fixed
// rate loop, and publishes an encoded frame after each tick.
type Engine struct {
	mu           sync.Mutex
	population   *Population
	timestep     float64
	publishEvery uint64
	paused       bool
	scratch      []physics.State

	publisher Publisher
	recorder  Recorder
	monitor   *TickMonitor
	log       *logging.Logger
	loop      *Loop
}

// NewEngine builds and seeds the population, then publishes the seeded frame.
func NewEngine(cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if !(cfg.Timestep > 0) || math.IsInf(cfg.Timestep, 0) {
		return nil, fmt.Errorf("engine timestep %v: %w", cfg.Timestep, ErrInvalidTimestep)
	}
	population, err := NewPopulation(cfg.Settings, spawn.New(cfg.Profile, cfg.Source))
	if err != nil {
		return nil, err
	}
	if err := population.Initialize(cfg.SeedCount); err != nil {
		return nil, err
	}
	every := cfg.PublishEvery
	if every <= 0 {
		every = 1
	}
	e := &Engine{
		population:   population,
		timestep:     cfg.Timestep,
		publishEvery: uint64(every),
		monitor:      NewTickMonitor(),
		log:          logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.loop = NewLoop(cfg.TargetHz, func(time.Duration) {
		if _, err := e.Step(); err != nil {
			e.log.Error("simulation step failed", logging.Error(err))
		}
	})

	e.mu.Lock()
	e.publishLocked()
	e.mu.Unlock()
	return e, nil
}

// Start runs the fixed-rate loop until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.log.Info("simulation loop starting",
		logging.Duration("step", e.loop.StepDuration()),
		logging.Float64("dt", e.timestep),
	)
	e.loop.Start(ctx)
}

// Stop halts the loop and waits for the in-flight step.
func (e *Engine) Stop() {
	e.loop.Stop()
}

// Step advances one tick unless paused. It reports whether a tick ran.
func (e *Engine) Step() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.monitor.ObservePaused()
		return false, nil
	}
	started := time.Now()
	if err := e.population.Tick(e.timestep); err != nil {
		return false, err
	}
	if e.population.Ticks()%e.publishEvery == 0 {
		e.publishLocked()
	}
	e.monitor.Observe(time.Since(started))
	return true, nil
}

func (e *Engine) publishLocked() {
	if e.publisher == nil && e.recorder == nil {
		return
	}
	//1.- Encode into a fresh buffer because subscribers keep the payload.
	e.scratch = e.population.AppendSnapshot(e.scratch[:0])
	tick := e.population.Ticks()
	simTime := e.population.SimulatedTime()
	payload := networking.EncodeFrame(nil, networking.Frame{Tick: tick, SimulatedTime: simTime, Particles: e.scratch})
	if e.publisher != nil {
		e.publisher.Publish(networking.Envelope{Tick: tick, SimulatedTime: simTime, Particles: len(e.scratch), Payload: payload})
	}
	//2.- The recorder samples on its own cadence.
	if e.recorder != nil {
		if _, err := e.recorder.AppendFrame(tick, simTime, payload); err != nil {
			e.log.Warn("replay frame capture failed", logging.Uint64("tick", tick), logging.Error(err))
		}
	}
}

// Pause suspends ticking without touching particle state.
func (e *Engine) Pause() {
	e.setPaused(true, CommandPause)
}

// Resume continues ticking.
func (e *Engine) Resume() {
	e.setPaused(false, CommandResume)
}

// Toggle flips the pause state and returns the new value.
func (e *Engine) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = !e.paused
	e.recordLocked(CommandToggle)
	return e.paused
}

func (e *Engine) setPaused(paused bool, command string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
	e.recordLocked(command)
}

// ResetClock zeroes the simulated clock. Particles are untouched.
func (e *Engine) ResetClock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.population.ResetClock()
	e.recordLocked(CommandResetClock)
}

// Paused reports whether ticking is suspended.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) recordLocked(command string) {
	e.log.Info("host command applied",
		logging.String("command", command),
		logging.Bool("paused", e.paused),
		logging.Uint64("tick", e.population.Ticks()),
	)
	if e.recorder == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Command string `json:"command"`
		Paused  bool   `json:"paused"`
	}{Command: command, Paused: e.paused})
	if err != nil {
		return
	}
	if err := e.recorder.AppendEvent(e.population.Ticks(), e.population.SimulatedTime(), ControlEventType, payload); err != nil {
		e.log.Warn("replay event capture failed", logging.String("command", command), logging.Error(err))
	}
}

// ApplyCommand runs a named host command and returns the resulting pause state.
func (e *Engine) ApplyCommand(_ context.Context, command string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case CommandPause:
		e.Pause()
	case CommandResume:
		e.Resume()
	case CommandToggle:
		return e.Toggle(), nil
	case CommandResetClock:
		e.ResetClock()
	case CommandStatus:
	default:
		return e.Paused(), fmt.Errorf("%q: %w", command, ErrUnknownCommand)
	}
	return e.Paused(), nil
}

// Status returns the current counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	status := Status{
		Tick:          e.population.Ticks(),
		SimulatedTime: e.population.SimulatedTime(),
		Particles:     e.population.Len(),
		Paused:        e.paused,
	}
	e.mu.Unlock()
	status.Timing = e.monitor.Snapshot()
	return status
}

// Frame copies the current population into an unencoded frame.
func (e *Engine) Frame() networking.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return networking.Frame{
		Tick:          e.population.Ticks(),
		SimulatedTime: e.population.SimulatedTime(),
		Particles:     e.population.Snapshot(),
	}
}

// Monitor exposes the step timing statistics.
func (e *Engine) Monitor() *TickMonitor {
	return e.monitor
}
