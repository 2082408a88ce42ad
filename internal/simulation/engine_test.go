package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cinder/internal/logging"
	"cinder/internal/networking"
	"cinder/internal/spawn"
)

type publisherStub struct {
	mu        sync.Mutex
	envelopes []networking.Envelope
}

func (p *publisherStub) Publish(env networking.Envelope) {
	p.mu.Lock()
	p.envelopes = append(p.envelopes, env)
	p.mu.Unlock()
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envelopes)
}

type recorderStub struct {
	frames []uint64
	events []string
	fail   error
}

func (r *recorderStub) AppendFrame(tick uint64, _ float64, _ []byte) (bool, error) {
	if r.fail != nil {
		return false, r.fail
	}
	r.frames = append(r.frames, tick)
	return true, nil
}

func (r *recorderStub) AppendEvent(_ uint64, _ float64, eventType string, payload []byte) error {
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, eventType+":"+string(payload))
	return nil
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Source = spawn.NewSequence(0.25, 0.75, 0.5)
	return cfg
}

func TestNewEnginePublishesSeededFrame(t *testing.T) {
	pub := &publisherStub{}
	engine, err := NewEngine(testEngineConfig(), WithPublisher(pub), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected seeded frame, got %d", pub.count())
	}
	env := pub.envelopes[0]
	if env.Tick != 0 || env.Particles != 10 {
		t.Fatalf("unexpected seeded envelope %+v", env)
	}
	frame, err := networking.DecodeFrame(env.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frame.Particles) != 10 {
		t.Fatalf("expected 10 particles, got %d", len(frame.Particles))
	}
	if status := engine.Status(); status.Particles != 10 || status.Paused {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNewEngineRejectsInvalidTimestep(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timestep = 0
	if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidTimestep) {
		t.Fatalf("expected ErrInvalidTimestep, got %v", err)
	}
	cfg = testEngineConfig()
	cfg.SeedCount = -1
	if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidSeedCount) {
		t.Fatalf("expected ErrInvalidSeedCount, got %v", err)
	}
}

func TestEngineStepAdvancesAndPublishes(t *testing.T) {
	pub := &publisherStub{}
	engine, err := NewEngine(testEngineConfig(), WithPublisher(pub), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for i := 0; i < 3; i++ {
		ran, err := engine.Step()
		if err != nil || !ran {
			t.Fatalf("step %d: ran=%v err=%v", i, ran, err)
		}
	}
	status := engine.Status()
	if status.Tick != 3 || status.Particles != 70 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Timing.Samples != 3 {
		t.Fatalf("expected 3 timing samples, got %d", status.Timing.Samples)
	}
	last := pub.envelopes[pub.count()-1]
	if last.Tick != 3 || last.Particles != 70 {
		t.Fatalf("unexpected last envelope %+v", last)
	}
	frame := engine.Frame()
	if frame.Tick != 3 || len(frame.Particles) != 70 {
		t.Fatalf("unexpected frame tick=%d particles=%d", frame.Tick, len(frame.Particles))
	}
}

func TestEnginePublishEverySkipsTicks(t *testing.T) {
	cfg := testEngineConfig()
	cfg.PublishEvery = 2
	pub := &publisherStub{}
	engine, err := NewEngine(cfg, WithPublisher(pub), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := engine.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	//1.- Seeded frame plus ticks 2 and 4.
	if pub.count() != 3 {
		t.Fatalf("expected 3 envelopes, got %d", pub.count())
	}
	if pub.envelopes[1].Tick != 2 || pub.envelopes[2].Tick != 4 {
		t.Fatalf("unexpected published ticks %d, %d", pub.envelopes[1].Tick, pub.envelopes[2].Tick)
	}
}

func TestEnginePauseSuspendsTicks(t *testing.T) {
	engine, err := NewEngine(testEngineConfig(), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	before := engine.Frame()
	engine.Pause()
	ran, err := engine.Step()
	if err != nil || ran {
		t.Fatalf("expected paused step to be skipped, ran=%v err=%v", ran, err)
	}
	after := engine.Frame()
	if after.Tick != before.Tick || after.Particles[0] != before.Particles[0] {
		t.Fatal("paused step changed particle state")
	}
	if got := engine.Monitor().Snapshot().Paused; got != 1 {
		t.Fatalf("expected one paused observation, got %d", got)
	}
	engine.Resume()
	if ran, _ := engine.Step(); !ran {
		t.Fatal("expected step after resume")
	}
}

func TestEngineApplyCommand(t *testing.T) {
	rec := &recorderStub{}
	engine, err := NewEngine(testEngineConfig(), WithRecorder(rec), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()
	cases := []struct {
		command string
		paused  bool
	}{
		{" Toggle ", true},
		{CommandToggle, false},
		{CommandPause, true},
		{CommandStatus, true},
		{CommandResume, false},
	}
	for _, tc := range cases {
		paused, err := engine.ApplyCommand(ctx, tc.command)
		if err != nil || paused != tc.paused {
			t.Fatalf("%q: paused=%v err=%v, want paused=%v", tc.command, paused, err, tc.paused)
		}
	}
	if _, err := engine.ApplyCommand(ctx, "explode"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	//1.- Status is a read and leaves no event behind.
	if len(rec.events) != 4 {
		t.Fatalf("expected 4 control events, got %v", rec.events)
	}
	if rec.events[0] != `control:{"command":"toggle","paused":true}` {
		t.Fatalf("unexpected first event %q", rec.events[0])
	}
}

func TestEngineResetClockKeepsParticles(t *testing.T) {
	engine, err := NewEngine(testEngineConfig(), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := engine.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	before := engine.Frame()
	if _, err := engine.ApplyCommand(context.Background(), CommandResetClock); err != nil {
		t.Fatalf("reset: %v", err)
	}
	after := engine.Frame()
	if after.SimulatedTime != 0 {
		t.Fatalf("expected clock reset, got %v", after.SimulatedTime)
	}
	if after.Tick != before.Tick || len(after.Particles) != len(before.Particles) || after.Particles[3] != before.Particles[3] {
		t.Fatal("reset clock touched particles or tick counter")
	}
}

func TestEngineRecordsFrames(t *testing.T) {
	rec := &recorderStub{}
	engine, err := NewEngine(testEngineConfig(), WithRecorder(rec), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(rec.frames) != 2 || rec.frames[0] != 0 || rec.frames[1] != 1 {
		t.Fatalf("unexpected recorded frames %v", rec.frames)
	}

	//1.- Recorder failures are logged, never surfaced to the loop.
	rec.fail = errors.New("disk full")
	if _, err := engine.Step(); err != nil {
		t.Fatalf("recorder failure leaked into step: %v", err)
	}
	if _, err := engine.ApplyCommand(context.Background(), CommandPause); err != nil {
		t.Fatalf("recorder failure leaked into command: %v", err)
	}
}

func TestEngineStartRunsLoop(t *testing.T) {
	cfg := testEngineConfig()
	cfg.TargetHz = 200
	engine, err := NewEngine(cfg, WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for engine.Status().Tick == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	engine.Stop()
	tick := engine.Status().Tick
	time.Sleep(30 * time.Millisecond)
	if engine.Status().Tick != tick {
		t.Fatal("engine kept ticking after Stop")
	}
}

func TestStatusJSONOmitsTiming(t *testing.T) {
	raw, err := json.Marshal(Status{Tick: 2, Particles: 30, Paused: true, Timing: TickMetricsSnapshot{Samples: 9}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"tick":2,"simulated_time":0,"particles":30,"paused":true}` {
		t.Fatalf("unexpected json %s", raw)
	}
}
