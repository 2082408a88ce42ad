package simulation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"cinder/internal/physics"
	"cinder/internal/spawn"
)

const testStep = 0.015

func newTestPopulation(t *testing.T, settings Settings, src spawn.Source) *Population {
	t.Helper()
	pop, err := NewPopulation(settings, spawn.New(spawn.DefaultProfile(), src))
	if err != nil {
		t.Fatalf("NewPopulation returned error: %v", err)
	}
	return pop
}

func TestPopulationGrowsByBatchUntilCap(t *testing.T) {
	pop := newTestPopulation(t, DefaultSettings(), spawn.NewSeeded(3))
	if err := pop.Initialize(10); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if pop.Len() != 10 {
		t.Fatalf("expected seed population of 10, got %d", pop.Len())
	}
	//1.- Every tick below the cap adds exactly one batch.
	for tick := 1; tick <= 250; tick++ {
		before := pop.Len()
		if err := pop.Tick(testStep); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if pop.Len() != before+20 {
			t.Fatalf("tick %d: expected growth to %d, got %d", tick, before+20, pop.Len())
		}
	}
	//2.- The last batch started at 4990 and overshoots to 5010; growth then stops.
	if pop.Len() != 5010 {
		t.Fatalf("expected population 5010 after growth, got %d", pop.Len())
	}
	for tick := 0; tick < 50; tick++ {
		if err := pop.Tick(testStep); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if pop.Len() != 5010 {
			t.Fatalf("population should stay at 5010, got %d", pop.Len())
		}
	}
}

func TestPopulationNeverExceedsOvershootBound(t *testing.T) {
	settings := Settings{MaxPopulation: 97, SpawnBatch: 13, MaxLifetime: 5, Physics: physics.DefaultParams()}
	pop := newTestPopulation(t, settings, spawn.NewSeeded(11))
	if err := pop.Initialize(4); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	limit := settings.MaxPopulation + settings.SpawnBatch - 1
	for tick := 0; tick < 40; tick++ {
		if err := pop.Tick(testStep); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if pop.Len() > limit {
			t.Fatalf("population %d exceeded bound %d", pop.Len(), limit)
		}
	}
	if pop.Len() != 108 {
		t.Fatalf("expected 4+8*13=108 particles, got %d", pop.Len())
	}
}

func TestPopulationIntegratesNewBatchInSameTick(t *testing.T) {
	pop := newTestPopulation(t, DefaultSettings(), spawn.NewSeeded(5))
	if err := pop.Initialize(0); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := pop.Tick(testStep); err != nil {
		t.Fatalf("tick: %v", err)
	}
	states := pop.Snapshot()
	if len(states) != 20 {
		t.Fatalf("expected 20 particles, got %d", len(states))
	}
	for i, state := range states {
		if state.Age != testStep {
			t.Fatalf("particle %d: expected age %.3f, got %.6f", i, testStep, state.Age)
		}
	}
}

func TestPopulationRecyclesOnCrossingTick(t *testing.T) {
	settings := Settings{MaxPopulation: 1, SpawnBatch: 20, MaxLifetime: 5, Physics: physics.DefaultParams()}
	src := spawn.NewSequence(0.75, 0.25, 0.5, 0.1, 0.9, 0.2)
	pop := newTestPopulation(t, settings, src)
	if err := pop.Initialize(1); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	//1.- Work out which tick pushes the accumulated age past the limit.
	crossing := 0
	for age := 0.0; age <= settings.MaxLifetime; age += testStep {
		crossing++
	}

	expectedAge := 0.0
	for tick := 1; tick < crossing; tick++ {
		if err := pop.Tick(testStep); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		expectedAge += testStep
		state := pop.Snapshot()[0]
		if state.Age != expectedAge {
			t.Fatalf("tick %d: age %.9f, expected %.9f", tick, state.Age, expectedAge)
		}
	}
	if pop.Len() != 1 {
		t.Fatalf("population at cap should not grow, got %d", pop.Len())
	}

	//2.- The crossing tick integrates then respawns from the next three draws.
	if err := pop.Tick(testStep); err != nil {
		t.Fatalf("crossing tick: %v", err)
	}
	state := pop.Snapshot()[0]
	if state.Age != 0 {
		t.Fatalf("expected age reset on crossing tick, got %.6f", state.Age)
	}
	if math.Abs(state.Position.X-(-0.16)) > 1e-12 || state.Position.Y != 0.5 || math.Abs(state.Position.Z-0.16) > 1e-12 {
		t.Fatalf("unexpected respawn position %+v", state.Position)
	}
	if math.Abs(state.Velocity.Y-2.8) > 1e-12 {
		t.Fatalf("unexpected respawn lift %.6f", state.Velocity.Y)
	}
	if math.Abs(state.Velocity.X-10*state.Position.X) > 1e-12 || math.Abs(state.Velocity.Z-10*state.Position.Z) > 1e-12 {
		t.Fatalf("unexpected respawn radial velocity %+v", state.Velocity)
	}
}

func TestPopulationKeepsParticlesAboveGround(t *testing.T) {
	pop := newTestPopulation(t, DefaultSettings(), spawn.NewSeeded(17))
	if err := pop.Initialize(10); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	var buf []physics.State
	for tick := 0; tick < 600; tick++ {
		if err := pop.Tick(testStep); err != nil {
			t.Fatalf("tick: %v", err)
		}
		buf = pop.AppendSnapshot(buf[:0])
		for i, state := range buf {
			if state.Position.Y < 0 {
				t.Fatalf("tick %d particle %d below ground: %.6f", tick, i, state.Position.Y)
			}
			if state.Age > 5.0 {
				t.Fatalf("tick %d particle %d outlived its lifetime: %.6f", tick, i, state.Age)
			}
		}
	}
}

func TestPopulationRejectsContractViolations(t *testing.T) {
	pop := newTestPopulation(t, DefaultSettings(), spawn.NewSeeded(1))
	if err := pop.Tick(testStep); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := pop.Initialize(-1); !errors.Is(err, ErrInvalidSeedCount) {
		t.Fatalf("expected ErrInvalidSeedCount, got %v", err)
	}
	if err := pop.Initialize(10); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := pop.Initialize(10); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	for _, dt := range []float64{0, -0.015, math.NaN(), math.Inf(1)} {
		if err := pop.Tick(dt); !errors.Is(err, ErrInvalidTimestep) {
			t.Fatalf("dt=%v: expected ErrInvalidTimestep, got %v", dt, err)
		}
	}
	if pop.Len() != 10 || pop.Ticks() != 0 {
		t.Fatalf("rejected ticks must not change state: len=%d ticks=%d", pop.Len(), pop.Ticks())
	}
}

func TestPopulationClock(t *testing.T) {
	pop := newTestPopulation(t, DefaultSettings(), spawn.NewSeeded(1))
	if err := pop.Initialize(1); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := pop.Tick(0.25); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if pop.Ticks() != 4 || pop.SimulatedTime() != 1 {
		t.Fatalf("unexpected clock ticks=%d time=%v", pop.Ticks(), pop.SimulatedTime())
	}
	age := pop.Snapshot()[0].Age
	pop.ResetClock()
	if pop.SimulatedTime() != 0 || pop.Ticks() != 4 {
		t.Fatalf("ResetClock should only zero simulated time")
	}
	if pop.Snapshot()[0].Age != age {
		t.Fatalf("ResetClock must not touch particles")
	}
}

func TestNewPopulationValidatesSettings(t *testing.T) {
	_, err := NewPopulation(Settings{MaxPopulation: 0, SpawnBatch: -1, MaxLifetime: 0}, spawn.New(spawn.DefaultProfile(), nil))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, fragment := range []string{"max population", "spawn batch", "max lifetime"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error %q", fragment, err.Error())
		}
	}
	if _, err := NewPopulation(DefaultSettings(), nil); err == nil {
		t.Fatalf("expected error for missing spawner")
	}
}
