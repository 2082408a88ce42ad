package simulation

import (
	"math"

	"cinder/internal/config"
	"cinder/internal/physics"
	"cinder/internal/spawn"
)

// EngineConfigFrom maps the configured physics and pacing onto an engine
// config. Frames are published at roughly broadcastHz; zero publishes every tick.
func EngineConfigFrom(sim config.SimulationConfig, broadcastHz float64) EngineConfig {
	profile := spawn.DefaultProfile()
	profile.Gravity = sim.Gravity
	publishEvery := 1
	if broadcastHz > 0 && broadcastHz < sim.TargetHz {
		publishEvery = int(math.Round(sim.TargetHz / broadcastHz))
	}
	return EngineConfig{
		Settings: Settings{
			MaxPopulation: sim.MaxPopulation,
			SpawnBatch:    sim.SpawnBatch,
			MaxLifetime:   sim.MaxLifetime,
			Physics:       physics.Params{Epsilon: sim.Restitution, Alpha: sim.Damping},
		},
		Profile:      profile,
		Source:       spawn.NewSeeded(sim.Seed),
		SeedCount:    sim.SeedCount,
		Timestep:     sim.Timestep,
		TargetHz:     sim.TargetHz,
		PublishEvery: publishEvery,
	}
}
