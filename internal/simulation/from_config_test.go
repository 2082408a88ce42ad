package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinder/internal/config"
)

func TestEngineConfigFromMapsSimulation(t *testing.T) {
	sim := config.Default().Simulation
	sim.Gravity = 3.5
	sim.Restitution = 0.8
	sim.Damping = 0.1
	sim.TargetHz = 60

	got := EngineConfigFrom(sim, 30)
	assert.Equal(t, 3.5, got.Profile.Gravity)
	assert.Equal(t, 0.8, got.Settings.Physics.Epsilon)
	assert.Equal(t, 0.1, got.Settings.Physics.Alpha)
	assert.Equal(t, sim.MaxPopulation, got.Settings.MaxPopulation)
	assert.Equal(t, sim.SpawnBatch, got.Settings.SpawnBatch)
	assert.Equal(t, sim.MaxLifetime, got.Settings.MaxLifetime)
	assert.Equal(t, sim.SeedCount, got.SeedCount)
	assert.Equal(t, sim.Timestep, got.Timestep)
	assert.Equal(t, 2, got.PublishEvery)
	require.NotNil(t, got.Source)

	assert.Equal(t, 1, EngineConfigFrom(sim, 0).PublishEvery)
	assert.Equal(t, 1, EngineConfigFrom(sim, 120).PublishEvery, "broadcast faster than the tick rate publishes every tick")
}

func TestEngineConfigFromDefaultsBuildAnEngine(t *testing.T) {
	engine, err := NewEngine(EngineConfigFrom(config.Default().Simulation, config.DefaultBroadcastHz))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSeedCount, engine.Status().Particles)
}
