package spawn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinder/internal/physics"
)

func TestSpawnUsesDrawsInOrder(t *testing.T) {
	src := NewSequence(0.75, 0.25, 0.5)
	s := New(DefaultProfile(), src)

	p := physics.Particle{Age: 4.2, Position: physics.Vec3{Y: -3}}
	s.Spawn(&p)

	assert.InDelta(t, 0.1, p.Position.X, 1e-12)
	assert.Equal(t, 0.5, p.Position.Y)
	assert.InDelta(t, -0.1, p.Position.Z, 1e-12)
	assert.Equal(t, 1.0, p.Mass)
	assert.InDelta(t, 1.0, p.Velocity.X, 1e-12)
	assert.InDelta(t, 5.5, p.Velocity.Y, 1e-12)
	assert.InDelta(t, -1.0, p.Velocity.Z, 1e-12)
	assert.Equal(t, physics.Vec3{Y: -9.8}, p.Force)
	assert.Zero(t, p.Age)
	assert.Equal(t, 0, src.Consumed(), "three draws should wrap a three-entry sequence")
}

func TestSpawnIsBitIdenticalForFixedDraws(t *testing.T) {
	draws := []float64{0.123456789, 0.987654321, 0.333333333, 0.0, 0.999999999, 0.5}
	run := func() []physics.Particle {
		s := New(DefaultProfile(), NewSequence(draws...))
		return s.Append(nil, 8)
	}
	first := run()
	second := run()
	require.Len(t, first, 8)
	for i := range first {
		require.Equal(t, math.Float64bits(first[i].Position.X), math.Float64bits(second[i].Position.X))
		require.Equal(t, math.Float64bits(first[i].Position.Z), math.Float64bits(second[i].Position.Z))
		require.Equal(t, math.Float64bits(first[i].Velocity.Y), math.Float64bits(second[i].Velocity.Y))
		require.Equal(t, first[i], second[i])
	}
}

func TestSpawnStaysInsideDistribution(t *testing.T) {
	s := New(DefaultProfile(), NewSeeded(7))
	for i := 0; i < 2000; i++ {
		var p physics.Particle
		s.Spawn(&p)
		require.GreaterOrEqual(t, p.Position.X, -0.2)
		require.LessOrEqual(t, p.Position.X, 0.2)
		require.GreaterOrEqual(t, p.Position.Z, -0.2)
		require.LessOrEqual(t, p.Position.Z, 0.2)
		require.GreaterOrEqual(t, p.Velocity.Y, 1.0)
		require.LessOrEqual(t, p.Velocity.Y, 10.0)
		require.Equal(t, 10*p.Position.X, p.Velocity.X)
		require.Equal(t, 10*p.Position.Z, p.Velocity.Z)
	}
}

func TestSeededSourcesAreReproducible(t *testing.T) {
	a := New(DefaultProfile(), NewSeeded(99)).Append(nil, 16)
	b := New(DefaultProfile(), NewSeeded(99)).Append(nil, 16)
	require.Equal(t, a, b)
}

func TestNewRepairsNonPositiveMass(t *testing.T) {
	prof := DefaultProfile()
	prof.Mass = 0
	s := New(prof, NewSequence(0.5))
	var p physics.Particle
	s.Spawn(&p)
	assert.Equal(t, 1.0, p.Mass)
	assert.Equal(t, -9.8, p.Force.Y)
}

func TestUniformBounds(t *testing.T) {
	assert.Equal(t, -0.2, Uniform(NewSequence(0), -0.2, 0.2))
	assert.InDelta(t, 10.0, Uniform(NewSequence(1), 1, 10), 1e-12)
}

func TestSequenceCopiesDrawsAndWraps(t *testing.T) {
	draws := []float64{0.1, 0.9}
	seq := NewSequence(draws...)
	draws[0] = 0.5

	assert.Equal(t, 0.1, seq.Float64())
	assert.Equal(t, 1, seq.Consumed())
	assert.Equal(t, 0.9, seq.Float64())
	assert.Equal(t, 0.1, seq.Float64())
	assert.Equal(t, 0.5, NewSequence().Float64())
}
