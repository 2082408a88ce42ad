package physics

import (
	"math"
	"testing"
)

func TestStepUsesPreStepVelocityForPosition(t *testing.T) {
	//1.- Launch a particle upward with gravity applied.
	p := Particle{
		Position: Vec3{X: 0.1, Y: 0.5, Z: -0.2},
		Mass:     1,
		Velocity: Vec3{X: 1, Y: 4, Z: -2},
		Force:    Vec3{Y: -9.8},
	}
	//2.- Advance one fixed step and verify each channel.
	next := Step(p, 0.015)
	if math.Abs(next.Age-0.015) > 1e-12 {
		t.Fatalf("unexpected age %.6f", next.Age)
	}
	if math.Abs(next.Position.X-(0.1+0.015)) > 1e-12 {
		t.Fatalf("unexpected X %.6f", next.Position.X)
	}
	if math.Abs(next.Position.Y-(0.5+0.06)) > 1e-12 {
		t.Fatalf("unexpected Y %.6f", next.Position.Y)
	}
	if math.Abs(next.Position.Z-(-0.2-0.03)) > 1e-12 {
		t.Fatalf("unexpected Z %.6f", next.Position.Z)
	}
	if math.Abs(next.Velocity.Y-(4-0.147)) > 1e-12 {
		t.Fatalf("unexpected vertical velocity %.6f", next.Velocity.Y)
	}
	if next.Velocity.X != 1 || next.Velocity.Z != -2 {
		t.Fatalf("horizontal velocity should be untouched without horizontal force: %+v", next.Velocity)
	}
	if p.Age != 0 {
		t.Fatalf("Step must not mutate its input")
	}
}

func TestStepScalesForceByMass(t *testing.T) {
	p := Particle{Mass: 2, Position: Vec3{Y: 10}, Force: Vec3{X: 4}}
	next := Step(p, 0.5)
	if math.Abs(next.Velocity.X-1) > 1e-12 {
		t.Fatalf("expected dv = dt/m*F = 1, got %.6f", next.Velocity.X)
	}
}

func TestResolveCollisionBounce(t *testing.T) {
	p := Particle{
		Position: Vec3{X: 1, Y: -0.25, Z: 2},
		Mass:     1,
		Velocity: Vec3{X: 3, Y: -6, Z: -5},
	}
	got := ResolveCollision(p, DefaultParams())
	if got.Position.Y != 0 {
		t.Fatalf("expected clamp to ground, got %.6f", got.Position.Y)
	}
	if got.Velocity.Y != -0.1*p.Velocity.Y {
		t.Fatalf("unexpected restitution %.6f", got.Velocity.Y)
	}
	if got.Velocity.X != 0.1*p.Velocity.X || got.Velocity.Z != 0.1*p.Velocity.Z {
		t.Fatalf("unexpected damping %+v", got.Velocity)
	}
	if got.Position.X != 1 || got.Position.Z != 2 {
		t.Fatalf("horizontal position must be preserved, got %+v", got.Position)
	}
}

func TestResolveCollisionWithoutDownwardVelocity(t *testing.T) {
	for _, vy := range []float64{0, 0.5, 7} {
		p := Particle{
			Position: Vec3{Y: -1},
			Mass:     1,
			Velocity: Vec3{X: 2, Y: vy, Z: -3},
		}
		got := ResolveCollision(p, DefaultParams())
		if got.Position.Y != 0 {
			t.Fatalf("vy=%v: expected clamp, got %.6f", vy, got.Position.Y)
		}
		if got.Velocity != p.Velocity {
			t.Fatalf("vy=%v: velocity should be unchanged, got %+v", vy, got.Velocity)
		}
	}
}

func TestResolveCollisionAboveGroundIsNoop(t *testing.T) {
	p := Particle{Position: Vec3{Y: 0}, Mass: 1, Velocity: Vec3{X: 1, Y: -4, Z: 1}}
	if got := ResolveCollision(p, DefaultParams()); got != p {
		t.Fatalf("particle resting on the ground should not bounce: %+v", got)
	}
}

func TestIntegrateKeepsParticlesAboveGround(t *testing.T) {
	heights := []float64{-50, -1, -1e-9, 0, 1e-9, 0.5, 3, 100}
	velocities := []float64{-200, -9.8, -0.01, 0, 0.01, 4, 60}
	steps := []float64{1e-4, 0.015, 0.1, 1, 5}
	for _, y := range heights {
		for _, vy := range velocities {
			for _, dt := range steps {
				p := Particle{
					Position: Vec3{X: 0.1, Y: y, Z: -0.1},
					Mass:     1,
					Velocity: Vec3{X: 1, Y: vy, Z: 1},
					Force:    Vec3{Y: -9.8},
				}
				Integrate(&p, dt, DefaultParams())
				if p.Position.Y < 0 {
					t.Fatalf("y=%v vy=%v dt=%v: particle below ground at %.6f", y, vy, dt, p.Position.Y)
				}
			}
		}
	}
}

func TestIntegrateAgesByExactStep(t *testing.T) {
	p := Particle{Position: Vec3{Y: 0.5}, Mass: 1, Force: Vec3{Y: -9.8}}
	expected := 0.0
	for i := 0; i < 400; i++ {
		Integrate(&p, 0.015, DefaultParams())
		expected += 0.015
		if p.Age != expected {
			t.Fatalf("step %d: age %.9f, expected %.9f", i, p.Age, expected)
		}
	}
}

func TestIntegrateHandlesNil(t *testing.T) {
	Integrate(nil, 0.015, DefaultParams())
}
