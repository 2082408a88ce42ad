// Package spawn initialises freshly ejected particles.
package spawn

import "cinder/internal/physics"

// Profile fixes the launch distribution for every particle.
type Profile struct {
	// JitterRadius bounds the horizontal offset drawn on X and Z.
	JitterRadius float64
	// LaunchHeight is the fixed starting Y.
	LaunchHeight float64
	// RadialGain turns horizontal offset into outward speed.
	RadialGain float64
	MinLift    float64
	MaxLift    float64
	Mass       float64
	// Gravity is the downward acceleration magnitude.
	Gravity float64
}

// DefaultProfile matches the volcano scene launch parameters.
func DefaultProfile() Profile {
	return Profile{
		JitterRadius: 0.2,
		LaunchHeight: 0.5,
		RadialGain:   10,
		MinLift:      1,
		MaxLift:      10,
		Mass:         1,
		Gravity:      9.8,
	}
}

// Spawner overwrites particle slots with new launch state drawn from its source.
type Spawner struct {
	profile Profile
	src     Source
}

// New wires a spawner to the given profile and randomness source. A nil source
// falls back to a fixed seed so behaviour stays reproducible.
func New(profile Profile, src Source) *Spawner {
	if src == nil {
		src = NewSeeded(1)
	}
	if !(profile.Mass > 0) {
		profile.Mass = 1
	}
	return &Spawner{profile: profile, src: src}
}

// Profile returns the launch parameters in use.
func (s *Spawner) Profile() Profile {
	return s.profile
}

// Spawn resets p in place. Three draws are consumed in order: X offset, Z
// offset, then vertical launch speed.
func (s *Spawner) Spawn(p *physics.Particle) {
	if s == nil || p == nil {
		return
	}
	prof := s.profile
	x := Uniform(s.src, -prof.JitterRadius, prof.JitterRadius)
	z := Uniform(s.src, -prof.JitterRadius, prof.JitterRadius)
	lift := Uniform(s.src, prof.MinLift, prof.MaxLift)

	p.Position = physics.Vec3{X: x, Y: prof.LaunchHeight, Z: z}
	p.Mass = prof.Mass
	p.Velocity = physics.Vec3{X: prof.RadialGain * x, Y: lift, Z: prof.RadialGain * z}
	p.Force = physics.Vec3{Y: -prof.Gravity * p.Mass}
	p.Age = 0
}

// Append spawns n particles onto dst and returns the extended slice.
func (s *Spawner) Append(dst []physics.Particle, n int) []physics.Particle {
	for i := 0; i < n; i++ {
		dst = append(dst, physics.Particle{})
		s.Spawn(&dst[len(dst)-1])
	}
	return dst
}
