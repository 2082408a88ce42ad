package physics

// Particle is the physical state of one ejected point mass.
type Particle struct {
	Position Vec3
	Mass     float64
	Velocity Vec3
	// Force accumulates the applied force; the spawner sets it to gravity and
	// nothing changes it for the rest of the particle's life.
	Force Vec3
	// Age is simulated seconds since the particle was (re)spawned.
	Age float64
}

// State is the read-only view of a particle handed to renderers.
type State struct {
	Position Vec3
	Velocity Vec3
	Age      float64
}

// View copies the renderer-facing fields out of the particle.
func (p Particle) View() State {
	return State{Position: p.Position, Velocity: p.Velocity, Age: p.Age}
}
