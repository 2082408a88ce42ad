package physics

const (
	// DefaultRestitution is the fraction of downward speed reflected on a bounce.
	DefaultRestitution = 0.1
	// DefaultDamping scales the horizontal velocity on ground contact.
	DefaultDamping = 0.1
)

// Params holds the ground response coefficients.
type Params struct {
	// Epsilon is the restitution coefficient.
	Epsilon float64
	// Alpha is the horizontal damping coefficient.
	Alpha float64
}

// DefaultParams returns the coefficients used by the volcano scene.
func DefaultParams() Params {
	return Params{Epsilon: DefaultRestitution, Alpha: DefaultDamping}
}

// Step advances the particle by dt using semi-implicit Euler ordering: the
// position moves with the velocity from the start of the step, then the
// velocity picks up the applied force.
func Step(p Particle, dt float64) Particle {
	//1.- Age first so the lifetime check sees the post-step value.
	p.Age += dt
	//2.- Advance the position with the pre-step velocity.
	p.Position = p.Position.Add(p.Velocity.Scale(dt))
	//3.- Accelerate using the accumulated force over the particle mass.
	p.Velocity = p.Velocity.Add(p.Force.Scale(dt / p.Mass))
	return p
}

// ResolveCollision clamps a particle that dipped below the ground plane and,
// when it is still moving downward, applies restitution and damping.
func ResolveCollision(p Particle, params Params) Particle {
	if p.Position.Y >= 0 {
		return p
	}
	p.Position.Y = 0
	if p.Velocity.Y < 0 {
		p.Velocity.Y = -params.Epsilon * p.Velocity.Y
		p.Velocity.X *= params.Alpha
		p.Velocity.Z *= params.Alpha
	}
	return p
}

// Integrate advances the particle in place and applies the ground response.
func Integrate(p *Particle, dt float64, params Params) {
	if p == nil {
		return
	}
	*p = ResolveCollision(Step(*p, dt), params)
}
