package simulation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"cinder/internal/physics"
	"cinder/internal/spawn"
)

var (
	// ErrInvalidTimestep rejects a tick with a non-positive or non-finite dt.
	ErrInvalidTimestep = errors.New("timestep must be positive and finite")
	// ErrNotInitialized rejects a tick before Initialize has seeded the population.
	ErrNotInitialized = errors.New("population not initialized")
	// ErrAlreadyInitialized rejects a second Initialize call.
	ErrAlreadyInitialized = errors.New("population already initialized")
	// ErrInvalidSeedCount rejects a negative seed batch.
	ErrInvalidSeedCount = errors.New("seed count must be non-negative")
)

// Settings fixes the population growth and recycling policy.
type Settings struct {
	// MaxPopulation stops growth once the population reaches it. A growth batch
	// that starts below the cap is appended whole, so the population may end
	// up to SpawnBatch-1 particles above it.
	MaxPopulation int
	SpawnBatch    int
	// MaxLifetime is the age in simulated seconds past which a slot is respawned.
	MaxLifetime float64
	Physics     physics.Params
}

// DefaultSettings returns the volcano scene policy.
func DefaultSettings() Settings {
	return Settings{
		MaxPopulation: 5000,
		SpawnBatch:    20,
		MaxLifetime:   5.0,
		Physics:       physics.DefaultParams(),
	}
}

// Validate reports every invalid field in a single error.
func (s Settings) Validate() error {
	var problems []string
	if s.MaxPopulation <= 0 {
		problems = append(problems, fmt.Sprintf("max population must be positive, got %d", s.MaxPopulation))
	}
	if s.SpawnBatch < 0 {
		problems = append(problems, fmt.Sprintf("spawn batch must be non-negative, got %d", s.SpawnBatch))
	}
	if !(s.MaxLifetime > 0) || math.IsInf(s.MaxLifetime, 0) {
		problems = append(problems, fmt.Sprintf("max lifetime must be positive and finite, got %v", s.MaxLifetime))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Population owns the particle arena. Slots are appended during growth and
// recycled in place afterwards; nothing is ever removed. It is not safe for
// concurrent use.
type Population struct {
	settings    Settings
	spawner     *spawn.Spawner
	particles   []physics.Particle
	initialized bool
	ticks       uint64
	simTime     float64
}

// NewPopulation validates settings and preallocates the arena.
func NewPopulation(settings Settings, spawner *spawn.Spawner) (*Population, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("population settings: %w", err)
	}
	if spawner == nil {
		return nil, errors.New("population settings: spawner required")
	}
	capacity := settings.MaxPopulation + settings.SpawnBatch
	return &Population{
		settings:  settings,
		spawner:   spawner,
		particles: make([]physics.Particle, 0, capacity),
	}, nil
}

// Initialize seeds the population with seedCount freshly spawned particles.
func (p *Population) Initialize(seedCount int) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if seedCount < 0 {
		return fmt.Errorf("initialize with %d: %w", seedCount, ErrInvalidSeedCount)
	}
	p.particles = p.spawner.Append(p.particles, seedCount)
	p.initialized = true
	return nil
}

// Tick advances the whole population by one fixed step. Growth runs first so
// new particles integrate in the same tick; each slot is then integrated and,
// if it has outlived MaxLifetime, respawned in place.
func (p *Population) Tick(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("tick with dt=%v: %w", dt, ErrInvalidTimestep)
	}
	if !p.initialized {
		return ErrNotInitialized
	}
	//1.- Grow by a whole batch while under the cap.
	if len(p.particles) < p.settings.MaxPopulation {
		p.particles = p.spawner.Append(p.particles, p.settings.SpawnBatch)
	}
	//2.- Integrate every slot, recycling the ones that just aged out.
	for i := range p.particles {
		particle := &p.particles[i]
		physics.Integrate(particle, dt, p.settings.Physics)
		if particle.Age > p.settings.MaxLifetime {
			p.spawner.Spawn(particle)
		}
	}
	p.ticks++
	p.simTime += dt
	return nil
}

// Len returns the current population size.
func (p *Population) Len() int {
	return len(p.particles)
}

// Initialized reports whether Initialize has run.
func (p *Population) Initialized() bool {
	return p.initialized
}

// Ticks returns the number of completed ticks.
func (p *Population) Ticks() uint64 {
	return p.ticks
}

// SimulatedTime returns simulated seconds since start or the last ResetClock.
func (p *Population) SimulatedTime() float64 {
	return p.simTime
}

// ResetClock zeroes the simulated clock. Particles are left untouched.
func (p *Population) ResetClock() {
	p.simTime = 0
}

// Settings returns the policy the population was built with.
func (p *Population) Settings() Settings {
	return p.settings
}

// Snapshot copies the renderer-facing state of every slot in slot order.
func (p *Population) Snapshot() []physics.State {
	return p.AppendSnapshot(make([]physics.State, 0, len(p.particles)))
}

// AppendSnapshot appends the renderer-facing state onto dst so callers can
// reuse a buffer between frames.
func (p *Population) AppendSnapshot(dst []physics.State) []physics.State {
	for i := range p.particles {
		dst = append(dst, p.particles[i].View())
	}
	return dst
}
