package simulation

import (
	"context"
	"sync"
	"time"
)

// maxCatchUpSteps bounds how many fixed steps one wake-up may run after a stall.
const maxCatchUpSteps = 5

// StepFunc advances the simulation by one fixed wall-clock step.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep callback at the configured target frequency.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	mu       sync.Mutex
	quit     chan struct{}
	done     chan struct{}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
// Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	l.quit, l.done = quit, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.step)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				steps := 0
				for accumulator >= l.step && steps < maxCatchUpSteps {
					l.stepFunc(l.step)
					accumulator -= l.step
					steps++
				}
				//2.- Drop the backlog after a long stall instead of spiralling.
				if steps == maxCatchUpSteps {
					accumulator = 0
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	quit, done := l.quit, l.done
	l.quit, l.done = nil, nil
	l.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}

// StepDuration exposes the configured wall-clock interval.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
