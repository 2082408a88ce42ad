// Package feed supplies viewers with particle frames, either from an engine
// running in process or from a host's websocket stream.
package feed

import (
	"context"
	"errors"

	"cinder/internal/networking"
	"cinder/internal/simulation"
)

// ErrCommandRejected is returned when the host refuses a control command.
var ErrCommandRejected = errors.New("command rejected")

// Source is what a viewer draws from and steers.
type Source interface {
	// Latest returns the newest frame, or false before the first one arrives.
	Latest() (networking.Frame, bool)
	// Command applies a host command such as "toggle" or "reset".
	Command(ctx context.Context, command string) (paused bool, err error)
	Close() error
}

// Local runs an engine in process on its own fixed-rate loop.
type Local struct {
	engine *simulation.Engine
}

// NewLocal builds, seeds and starts an engine.
func NewLocal(cfg simulation.EngineConfig, opts ...simulation.EngineOption) (*Local, error) {
	engine, err := simulation.NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	engine.Start(context.Background())
	return &Local{engine: engine}, nil
}

// Engine exposes the wrapped engine.
func (l *Local) Engine() *simulation.Engine {
	return l.engine
}

func (l *Local) Latest() (networking.Frame, bool) {
	return l.engine.Frame(), true
}

func (l *Local) Command(ctx context.Context, command string) (bool, error) {
	return l.engine.ApplyCommand(ctx, command)
}

// Close stops the engine loop.
func (l *Local) Close() error {
	l.engine.Stop()
	return nil
}
