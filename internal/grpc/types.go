package grpc

import (
	"context"

	"cinder/internal/networking"
)

// SnapshotSource exposes subscription semantics for encoded frame fan-out.
// networking.Hub satisfies it.
type SnapshotSource interface {
	Subscribe(ctx context.Context, id string, buffer int) (<-chan networking.Envelope, func(), error)
}

// Control commands accepted by the Control RPC.
const (
	CommandPause      = "pause"
	CommandResume     = "resume"
	CommandToggle     = "toggle"
	CommandResetClock = "reset"
	CommandStatus     = "status"
)

// ControlSink applies host commands and reports whether the simulation is paused afterwards.
type ControlSink interface {
	ApplyCommand(ctx context.Context, command string) (paused bool, err error)
}

// ControlLimiter gates Control calls. The HTTP sliding-window limiter satisfies it.
type ControlLimiter interface {
	Allow() bool
}
