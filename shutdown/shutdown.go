package shutdown

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed indicates one or more steps failed during shutdown.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Teardown phases for substrate components. Lower phases run first: agents
// stop producing before the bus drains, the bus drains before the transports
// disconnect. Steps in the same phase run concurrently.
const (
	PhaseAgents     = 10
	PhaseBus        = 20
	PhaseTransports = 30
)

// StepFunc tears down one component. The context is cancelled when the
// shutdown timeout is reached.
type StepFunc func(ctx context.Context) error

// StepResult records the outcome of one teardown step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// step holds a registered teardown step.
type step struct {
	name  string
	phase int
	fn    StepFunc
}
