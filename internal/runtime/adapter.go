package runtime

import (
	"context"
	"fmt"
	"time"

	"stackctl/internal/config"
)

// Handle identifies a started unit of work (a container ID, a process
// key). Opaque to the core; only the adapter that issued it can use it.
type Handle string

// Adapter abstracts the runtime that actually executes services. The
// orchestrator core never talks to Docker or the OS directly; it only
// holds this narrow capability interface, so "services" can be
// containers, local processes, or anything else.
type Adapter interface {
	// Start launches the unit described by the resources and returns a
	// handle to it. The name is the service label, usable for container
	// naming and diagnostics.
	Start(ctx context.Context, name string, res config.RuntimeResources) (Handle, error)

	// Stop terminates the unit gracefully, waiting up to grace. If the
	// unit is still alive when grace expires, Stop returns a
	// *ShutdownTimeoutError and the caller escalates to ForceKill.
	Stop(ctx context.Context, h Handle, grace time.Duration) error

	// RunCheck executes a health command against the running unit.
	// ok reports the verdict (command exited zero); a non-nil error means
	// the check itself could not run or timed out, which callers count as
	// unhealthy but log distinctly.
	RunCheck(ctx context.Context, h Handle, cmd []string, timeout time.Duration) (ok bool, err error)

	// ForceKill terminates the unit immediately. Best effort; used after
	// Stop overruns its grace period.
	ForceKill(h Handle) error
}

// StartError wraps a failed start call with the service name attached.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %q: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ShutdownTimeoutError reports a stop call that exceeded its grace
// period. It escalates to forced termination; it is never fatal to the
// orchestrator.
type ShutdownTimeoutError struct {
	Handle Handle
	Grace  time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("unit %s did not stop within %s", e.Handle, e.Grace)
}

// New returns the adapter selected by the settings.
func New(settings config.Settings) (Adapter, error) {
	switch settings.Runtime {
	case "docker":
		return NewDockerAdapter()
	case "process":
		return NewProcessAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", settings.Runtime)
	}
}
