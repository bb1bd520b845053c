package services

import (
	"time"
)

// Phase represents where a service is in its lifecycle. Distinct from
// "the container is running": a service is only Healthy once its
// readiness checks say so.
type Phase string

const (
	PhasePending        Phase = "Pending"
	PhaseStarting       Phase = "Starting"
	PhaseHealthChecking Phase = "HealthChecking"
	PhaseHealthy        Phase = "Healthy"
	PhaseUnhealthy      Phase = "Unhealthy"
	PhaseStopping       Phase = "Stopping"
	PhaseStopped        Phase = "Stopped"
	PhaseFailed         Phase = "Failed"
)

// Terminal reports whether the phase is an end state: the supervisor has
// exited and will not transition again.
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseFailed
}

// Steady reports whether the phase counts as "settled" for startup
// purposes: the orchestrator's run completes once every service is
// steady or terminal.
func (p Phase) Steady() bool {
	return p == PhaseHealthy || p.Terminal()
}

// Transition is one state change of one service. The orchestrator routes
// transitions to dependents and to external subscribers; they are the
// audit trail of a run.
type Transition struct {
	Label     string
	OldPhase  Phase
	NewPhase  Phase
	Timestamp time.Time
	Err       error // cause, for failure transitions
}

// TransitionCallback is invoked synchronously, in order, for every
// transition a supervisor makes.
type TransitionCallback func(t Transition)

// Snapshot is the immutable published view of a supervisor's state.
// Supervisors own their mutable state exclusively; everyone else reads
// snapshots.
type Snapshot struct {
	Label          string
	Phase          Phase
	RestartCount   int
	LastTransition time.Time
	Err            error
}
