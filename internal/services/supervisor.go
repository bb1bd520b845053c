package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Options tunes supervisor behavior. Zero values are replaced with the
// defaults below.
type Options struct {
	MaxRestarts     int           // attempt limit for restartPolicy=on-failure
	StopGracePeriod time.Duration // grace before ForceKill on stop
	StartTimeout    time.Duration // deadline for one start call (includes image pull)
	BackoffBase     time.Duration // first restart delay
	BackoffMax      time.Duration // restart delay cap
	CascadeFailure  bool          // fail instead of waiting forever when a dependency permanently fails
}

func (o *Options) applyDefaults() {
	if o.MaxRestarts == 0 {
		o.MaxRestarts = config.DefaultMaxRestarts
	}
	if o.StopGracePeriod == 0 {
		o.StopGracePeriod = config.DefaultStopGracePeriod
	}
	if o.StartTimeout == 0 {
		o.StartTimeout = 5 * time.Minute
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 30 * time.Second
	}
}

// Supervisor owns the full lifecycle of one service: waiting for its
// dependencies, starting it through the Runtime Adapter, watching its
// health, restarting it per policy, and stopping it on shutdown.
//
// The state machine:
//
//	Pending -> Starting -> HealthChecking -> Healthy
//	Healthy <-> Unhealthy (via consecutive probe failures / recovery restart)
//	any running state -> Stopping -> Stopped (shutdown)
//	Starting|HealthChecking|Unhealthy -> Failed (restart policy exhausted)
//
// All mutable state is owned by the Run goroutine; everyone else reads
// immutable snapshots. Transitions are published in order through a
// single callback.
type Supervisor struct {
	spec    config.ServiceDefinition
	adapter runtime.Adapter
	prober  *Prober // nil when no health check is declared
	opts    Options

	mu             sync.RWMutex
	phase          Phase
	restartCount   int
	lastTransition time.Time
	lastErr        error
	callback       TransitionCallback

	// Dependency gate. NotifyDependency updates depHealthy/depFailed and
	// kicks the Run goroutine, which re-evaluates the conjunction.
	depMu      sync.Mutex
	depHealthy map[string]bool
	depFailed  string // label of a permanently failed dependency, "" if none
	depKick    chan struct{}

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewSupervisor creates a supervisor in phase Pending. It does nothing
// until Run is called.
func NewSupervisor(spec config.ServiceDefinition, adapter runtime.Adapter, opts Options) *Supervisor {
	opts.applyDefaults()

	s := &Supervisor{
		spec:           spec,
		adapter:        adapter,
		opts:           opts,
		phase:          PhasePending,
		lastTransition: time.Now(),
		depHealthy:     make(map[string]bool, len(spec.DependsOn)),
		depKick:        make(chan struct{}, 1),
		shutdownCh:     make(chan struct{}),
		done:           make(chan struct{}),
	}
	if spec.HealthCheck != nil {
		s.prober = NewProber(spec.Name, *spec.HealthCheck, adapter)
	}
	return s
}

// Label returns the service name.
func (s *Supervisor) Label() string { return s.spec.Name }

// Dependencies returns the declared upstream service names.
func (s *Supervisor) Dependencies() []string { return s.spec.DependsOn }

// Phase returns the most recently published phase.
func (s *Supervisor) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Snapshot returns an immutable view of the supervisor's state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Label:          s.spec.Name,
		Phase:          s.phase,
		RestartCount:   s.restartCount,
		LastTransition: s.lastTransition,
		Err:            s.lastErr,
	}
}

// SetTransitionCallback sets the callback invoked for every transition.
// Must be called before Run.
func (s *Supervisor) SetTransitionCallback(cb TransitionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// NotifyDependency feeds a dependency's transition into the gate. Safe
// to call from any goroutine; called by the orchestrator's router.
func (s *Supervisor) NotifyDependency(t Transition) {
	s.depMu.Lock()
	if t.NewPhase == PhaseHealthy {
		s.depHealthy[t.Label] = true
	}
	if t.NewPhase == PhaseFailed && s.depFailed == "" {
		s.depFailed = t.Label
	}
	s.depMu.Unlock()

	select {
	case s.depKick <- struct{}{}:
	default: // a kick is already pending; the gate re-reads the maps
	}
}

// Shutdown asks the Run goroutine to stop the service and blocks until
// it has fully wound down. Idempotent.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	<-s.done
}

// Done returns a channel closed when Run has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// transition publishes a phase change. Only ever called from the Run
// goroutine, so callbacks observe transitions in order.
func (s *Supervisor) transition(newPhase Phase, cause error) {
	s.mu.Lock()
	oldPhase := s.phase
	s.phase = newPhase
	s.lastErr = cause
	now := time.Now()
	s.lastTransition = now
	cb := s.callback
	s.mu.Unlock()

	logging.Debug("Supervisor", "Service %s: %s -> %s", s.spec.Name, oldPhase, newPhase)

	if cb != nil && oldPhase != newPhase {
		cb(Transition{
			Label:     s.spec.Name,
			OldPhase:  oldPhase,
			NewPhase:  newPhase,
			Timestamp: now,
			Err:       cause,
		})
	}
}

// Run drives the service until it reaches a terminal phase or shutdown
// is requested. It blocks; callers run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	switch s.awaitDependencies(ctx) {
	case gateReady:
		// fall through to the start loop
	case gateDepFailed:
		// Cascading-failure policy: never started, marked Failed.
		s.transition(PhaseFailed, fmt.Errorf("dependency %s failed permanently", s.failedDep()))
		return
	case gateAbandoned:
		// Shutdown or cancellation while Pending: nothing was started,
		// nothing to stop.
		s.transition(PhaseStopped, nil)
		return
	case gateBlocked:
		// A dependency failed and cascading is off: stay Pending until
		// the orchestrator shuts the run down.
		s.waitForShutdown(ctx)
		s.transition(PhaseStopped, nil)
		return
	}

	s.startLoop(ctx)
}

type gateResult int

const (
	gateReady gateResult = iota
	gateDepFailed
	gateBlocked
	gateAbandoned
)

// awaitDependencies blocks until every declared dependency has published
// Healthy at least once (the full conjunction; partial health is not
// enough), a dependency permanently fails, or the run is abandoned.
func (s *Supervisor) awaitDependencies(ctx context.Context) gateResult {
	if len(s.spec.DependsOn) == 0 {
		return gateReady
	}

	for {
		s.depMu.Lock()
		failed := s.depFailed
		healthy := 0
		for _, dep := range s.spec.DependsOn {
			if s.depHealthy[dep] {
				healthy++
			}
		}
		s.depMu.Unlock()

		if failed != "" {
			if s.opts.CascadeFailure {
				return gateDepFailed
			}
			logging.Warn("Supervisor", "Service %s blocked: dependency %s failed and cascading is disabled", s.spec.Name, failed)
			return gateBlocked
		}
		if healthy == len(s.spec.DependsOn) {
			logging.Debug("Supervisor", "All %d dependencies of %s are healthy", healthy, s.spec.Name)
			return gateReady
		}

		select {
		case <-s.depKick:
		case <-s.shutdownCh:
			return gateAbandoned
		case <-ctx.Done():
			return gateAbandoned
		}
	}
}

func (s *Supervisor) failedDep() string {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	return s.depFailed
}

// startLoop starts the unit and supervises it, restarting per policy
// until the policy is exhausted or shutdown is requested.
func (s *Supervisor) startLoop(ctx context.Context) {
	for {
		s.transition(PhaseStarting, nil)

		startCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
		go func() {
			// A shutdown request interrupts a start in flight (think image
			// pulls) instead of waiting out the full start timeout.
			select {
			case <-s.shutdownCh:
				cancel()
			case <-startCtx.Done():
			}
		}()
		handle, err := s.adapter.Start(startCtx, s.spec.Name, s.spec.Runtime)
		cancel()

		if err != nil {
			select {
			case <-s.shutdownCh:
				// The failure is the interrupted start, not the service.
				s.transition(PhaseStopped, nil)
				return
			default:
			}
			logging.Error("Supervisor", err, "Service %s failed to start", s.spec.Name)
			if !s.scheduleRestart(ctx, err) {
				return
			}
			continue
		}

		outcome := s.superviseStarted(ctx, handle)
		switch outcome {
		case superviseShutdown:
			s.stopUnit(handle)
			return
		case superviseUnhealthy:
			// Tear the unit down before the restart decision so a
			// replacement never coexists with the failed instance. No
			// Stopping/Stopped transitions here: the restart path goes
			// Unhealthy -> Starting.
			s.teardown(handle)
			err := fmt.Errorf("health check failed %d consecutive times", s.spec.HealthCheck.Retries)
			if !s.scheduleRestart(ctx, err) {
				return
			}
		}
	}
}

type superviseOutcome int

const (
	superviseShutdown superviseOutcome = iota
	superviseUnhealthy
)

// superviseStarted takes a freshly started unit through health checking
// and then watches it until it goes bad or shutdown arrives.
func (s *Supervisor) superviseStarted(ctx context.Context, handle runtime.Handle) superviseOutcome {
	// No declared check: healthy the moment the start call returns,
	// zero probes. "Healthy" then means "running" for this service.
	if s.prober == nil {
		s.transition(PhaseHealthy, nil)
		s.waitForShutdown(ctx)
		return superviseShutdown
	}

	s.transition(PhaseHealthChecking, nil)
	check := s.spec.HealthCheck

	// Polling begins only after startPeriod; failures before that point
	// are never counted, so the probe loop simply doesn't run yet.
	if check.StartPeriod > 0 {
		if !s.sleep(ctx, check.StartPeriod) {
			return superviseShutdown
		}
	}

	consecutiveFailures := 0
	for {
		if s.prober.Probe(ctx, handle) {
			consecutiveFailures = 0
			if s.Phase() != PhaseHealthy {
				s.transition(PhaseHealthy, nil)
			}
		} else {
			consecutiveFailures++
			if consecutiveFailures >= check.Retries {
				s.transition(PhaseUnhealthy, fmt.Errorf("%d consecutive probe failures", consecutiveFailures))
				return superviseUnhealthy
			}
		}

		// Next probe starts interval after this one completed; probes
		// for one service never overlap.
		if !s.sleep(ctx, check.Interval) {
			return superviseShutdown
		}
	}
}

// scheduleRestart decides whether the restart policy permits another
// attempt and, if so, sleeps out the backoff. Returns false when the
// supervisor transitioned to Failed or shutdown interrupted the wait.
func (s *Supervisor) scheduleRestart(ctx context.Context, cause error) bool {
	policy := s.spec.RestartPolicy

	if policy == config.RestartNever {
		s.transition(PhaseFailed, cause)
		return false
	}

	s.mu.RLock()
	attempts := s.restartCount
	s.mu.RUnlock()

	if policy == config.RestartOnFailure && attempts >= s.opts.MaxRestarts {
		s.transition(PhaseFailed, fmt.Errorf("restart attempts exhausted (%d): %w", s.opts.MaxRestarts, cause))
		return false
	}

	s.mu.Lock()
	s.restartCount++
	attempt := s.restartCount
	s.mu.Unlock()

	delay := s.backoff(attempt)
	logging.Info("Supervisor", "Service %s restart attempt %d in %s (cause: %v)", s.spec.Name, attempt, delay, cause)

	if !s.sleep(ctx, delay) {
		s.transition(PhaseStopped, nil)
		return false
	}
	return true
}

// backoff computes the exponential restart delay for an attempt,
// starting at BackoffBase and capped at BackoffMax.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	if delay > s.opts.BackoffMax {
		delay = s.opts.BackoffMax
	}
	return delay
}

// stopUnit transitions through Stopping/Stopped, giving the unit the
// grace period and escalating to ForceKill if it overruns.
func (s *Supervisor) stopUnit(handle runtime.Handle) {
	s.transition(PhaseStopping, nil)
	s.teardown(handle)
	s.transition(PhaseStopped, nil)
}

// teardown stops the unit without publishing transitions, escalating to
// ForceKill when the grace period is exceeded.
func (s *Supervisor) teardown(handle runtime.Handle) {
	// Fresh context: the run context is typically already cancelled by
	// the time orderly shutdown happens.
	stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopGracePeriod+10*time.Second)
	defer cancel()

	err := s.adapter.Stop(stopCtx, handle, s.opts.StopGracePeriod)
	var timeoutErr *runtime.ShutdownTimeoutError
	if errors.As(err, &timeoutErr) {
		logging.Warn("Supervisor", "Service %s exceeded stop grace period, force killing", s.spec.Name)
		if killErr := s.adapter.ForceKill(handle); killErr != nil {
			logging.Error("Supervisor", killErr, "Force kill of %s failed", s.spec.Name)
		}
	} else if err != nil {
		logging.Error("Supervisor", err, "Stopping %s failed", s.spec.Name)
	}
}

// sleep waits d, returning false if shutdown or cancellation interrupted.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.shutdownCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) waitForShutdown(ctx context.Context) {
	select {
	case <-s.shutdownCh:
	case <-ctx.Done():
	}
}
