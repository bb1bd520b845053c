package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"stackctl/internal/config"
	"stackctl/internal/dependency"
	"stackctl/internal/runtime"
	"stackctl/internal/services"
	"stackctl/pkg/logging"
)

// Orchestrator runs one stack: it owns the dependency graph, a supervisor
// per service, and the transition routing between them.
type Orchestrator struct {
	cfg      *config.StackConfig
	adapter  runtime.Adapter
	registry *services.Registry
	graph    *dependency.Graph
	order    []dependency.NodeID // topological start order, also fixes shutdown order

	mu          sync.Mutex
	subscribers []chan services.Transition

	settledOnce sync.Once
	settled     chan struct{}
}

// Plan builds and validates the dependency graph of a configuration.
// Used standalone by "stackctl validate" and as the first step of New.
func Plan(cfg *config.StackConfig) (*dependency.Graph, error) {
	graph := dependency.New()
	for _, svc := range cfg.Services {
		deps := make([]dependency.NodeID, 0, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			deps = append(deps, dependency.NodeID(dep))
		}
		graph.AddNode(dependency.Node{ID: dependency.NodeID(svc.Name), DependsOn: deps})
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service topology: %w", err)
	}
	return graph, nil
}

// New validates the topology of the given configuration and builds the
// supervisors. Nothing runs until Run is called; a cyclic or otherwise
// broken graph is rejected here, before any service is touched.
func New(cfg *config.StackConfig, adapter runtime.Adapter) (*Orchestrator, error) {
	graph, err := Plan(cfg)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		adapter:  adapter,
		registry: services.NewRegistry(),
		graph:    graph,
		order:    graph.TopologicalOrder(),
		settled:  make(chan struct{}),
	}

	opts := services.Options{
		MaxRestarts:     cfg.Settings.MaxRestarts,
		StopGracePeriod: cfg.Settings.StopGracePeriod,
		CascadeFailure:  cfg.Settings.CascadeFailures,
	}
	for _, svc := range cfg.Services {
		sup := services.NewSupervisor(svc, adapter, opts)
		sup.SetTransitionCallback(o.route)
		if err := o.registry.Register(sup); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// Run starts every supervisor and blocks until the context is cancelled
// or all services have reached a terminal phase, then winds the stack
// down in reverse topological order. The returned error is the run's
// verdict: nil when no service ended up Failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	sups := o.registry.All()
	logging.Info("Orchestrator", "Starting stack: %d services, start order %v", len(sups), o.order)

	// Supervisors get their own context, detached from the run context:
	// cancellation must not stop them all at once, it must trigger the
	// ordered shutdown below. The deferred cancel is a backstop for
	// supervisors stuck mid-start.
	supCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// All supervisors launch together; the dependency gates serialize the
	// actual starts.
	for _, sup := range sups {
		go sup.Run(supCtx)
	}

	allDone := make(chan struct{})
	go func() {
		for _, sup := range sups {
			<-sup.Done()
		}
		close(allDone)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Orchestrator", "Shutdown requested, stopping stack")
	case <-allDone:
		logging.Info("Orchestrator", "All services reached a terminal phase")
	}

	o.shutdown()
	o.closeSubscribers()
	return o.verdict()
}

// shutdown stops supervisors one at a time in reverse topological order,
// so every service outlives its dependents. Already-terminal supervisors
// return immediately.
func (o *Orchestrator) shutdown() {
	for i := len(o.order) - 1; i >= 0; i-- {
		label := string(o.order[i])
		sup, ok := o.registry.Get(label)
		if !ok {
			continue
		}
		sup.Shutdown()
	}
}

// verdict reports the run outcome: an error naming every Failed service,
// or nil.
func (o *Orchestrator) verdict() error {
	var failed []string
	var firstCause error
	for _, sup := range o.registry.All() {
		snap := sup.Snapshot()
		if snap.Phase == services.PhaseFailed {
			failed = append(failed, snap.Label)
			if firstCause == nil {
				firstCause = snap.Err
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d service(s) failed (%s): %w", len(failed), strings.Join(failed, ", "), firstCause)
}

// StartOrder returns the computed topological start order.
func (o *Orchestrator) StartOrder() []string {
	out := make([]string, len(o.order))
	for i, id := range o.order {
		out[i] = string(id)
	}
	return out
}

// Status returns the current phase of every service.
func (o *Orchestrator) Status() map[string]services.Phase {
	out := make(map[string]services.Phase, o.registry.Len())
	for _, sup := range o.registry.All() {
		out[sup.Label()] = sup.Phase()
	}
	return out
}

// Snapshots returns per-service state in declaration order, for status
// rendering.
func (o *Orchestrator) Snapshots() []services.Snapshot {
	out := make([]services.Snapshot, 0, o.registry.Len())
	for _, sup := range o.registry.All() {
		out = append(out, sup.Snapshot())
	}
	return out
}
