package orchestrator

import (
	"stackctl/internal/dependency"
	"stackctl/internal/services"
	"stackctl/pkg/logging"
)

// route is the single transition callback shared by every supervisor.
// It runs on the publishing supervisor's goroutine, so for any one
// service the dependents and subscribers observe transitions in order.
func (o *Orchestrator) route(t services.Transition) {
	logging.Debug("Orchestrator", "Transition: %s %s -> %s", t.Label, t.OldPhase, t.NewPhase)

	for _, dependent := range o.graph.Dependents(dependency.NodeID(t.Label)) {
		if sup, ok := o.registry.Get(string(dependent)); ok {
			sup.NotifyDependency(t)
		}
	}

	o.mu.Lock()
	for _, ch := range o.subscribers {
		select {
		case ch <- t:
		default:
			// Slow consumer; dropping beats stalling a supervisor.
			logging.Warn("Orchestrator", "Subscriber channel full, dropping transition for %s", t.Label)
		}
	}
	o.mu.Unlock()

	o.checkSettled()
}

// Subscribe returns a channel carrying every subsequent transition in
// the stack. The channel is buffered; a subscriber that stops draining
// loses transitions rather than blocking the run. Closed when Run
// returns.
func (o *Orchestrator) Subscribe() <-chan services.Transition {
	ch := make(chan services.Transition, 64)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) closeSubscribers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subscribers {
		close(ch)
	}
	o.subscribers = nil
}

// Settled returns a channel closed once startup has run its course:
// every service is Healthy or terminal, or is permanently blocked behind
// a failed dependency. "Settled" is about the initial bring-up; services
// keep being supervised afterwards.
func (o *Orchestrator) Settled() <-chan struct{} {
	return o.settled
}

func (o *Orchestrator) checkSettled() {
	for _, sup := range o.registry.All() {
		phase := sup.Phase()
		if phase.Steady() {
			continue
		}
		if phase == services.PhasePending && o.blockedByFailure(sup.Label()) {
			continue
		}
		return
	}
	o.settledOnce.Do(func() { close(o.settled) })
}

// blockedByFailure reports whether any transitive dependency of the
// service has Failed. With cascading off such a service stays Pending
// for the rest of the run, which counts as settled.
func (o *Orchestrator) blockedByFailure(label string) bool {
	seen := make(map[dependency.NodeID]bool)
	var walk func(id dependency.NodeID) bool
	walk = func(id dependency.NodeID) bool {
		if seen[id] {
			return false
		}
		seen[id] = true

		node := o.graph.Get(id)
		if node == nil {
			return false
		}
		for _, dep := range node.DependsOn {
			if sup, ok := o.registry.Get(string(dep)); ok && sup.Phase() == services.PhaseFailed {
				return true
			}
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(dependency.NodeID(label))
}
