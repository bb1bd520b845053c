// Package orchestrator wires a validated stack configuration into a set
// of running, supervised services.
//
// The orchestrator builds a dependency graph from the configuration,
// creates one supervisor per service, and starts them all. Supervisors
// gate themselves: a service is started only once every one of its
// dependencies has published Healthy, so bring-up order falls out of
// health, not out of a scheduler loop.
//
// # Event Routing
//
// Every supervisor publishes its phase transitions through a single
// callback. The orchestrator routes each transition to the supervisors
// of the services that depend on the one that changed, and fans a copy
// out to external subscribers (the CLI status view, tests). Routing is
// synchronous with the publishing supervisor, so for any one service
// observers see transitions in the order they happened.
//
// # Shutdown
//
// When the run context is cancelled, or every supervisor has reached a
// terminal phase, the orchestrator stops the remaining services one at
// a time in reverse topological order: dependents are fully stopped
// before the services they depend on.
package orchestrator
