// Package config defines the stack file format: a declarative mapping of
// service name to dependencies, health check, restart policy and runtime
// resources. Loading is strict: a stack file that cannot be fully
// validated is rejected with a ConfigError before any service starts.
package config
