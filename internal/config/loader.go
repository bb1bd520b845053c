package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osReadFile = os.ReadFile

// Load reads, parses and validates a stack file. Any structural problem
// is returned as a *ConfigError before anything else happens with the
// topology; a valid return value is fully defaulted and safe to run.
func Load(path string) (StackConfig, error) {
	data, err := osReadFile(path)
	if err != nil {
		return StackConfig{}, fmt.Errorf("reading stack file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read; exported for tests and embedding.
func Parse(data []byte) (StackConfig, error) {
	var cfg StackConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StackConfig{}, fmt.Errorf("parsing stack file: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return StackConfig{}, err
	}
	return cfg, nil
}

// validate checks everything that does not require the dependency graph:
// referential integrity of dependsOn, self-references, restart policy
// names, health check knobs, and runtime selection. Cycle detection lives
// in the dependency package, which is also consulted before any service
// starts.
func validate(cfg *StackConfig) error {
	if len(cfg.Services) == 0 {
		return &ConfigError{Reason: "no services declared"}
	}

	switch cfg.Settings.Runtime {
	case "docker", "process":
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown runtime %q (want \"docker\" or \"process\")", cfg.Settings.Runtime)}
	}

	declared := make(map[string]bool, len(cfg.Services))
	for _, svc := range cfg.Services {
		declared[svc.Name] = true
	}

	for _, svc := range cfg.Services {
		if !svc.RestartPolicy.Valid() {
			return &ConfigError{Service: svc.Name, Reason: fmt.Sprintf("unknown restart policy %q", svc.RestartPolicy)}
		}

		for _, dep := range svc.DependsOn {
			if dep == svc.Name {
				return &ConfigError{Service: svc.Name, Reason: "service depends on itself"}
			}
			if !declared[dep] {
				return &ConfigError{Service: svc.Name, Reason: fmt.Sprintf("dependsOn references undeclared service %q", dep)}
			}
		}

		if hc := svc.HealthCheck; hc != nil {
			if len(hc.Test) == 0 {
				return &ConfigError{Service: svc.Name, Reason: "healthCheck.test is empty"}
			}
			if hc.Interval <= 0 {
				return &ConfigError{Service: svc.Name, Reason: "healthCheck.interval must be positive"}
			}
			if hc.Timeout <= 0 {
				return &ConfigError{Service: svc.Name, Reason: "healthCheck.timeout must be positive"}
			}
			if hc.Retries <= 0 {
				return &ConfigError{Service: svc.Name, Reason: "healthCheck.retries must be positive"}
			}
			if hc.StartPeriod < 0 {
				return &ConfigError{Service: svc.Name, Reason: "healthCheck.startPeriod must not be negative"}
			}
		}

		if cfg.Settings.Runtime == "docker" && svc.Runtime.Image == "" {
			return &ConfigError{Service: svc.Name, Reason: "image is required with the docker runtime"}
		}
		if cfg.Settings.Runtime == "process" && len(svc.Runtime.Command) == 0 {
			return &ConfigError{Service: svc.Name, Reason: "command is required with the process runtime"}
		}
	}

	return nil
}
