package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// StackConfig is the top-level configuration structure for stackctl.
// It is the parsed form of a stack file: global settings plus the service
// topology. Service declaration order is preserved because it breaks ties
// in the computed start order.
type StackConfig struct {
	Settings Settings
	Services []ServiceDefinition
}

// Settings holds orchestrator-wide knobs.
type Settings struct {
	Runtime         string        `yaml:"runtime,omitempty"`         // "docker" or "process" (default: "docker")
	CascadeFailures bool          `yaml:"cascadeFailures,omitempty"` // Mark dependents Failed when a dependency permanently fails
	MaxRestarts     int           `yaml:"maxRestarts,omitempty"`     // Attempt limit for restartPolicy=on-failure
	StopGracePeriod time.Duration `yaml:"-"`                         // Grace before force-kill on shutdown
}

// RestartPolicy governs automatic recovery attempts after a service fails.
type RestartPolicy string

const (
	RestartNever         RestartPolicy = "never"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartAlways        RestartPolicy = "always"
)

// Valid reports whether the policy is one of the known values.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartUnlessStopped, RestartAlways:
		return true
	}
	return false
}

// Unbounded reports whether the policy retries without an attempt limit.
// "unless-stopped" behaves like "always" within a single run; the
// difference (persistence across daemon restarts) is out of scope here.
func (p RestartPolicy) Unbounded() bool {
	return p == RestartAlways || p == RestartUnlessStopped
}

// ServiceDefinition declares one service: its place in the topology plus
// the runtime resources the Runtime Adapter needs to start it. The core
// never interprets the resource fields.
type ServiceDefinition struct {
	Name          string                 `yaml:"-"`
	DependsOn     []string               `yaml:"dependsOn,omitempty"`
	HealthCheck   *HealthCheckDefinition `yaml:"healthCheck,omitempty"`
	RestartPolicy RestartPolicy          `yaml:"restartPolicy,omitempty"`
	Runtime       RuntimeResources       `yaml:",inline"`
}

// RuntimeResources is the opaque start payload handed to the Runtime
// Adapter. The docker adapter uses all fields; the process adapter only
// Command, Env and WorkDir.
type RuntimeResources struct {
	Image      string            `yaml:"image,omitempty"`      // Container image, e.g. "chromadb/chroma:0.5.5"
	Command    []string          `yaml:"command,omitempty"`    // Command and its arguments
	Entrypoint []string          `yaml:"entrypoint,omitempty"` // Optional container entrypoint override
	Env        map[string]string `yaml:"env,omitempty"`        // Environment variables
	Ports      []string          `yaml:"ports,omitempty"`      // Port mappings, e.g. ["8000:8000"] (host:container)
	Volumes    []string          `yaml:"volumes,omitempty"`    // Volume mounts, e.g. ["./data:/data"]
	WorkDir    string            `yaml:"workDir,omitempty"`    // Working directory
}

// HealthCheckDefinition configures the readiness probe for a service.
// Absence of a health check means the service is Healthy as soon as its
// start call returns.
type HealthCheckDefinition struct {
	Test        []string      // Probe command run against the service
	Interval    time.Duration // Cadence between probes
	Timeout     time.Duration // Per-probe deadline; overrun counts as unhealthy
	Retries     int           // Consecutive failures before Unhealthy
	StartPeriod time.Duration // Initial window in which failures are not counted
}

// UnmarshalYAML decodes durations from human-readable strings ("10s") or
// bare integers interpreted as seconds.
func (h *HealthCheckDefinition) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Test        []string  `yaml:"test"`
		Interval    yaml.Node `yaml:"interval"`
		Timeout     yaml.Node `yaml:"timeout"`
		Retries     int       `yaml:"retries"`
		StartPeriod yaml.Node `yaml:"startPeriod"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	h.Test = raw.Test
	h.Retries = raw.Retries

	var err error
	if h.Interval, err = decodeDuration(&raw.Interval); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	if h.Timeout, err = decodeDuration(&raw.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if h.StartPeriod, err = decodeDuration(&raw.StartPeriod); err != nil {
		return fmt.Errorf("startPeriod: %w", err)
	}
	return nil
}

// UnmarshalYAML preserves service declaration order and rejects duplicate
// names: the services block is a mapping of name -> definition, and plain
// map decoding would lose both properties.
func (c *StackConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Settings settingsRaw `yaml:"settings"`
		Services yaml.Node   `yaml:"services"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	c.Settings = Settings{
		Runtime:         raw.Settings.Runtime,
		CascadeFailures: raw.Settings.CascadeFailures,
		MaxRestarts:     raw.Settings.MaxRestarts,
	}
	var err error
	if c.Settings.StopGracePeriod, err = decodeDuration(&raw.Settings.StopGracePeriod); err != nil {
		return fmt.Errorf("settings.stopGracePeriod: %w", err)
	}

	if raw.Services.Kind == 0 {
		return nil // no services block; caught by validation
	}
	if raw.Services.Kind != yaml.MappingNode {
		return fmt.Errorf("services must be a mapping of name to definition")
	}

	seen := make(map[string]bool)
	for i := 0; i < len(raw.Services.Content); i += 2 {
		keyNode := raw.Services.Content[i]
		valNode := raw.Services.Content[i+1]

		name := keyNode.Value
		if seen[name] {
			return &ConfigError{Service: name, Reason: "duplicate service name"}
		}
		seen[name] = true

		var def ServiceDefinition
		if err := valNode.Decode(&def); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
		def.Name = name
		c.Services = append(c.Services, def)
	}
	return nil
}

// settingsRaw mirrors Settings with duration fields as raw nodes.
type settingsRaw struct {
	Runtime         string    `yaml:"runtime"`
	CascadeFailures bool      `yaml:"cascadeFailures"`
	MaxRestarts     int       `yaml:"maxRestarts"`
	StopGracePeriod yaml.Node `yaml:"stopGracePeriod"`
}

func decodeDuration(node *yaml.Node) (time.Duration, error) {
	if node.Kind == 0 || node.Value == "" {
		return 0, nil
	}
	switch node.Tag {
	case "!!int":
		var secs int
		if err := node.Decode(&secs); err != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	case "!!str":
		d, err := time.ParseDuration(node.Value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", node.Value)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("expected duration string or integer seconds, got %s", node.Tag)
	}
}

// Service returns the definition for the named service, if declared.
func (c *StackConfig) Service(name string) (ServiceDefinition, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceDefinition{}, false
}

// ConfigError reports a fatal problem with the stack file: the
// orchestrator never starts a topology it cannot fully validate.
type ConfigError struct {
	Service string // offending service, empty for file-level problems
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Service == "" {
		return "invalid stack config: " + e.Reason
	}
	return fmt.Sprintf("invalid stack config: service %q: %s", e.Service, e.Reason)
}
