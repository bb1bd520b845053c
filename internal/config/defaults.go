package config

import "time"

// Defaults applied after parsing and before validation. The health check
// knobs follow the conventions of container runtimes; the restart policy
// default is the conservative one.
const (
	DefaultRuntime         = "docker"
	DefaultMaxRestarts     = 3
	DefaultStopGracePeriod = 10 * time.Second

	DefaultHealthInterval = 10 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultHealthRetries  = 3
)

// ApplyDefaults fills in zero-valued settings and health check fields.
func ApplyDefaults(cfg *StackConfig) {
	if cfg.Settings.Runtime == "" {
		cfg.Settings.Runtime = DefaultRuntime
	}
	if cfg.Settings.MaxRestarts == 0 {
		cfg.Settings.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Settings.StopGracePeriod == 0 {
		cfg.Settings.StopGracePeriod = DefaultStopGracePeriod
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.RestartPolicy == "" {
			svc.RestartPolicy = RestartNever
		}
		if hc := svc.HealthCheck; hc != nil {
			if hc.Interval == 0 {
				hc.Interval = DefaultHealthInterval
			}
			if hc.Timeout == 0 {
				hc.Timeout = DefaultHealthTimeout
			}
			if hc.Retries == 0 {
				hc.Retries = DefaultHealthRetries
			}
		}
	}
}
