package services

import (
	"context"

	"stackctl/internal/config"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Prober executes one health check at a time against a running unit.
// It is stateless (consecutive-failure counting is the supervisor's
// job) and never overlaps probes: the supervisor calls Probe again only
// after the previous call returns.
type Prober struct {
	adapter runtime.Adapter
	check   config.HealthCheckDefinition
	label   string
}

// NewProber creates a prober for one service's health check.
func NewProber(label string, check config.HealthCheckDefinition, adapter runtime.Adapter) *Prober {
	return &Prober{adapter: adapter, check: check, label: label}
}

// Probe runs the check with its configured timeout and returns the
// verdict. A check that could not run at all (probe error, including
// timeout overrun) counts as unhealthy for gating purposes but is logged
// distinctly from an orderly "unhealthy" verdict.
func (p *Prober) Probe(ctx context.Context, h runtime.Handle) bool {
	ok, err := p.adapter.RunCheck(ctx, h, p.check.Test, p.check.Timeout)
	switch {
	case err != nil:
		logging.Warn("Prober", "Health probe for %s errored: %v", p.label, err)
		return false
	case !ok:
		logging.Debug("Prober", "Health probe for %s reported unhealthy", p.label)
		return false
	default:
		return true
	}
}
