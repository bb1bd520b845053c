package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/config"
	"stackctl/internal/services"
)

func TestNewRejectsCyclicTopology(t *testing.T) {
	cfg := stackOf(config.Settings{},
		config.ServiceDefinition{Name: "a", DependsOn: []string{"b"}, RestartPolicy: config.RestartNever},
		config.ServiceDefinition{Name: "b", DependsOn: []string{"a"}, RestartPolicy: config.RestartNever},
	)
	adapter := newStackAdapter(nil)

	_, err := New(cfg, adapter)
	require.Error(t, err)
	assert.ErrorContains(t, err, "dependency cycle")
	assert.Empty(t, adapter.events, "a broken topology must be rejected before anything starts")
}

func TestRunGatesDependentsOnHealth(t *testing.T) {
	// db needs two probes to come up; app must not start before the
	// second one succeeds.
	adapter := newStackAdapter(map[string]*serviceScript{
		"db": {checkScript: []probeResult{{ok: false}, {ok: true}}},
	})
	db := config.ServiceDefinition{Name: "db", RestartPolicy: config.RestartNever, HealthCheck: fastCheck(3)}
	app := config.ServiceDefinition{Name: "app", DependsOn: []string{"db"}, RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{}, db, app), adapter)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "app"}, o.StartOrder())

	cancel, errCh := runStack(t, o)
	awaitSettled(t, o)

	assert.Equal(t, services.PhaseHealthy, o.Status()["db"])
	assert.Equal(t, services.PhaseHealthy, o.Status()["app"])
	require.Less(t, adapter.eventIndex("start", "db"), adapter.eventIndex("start", "app"))

	cancel()
	require.NoError(t, awaitRunExit(t, errCh))

	// Reverse topological shutdown: the dependent goes first.
	appStop := adapter.eventIndex("stop", "app")
	dbStop := adapter.eventIndex("stop", "db")
	require.NotEqual(t, -1, appStop)
	require.NotEqual(t, -1, dbStop)
	assert.Less(t, appStop, dbStop)

	for _, snap := range o.Snapshots() {
		assert.Equal(t, services.PhaseStopped, snap.Phase, snap.Label)
	}
}

func TestRunBlockedDependentStaysPending(t *testing.T) {
	adapter := newStackAdapter(map[string]*serviceScript{
		"db": {startErr: errors.New("no such image")},
	})
	db := config.ServiceDefinition{Name: "db", RestartPolicy: config.RestartNever}
	app := config.ServiceDefinition{Name: "app", DependsOn: []string{"db"}, RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{}, db, app), adapter)
	require.NoError(t, err)

	cancel, errCh := runStack(t, o)
	awaitSettled(t, o)

	assert.Equal(t, services.PhaseFailed, o.Status()["db"])
	assert.Equal(t, services.PhasePending, o.Status()["app"], "cascading is off by default")
	assert.Equal(t, 0, adapter.countEvents("start", "app"))

	cancel()
	err = awaitRunExit(t, errCh)
	require.Error(t, err)
	assert.ErrorContains(t, err, "db")
	assert.NotContains(t, err.Error(), "app")
	assert.Equal(t, services.PhaseStopped, o.Status()["app"])
}

func TestRunCascadeFailsDependents(t *testing.T) {
	adapter := newStackAdapter(map[string]*serviceScript{
		"db": {startErr: errors.New("no such image")},
	})
	db := config.ServiceDefinition{Name: "db", RestartPolicy: config.RestartNever}
	app := config.ServiceDefinition{Name: "app", DependsOn: []string{"db"}, RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{CascadeFailures: true}, db, app), adapter)
	require.NoError(t, err)

	// With every service terminal the run exits on its own, no
	// cancellation needed.
	_, errCh := runStack(t, o)
	err = awaitRunExit(t, errCh)

	require.Error(t, err)
	assert.ErrorContains(t, err, "2 service(s) failed")
	assert.ErrorContains(t, err, "db, app")
	assert.Equal(t, 0, adapter.countEvents("start", "app"))
}

func TestRunDiamondTopologyStartAndStopOrder(t *testing.T) {
	adapter := newStackAdapter(nil)
	base := config.ServiceDefinition{Name: "base", RestartPolicy: config.RestartNever}
	left := config.ServiceDefinition{Name: "left", DependsOn: []string{"base"}, RestartPolicy: config.RestartNever}
	right := config.ServiceDefinition{Name: "right", DependsOn: []string{"base"}, RestartPolicy: config.RestartNever}
	top := config.ServiceDefinition{Name: "top", DependsOn: []string{"left", "right"}, RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{}, base, left, right, top), adapter)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "left", "right", "top"}, o.StartOrder())

	cancel, errCh := runStack(t, o)
	awaitSettled(t, o)
	cancel()
	require.NoError(t, awaitRunExit(t, errCh))

	for _, name := range []string{"left", "right", "top"} {
		assert.Less(t, adapter.eventIndex("start", "base"), adapter.eventIndex("start", name))
	}
	assert.Less(t, adapter.eventIndex("start", "left"), adapter.eventIndex("start", "top"))
	assert.Less(t, adapter.eventIndex("start", "right"), adapter.eventIndex("start", "top"))

	// top stops first, base last.
	for _, name := range []string{"left", "right", "base"} {
		assert.Less(t, adapter.eventIndex("stop", "top"), adapter.eventIndex("stop", name))
	}
	assert.Less(t, adapter.eventIndex("stop", "left"), adapter.eventIndex("stop", "base"))
	assert.Less(t, adapter.eventIndex("stop", "right"), adapter.eventIndex("stop", "base"))
}

func TestSubscribeDeliversTransitionsInOrder(t *testing.T) {
	adapter := newStackAdapter(nil)
	db := config.ServiceDefinition{Name: "db", RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{}, db), adapter)
	require.NoError(t, err)

	events := o.Subscribe()
	cancel, errCh := runStack(t, o)
	awaitSettled(t, o)
	cancel()
	require.NoError(t, awaitRunExit(t, errCh))

	var phases []services.Phase
	for tr := range events { // closed when Run returns
		require.Equal(t, "db", tr.Label)
		phases = append(phases, tr.NewPhase)
	}
	assert.Equal(t, []services.Phase{
		services.PhaseStarting, services.PhaseHealthy,
		services.PhaseStopping, services.PhaseStopped,
	}, phases)
}

func TestUnhealthyDependencyDoesNotReleaseNewDependents(t *testing.T) {
	// db comes up, then goes unhealthy and recovers. app, which only
	// becomes ready while db is down, must still use the one-time
	// "was healthy" gate and start.
	adapter := newStackAdapter(map[string]*serviceScript{
		"db": {checkScript: []probeResult{
			{ok: true}, {ok: false}, {ok: false}, {ok: false}, {ok: true},
		}},
	})
	db := config.ServiceDefinition{Name: "db", RestartPolicy: config.RestartAlways, HealthCheck: fastCheck(3)}
	app := config.ServiceDefinition{Name: "app", DependsOn: []string{"db"}, RestartPolicy: config.RestartNever}

	o, err := New(stackOf(config.Settings{}, db, app), adapter)
	require.NoError(t, err)

	cancel, errCh := runStack(t, o)
	awaitSettled(t, o)

	// db restarted once after its unhealthy spell.
	require.Eventually(t, func() bool {
		return adapter.countEvents("start", "db") == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, adapter.countEvents("start", "app"))

	cancel()
	require.NoError(t, awaitRunExit(t, errCh))
}
