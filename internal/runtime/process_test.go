package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/config"
)

func TestProcessAdapter_StartStop(t *testing.T) {
	p := NewProcessAdapter()
	ctx := context.Background()

	h, err := p.Start(ctx, "sleeper", config.RuntimeResources{
		Command: []string{"sleep", "60"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, h)

	// sleep exits promptly on SIGTERM.
	err = p.Stop(ctx, h, 5*time.Second)
	assert.NoError(t, err)
}

func TestProcessAdapter_StartFailure(t *testing.T) {
	p := NewProcessAdapter()

	_, err := p.Start(context.Background(), "ghost", config.RuntimeResources{
		Command: []string{"/nonexistent/binary"},
	})
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "ghost", startErr.Name)
}

func TestProcessAdapter_StopTimeoutEscalatesToKill(t *testing.T) {
	p := NewProcessAdapter()
	ctx := context.Background()

	// A shell that traps and ignores SIGTERM.
	h, err := p.Start(ctx, "stubborn", config.RuntimeResources{
		Command: []string{"sh", "-c", "trap '' TERM; sleep 60"},
	})
	require.NoError(t, err)

	err = p.Stop(ctx, h, 200*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *ShutdownTimeoutError
	assert.True(t, errors.As(err, &timeoutErr))

	// Escalation path: ForceKill must take it down.
	require.NoError(t, p.ForceKill(h))
}

func TestProcessAdapter_RunCheckVerdicts(t *testing.T) {
	p := NewProcessAdapter()
	ctx := context.Background()

	h, err := p.Start(ctx, "svc", config.RuntimeResources{
		Command: []string{"sleep", "60"},
	})
	require.NoError(t, err)
	defer p.ForceKill(h)

	ok, err := p.RunCheck(ctx, h, []string{"true"}, time.Second)
	assert.NoError(t, err)
	assert.True(t, ok, "exit 0 is healthy")

	ok, err = p.RunCheck(ctx, h, []string{"false"}, time.Second)
	assert.NoError(t, err, "a clean non-zero exit is a verdict, not a probe error")
	assert.False(t, ok)

	ok, err = p.RunCheck(ctx, h, []string{"sleep", "5"}, 100*time.Millisecond)
	assert.Error(t, err, "timeout is a probe error")
	assert.False(t, ok)
}
