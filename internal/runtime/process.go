package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"stackctl/internal/config"
	"stackctl/pkg/logging"
)

// ProcessAdapter runs services as local child processes. Useful for
// stacks of plain binaries and for development without a container
// daemon.
type ProcessAdapter struct {
	mu     sync.Mutex
	nextID int
	procs  map[Handle]*processEntry
}

type processEntry struct {
	cmd  *exec.Cmd
	done chan struct{} // closed when Wait returns
}

// NewProcessAdapter creates an adapter with an empty process table.
func NewProcessAdapter() *ProcessAdapter {
	return &ProcessAdapter{procs: make(map[Handle]*processEntry)}
}

// Start launches the command as a child process in its own process
// group, so ForceKill can take out any children it spawned.
func (p *ProcessAdapter) Start(ctx context.Context, name string, res config.RuntimeResources) (Handle, error) {
	if len(res.Command) == 0 {
		return "", &StartError{Name: name, Err: fmt.Errorf("no command configured")}
	}

	cmd := exec.Command(res.Command[0], res.Command[1:]...)
	cmd.Dir = res.WorkDir
	cmd.Env = append(os.Environ(), envMapToSlice(res.Env)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", &StartError{Name: name, Err: err}
	}

	entry := &processEntry{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(entry.done)
	}()

	p.mu.Lock()
	p.nextID++
	h := Handle(fmt.Sprintf("proc-%d-%d", p.nextID, cmd.Process.Pid))
	p.procs[h] = entry
	p.mu.Unlock()

	logging.Debug("ProcessAdapter", "Started process %d for service %s", cmd.Process.Pid, name)
	return h, nil
}

func (p *ProcessAdapter) lookup(h Handle) (*processEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.procs[h]
	return entry, ok
}

// Stop sends SIGTERM to the process group and waits up to grace for the
// process to exit.
func (p *ProcessAdapter) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	entry, ok := p.lookup(h)
	if !ok {
		return nil
	}

	// Negative pid targets the process group.
	syscall.Kill(-entry.cmd.Process.Pid, syscall.SIGTERM)

	select {
	case <-entry.done:
		p.forget(h)
		return nil
	case <-time.After(grace):
		return &ShutdownTimeoutError{Handle: h, Grace: grace}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCheck runs the health command as a short-lived subprocess. The
// service's env is not inherited; checks are expected to probe the
// service from the outside (a port, a file, an HTTP endpoint).
func (p *ProcessAdapter) RunCheck(ctx context.Context, h Handle, cmdline []string, timeout time.Duration) (bool, error) {
	if _, ok := p.lookup(h); !ok {
		return false, fmt.Errorf("process %s is gone", h)
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, cmdline[0], cmdline[1:]...)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if checkCtx.Err() == context.DeadlineExceeded {
		return false, fmt.Errorf("health check timed out after %s", timeout)
	}
	if _, isExit := err.(*exec.ExitError); isExit {
		return false, nil // ran to completion, non-zero exit: unhealthy verdict
	}
	return false, err
}

// ForceKill sends SIGKILL to the process group.
func (p *ProcessAdapter) ForceKill(h Handle) error {
	entry, ok := p.lookup(h)
	if !ok {
		return nil
	}
	syscall.Kill(-entry.cmd.Process.Pid, syscall.SIGKILL)
	<-entry.done
	p.forget(h)
	return nil
}

func (p *ProcessAdapter) forget(h Handle) {
	p.mu.Lock()
	delete(p.procs, h)
	p.mu.Unlock()
}
