package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"stackctl/internal/config"
	"stackctl/pkg/logging"
)

// DockerAdapter runs services as Docker containers. One adapter is shared
// by all supervisors; the underlying client is thread-safe and reuses
// connections to the daemon.
type DockerAdapter struct {
	cli *client.Client
}

// NewDockerAdapter creates the adapter and verifies the daemon is
// reachable.
func NewDockerAdapter() (*DockerAdapter, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("cannot connect to Docker daemon (is Docker running?): %w", err)
	}
	return &DockerAdapter{cli: cli}, nil
}

// newDockerClient creates a Docker client. If DOCKER_HOST is not set, it
// probes common socket paths so the SDK finds Docker Desktop without
// extra configuration.
func newDockerClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	if os.Getenv("DOCKER_HOST") == "" {
		if sock := findSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}

	return client.NewClientWithOpts(opts...)
}

// findSocket returns the first existing Docker socket path, or "".
func findSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	candidates := []string{
		"/var/run/docker.sock",
	}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// containerName returns the Docker container name for a service.
func containerName(service string) string {
	return "stackctl-" + service
}

// Start pulls the image if needed, creates the container with the
// declared ports, volumes and env, and starts it. A stale container from
// a previous run with the same name is removed first.
func (d *DockerAdapter) Start(ctx context.Context, name string, res config.RuntimeResources) (Handle, error) {
	if err := d.ensureImage(ctx, res.Image); err != nil {
		return "", &StartError{Name: name, Err: err}
	}

	portBindings, exposedPorts, err := buildPortBindings(res.Ports)
	if err != nil {
		return "", &StartError{Name: name, Err: err}
	}

	cfg := &container.Config{
		Image:        res.Image,
		Env:          envMapToSlice(res.Env),
		ExposedPorts: exposedPorts,
		WorkingDir:   res.WorkDir,
	}
	if len(res.Command) > 0 {
		cfg.Cmd = res.Command
	}
	if len(res.Entrypoint) > 0 {
		cfg.Entrypoint = res.Entrypoint
	}

	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        res.Volumes,
	}

	cname := containerName(name)

	// Remove any leftover container with our name; a crashed previous
	// run may not have cleaned up.
	if err := d.cli.ContainerRemove(ctx, cname, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		logging.Debug("DockerAdapter", "Pre-start removal of %s: %v", cname, err)
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, cname)
	if err != nil {
		return "", &StartError{Name: name, Err: fmt.Errorf("create container: %w", err)}
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Creation succeeded but start failed; don't leave the corpse.
		d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", &StartError{Name: name, Err: fmt.Errorf("start container: %w", err)}
	}

	logging.Debug("DockerAdapter", "Started container %s (%s) for service %s", cname, resp.ID[:12], name)
	return Handle(resp.ID), nil
}

// ensureImage pulls the image unless it is already present locally.
func (d *DockerAdapter) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	logging.Info("DockerAdapter", "Pulling image %s", ref)
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	// Drain the pull output to completion; the pull isn't done until
	// the response body is fully read.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		rc.Close()
		return fmt.Errorf("pull %s: read response: %w", ref, err)
	}
	return rc.Close()
}

// Stop stops the container with the grace period mapped onto Docker's
// stop timeout, then removes it. Grace overrun surfaces as a
// *ShutdownTimeoutError so the supervisor can escalate to ForceKill.
func (d *DockerAdapter) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace+5*time.Second)
	defer cancel()

	if err := d.cli.ContainerStop(stopCtx, string(h), container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		if stopCtx.Err() != nil {
			return &ShutdownTimeoutError{Handle: h, Grace: grace}
		}
		return fmt.Errorf("stop container: %w", err)
	}

	// Inspect to confirm the stop actually landed within grace; Docker
	// escalates to SIGKILL itself after the timeout, so a still-running
	// container here means something is badly wedged.
	inspect, err := d.cli.ContainerInspect(stopCtx, string(h))
	if err == nil && inspect.State != nil && inspect.State.Running {
		return &ShutdownTimeoutError{Handle: h, Grace: grace}
	}

	if err := d.cli.ContainerRemove(context.Background(), string(h), container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		logging.Warn("DockerAdapter", "Failed to remove container %s: %v", h, err)
	}
	return nil
}

// RunCheck executes the health command inside the container via docker
// exec and maps the exit code to a verdict.
func (d *DockerAdapter) RunCheck(ctx context.Context, h Handle, cmd []string, timeout time.Duration) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, err := d.cli.ContainerExecCreate(checkCtx, string(h), container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return false, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.cli.ContainerExecAttach(checkCtx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return false, fmt.Errorf("exec attach: %w", err)
	}

	// Drain output; the exec isn't finished until the stream closes.
	_, err = stdcopy.StdCopy(io.Discard, io.Discard, resp.Reader)
	resp.Close()
	if err != nil {
		if checkCtx.Err() != nil {
			return false, fmt.Errorf("health check timed out after %s", timeout)
		}
		return false, fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return false, fmt.Errorf("exec inspect: %w", err)
	}
	return inspect.ExitCode == 0, nil
}

// ForceKill kills and removes the container. Best effort with a
// background context, since the caller's context may already be cancelled.
func (d *DockerAdapter) ForceKill(h Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.cli.ContainerKill(ctx, string(h), "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		if !strings.Contains(err.Error(), "is not running") {
			return fmt.Errorf("kill container: %w", err)
		}
	}
	if err := d.cli.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// envMapToSlice converts a map of env vars to a slice of "KEY=VALUE" strings.
func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// buildPortBindings creates Docker port bindings from "host:container"
// mappings. A bare "8000" publishes the same port on both sides.
func buildPortBindings(ports []string) (nat.PortMap, nat.PortSet, error) {
	portBindings := make(nat.PortMap)
	exposedPorts := make(nat.PortSet)

	for _, mapping := range ports {
		hostPort, containerPort := mapping, mapping
		if host, cont, ok := strings.Cut(mapping, ":"); ok {
			hostPort, containerPort = host, cont
		}

		contKey, err := nat.NewPort("tcp", containerPort)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %q: %w", mapping, err)
		}
		exposedPorts[contKey] = struct{}{}
		portBindings[contKey] = append(portBindings[contKey], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: hostPort,
		})
	}

	return portBindings, exposedPorts, nil
}
