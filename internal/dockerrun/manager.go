// Container and network lifecycle driven through the docker CLI
package dockerrun

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	commandTimeout = 30 * time.Second

	healthCheckInterval       = 200 * time.Millisecond
	healthCheckRequestTimeout = 2 * time.Second
)

// Options configures the benchmark containers and network.
type Options struct {
	NetworkName  string
	ServiceAlias string
	ImageServer  string
	ImageClient  string
	// Port is the replica port inside the containers; host mappings use
	// Port for the source and Port+1 for the destination.
	Port int
}

// Manager starts, wires and tears down the benchmark containers. Alias
// attachment and detachment implement the network switch the migration
// strategies depend on; both are idempotent.
type Manager struct {
	opts Options
}

// NewManager validates the options and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.NetworkName == "" || opts.ServiceAlias == "" {
		return nil, fmt.Errorf("network name and service alias are required")
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}
	return &Manager{opts: opts}, nil
}

func (m *Manager) docker(ctx context.Context, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s failed: %v, output: %s", strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// BuildImages builds the server and client images from the given build
// context directory, which must contain Dockerfile.server and
// Dockerfile.client.
func (m *Manager) BuildImages(ctx context.Context, appDir string) error {
	if _, err := m.docker(ctx, "build", "-f", appDir+"/Dockerfile.server", "-t", m.opts.ImageServer, appDir); err != nil {
		return err
	}
	_, err := m.docker(ctx, "build", "-f", appDir+"/Dockerfile.client", "-t", m.opts.ImageClient, appDir)
	return err
}

// EnsureNetwork creates the benchmark bridge network if it does not
// exist yet.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	if _, err := m.docker(ctx, "network", "inspect", m.opts.NetworkName); err == nil {
		return nil
	}
	_, err := m.docker(ctx, "network", "create", "--driver", "bridge", m.opts.NetworkName)
	return err
}

// RemoveIfExists force-removes a leftover container from a previous run.
func (m *Manager) RemoveIfExists(ctx context.Context, name string) {
	_, _ = m.docker(ctx, "rm", "-f", name)
}

// RunServer starts one replica container on the benchmark network,
// publishing its port on the given host port. The replica starts without
// the service alias; AttachAlias assigns it.
func (m *Manager) RunServer(ctx context.Context, name string, hostPort int) error {
	m.RemoveIfExists(ctx, name)
	_, err := m.docker(ctx, "run", "-d",
		"--name", name,
		"--network", m.opts.NetworkName,
		"-e", "SERVER_NAME="+name,
		"-e", "PORT="+strconv.Itoa(m.opts.Port),
		"-p", fmt.Sprintf("%d:%d", hostPort, m.opts.Port),
		m.opts.ImageServer,
	)
	return err
}

// ClientEnv is the environment passed to one load client container.
type ClientEnv struct {
	ClientID     string
	RateHz       float64
	PayloadBytes int
	TimeoutMS    int
	RunID        string
}

// RunClient starts one load client container targeting the service alias.
func (m *Manager) RunClient(ctx context.Context, name string, env ClientEnv) error {
	m.RemoveIfExists(ctx, name)
	_, err := m.docker(ctx, "run", "-d",
		"--name", name,
		"--network", m.opts.NetworkName,
		"-e", "TARGET_HOST="+m.opts.ServiceAlias,
		"-e", "TARGET_PORT="+strconv.Itoa(m.opts.Port),
		"-e", "CLIENT_ID="+env.ClientID,
		"-e", fmt.Sprintf("RATE_HZ=%g", env.RateHz),
		"-e", "PAYLOAD_BYTES="+strconv.Itoa(env.PayloadBytes),
		"-e", "TIMEOUT_MS="+strconv.Itoa(env.TimeoutMS),
		"-e", "RUN_ID="+env.RunID,
		m.opts.ImageClient,
	)
	return err
}

// AttachAlias reconnects the container to the benchmark network with the
// service alias, making it reachable under the service's stable address.
// Safe to call when the alias is already attached.
func (m *Manager) AttachAlias(ctx context.Context, name string) error {
	m.disconnect(ctx, name)
	_, err := m.docker(ctx, "network", "connect", "--alias", m.opts.ServiceAlias, m.opts.NetworkName, name)
	return err
}

// DetachAlias reconnects the container without the alias: clients can no
// longer reach it, the orchestrator and its peer still can. Safe to call
// when already detached.
func (m *Manager) DetachAlias(ctx context.Context, name string) error {
	m.disconnect(ctx, name)
	_, err := m.docker(ctx, "network", "connect", m.opts.NetworkName, name)
	return err
}

// disconnect drops the container's endpoint so the follow-up connect
// never races an existing one. Failure is ignored: the container may not
// be connected yet.
func (m *Manager) disconnect(ctx context.Context, name string) {
	_, _ = m.docker(ctx, "network", "disconnect", m.opts.NetworkName, name)
}

// Logs fetches a container's stdout, which for load clients carries the
// telemetry lines.
func (m *Manager) Logs(ctx context.Context, name string) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, "docker", "logs", name)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker logs %s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Stop stops and removes the named containers, ignoring per-container
// failures so teardown always runs to completion.
func (m *Manager) Stop(ctx context.Context, names ...string) {
	for _, name := range names {
		_, _ = m.docker(ctx, "stop", "-t", "2", name)
		_, _ = m.docker(ctx, "rm", "-f", name)
	}
}

// WaitReady polls the replica's health endpoint until it answers 200 or
// the timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, baseURL string, timeout time.Duration) error {
	client := http.Client{}
	deadline := time.Now().Add(timeout)
	url := strings.TrimRight(baseURL, "/") + "/health"

	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, healthCheckRequestTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return err
		}
		resp, err := client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(healthCheckInterval)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
			time.Sleep(healthCheckInterval)
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("replica did not become ready in %s: last error: %v", timeout, lastErr)
	}
	return fmt.Errorf("replica did not become ready in %s", timeout)
}
