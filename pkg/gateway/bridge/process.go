package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

// Handle tracks one spawned bridge process.
type Handle interface {
	// Pid identifies the process for logging.
	Pid() int
	// Terminate force-stops the process and reaps it.
	Terminate() error
}

// Launcher spawns local bridge processes. Swappable so the conversion
// manager can be tested without real subprocesses.
type Launcher interface {
	Spawn(ctx context.Context, command string, args []string, env map[string]string, port int) (Handle, error)
}

// execLauncher runs the bridge binary via os/exec. The stdio server's own
// command line is passed through after a "--" separator and the listen port
// via flag and environment.
type execLauncher struct {
	bridgeCommand string
}

// NewExecLauncher creates the default launcher wrapping the given bridge
// binary.
func NewExecLauncher(bridgeCommand string) Launcher {
	return &execLauncher{bridgeCommand: bridgeCommand}
}

func (l *execLauncher) Spawn(_ context.Context, command string, args []string, env map[string]string, port int) (Handle, error) {
	bridgeArgs := []string{"--port", strconv.Itoa(port), "--", command}
	bridgeArgs = append(bridgeArgs, args...)

	// The bridge must outlive the request that started it; teardown is owned
	// by Terminate via StopProxy and the registry delete hook.
	cmd := exec.Command(l.bridgeCommand, bridgeArgs...)
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to spawn bridge for %q: %v", gateway.ErrBridgeUnavailable, command, err)
	}
	logger.Infof("Spawned bridge process %d on port %d for %q", cmd.Process.Pid, port, command)

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Terminate() error {
	if err := h.cmd.Process.Kill(); err != nil {
		return err
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		logger.Warnf("Bridge process %d did not exit after kill", h.cmd.Process.Pid)
	}
	return nil
}

// HealthChecker polls a local bridge until it answers its health endpoint.
// The retry sequence is bounded and synchronous; conversion is the one path
// allowed to block on it.
type HealthChecker struct {
	client   *http.Client
	interval time.Duration
	attempts uint
}

// NewHealthChecker creates a checker with a fixed delay and attempt count.
func NewHealthChecker(interval time.Duration, attempts uint) *HealthChecker {
	return &HealthChecker{
		client:   &http.Client{Timeout: 2 * time.Second},
		interval: interval,
		attempts: attempts,
	}
}

// WaitHealthy blocks until the bridge on the given port reports healthy or
// the attempt budget runs out.
func (c *HealthChecker) WaitHealthy(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxTries(c.attempts),
	)
	if err != nil {
		return fmt.Errorf("%w: bridge on port %d never became healthy: %v", gateway.ErrBridgeUnavailable, port, err)
	}
	return nil
}
