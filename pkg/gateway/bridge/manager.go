// Package bridge converts stdio-only backend servers into HTTP-addressable
// ones, either by spawning a local bridge subprocess or by delegating to a
// remote bridging service. It owns port allocation and process bookkeeping.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

// Mode selects who owns the bridge processes.
type Mode string

// Bridging modes.
const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Config carries the bridging knobs, read once at startup.
type Config struct {
	Mode Mode
	// ServiceURL is the remote bridging service base URL (remote mode).
	ServiceURL string
	// BasePort and RangeSize bound local port allocation.
	BasePort  int
	RangeSize int
	// BridgeCommand is the local bridge binary.
	BridgeCommand string
	// HealthInterval and HealthAttempts bound the post-spawn health poll.
	HealthInterval time.Duration
	HealthAttempts uint
}

// localBridge tracks one locally spawned bridge.
type localBridge struct {
	handle Handle
	port   int
}

// Manager drives stdio-to-HTTP conversion. Safe for concurrent use; two
// concurrent conversions can never race onto the same port.
type Manager struct {
	registry *gateway.Registry
	mode     Mode
	remote   *RemoteClient
	launcher Launcher
	ports    *PortAllocator

	waitHealthy func(ctx context.Context, port int) error

	mu    sync.Mutex
	procs map[string]*localBridge
}

// NewManager creates a conversion manager and hooks bridge teardown into
// server deletion.
func NewManager(cfg Config, registry *gateway.Registry) *Manager {
	m := &Manager{
		registry: registry,
		mode:     cfg.Mode,
		ports:    NewPortAllocator(cfg.BasePort, cfg.RangeSize),
		procs:    make(map[string]*localBridge),
	}
	if cfg.Mode == ModeRemote {
		m.remote = NewRemoteClient(cfg.ServiceURL)
	} else {
		m.launcher = NewExecLauncher(cfg.BridgeCommand)
		checker := NewHealthChecker(cfg.HealthInterval, cfg.HealthAttempts)
		m.waitHealthy = checker.WaitHealthy
	}

	registry.OnDelete(func(ctx context.Context, name string) {
		if err := m.StopProxy(ctx, name); err != nil {
			logger.Warnf("Failed to stop bridge for deleted server %q: %v", name, err)
		}
	})
	return m
}

// Convert flips a stdio definition into an HTTP one backed by a bridge.
// Converting an already converted server is a no-op returning the current
// definition.
func (m *Manager) Convert(ctx context.Context, serverName string) (*gateway.ServerDefinition, error) {
	def, err := m.registry.Get(serverName)
	if err != nil {
		return nil, err
	}

	if def.TransportType != gateway.TransportStdio {
		if isConverted(def) {
			return def, nil
		}
		return nil, fmt.Errorf("%w: server %q has transport %q, only stdio servers can be converted",
			gateway.ErrInvalidServerConfig, serverName, def.TransportType)
	}
	if def.Command == "" {
		return nil, fmt.Errorf("%w: stdio server %q has no command", gateway.ErrInvalidServerConfig, serverName)
	}

	var (
		bridgeURL string
		port      int
	)
	if m.mode == ModeRemote {
		info, err := m.remote.Convert(ctx, serverName, def.Command, def.Args, def.Env)
		if err != nil {
			return nil, err
		}
		bridgeURL, port = info.URL, info.Port
	} else {
		// A stale bridge from a failed earlier conversion may still be
		// tracked; tear it down before spawning a fresh one.
		m.teardown(ctx, serverName)
		bridgeURL, port, err = m.spawnLocal(ctx, serverName, def.Command, def.Args, def.Env, 0)
		if err != nil {
			return nil, err
		}
	}

	converted := *def
	converted.TransportType = gateway.TransportHTTP
	converted.URL = bridgeURL
	converted.Command = ""
	converted.Args = nil
	converted.Env = nil
	if converted.Metadata == nil {
		converted.Metadata = make(map[string]any)
	}
	converted.Metadata[gateway.MetaConvertedFromStdio] = true
	converted.Metadata[gateway.MetaOriginalCommand] = def.Command
	converted.Metadata[gateway.MetaOriginalArgs] = def.Args
	converted.Metadata[gateway.MetaOriginalEnv] = def.Env
	converted.Metadata[gateway.MetaProxyPort] = port

	if err := m.registry.Upsert(ctx, &converted); err != nil {
		m.teardown(ctx, serverName)
		return nil, fmt.Errorf("failed to persist converted definition for %q: %w", serverName, err)
	}
	logger.Infof("Converted stdio server %q to HTTP at %s", serverName, bridgeURL)
	return &converted, nil
}

// spawnLocal reserves a port (or the exact requested one), spawns the bridge
// and waits for it to become healthy. Port and process are released on any
// failure.
func (m *Manager) spawnLocal(ctx context.Context, serverName, command string, args []string, env map[string]string, exactPort int) (string, int, error) {
	var (
		port int
		err  error
	)
	if exactPort > 0 {
		port = exactPort
		err = m.ports.ReserveExact(exactPort)
	} else {
		port, err = m.ports.Reserve(serverName)
	}
	if err != nil {
		return "", 0, err
	}

	handle, err := m.launcher.Spawn(ctx, command, args, env, port)
	if err != nil {
		m.ports.Release(port)
		return "", 0, err
	}

	if err := m.waitHealthy(ctx, port); err != nil {
		_ = handle.Terminate()
		m.ports.Release(port)
		return "", 0, err
	}

	m.mu.Lock()
	m.procs[serverName] = &localBridge{handle: handle, port: port}
	m.mu.Unlock()

	return fmt.Sprintf("http://127.0.0.1:%d/mcp", port), port, nil
}

// StopProxy tears down the bridge for a server. Already-stopped bridges are
// not an error in either mode.
func (m *Manager) StopProxy(ctx context.Context, serverName string) error {
	if m.mode == ModeRemote {
		return m.remote.Stop(ctx, serverName)
	}
	m.teardown(ctx, serverName)
	return nil
}

// Revert restores a converted server to its original stdio definition and
// stops the bridge.
func (m *Manager) Revert(ctx context.Context, serverName string) (*gateway.ServerDefinition, error) {
	def, err := m.registry.Get(serverName)
	if err != nil {
		return nil, err
	}
	if !isConverted(def) {
		return nil, fmt.Errorf("%w: server %q was not converted from stdio", gateway.ErrInvalidServerConfig, serverName)
	}

	if err := m.StopProxy(ctx, serverName); err != nil {
		return nil, err
	}

	restored := *def
	restored.TransportType = gateway.TransportStdio
	restored.URL = ""
	restored.Command = metaString(def.Metadata, gateway.MetaOriginalCommand)
	restored.Args = metaStringSlice(def.Metadata, gateway.MetaOriginalArgs)
	restored.Env = metaStringMap(def.Metadata, gateway.MetaOriginalEnv)
	restored.Metadata = copyMetaWithout(def.Metadata,
		gateway.MetaConvertedFromStdio, gateway.MetaOriginalCommand, gateway.MetaOriginalArgs,
		gateway.MetaOriginalEnv, gateway.MetaProxyPort)

	if err := m.registry.Upsert(ctx, &restored); err != nil {
		return nil, fmt.Errorf("failed to persist reverted definition for %q: %w", serverName, err)
	}
	logger.Infof("Reverted server %q to stdio", serverName)
	return &restored, nil
}

// RestartConvertedServers re-establishes bridges for every definition that
// was converted from stdio. Called once at startup, from its own goroutine,
// so gateway readiness never waits on it. Local bridges come back on their
// previously recorded ports so stored URLs stay valid.
func (m *Manager) RestartConvertedServers(ctx context.Context) {
	for _, def := range m.registry.List() {
		def := def
		if !isConverted(&def) {
			continue
		}

		if m.mode == ModeRemote {
			_, err := m.remote.Convert(ctx, def.Name,
				metaString(def.Metadata, gateway.MetaOriginalCommand),
				metaStringSlice(def.Metadata, gateway.MetaOriginalArgs),
				metaStringMap(def.Metadata, gateway.MetaOriginalEnv))
			if err != nil {
				logger.Errorf("Failed to re-establish remote bridge for %q: %v", def.Name, err)
			}
			continue
		}

		port := metaInt(def.Metadata, gateway.MetaProxyPort)
		if port == 0 {
			logger.Errorf("Converted server %q has no recorded port, skipping restart", def.Name)
			continue
		}
		if _, _, err := m.spawnLocal(ctx, def.Name,
			metaString(def.Metadata, gateway.MetaOriginalCommand),
			metaStringSlice(def.Metadata, gateway.MetaOriginalArgs),
			metaStringMap(def.Metadata, gateway.MetaOriginalEnv),
			port); err != nil {
			logger.Errorf("Failed to restart bridge for %q on port %d: %v", def.Name, port, err)
		}
	}
}

// BridgePort reports the local port of a running bridge, zero if none.
func (m *Manager) BridgePort(serverName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.procs[serverName]; ok {
		return b.port
	}
	return 0
}

func (m *Manager) teardown(_ context.Context, serverName string) {
	m.mu.Lock()
	b, ok := m.procs[serverName]
	delete(m.procs, serverName)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := b.handle.Terminate(); err != nil {
		logger.Warnf("Failed to terminate bridge process for %q: %v", serverName, err)
	}
	m.ports.Release(b.port)
}

func isConverted(def *gateway.ServerDefinition) bool {
	v, ok := def.Metadata[gateway.MetaConvertedFromStdio]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Metadata values round-trip through JSON, so numbers come back as float64
// and slices as []any. These helpers normalize both shapes.

// copyMetaWithout copies a metadata map minus the given keys, returning nil
// when nothing remains.
func copyMetaWithout(meta map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func metaStringSlice(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func metaStringMap(meta map[string]any, key string) map[string]string {
	switch v := meta[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
