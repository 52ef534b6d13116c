// Package config loads the gateway configuration from file, environment and
// flags via viper. Everything is read once at startup and injected into the
// components.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/toolgate/toolgate/pkg/gateway/bridge"
)

// Config is the gateway's startup configuration.
type Config struct {
	// ListenAddr is the HTTP listen address for the REST and MCP surface.
	ListenAddr string `mapstructure:"listen_addr"`
	// StorePath is the SQLite database holding server and group records.
	StorePath string `mapstructure:"store_path"`
	// PolicyEngineURL enables policy filtering when set; empty disables it.
	PolicyEngineURL string `mapstructure:"policy_engine_url"`
	// Debug switches the logger to debug level.
	Debug bool `mapstructure:"debug"`

	Bridge BridgeConfig `mapstructure:"bridge"`
}

// BridgeConfig carries the stdio conversion knobs.
type BridgeConfig struct {
	Mode             string `mapstructure:"mode"`
	ServiceURL       string `mapstructure:"service_url"`
	BasePort         int    `mapstructure:"base_port"`
	PortRange        int    `mapstructure:"port_range"`
	Command          string `mapstructure:"command"`
	HealthIntervalMs int    `mapstructure:"health_interval_ms"`
	HealthAttempts   uint   `mapstructure:"health_attempts"`
}

// ToBridge converts to the bridge manager's config.
func (b BridgeConfig) ToBridge() bridge.Config {
	return bridge.Config{
		Mode:           bridge.Mode(b.Mode),
		ServiceURL:     b.ServiceURL,
		BasePort:       b.BasePort,
		RangeSize:      b.PortRange,
		BridgeCommand:  b.Command,
		HealthInterval: time.Duration(b.HealthIntervalMs) * time.Millisecond,
		HealthAttempts: b.HealthAttempts,
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	switch bridge.Mode(c.Bridge.Mode) {
	case bridge.ModeLocal:
		if c.Bridge.PortRange <= 0 {
			return fmt.Errorf("bridge.port_range must be positive in local mode")
		}
	case bridge.ModeRemote:
		if c.Bridge.ServiceURL == "" {
			return fmt.Errorf("bridge.service_url is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown bridge mode %q", c.Bridge.Mode)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8155")
	v.SetDefault("store_path", "toolgate.db")
	v.SetDefault("policy_engine_url", "")
	v.SetDefault("debug", false)
	v.SetDefault("bridge.mode", string(bridge.ModeLocal))
	v.SetDefault("bridge.service_url", "")
	v.SetDefault("bridge.base_port", 9000)
	v.SetDefault("bridge.port_range", 100)
	v.SetDefault("bridge.command", "mcp-bridge")
	v.SetDefault("bridge.health_interval_ms", 500)
	v.SetDefault("bridge.health_attempts", 20)
}

// Load reads the configuration. An empty path skips the config file and
// relies on defaults and TOOLGATE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.GetViper()
	setDefaults(v)

	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
