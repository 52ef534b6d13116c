// Package app defines the toolgate CLI commands.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolgate/toolgate/pkg/api"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/gateway/bridge"
	"github.com/toolgate/toolgate/pkg/gateway/client"
	"github.com/toolgate/toolgate/pkg/gateway/policy"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/secrets"
	"github.com/toolgate/toolgate/pkg/state"
	"github.com/toolgate/toolgate/pkg/telemetry"
	"github.com/toolgate/toolgate/pkg/versions"
)

// NewRootCmd creates the root command for toolgate.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolgate",
		Short: "MCP gateway aggregating multiple backend tool servers",
		Long: `toolgate sits between MCP clients and a dynamic set of backend tool
servers. It aggregates their tools, resources and prompts into one surface,
routes single-server and broadcast invocations, filters tools through policy
and group configuration, and converts stdio-only backends into HTTP services.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Panicf("Failed to bind debug flag: %v", err)
	}
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE:  runServe,
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolgate version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(versions.GetVersionInfo().String())
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Initialize()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := state.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	registry, err := gateway.NewRegistry(ctx, store)
	if err != nil {
		return err
	}

	backend := client.New(secrets.NewResolver())
	metrics := telemetry.New()

	var filter aggregator.Filter
	var policyFilter *policy.Filter
	if cfg.PolicyEngineURL != "" {
		policyFilter = policy.New(cfg.PolicyEngineURL, backend)
		filter = policyFilter
		logger.Infof("Policy filtering enabled against %s", cfg.PolicyEngineURL)
	} else {
		logger.Warn("No policy engine configured, tool filtering is disabled")
	}

	agg := aggregator.New(registry, backend, filter, metrics)
	bridgeManager := bridge.NewManager(cfg.Bridge.ToBridge(), registry)

	// Re-establish bridges for previously converted servers without
	// blocking readiness.
	go bridgeManager.RestartConvertedServers(context.WithoutCancel(ctx))

	handler := api.NewRouter(api.Deps{
		Registry:   registry,
		Aggregator: agg,
		Groups:     groups.NewManager(store),
		Bridge:     bridgeManager,
		Policy:     policyFilter,
		Metrics:    metrics,
	})
	return api.Serve(ctx, cfg.ListenAddr, handler)
}
