// Command acrgw is the AI Core gateway server and inspection CLI.
//
// Run with no subcommand (or with `serve`) to start the HTTP server:
//
//	./acrgw --config ./config.yaml serve
//
// Or inspect configured resource groups and live deployments without
// starting the server:
//
//	./acrgw resource-group list
//	./acrgw deployments list --resource-group default
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acrgw/aicore-gateway/internal/app"
	"github.com/acrgw/aicore-gateway/internal/cli"
	"github.com/acrgw/aicore-gateway/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "acrgw",
		Short: "AI Core Gateway — LLM API proxy for SAP AI Core tenants",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newResourceGroupCmd(), newDeploymentsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if port != 0 {
				cfg.Port = port
			}

			log := buildLogger(cfg.LogLevel)
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log, version)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to bind the server to (overrides config)")
	return cmd
}

func newResourceGroupCmd() *cobra.Command {
	root := &cobra.Command{Use: "resource-group", Short: "Manage resource groups"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all configured resource groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return cli.ListResourceGroups(cfg)
		},
	})
	return root
}

func newDeploymentsCmd() *cobra.Command {
	var resourceGroup string
	root := &cobra.Command{Use: "deployments", Short: "Manage deployments"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List live deployments across all configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			a, err := app.New(cmd.Context(), cfg, log, version)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			defer a.Close()

			return cli.ListDeployments(a, resourceGroup)
		},
	}
	list.Flags().StringVarP(&resourceGroup, "resource-group", "r", "", "filter to a single resource group")
	root.AddCommand(list)
	return root
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
