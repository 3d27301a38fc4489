package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webrender/webrender/internal/browser"
	"github.com/webrender/webrender/internal/config"
	"github.com/webrender/webrender/internal/observability"
	"github.com/webrender/webrender/internal/render"
	"github.com/webrender/webrender/internal/server"
)

func newServeCmd() *cobra.Command {
	defaults := config.NewDefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the render API over HTTP",
		Long: `Starts the HTTP API. The browser is launched on the first render and
shared by every request; each render gets its own incognito context.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, observability.GetLogger())
		},
	}
	addBrowserFlags(cmd, defaults)
	cmd.Flags().String("host", defaults.Server().Host, "interface to listen on (all when empty)")
	cmd.Flags().Int("port", defaults.Server().Port, "port to listen on")
	cmd.Flags().String("completion", defaults.Render().Completion,
		fmt.Sprintf("how renders without a script finish: %q or %q", config.CompletionExplicitLifecycle, config.CompletionIdleNetwork))
	return cmd
}

// addBrowserFlags registers the flags shared by commands that drive the browser.
func addBrowserFlags(cmd *cobra.Command, defaults config.Interface) {
	cmd.Flags().Bool("headless", defaults.Browser().Headless, "run the browser without a window")
	cmd.Flags().String("chrome-bin", defaults.Browser().ExecPath, "browser executable (found on PATH when empty)")
}

// runServer wires the browser manager, the engine and the HTTP server, and
// serves until ctx is canceled.
func runServer(ctx context.Context, cfg config.Interface, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := browser.NewManager(cfg.Browser(), logger, browser.WithCreatorVersion(Version))
	engine := render.NewEngine(manager, cfg.Render(), logger,
		render.WithMetrics(render.NewMetrics(registry)),
		render.WithBlankURL(cfg.Server().BaseURL()+"/empty"),
	)
	srv := server.New(cfg.Server(), engine, logger, Version,
		server.WithGatherer(registry),
		server.WithShutdownHook(manager.Release),
	)

	logger.Info("Starting webrender.",
		zap.String("version", Version),
		zap.String("completion", cfg.Render().Completion),
		zap.Int("max_concurrent_sessions", cfg.Render().MaxConcurrentSessions),
	)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Stopped.")
	return nil
}
