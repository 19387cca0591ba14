package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"logpipe/internal/app"
	"logpipe/internal/auth"
	"logpipe/internal/config"
	"logpipe/internal/host"
	"logpipe/internal/httpapi"
	"logpipe/internal/utils"
)

// shutdownSlack is added to the dispatcher's shutdown grace so that the
// admin API and the backends get time to close after the queue drains.
const shutdownSlack = 5 * time.Second

func newServeCommand(version string) *cobra.Command {
	var (
		catalogPath string
		watch       bool
		port        string
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the log pipeline and its admin API",
		Long: `Runs the pipeline described by the environment (LOGPIPE_*) and the
provider catalog, and serves the admin API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Version == "dev" && version != "" {
				cfg.Version = version
			}
			if cmd.Flags().Changed("catalog") {
				cfg.Catalog.Path = catalogPath
			}
			if cmd.Flags().Changed("watch") {
				cfg.Catalog.Watch = watch
			}
			if cmd.Flags().Changed("port") {
				cfg.Admin.HTTPPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg)
		},
	}
	serveCmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "Provider catalog file (overrides LOGPIPE_CATALOG)")
	serveCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-apply the catalog when the file changes")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Admin API port (overrides LOGPIPE_HTTP_PORT)")
	return serveCmd
}

// Serve runs the pipeline and the admin API until ctx is cancelled, then
// shuts both down in reverse order.
func Serve(ctx context.Context, cfg *config.Config, opts ...app.Option) error {
	logger := utils.NewLogger("logpipe")

	pipeline, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	router := httpapi.NewRouter(&httpapi.Dependencies{
		Pipeline: pipeline,
		Auth:     auth.NewAuthenticator(cfg.Admin),
	})
	server := httpapi.NewServer(net.JoinHostPort("", cfg.Admin.HTTPPort), router)

	h := host.New(pipeline, server)
	startErr := h.Start(ctx)
	if startErr == nil {
		logger.Info("logpipe started", "version", cfg.Version, "admin_addr", server.Addr())
		<-ctx.Done()
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownGrace+shutdownSlack)
	defer cancel()
	stopErr := h.Stop(shutdownCtx)
	if stopErr != nil {
		logger.Error("Shutdown finished with errors", "error", stopErr)
	}
	return errors.Join(startErr, stopErr)
}
