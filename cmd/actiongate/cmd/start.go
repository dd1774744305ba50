package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/clinicore/actiongate/internal/adapter/inbound/http"
	"github.com/clinicore/actiongate/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the admin API server",
	Long: `Start actiongate: wire the governance core and serve the admin API
(/admin/api/v1/...), /health and /metrics on server.http_addr.

Examples:
  # Start with config file settings
  actiongate start

  # Development mode with demo data
  ACTIONGATE_DATABASE_SEED=true actiongate --dev start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if f := config.ConfigFileUsed(); f != "" {
		logger.Info("loaded config", "file", f)
	}
	if cfg.UsesDevSecret() {
		logger.Warn("approval tokens are signed with the built-in development secret; set approval.secret for real use")
	}
	if cfg.Executor.Phase != "production" {
		logger.Warn("executor is not in production phase; execute-mode plans will be refused", "phase", cfg.Executor.Phase)
	}

	// stop() restores default signal handling so a second Ctrl+C kills hard.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	startTime := time.Now().UTC()
	a, err := newApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()
	a.startBackground(ctx)

	opts := []httptransport.Option{
		httptransport.WithAddr(cfg.Server.HTTPAddr),
		httptransport.WithLogger(logger),
		httptransport.WithMetricsGatherer(a.promRegistry),
		httptransport.WithShutdownTimeout(config.Duration(cfg.Server.ShutdownTimeout)),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, httptransport.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	server := httptransport.NewHTTPTransport(a.adminHandler(startTime).Routes(), opts...)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("actiongate stopped")
	return nil
}
