// Package cmd provides the CLI commands for actiongate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clinicore/actiongate/internal/config"
)

var cfgFile string
var devMode bool

var rootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "actiongate - action governance for the clinic CRM",
	Long: `actiongate decides whether an agent-proposed action plan may touch the
clinic CRM, and runs it when it may.

Every plan passes the kill switch, tenant and user rate limits, a risk
assessment and, for high and critical risk, a human approval before the
executor runs its steps at most once per idempotency key.

Quick start:
  1. Create a config file: actiongate.yaml (approval.secret is required)
  2. Run: actiongate start

Configuration:
  Config is loaded from actiongate.yaml in the current directory,
  $HOME/.actiongate/, or /etc/actiongate/.

  Environment variables override config values with the ACTIONGATE_ prefix.
  Example: ACTIONGATE_EXECUTOR_PHASE=production

Commands:
  start       Start the admin API server
  stop        Stop the running server
  plan        Simulate, execute or hash a plan file
  token       Inspect an approval token
  config      Print the effective configuration
  hash-key    Generate an argon2id hash for an admin API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./actiongate.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (debug logging, built-in approval secret)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads, applies the --dev flag, and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes text logs to stderr; stdout is kept for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
