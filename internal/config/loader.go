package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for actiongate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the actiongate binary in
// the working directory is never picked up as config.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("actiongate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: ACTIONGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("ACTIONGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an actiongate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".actiongate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "actiongate"))
		}
	} else {
		paths = append(paths, "/etc/actiongate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for actiongate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "actiongate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar key so nested values can be set from
// the environment. Example: ACTIONGATE_EXECUTOR_PHASE overrides executor.phase.
// risk_rules is a list and can only be set from the file.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.tls_cert_file",
	"server.tls_key_file",
	"server.shutdown_timeout",

	"executor.phase",
	"executor.idempotency_ttl",
	"executor.in_flight_ttl",
	"executor.in_flight_wait",

	"approval.secret",
	"approval.token_ttl",
	"approval.max_pending",
	"approval.record_retention",

	"kill_switch.failure_threshold",
	"kill_switch.failure_window",

	"store.backend",
	"store.redis_url",
	"store.key_prefix",
	"store.cleanup_interval",

	"database.path",
	"database.seed",
	"database.seed_tenant",

	"rate_limit.enabled",
	"rate_limit.tenant_rate",
	"rate_limit.user_rate",
	"rate_limit.client_rate",
	"rate_limit.cleanup_interval",
	"rate_limit.max_ttl",

	"admin.api_key_hash",

	"telemetry.trace_stdout",
	"telemetry.metrics_stdout",
	"telemetry.metric_interval",

	"dev_mode",
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies dev defaults and validates.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: environment variables only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
