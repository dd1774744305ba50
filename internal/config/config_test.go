package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	checks := []struct {
		name, got, want string
	}{
		{"Server.HTTPAddr", cfg.Server.HTTPAddr, "127.0.0.1:8090"},
		{"Server.LogLevel", cfg.Server.LogLevel, "info"},
		{"Executor.Phase", cfg.Executor.Phase, "shadow"},
		{"Executor.IdempotencyTTL", cfg.Executor.IdempotencyTTL, "24h"},
		{"Executor.InFlightTTL", cfg.Executor.InFlightTTL, "5m"},
		{"Approval.TokenTTL", cfg.Approval.TokenTTL, "24h"},
		{"KillSwitch.FailureWindow", cfg.KillSwitch.FailureWindow, "10m"},
		{"Store.Backend", cfg.Store.Backend, "memory"},
		{"Store.KeyPrefix", cfg.Store.KeyPrefix, "actiongate:"},
		{"Database.Path", cfg.Database.Path, "actiongate.db"},
		{"RateLimit.MaxTTL", cfg.RateLimit.MaxTTL, "1h"},
		{"Telemetry.MetricInterval", cfg.Telemetry.MetricInterval, "60s"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.RateLimit.TenantRate != 600 || cfg.RateLimit.UserRate != 60 || cfg.RateLimit.ClientRate != 300 {
		t.Errorf("rates = %d/%d/%d, want 600/60/300",
			cfg.RateLimit.TenantRate, cfg.RateLimit.UserRate, cfg.RateLimit.ClientRate)
	}
	if cfg.Approval.MaxPending != 1000 {
		t.Errorf("Approval.MaxPending = %d, want 1000", cfg.Approval.MaxPending)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{HTTPAddr: ":9090"},
		Executor:  ExecutorConfig{Phase: "production", IdempotencyTTL: "1h"},
		Store:     StoreConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0"},
		RateLimit: RateLimitConfig{TenantRate: 10, UserRate: 5},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.Server.HTTPAddr)
	}
	if cfg.Executor.Phase != "production" || cfg.Executor.IdempotencyTTL != "1h" {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.RateLimit.TenantRate != 10 || cfg.RateLimit.UserRate != 5 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	var off Config
	off.SetDefaults()
	off.SetDevDefaults()
	if off.Approval.Secret != "" || off.UsesDevSecret() {
		t.Error("dev defaults must not apply outside dev mode")
	}

	on := Config{DevMode: true}
	on.SetDefaults()
	on.SetDevDefaults()
	if !on.UsesDevSecret() {
		t.Error("dev mode should fill the dev approval secret")
	}
	if on.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", on.Server.LogLevel)
	}
	if err := on.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}

	kept := Config{DevMode: true, Approval: ApprovalConfig{Secret: "an-operator-supplied-secret-of-32+chars"}}
	kept.SetDevDefaults()
	if kept.UsesDevSecret() {
		t.Error("dev mode must not replace a configured secret")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	tests := map[string]time.Duration{
		"30s":  30 * time.Second,
		"5m":   5 * time.Minute,
		"24h":  24 * time.Hour,
		"":     0,
		"soon": 0,
	}
	for in, want := range tests {
		if got := Duration(in); got != want {
			t.Errorf("Duration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths() = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"yaml", []string{"actiongate.yaml"}, "actiongate.yaml"},
		{"yml", []string{"actiongate.yml"}, "actiongate.yml"},
		{"binary without extension is ignored", []string{"actiongate"}, ""},
		{"yaml preferred over yml", []string{"actiongate.yml", "actiongate.yaml"}, "actiongate.yaml"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for _, f := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, f), []byte("dev_mode: true\n"), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			got := findConfigFileInPaths([]string{dir})
			want := ""
			if tt.want != "" {
				want = filepath.Join(dir, tt.want)
			}
			if got != want {
				t.Errorf("findConfigFileInPaths() = %q, want %q", got, want)
			}
		})
	}
}

func TestFindConfigFileInPaths_FirstDirWins(t *testing.T) {
	t.Parallel()

	first, second := t.TempDir(), t.TempDir()
	for _, dir := range []string{first, second} {
		if err := os.WriteFile(filepath.Join(dir, "actiongate.yaml"), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if got := findConfigFileInPaths([]string{first, second}); got != filepath.Join(first, "actiongate.yaml") {
		t.Errorf("findConfigFileInPaths() = %q, want first directory", got)
	}
}
