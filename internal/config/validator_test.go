package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a defaulted config with the one required secret.
func minimalValidConfig() *Config {
	cfg := &Config{Approval: ApprovalConfig{Secret: "0123456789abcdef0123456789abcdef"}}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing secret", func(c *Config) { c.Approval.Secret = "" }, "Config.Approval.Secret is required"},
		{"short secret", func(c *Config) { c.Approval.Secret = "short" }, "Config.Approval.Secret must be at least 32"},
		{"bad phase", func(c *Config) { c.Executor.Phase = "canary" }, "Config.Executor.Phase must be one of: shadow pilot production"},
		{"bad duration", func(c *Config) { c.Executor.InFlightWait = "forever" }, "Config.Executor.InFlightWait must be a positive duration"},
		{"negative duration", func(c *Config) { c.Approval.TokenTTL = "-1h" }, "Config.Approval.TokenTTL must be a positive duration"},
		{"bad backend", func(c *Config) { c.Store.Backend = "etcd" }, "Config.Store.Backend must be 'memory' or 'redis'"},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis" }, "store.redis_url is required"},
		{"bad redis url", func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisURL = "not a url" }, "Config.Store.RedisURL must be a valid URL"},
		{"bad addr", func(c *Config) { c.Server.HTTPAddr = "localhost" }, "Config.Server.HTTPAddr must be a valid host:port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "trace" }, "Config.Server.LogLevel must be one of"},
		{"tls half set", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "Config.Server.TLSKeyFile is required when"},
		{"negative threshold", func(c *Config) { c.KillSwitch.FailureThreshold = -1 }, "Config.KillSwitch.FailureThreshold must be >= 0"},
		{"bad api key hash", func(c *Config) { c.Admin.APIKeyHash = "sha256:abc" }, "Config.Admin.APIKeyHash must start with"},
		{"rule without condition", func(c *Config) {
			c.RiskRules = []RiskRuleConfig{{Name: "r", Level: "high"}}
		}, "Config.RiskRules[0].Condition is required"},
		{"rule with bad level", func(c *Config) {
			c.RiskRules = []RiskRuleConfig{{Name: "r", Condition: "true", Level: "severe"}}
		}, "Config.RiskRules[0].Level must be one of: low medium high critical"},
		{"duplicate rule names", func(c *Config) {
			c.RiskRules = []RiskRuleConfig{
				{Name: "r", Condition: "true", Level: "high"},
				{Name: "r", Condition: "false", Level: "low"},
			}
		}, `risk_rules[1]: duplicate name "r"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RedisWithURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.RedisURL = "redis://127.0.0.1:6379/0"
	cfg.RiskRules = []RiskRuleConfig{{Name: "night", Condition: "request_time.getHours() < 6", Level: "critical"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Approval.Secret = ""
	cfg.Executor.Phase = "canary"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "; ") {
		t.Errorf("error = %v, want both problems joined with '; '", err)
	}
}
