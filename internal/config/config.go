// Package config provides configuration types for actiongate.
//
// Configuration is file based (actiongate.yaml) with ACTIONGATE_ environment
// overrides. Durations are strings in time.ParseDuration format and are
// checked by the duration validator before use.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener for the admin API and /metrics.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Executor configures the deployment phase and idempotency windows.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// Approval configures token signing and the pending queue.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// KillSwitch configures automatic tenant stops on repeated failures.
	KillSwitch KillSwitchConfig `yaml:"kill_switch" mapstructure:"kill_switch"`

	// Store selects where idempotency records live.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Database is the clinic CRM database.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// RateLimit configures submission and admin client rate limits.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// RiskRules escalate plan risk when their CEL condition holds.
	RiskRules []RiskRuleConfig `yaml:"risk_rules" mapstructure:"risk_rules" validate:"omitempty,dive"`

	// Admin configures remote access to the admin API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Telemetry configures the OpenTelemetry stdout exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging and fills a development approval secret.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the listen address. Defaults to 127.0.0.1:8090.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// ExecutorConfig configures the executor.
type ExecutorConfig struct {
	// Phase is shadow, pilot or production. Defaults to shadow.
	Phase string `yaml:"phase" mapstructure:"phase" validate:"required,phase"`
	// IdempotencyTTL is how long a completed result is replayed. Defaults to 24h.
	IdempotencyTTL string `yaml:"idempotency_ttl" mapstructure:"idempotency_ttl" validate:"required,duration"`
	// InFlightTTL expires an in-flight claim whose owner died. Defaults to 5m.
	InFlightTTL string `yaml:"in_flight_ttl" mapstructure:"in_flight_ttl" validate:"required,duration"`
	// InFlightWait is how long a duplicate waits for the owner. Defaults to 30s.
	InFlightWait string `yaml:"in_flight_wait" mapstructure:"in_flight_wait" validate:"required,duration"`
}

// ApprovalConfig configures the approval gate.
type ApprovalConfig struct {
	// Secret signs approval tokens. At least 32 characters.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required,min=32"`
	// TokenTTL is the token lifetime, capped at 24h. Defaults to 24h.
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"required,duration"`
	// MaxPending bounds the pending queue. Defaults to 1000.
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" validate:"gte=1"`
	// RecordRetention keeps decided records for audit reads. Defaults to 72h.
	RecordRetention string `yaml:"record_retention" mapstructure:"record_retention" validate:"required,duration"`
}

// KillSwitchConfig configures failure escalation.
type KillSwitchConfig struct {
	// FailureThreshold hard failures within FailureWindow stop the tenant.
	// Zero disables escalation.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	// FailureWindow defaults to 10m.
	FailureWindow string `yaml:"failure_window" mapstructure:"failure_window" validate:"required,duration"`
}

// StoreConfig selects the idempotency store.
type StoreConfig struct {
	// Backend is memory or redis. Defaults to memory.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,store_backend"`
	// RedisURL is required for the redis backend (redis://host:port/db).
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url" validate:"omitempty,url"`
	// KeyPrefix namespaces redis keys. Defaults to "actiongate:".
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	// CleanupInterval is how often the memory store drops expired keys. Defaults to 5m.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"required,duration"`
}

// DatabaseConfig configures the sqlite CRM database.
type DatabaseConfig struct {
	// Path is the sqlite file, or ":memory:". Defaults to actiongate.db.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
	// Seed loads demonstration clinic data for SeedTenant. Seeding is idempotent.
	Seed bool `yaml:"seed" mapstructure:"seed"`
	// SeedTenant defaults to demo-clinic.
	SeedTenant string `yaml:"seed_tenant" mapstructure:"seed_tenant"`
}

// RateLimitConfig configures rate limiting. Rates are per minute.
type RateLimitConfig struct {
	// Enabled turns submission limits on. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// TenantRate is plan submissions per tenant per minute. Defaults to 600.
	TenantRate int `yaml:"tenant_rate" mapstructure:"tenant_rate" validate:"gte=0"`
	// UserRate is plan submissions per user per minute. Defaults to 60.
	UserRate int `yaml:"user_rate" mapstructure:"user_rate" validate:"gte=0"`
	// ClientRate is admin API requests per remote address per minute.
	// Zero disables it. Defaults to 300.
	ClientRate int `yaml:"client_rate" mapstructure:"client_rate" validate:"gte=0"`
	// CleanupInterval is how often idle limiter keys are swept. Defaults to 5m.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"required,duration"`
	// MaxTTL is how long an idle key is kept. Defaults to 1h.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"required,duration"`
}

// RiskRuleConfig is one CEL escalation rule.
type RiskRuleConfig struct {
	Name      string `yaml:"name" mapstructure:"name" validate:"required"`
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`
	Level     string `yaml:"level" mapstructure:"level" validate:"required,risk_level"`
}

// AdminConfig configures admin API authentication.
type AdminConfig struct {
	// APIKeyHash is an argon2id hash (see "actiongate hash-key"). Empty
	// means the admin API only answers localhost.
	APIKeyHash string `yaml:"api_key_hash" mapstructure:"api_key_hash" validate:"omitempty,startswith=$argon2id$"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// TraceStdout writes spans to stdout.
	TraceStdout bool `yaml:"trace_stdout" mapstructure:"trace_stdout"`
	// MetricsStdout writes OTel metrics to stdout every MetricInterval.
	MetricsStdout bool `yaml:"metrics_stdout" mapstructure:"metrics_stdout"`
	// MetricInterval defaults to 60s.
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"required,duration"`
}

// devApprovalSecret is only used when dev_mode is on and no secret is set.
const devApprovalSecret = "actiongate-dev-secret-do-not-use-in-prod"

// SetDevDefaults applies permissive defaults for development mode.
// They are applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Approval.Secret == "" {
		c.Approval.Secret = devApprovalSecret
	}
	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

// UsesDevSecret reports whether tokens are signed with the built-in dev secret.
func (c *Config) UsesDevSecret() bool {
	return c.Approval.Secret == devApprovalSecret
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Executor.Phase == "" {
		c.Executor.Phase = "shadow"
	}
	if c.Executor.IdempotencyTTL == "" {
		c.Executor.IdempotencyTTL = "24h"
	}
	if c.Executor.InFlightTTL == "" {
		c.Executor.InFlightTTL = "5m"
	}
	if c.Executor.InFlightWait == "" {
		c.Executor.InFlightWait = "30s"
	}

	if c.Approval.TokenTTL == "" {
		c.Approval.TokenTTL = "24h"
	}
	if c.Approval.MaxPending == 0 {
		c.Approval.MaxPending = 1000
	}
	if c.Approval.RecordRetention == "" {
		c.Approval.RecordRetention = "72h"
	}

	if c.KillSwitch.FailureWindow == "" {
		c.KillSwitch.FailureWindow = "10m"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "actiongate:"
	}
	if c.Store.CleanupInterval == "" {
		c.Store.CleanupInterval = "5m"
	}

	if c.Database.Path == "" {
		c.Database.Path = "actiongate.db"
	}
	if c.Database.SeedTenant == "" {
		c.Database.SeedTenant = "demo-clinic"
	}

	// viper.IsSet distinguishes "not set" from an explicit false.
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.TenantRate == 0 {
		c.RateLimit.TenantRate = 600
	}
	if c.RateLimit.UserRate == 0 {
		c.RateLimit.UserRate = 60
	}
	if !viper.IsSet("rate_limit.client_rate") && c.RateLimit.ClientRate == 0 {
		c.RateLimit.ClientRate = 300
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "60s"
	}
}

// Duration parses a validated duration string. Invalid input yields zero,
// which Validate rules out for every duration field.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
