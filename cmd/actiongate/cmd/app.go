package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/clinicore/actiongate/internal/adapter/inbound/admin"
	"github.com/clinicore/actiongate/internal/adapter/outbound/cel"
	"github.com/clinicore/actiongate/internal/adapter/outbound/clinic"
	"github.com/clinicore/actiongate/internal/adapter/outbound/memory"
	"github.com/clinicore/actiongate/internal/adapter/outbound/redis"
	"github.com/clinicore/actiongate/internal/adapter/outbound/sqlite"
	"github.com/clinicore/actiongate/internal/adapter/outbound/telemetry"
	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/config"
	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/approval"
	"github.com/clinicore/actiongate/internal/domain/killswitch"
	"github.com/clinicore/actiongate/internal/domain/ratelimit"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
	"github.com/clinicore/actiongate/internal/service"
)

// app holds every wired component. start serves it; plan runs one plan
// through it and exits.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *sqlite.DB
	kv         outbound.KVStore
	memKV      *memory.KVStore
	redisKV    *redis.KVStore
	limiter    *memory.RateLimiter
	registry   *tool.Registry
	killSwitch *killswitch.KillSwitch
	gate       *approval.Gate
	governance *service.GovernanceService

	promRegistry *prometheus.Registry
	metrics      *telemetry.Metrics
	providers    *telemetry.Providers
}

// newApp wires the governance core from cfg. Telemetry exporters write to
// telemetryOut. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, telemetryOut io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	c := clock.System{}

	// Telemetry first so every component can be instrumented.
	a.providers, err = telemetry.NewProviders(telemetry.ProviderConfig{
		ServiceName:    "actiongate",
		ServiceVersion: Version,
		TraceStdout:    cfg.Telemetry.TraceStdout,
		MetricsStdout:  cfg.Telemetry.MetricsStdout,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval),
		Writer:         telemetryOut,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(a.promRegistry)
	meter, err := telemetry.NewMeterRecorder(a.providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	recorder := telemetry.Multi{a.metrics, meter}

	// CRM database and tool catalog.
	a.db, err = sqlite.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Seed {
		if err := a.db.SeedDemo(ctx, cfg.Database.SeedTenant, c.Now()); err != nil {
			return nil, err
		}
		logger.Info("seeded demo data", "tenant_id", cfg.Database.SeedTenant)
	}
	a.registry = tool.NewRegistry(
		tool.WithLogger(logger),
		tool.WithTracerProvider(a.providers.TracerProvider),
	)
	catalog := clinic.New(a.db, clinic.WithClock(c), clinic.WithLogger(logger))
	if err := catalog.RegisterAll(a.registry); err != nil {
		return nil, err
	}

	// Idempotency store.
	switch cfg.Store.Backend {
	case "redis":
		a.redisKV, err = redis.Open(ctx, cfg.Store.RedisURL,
			redis.WithKeyPrefix(cfg.Store.KeyPrefix),
			redis.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.kv = a.redisKV
	default:
		a.memKV = memory.NewKVStore(
			memory.WithClock(c),
			memory.WithLogger(logger),
			memory.WithCleanupInterval(config.Duration(cfg.Store.CleanupInterval)),
		)
		a.kv = a.memKV
	}

	a.killSwitch = killswitch.New(
		killswitch.WithLogger(logger),
		killswitch.WithFailureThreshold(cfg.KillSwitch.FailureThreshold, config.Duration(cfg.KillSwitch.FailureWindow)),
	)

	a.gate, err = approval.NewGate([]byte(cfg.Approval.Secret),
		approval.WithTokenTTL(config.Duration(cfg.Approval.TokenTTL)),
		approval.WithMaxPending(cfg.Approval.MaxPending),
		approval.WithRecordRetention(config.Duration(cfg.Approval.RecordRetention)),
		approval.WithLogger(logger),
		approval.WithRecorder(recorder),
	)
	if err != nil {
		return nil, err
	}

	executor := action.NewExecutor(a.registry, a.kv,
		action.WithPhase(action.Phase(cfg.Executor.Phase)),
		action.WithGuard(a.killSwitch),
		action.WithPersistenceScope(a.db),
		action.WithRecorder(recorder),
		action.WithLogger(logger),
		action.WithTracerProvider(a.providers.TracerProvider),
		action.WithIdempotencyTTL(config.Duration(cfg.Executor.IdempotencyTTL)),
		action.WithInFlightTTL(config.Duration(cfg.Executor.InFlightTTL)),
		action.WithInFlightWait(config.Duration(cfg.Executor.InFlightWait)),
	)

	var rules outbound.RiskRuleEvaluator
	if len(cfg.RiskRules) > 0 {
		rs, err := cel.NewRuleSet(toCELRules(cfg.RiskRules), logger)
		if err != nil {
			return nil, err
		}
		rules = rs
		logger.Info("risk rules loaded", "count", rs.Len())
	}
	assessor := service.NewRiskAssessor(a.registry, rules, c, logger)

	opts := []service.GovernanceOption{
		service.WithServiceLogger(logger),
		service.WithEventRecorder(recorder),
		service.WithPendingObserver(func(n int) { a.metrics.PendingApprovals.Set(float64(n)) }),
	}
	if cfg.RateLimit.Enabled {
		a.limiter = memory.NewRateLimiterWithConfig(
			config.Duration(cfg.RateLimit.CleanupInterval),
			config.Duration(cfg.RateLimit.MaxTTL),
			c, logger,
		)
		opts = append(opts, service.WithRateLimit(a.limiter,
			ratelimit.PerMinute(cfg.RateLimit.TenantRate),
			ratelimit.PerMinute(cfg.RateLimit.UserRate),
		))
	}
	a.governance = service.NewGovernanceService(executor, a.gate, a.killSwitch, assessor, opts...)

	logger.Info("governance core ready",
		"phase", cfg.Executor.Phase,
		"store", cfg.Store.Backend,
		"tools", len(a.registry.List()),
		"rate_limit", cfg.RateLimit.Enabled,
	)
	return a, nil
}

// adminHandler builds the admin API for a.
func (a *app) adminHandler(startTime time.Time) *admin.AdminAPIHandler {
	opts := []admin.AdminAPIOption{
		admin.WithGovernanceService(a.governance),
		admin.WithKillSwitch(a.killSwitch),
		admin.WithToolRegistry(a.registry),
		admin.WithMetrics(a.metrics),
		admin.WithAPIKeyHash(a.cfg.Admin.APIKeyHash),
		admin.WithAPILogger(a.logger),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithStartTime(startTime),
	}
	if a.limiter != nil && a.cfg.RateLimit.ClientRate > 0 {
		opts = append(opts, admin.WithClientRateLimit(a.limiter, ratelimit.PerMinute(a.cfg.RateLimit.ClientRate)))
	}
	return admin.NewAdminAPIHandler(opts...)
}

// startBackground runs the cleanup loops until ctx ends.
func (a *app) startBackground(ctx context.Context) {
	if a.memKV != nil {
		a.memKV.StartCleanup(ctx)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx)
		go func() {
			t := time.NewTicker(15 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					a.metrics.RateLimitKeys.Set(float64(a.limiter.Size()))
				}
			}
		}()
	}
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.memKV != nil {
		a.memKV.Stop()
	}
	if a.redisKV != nil {
		errs = append(errs, a.redisKV.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func toCELRules(in []config.RiskRuleConfig) []cel.Rule {
	out := make([]cel.Rule, len(in))
	for i, r := range in {
		out[i] = cel.Rule{Name: r.Name, Condition: r.Condition, Level: tool.RiskLevel(r.Level)}
	}
	return out
}
