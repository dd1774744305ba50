package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/ctxkey"
	"github.com/clinicore/actiongate/internal/domain/killswitch"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

const tracerName = "github.com/clinicore/actiongate/internal/domain/action"

// ToolDispatcher is the part of the tool registry the executor needs.
type ToolDispatcher interface {
	ExecuteTool(ctx context.Context, toolID string, params map[string]any, mode tool.Mode, expectedSchemaVersion string) (*tool.ExecutionResult, error)
	Get(toolID string) (tool.Definition, bool)
}

// Guard blocks execution while an emergency stop applies.
type Guard interface {
	RequireNotBlocked(tenantID, capability string) error
}

// FailureReporter is told about every hard failure of an executed plan.
// It returns true when the failure tripped an automatic stop.
type FailureReporter interface {
	RecordFailure(tenantID string) bool
}

var (
	_ ToolDispatcher  = (*tool.Registry)(nil)
	_ Guard           = (*killswitch.KillSwitch)(nil)
	_ FailureReporter = (*killswitch.KillSwitch)(nil)
)

// Executor runs action plans. Safe for concurrent use; steps of one plan run
// sequentially, independent plans run in parallel.
type Executor struct {
	tools    ToolDispatcher
	cache    *idempotencyCache
	phase    Phase
	guard    Guard
	failures FailureReporter
	scope    outbound.PersistenceScope
	recorder outbound.EventRecorder
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithPhase sets the deployment phase. The default is PhaseShadow.
func WithPhase(p Phase) Option {
	return func(e *Executor) {
		if p.IsValid() {
			e.phase = p
		}
	}
}

// WithGuard sets the kill switch consulted before the plan and before every
// step. If g also implements FailureReporter it receives hard failures.
func WithGuard(g Guard) Option {
	return func(e *Executor) {
		e.guard = g
		if fr, ok := g.(FailureReporter); ok {
			e.failures = fr
		}
	}
}

// WithPersistenceScope sets the reversible scope simulations run in.
func WithPersistenceScope(s outbound.PersistenceScope) Option {
	return func(e *Executor) {
		if s != nil {
			e.scope = s
		}
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(r outbound.EventRecorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock sets the clock used for executedAt.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracerProvider sets the provider used for action.execute_plan spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithIdempotencyTTL sets how long SUCCESS and PARTIAL_SUCCESS results are cached.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.cache.ttl = d
		}
	}
}

// WithInFlightTTL bounds how long a claim survives a crashed holder.
func WithInFlightTTL(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.cache.inFlightTTL = d
		}
	}
}

// WithInFlightWait sets how long a duplicate call waits for the claim holder.
func WithInFlightWait(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.cache.wait = d
		}
	}
}

// NewExecutor creates an Executor dispatching through tools and caching
// results in store.
func NewExecutor(tools ToolDispatcher, store outbound.KVStore, opts ...Option) *Executor {
	e := &Executor{
		tools: tools,
		cache: &idempotencyCache{
			store:       store,
			ttl:         DefaultIdempotencyTTL,
			inFlightTTL: DefaultInFlightTTL,
			wait:        DefaultInFlightWait,
		},
		phase:    PhaseShadow,
		scope:    outbound.NoopScope{},
		recorder: outbound.NopRecorder{},
		clock:    clock.System{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the configured deployment phase.
func (e *Executor) Phase() Phase {
	return e.phase
}

// ExecuteOptions carries the optional inputs of ExecutePlan.
type ExecuteOptions struct {
	// ApprovalToken must be non-empty to execute a plan that requires
	// approval. Its validity is checked by the approval gate, not here.
	ApprovalToken string
	// IdempotencyKey overrides the key derived from the plan.
	IdempotencyKey string
}

// SimulatePlan runs plan in simulate mode.
func (e *Executor) SimulatePlan(ctx context.Context, plan *ActionPlan) *ExecutionResult {
	return e.ExecutePlan(ctx, plan, tool.ModeSimulate, ExecuteOptions{})
}

// ExecutePlan runs plan in the given mode. It never returns an error and
// never panics: every outcome is an ExecutionResult status.
func (e *Executor) ExecutePlan(ctx context.Context, plan *ActionPlan, mode tool.Mode, opts ExecuteOptions) *ExecutionResult {
	begin := time.Now()
	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxkey.RequestIDKey{}, requestID)

	res := &ExecutionResult{
		RequestID:   requestID,
		Mode:        mode,
		ExecutedAt:  e.clock.Now(),
		StepResults: []StepExecutionResult{},
	}
	if plan != nil {
		res.PlanID = plan.PlanID
	}

	ctx, span := e.tracer.Start(ctx, "action.execute_plan", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("plan.id", res.PlanID),
		attribute.String("plan.mode", string(mode)),
	))
	defer span.End()

	logger := e.logger.With("request_id", requestID, "plan_id", res.PlanID, "mode", mode)

	var cl *claim
	e.guarded(logger, res, func() {
		e.executePlan(ctx, logger, plan, mode, opts, res, &cl)
	})

	res.tally()
	res.TotalExecutionTimeMs = time.Since(begin).Milliseconds()

	if cl != nil {
		// The cache write is a terminal point; caller cancellation must not skip it.
		finalCtx := context.WithoutCancel(ctx)
		if res.Status.Cacheable() {
			if err := e.cache.complete(finalCtx, cl, res.clone()); err != nil {
				logger.Error("failed to cache execution result", "error", err)
			}
		} else if err := e.cache.release(finalCtx, cl); err != nil {
			logger.Error("failed to release idempotency key", "error", err)
		}
	}

	span.SetAttributes(
		attribute.String("plan.status", string(res.Status)),
		attribute.Int("plan.steps_succeeded", res.StepsSucceeded),
		attribute.Int("plan.steps_failed", res.StepsFailed),
		attribute.Int("plan.steps_rolled_back", res.StepsRolledBack),
	)
	switch res.Status {
	case StatusSuccess, StatusPartialSuccess, StatusIdempotentDuplicate:
	default:
		span.SetStatus(codes.Error, res.ErrorMessage)
	}

	e.recorder.RecordLatency(outbound.StageExecution, string(res.Status), time.Since(begin))
	e.recorder.RecordEvent(outbound.EventPlanExecuted, string(res.Status))

	logger.Info("plan finished",
		"status", res.Status,
		"steps_succeeded", res.StepsSucceeded,
		"steps_failed", res.StepsFailed,
		"steps_rolled_back", res.StepsRolledBack,
		"duration_ms", res.TotalExecutionTimeMs,
	)
	return res
}

// Replay returns the cached result of an earlier completed call with the same
// idempotency key as an IDEMPOTENT_DUPLICATE envelope. It returns nil when no
// result is cached and never runs a step.
func (e *Executor) Replay(ctx context.Context, plan *ActionPlan, mode tool.Mode, opts ExecuteOptions) (*ExecutionResult, error) {
	if plan == nil {
		return nil, errors.New("plan is required")
	}
	key := opts.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(plan.ContentHash(), plan.TenantID, plan.UserID)
	}
	entry, err := e.cache.fetch(ctx, mode, key)
	if err != nil || entry == nil {
		return nil, err
	}
	res := &ExecutionResult{
		Status:            StatusIdempotentDuplicate,
		PlanID:            plan.PlanID,
		RequestID:         uuid.NewString(),
		IdempotencyKey:    key,
		Mode:              mode,
		StepResults:       append([]StepExecutionResult(nil), entry.Result.StepResults...),
		ExecutedAt:        e.clock.Now(),
		OriginalRequestID: entry.RequestID,
	}
	res.tally()
	return res, nil
}

// guarded runs fn and turns a panic into an ERROR result.
func (e *Executor) guarded(logger *slog.Logger, res *ExecutionResult, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("plan execution panicked", "panic", p, "stack", string(debug.Stack()))
			res.Status = StatusError
			res.ErrorMessage = fmt.Sprintf("internal error: %v", p)
		}
	}()
	fn()
}

// executePlan performs the checks and runs the steps. The idempotency claim
// is stored in held as soon as it is taken so the caller can settle it even
// if a later stage panics.
func (e *Executor) executePlan(ctx context.Context, logger *slog.Logger, plan *ActionPlan, mode tool.Mode, opts ExecuteOptions, res *ExecutionResult, held **claim) {
	if plan == nil {
		res.fail(StatusError, "plan is required")
		return
	}
	if !mode.IsValid() {
		res.fail(StatusError, fmt.Sprintf("invalid mode %q", mode))
		return
	}
	if err := plan.Validate(); err != nil {
		res.fail(StatusError, err.Error())
		return
	}

	key := opts.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(plan.ContentHash(), plan.TenantID, plan.UserID)
	}
	res.IdempotencyKey = key

	cl, cached, err := e.cache.claimOrFetch(ctx, mode, key, res.RequestID)
	if err != nil {
		res.fail(StatusError, err.Error())
		return
	}
	*held = cl
	if cached != nil {
		res.Status = StatusIdempotentDuplicate
		res.StepResults = append([]StepExecutionResult(nil), cached.Result.StepResults...)
		res.OriginalRequestID = cached.RequestID
		logger.Info("duplicate request, returning cached result", "original_request_id", cached.RequestID)
		return
	}

	if !e.phase.Allows(mode) {
		res.fail(StatusPhaseBlocked, fmt.Sprintf("mode %s is not permitted in phase %s", mode, e.phase))
		return
	}
	if plan.RequiresApproval && mode == tool.ModeExecute && opts.ApprovalToken == "" {
		res.fail(StatusApprovalRequired, "plan requires approval and no approval token was supplied")
		return
	}
	if err := e.checkGuard(plan.TenantID, ""); err != nil {
		res.fail(StatusError, err.Error())
		return
	}

	ctx = context.WithValue(ctx, ctxkey.TenantIDKey{}, plan.TenantID)
	if mode == tool.ModeExecute {
		e.runExecute(ctx, logger, plan, res)
	} else {
		e.runSimulate(ctx, logger, plan, res)
	}
}

// runExecute runs steps in order, stopping at the first hard failure and
// compensating what already ran.
func (e *Executor) runExecute(ctx context.Context, logger *slog.Logger, plan *ActionPlan, res *ExecutionResult) {
	for i, step := range plan.Steps {
		sr := e.safeStep(ctx, logger, plan, step, tool.ModeExecute)
		res.StepResults = append(res.StepResults, sr)
		if !sr.hardFailure() {
			continue
		}

		logger.Warn("step failed, rolling back", "step", step.StepNumber, "tool", step.ToolName, "error", sr.Error)
		e.rollback(context.WithoutCancel(ctx), logger, plan, res, i)
		res.fail(StatusRolledBack, fmt.Sprintf("step %d (%s) failed: %s", step.StepNumber, step.ToolName, sr.Error))

		if e.failures != nil && e.failures.RecordFailure(plan.TenantID) {
			logger.Warn("failure threshold reached, tenant stopped", "tenant_id", plan.TenantID)
		}
		return
	}
	res.Status = resolve(res.StepResults)
}

// runSimulate runs every step for real inside a reversible scope that is
// always rolled back.
func (e *Executor) runSimulate(ctx context.Context, logger *slog.Logger, plan *ActionPlan, res *ExecutionResult) {
	sctx, tx, err := e.scope.Begin(ctx)
	if err != nil {
		first := plan.Steps[0]
		res.StepResults = append(res.StepResults, StepExecutionResult{
			StepNumber: first.StepNumber,
			ToolName:   first.ToolName,
			Status:     StepFailed,
			Mode:       tool.ModeSimulate,
			Error:      fmt.Sprintf("open simulation scope: %v", err),
		})
		res.fail(StatusFailed, "simulation scope could not be opened")
		return
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			logger.Error("failed to roll back simulation scope", "error", err)
		}
	}()

	for _, step := range plan.Steps {
		sr := e.safeStep(sctx, logger, plan, step, tool.ModeSimulate)
		res.StepResults = append(res.StepResults, sr)
		if sr.hardFailure() {
			break
		}
	}

	for _, sr := range res.StepResults {
		if sr.hardFailure() {
			res.fail(StatusFailed, fmt.Sprintf("step %d (%s) failed in simulation: %s", sr.StepNumber, sr.ToolName, sr.Error))
			return
		}
	}
	res.Status = resolve(res.StepResults)
}

// safeStep runs one step and records a panic as that step's failure.
func (e *Executor) safeStep(ctx context.Context, logger *slog.Logger, plan *ActionPlan, step ActionStep, reportedMode tool.Mode) (sr StepExecutionResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("step panicked", "step", step.StepNumber, "tool", step.ToolName,
				"panic", p, "stack", string(debug.Stack()))
			sr = StepExecutionResult{
				StepNumber: step.StepNumber,
				ToolName:   step.ToolName,
				Status:     StepFailed,
				Mode:       reportedMode,
				Error:      fmt.Sprintf("internal error: %v", p),
			}
		}
	}()
	return e.runStep(ctx, logger, plan, step, reportedMode)
}

// runStep checks the step's capability and dispatches it. Dispatch is
// always in execute mode; reportedMode is what the caller sees.
func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, plan *ActionPlan, step ActionStep, reportedMode tool.Mode) StepExecutionResult {
	sr := StepExecutionResult{
		StepNumber: step.StepNumber,
		ToolName:   step.ToolName,
		Mode:       reportedMode,
	}

	if def, ok := e.tools.Get(step.ToolName); ok {
		if err := e.checkGuard(plan.TenantID, string(def.Category)); err != nil {
			sr.Status = StepBlocked
			sr.Error = err.Error()
			return sr
		}
		if reportedMode == tool.ModeSimulate && def.NonTransactional {
			logger.Warn("skipping tool with non-transactional effects in simulation",
				"step", step.StepNumber, "tool", step.ToolName)
			sr.Status = StepSkipped
			sr.Success = true
			sr.Error = "not simulated: tool has non-transactional side effects"
			return sr
		}
	}

	out, err := e.tools.ExecuteTool(ctx, step.ToolName, step.Parameters, tool.ModeExecute, plan.ToolSchemaVersions[step.ToolName])
	if err != nil {
		sr.Status = StepFailed
		sr.Error = err.Error()
		return sr
	}

	sr.Data = out.Data
	sr.Error = out.Error
	sr.ExecutionTimeMs = out.ExecutionTimeMs
	switch {
	case !out.Success:
		sr.Status = StepFailed
	case out.Partial:
		sr.Status = StepPartial
		sr.Success = true
	default:
		sr.Status = StepSucceeded
		sr.Success = true
	}
	logger.Debug("step finished", "step", step.StepNumber, "tool", step.ToolName, "status", sr.Status)
	return sr
}

// checkGuard consults the kill switch and records blocks.
func (e *Executor) checkGuard(tenantID, capability string) error {
	if e.guard == nil {
		return nil
	}
	err := e.guard.RequireNotBlocked(tenantID, capability)
	if err == nil {
		return nil
	}
	outcome := "blocked"
	var be *killswitch.BlockedError
	if errors.As(err, &be) {
		outcome = string(be.Scope)
	}
	e.recorder.RecordEvent(outbound.EventKillSwitchBlocked, outcome)
	return err
}

// resolve maps the step results of a run without hard failures to a status.
func resolve(steps []StepExecutionResult) ExecutionStatus {
	for _, s := range steps {
		if s.Status == StepPartial || s.Status == StepSkipped {
			return StatusPartialSuccess
		}
	}
	return StatusSuccess
}

func (s StepExecutionResult) hardFailure() bool {
	return s.Status == StepFailed || s.Status == StepBlocked
}

func (r *ExecutionResult) fail(status ExecutionStatus, msg string) {
	r.Status = status
	r.ErrorMessage = msg
}
