package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/approval"
	"github.com/clinicore/actiongate/internal/domain/killswitch"
	"github.com/clinicore/actiongate/internal/domain/ratelimit"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

// ErrInvalidPlan wraps structural plan problems found before any decision.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrNoPendingPlan is returned by Approve when no plan is supplied and none
// was kept for the action.
var ErrNoPendingPlan = errors.New("no pending plan for action")

// ErrExecutionNotPermitted is returned by Approve when the rollout phase does
// not allow execute mode. The approval token is left unused.
var ErrExecutionNotPermitted = errors.New("execution is not permitted in the current phase")

// SubmitStatus is the outcome of a submission.
type SubmitStatus string

const (
	// SubmitExecuted means the executor ran; see Execution for its status.
	SubmitExecuted        SubmitStatus = "EXECUTED"
	SubmitPendingApproval SubmitStatus = "PENDING_APPROVAL"
	SubmitRejected        SubmitStatus = "REJECTED"
	SubmitBlocked         SubmitStatus = "BLOCKED"
	SubmitRateLimited     SubmitStatus = "RATE_LIMITED"
)

// SubmitOptions carries the optional inputs of Submit.
type SubmitOptions struct {
	IdempotencyKey string
}

// SubmitResult is what a caller learns about a submitted plan.
type SubmitResult struct {
	ActionID     string                  `json:"action_id"`
	PlanHash     string                  `json:"plan_hash"`
	Status       SubmitStatus            `json:"status"`
	Risk         RiskAssessment          `json:"risk"`
	Approval     *approval.Decision      `json:"approval,omitempty"`
	Execution    *action.ExecutionResult `json:"execution,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	RetryAfterMs int64                   `json:"retry_after_ms,omitempty"`
}

// ApproveResult is the approval decision and, when granted, the execution.
type ApproveResult struct {
	Approval  approval.Decision       `json:"approval"`
	Execution *action.ExecutionResult `json:"execution,omitempty"`
}

// KillSwitch is the part of the kill switch the service consults.
type KillSwitch interface {
	RequireNotBlocked(tenantID, capability string) error
}

var _ KillSwitch = (*killswitch.KillSwitch)(nil)

type pendingPlan struct {
	plan           action.ActionPlan
	idempotencyKey string
}

// GovernanceService composes the kill switch, rate limiter, risk assessor,
// approval gate and executor into one submission pipeline.
type GovernanceService struct {
	executor *action.Executor
	gate     *approval.Gate
	guard    KillSwitch
	assessor *RiskAssessor

	limiter    ratelimit.RateLimiter
	tenantRate ratelimit.RateLimitConfig
	userRate   ratelimit.RateLimitConfig

	recorder        outbound.EventRecorder
	pendingObserver func(int)
	logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingPlan
}

// GovernanceOption configures a GovernanceService.
type GovernanceOption func(*GovernanceService)

// WithRateLimit throttles submissions per tenant and per user. A config with
// Rate <= 0 disables that dimension.
func WithRateLimit(l ratelimit.RateLimiter, tenant, user ratelimit.RateLimitConfig) GovernanceOption {
	return func(s *GovernanceService) {
		s.limiter = l
		s.tenantRate = tenant
		s.userRate = user
	}
}

// WithEventRecorder sets the recorder for planning latency and rate-limit events.
func WithEventRecorder(r outbound.EventRecorder) GovernanceOption {
	return func(s *GovernanceService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithPendingObserver is called with the pending queue length after every change.
func WithPendingObserver(fn func(int)) GovernanceOption {
	return func(s *GovernanceService) { s.pendingObserver = fn }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) GovernanceOption {
	return func(s *GovernanceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewGovernanceService creates a GovernanceService.
func NewGovernanceService(
	executor *action.Executor,
	gate *approval.Gate,
	guard KillSwitch,
	assessor *RiskAssessor,
	opts ...GovernanceOption,
) *GovernanceService {
	s := &GovernanceService{
		executor: executor,
		gate:     gate,
		guard:    guard,
		assessor: assessor,
		recorder: outbound.NopRecorder{},
		logger:   slog.Default(),
		pending:  make(map[string]pendingPlan),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs plan through the pipeline: kill switch, rate limits, risk,
// approval gate, executor. Simulations skip the approval gate because they
// leave no lasting effect. Only malformed input returns an error.
func (s *GovernanceService) Submit(ctx context.Context, plan *action.ActionPlan, mode tool.Mode, opts SubmitOptions) (*SubmitResult, error) {
	start := time.Now()

	if plan == nil {
		return nil, fmt.Errorf("%w: plan is required", ErrInvalidPlan)
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: invalid mode %q", ErrInvalidPlan, mode)
	}
	p := *plan
	if p.PlanID == "" {
		p.PlanID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	p.PlanHash = p.ContentHash()

	logger := s.logger.With("plan_id", p.PlanID, "tenant_id", p.TenantID, "mode", mode)
	res := &SubmitResult{ActionID: p.PlanID, PlanHash: p.PlanHash}
	defer func() {
		s.recorder.RecordLatency(outbound.StagePlanning, string(res.Status), time.Since(start))
	}()

	if err := s.guard.RequireNotBlocked(p.TenantID, ""); err != nil {
		s.recorder.RecordEvent(outbound.EventKillSwitchBlocked, "submit")
		logger.Warn("submission blocked by kill switch", "error", err)
		res.Status = SubmitBlocked
		res.Reason = err.Error()
		return res, nil
	}

	if limited, err := s.checkRateLimits(ctx, &p, res); err != nil {
		return nil, err
	} else if limited {
		logger.Info("submission rate limited", "reason", res.Reason, "retry_after_ms", res.RetryAfterMs)
		return res, nil
	}

	res.Risk = s.assessor.Assess(ctx, &p)

	if mode == tool.ModeSimulate {
		res.Status = SubmitExecuted
		res.Execution = s.executor.SimulatePlan(ctx, &p)
		return res, nil
	}

	decision, err := s.gate.Evaluate(p.PlanID, p, res.Risk.Level, p.TenantID, p.UserID)
	if errors.Is(err, approval.ErrDuplicateAction) {
		return s.resubmit(ctx, logger, &p, opts, res)
	}
	if err != nil {
		return nil, fmt.Errorf("approval gate: %w", err)
	}
	res.Approval = &decision

	if decision.Status == approval.StatusPending {
		s.mu.Lock()
		s.pending[p.PlanID] = pendingPlan{plan: p, idempotencyKey: opts.IdempotencyKey}
		s.pruneLocked()
		s.mu.Unlock()
		s.observePending()

		res.Status = SubmitPendingApproval
		res.Reason = fmt.Sprintf("%s risk requires human approval", res.Risk.Level)
		return res, nil
	}

	res.Status = SubmitExecuted
	res.Execution = s.executor.ExecutePlan(ctx, &p, tool.ModeExecute, action.ExecuteOptions{IdempotencyKey: opts.IdempotencyKey})
	return res, nil
}

// resubmit handles a plan id the gate has already seen. A decided plan runs
// at most once: a resubmission only gets the cached result of that run.
func (s *GovernanceService) resubmit(ctx context.Context, logger *slog.Logger, p *action.ActionPlan, opts SubmitOptions, res *SubmitResult) (*SubmitResult, error) {
	rec, ok := s.gate.GetRecord(p.PlanID)
	if !ok {
		return nil, fmt.Errorf("approval gate: %w: %s", approval.ErrUnknownAction, p.PlanID)
	}
	if rec.PlanHash != p.PlanHash {
		res.Status = SubmitRejected
		res.Reason = "plan id was already used for a different plan"
		return res, nil
	}
	decision := approval.Decision{ActionID: rec.ActionID, Status: rec.Status, RiskLevel: rec.RiskLevel, Reason: rec.Reason}
	res.Approval = &decision

	switch rec.Status {
	case approval.StatusPending:
		res.Status = SubmitPendingApproval
		res.Reason = "already waiting for approval"
	case approval.StatusRejected:
		res.Status = SubmitRejected
		res.Reason = rec.Reason
	default:
		dup, err := s.executor.Replay(ctx, p, tool.ModeExecute, action.ExecuteOptions{IdempotencyKey: opts.IdempotencyKey})
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if dup == nil {
			logger.Info("resubmission of decided plan refused", "approval_status", rec.Status)
			res.Status = SubmitRejected
			res.Reason = "plan was already decided and has no cached result; submit it under a new plan id"
			return res, nil
		}
		res.Status = SubmitExecuted
		res.Execution = dup
	}
	return res, nil
}

func (s *GovernanceService) checkRateLimits(ctx context.Context, p *action.ActionPlan, res *SubmitResult) (bool, error) {
	if s.limiter == nil {
		return false, nil
	}
	checks := []struct {
		dimension string
		key       string
		cfg       ratelimit.RateLimitConfig
	}{
		{"tenant", ratelimit.TenantKey(p.TenantID), s.tenantRate},
		{"user", ratelimit.UserKey(p.TenantID, p.UserID), s.userRate},
	}
	for _, c := range checks {
		if c.cfg.Rate <= 0 {
			continue
		}
		r, err := s.limiter.Allow(ctx, c.key, c.cfg)
		if err != nil {
			return false, fmt.Errorf("rate limit check: %w", err)
		}
		if !r.Allowed {
			s.recorder.RecordEvent(outbound.EventRateLimited, c.dimension)
			res.Status = SubmitRateLimited
			res.Reason = fmt.Sprintf("%s rate limit exceeded", c.dimension)
			res.RetryAfterMs = r.RetryAfter.Milliseconds()
			return true, nil
		}
	}
	return false, nil
}

// Approve checks encodedToken against the plan and, when the gate grants
// approval, executes the plan with the token. plan may be nil to use the plan
// kept from Submit.
func (s *GovernanceService) Approve(ctx context.Context, actionID, approverID, encodedToken string, plan *action.ActionPlan) (*ApproveResult, error) {
	var key string
	if plan == nil {
		s.mu.Lock()
		pp, ok := s.pending[actionID]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPendingPlan, actionID)
		}
		cp := pp.plan
		plan, key = &cp, pp.idempotencyKey
	} else {
		s.mu.Lock()
		key = s.pending[actionID].idempotencyKey
		s.mu.Unlock()
	}

	reject := func(et approval.ErrorType, msg string) *ApproveResult {
		s.recorder.RecordEvent(outbound.EventApprovalRejected, string(et))
		s.logger.Warn("approval rejected", "action_id", actionID, "approver", approverID, "error_type", et, "reason", msg)
		return &ApproveResult{Approval: approval.Decision{
			ActionID:  actionID,
			Status:    approval.StatusRejected,
			ErrorType: et,
			Reason:    msg,
		}}
	}

	token, err := approval.DecodeToken(encodedToken)
	if err != nil {
		return reject(approval.ErrorTypeMalformed, err.Error()), nil
	}
	if token.TenantID != plan.TenantID {
		return reject(approval.ErrorTypeActionMismatch, "approval token belongs to another tenant"), nil
	}
	// A blocked tenant must not burn its single-use token.
	if err := s.guard.RequireNotBlocked(plan.TenantID, ""); err != nil {
		s.recorder.RecordEvent(outbound.EventKillSwitchBlocked, "approve")
		return nil, err
	}
	// Likewise a phase that cannot execute must not consume it.
	if ph := s.executor.Phase(); !ph.Allows(tool.ModeExecute) {
		return nil, fmt.Errorf("%w: phase %s", ErrExecutionNotPermitted, ph)
	}

	decision := s.gate.Approve(actionID, approverID, token, plan)
	out := &ApproveResult{Approval: decision}
	if decision.Status != approval.StatusApproved {
		return out, nil
	}

	s.mu.Lock()
	delete(s.pending, actionID)
	s.mu.Unlock()
	s.observePending()

	out.Execution = s.executor.ExecutePlan(ctx, plan, tool.ModeExecute, action.ExecuteOptions{
		ApprovalToken:  encodedToken,
		IdempotencyKey: key,
	})
	return out, nil
}

// Reject records a human rejection. The reason is kept verbatim.
func (s *GovernanceService) Reject(actionID, rejectorID, reason string) (approval.Decision, error) {
	d, err := s.gate.Reject(actionID, rejectorID, reason)
	if err != nil {
		return d, err
	}
	s.mu.Lock()
	delete(s.pending, actionID)
	s.mu.Unlock()
	s.observePending()
	return d, nil
}

// PendingApprovals lists the queue for a tenant, or all tenants when empty.
func (s *GovernanceService) PendingApprovals(tenantID string) []approval.PendingApproval {
	return s.gate.GetPendingApprovals(tenantID)
}

// ApprovalRecord returns the gate's record for an action.
func (s *GovernanceService) ApprovalRecord(actionID string) (approval.Record, bool) {
	return s.gate.GetRecord(actionID)
}

// pruneLocked drops kept plans the gate no longer holds as pending, such as
// evicted or expired ones.
func (s *GovernanceService) pruneLocked() {
	for id := range s.pending {
		if st, ok := s.gate.GetStatus(id); !ok || st != approval.StatusPending {
			delete(s.pending, id)
		}
	}
}

func (s *GovernanceService) observePending() {
	if s.pendingObserver != nil {
		s.pendingObserver(s.gate.PendingCount())
	}
}
