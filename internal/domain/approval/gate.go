package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

const (
	// DefaultMaxPending is the default capacity of the pending queue.
	DefaultMaxPending = 1000
	// DefaultRecordRetention is how long decided records stay queryable.
	DefaultRecordRetention = 72 * time.Hour
	// SystemActor is recorded for automatic decisions.
	SystemActor = "system"
)

// Gate runs the per-action approval state machine:
// (none) -> PENDING_APPROVAL -> APPROVED | REJECTED, or (none) -> AUTO_APPROVED.
// Safe for concurrent use: a single mutex guards all of its state.
type Gate struct {
	mu       sync.Mutex
	records  map[string]*Record
	pending  []string             // action ids, oldest first
	consumed map[string]time.Time // token id -> token expiry

	secret     []byte
	tokenTTL   time.Duration
	maxPending int
	retention  time.Duration

	clock    clock.Clock
	logger   *slog.Logger
	recorder outbound.EventRecorder
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTokenTTL sets the requested token lifetime. Values above
// MaxTokenLifetime are clamped at generation.
func WithTokenTTL(d time.Duration) GateOption {
	return func(g *Gate) { g.tokenTTL = d }
}

// WithMaxPending bounds the pending queue; the oldest item is evicted when full.
func WithMaxPending(n int) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxPending = n
		}
	}
}

// WithRecordRetention sets how long decided records are kept.
func WithRecordRetention(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithClock sets the clock used for issuance and expiry.
func WithClock(c clock.Clock) GateOption {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder sets the event recorder for approval outcomes.
func WithRecorder(r outbound.EventRecorder) GateOption {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// NewGate creates a Gate that signs tokens with secret.
func NewGate(secret []byte, opts ...GateOption) (*Gate, error) {
	if len(secret) == 0 {
		return nil, errors.New("approval signing secret is required")
	}
	g := &Gate{
		records:    make(map[string]*Record),
		consumed:   make(map[string]time.Time),
		secret:     append([]byte(nil), secret...),
		tokenTTL:   MaxTokenLifetime,
		maxPending: DefaultMaxPending,
		retention:  DefaultRecordRetention,
		clock:      clock.System{},
		logger:     slog.Default(),
		recorder:   outbound.NopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RequiresApproval is true only for high and critical risk.
func (g *Gate) RequiresApproval(risk tool.RiskLevel) bool {
	return RequiresApproval(risk)
}

// Evaluate decides whether an action needs a human approval. Low and medium
// risk are auto-approved without a token. High and critical risk get a token
// bound to the plan's content hash and are queued for the tenant.
func (g *Gate) Evaluate(actionID string, plan Plan, risk tool.RiskLevel, tenantID, userID string) (Decision, error) {
	if actionID == "" || tenantID == "" {
		return Decision{}, errors.New("action id and tenant id are required")
	}
	if plan == nil {
		return Decision{}, errors.New("plan is required")
	}
	if !risk.IsValid() {
		return Decision{}, fmt.Errorf("unknown risk level %q", risk)
	}

	now := g.clock.Now()

	if !RequiresApproval(risk) {
		g.mu.Lock()
		g.sweepLocked(now)
		if _, exists := g.records[actionID]; exists {
			g.mu.Unlock()
			return Decision{}, fmt.Errorf("%w: %s", ErrDuplicateAction, actionID)
		}
		g.records[actionID] = &Record{
			ActionID:    actionID,
			TenantID:    tenantID,
			RequestedBy: userID,
			RiskLevel:   risk,
			PlanHash:    plan.ContentHash(),
			Status:      StatusAutoApproved,
			ApprovedBy:  SystemActor,
			CreatedAt:   now,
			DecidedAt:   now,
		}
		g.mu.Unlock()

		g.recorder.RecordEvent(outbound.EventAutoApproved, string(risk))
		g.logger.Debug("action auto-approved", "action_id", actionID, "tenant_id", tenantID, "risk", risk)
		return Decision{ActionID: actionID, Status: StatusAutoApproved, RiskLevel: risk, ApprovedBy: SystemActor}, nil
	}

	planHash := plan.ContentHash()
	token, err := GenerateToken(g.secret, actionID, planHash, tenantID, userID, now, g.tokenTTL)
	if err != nil {
		return Decision{}, err
	}
	encoded, err := token.Encode()
	if err != nil {
		return Decision{}, err
	}

	g.mu.Lock()
	g.sweepLocked(now)
	if _, exists := g.records[actionID]; exists {
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrDuplicateAction, actionID)
	}
	evicted := g.evictLocked(now)
	g.records[actionID] = &Record{
		ActionID:    actionID,
		TenantID:    tenantID,
		RequestedBy: userID,
		RiskLevel:   risk,
		PlanHash:    planHash,
		Status:      StatusPending,
		TokenID:     token.TokenID,
		CreatedAt:   now,
		ExpiresAt:   token.ExpiresAt,
	}
	g.pending = append(g.pending, actionID)
	g.mu.Unlock()

	for _, id := range evicted {
		g.logger.Warn("pending approval evicted", "action_id", id, "max_pending", g.maxPending)
	}
	g.logger.Info("approval required",
		"action_id", actionID,
		"tenant_id", tenantID,
		"risk", risk,
		"token_id", token.TokenID,
		"expires_at", token.ExpiresAt,
	)

	return Decision{
		ActionID:         actionID,
		Status:           StatusPending,
		RequiresApproval: true,
		RiskLevel:        risk,
		Token:            token,
		EncodedToken:     encoded,
	}, nil
}

// Approve validates token against the current plan and, if everything
// holds, consumes it and marks the action APPROVED. Every validation failure
// comes back as a REJECTED decision carrying an ErrorType; a failed attempt
// does not change the stored state of the action.
func (g *Gate) Approve(actionID, approverID string, token *Token, currentPlan Plan) Decision {
	reject := func(et ErrorType, msg string) Decision {
		g.recorder.RecordEvent(outbound.EventApprovalRejected, string(et))
		g.logger.Warn("approval rejected", "action_id", actionID, "approver", approverID, "error_type", et, "reason", msg)
		return Decision{ActionID: actionID, Status: StatusRejected, Reason: msg, ErrorType: et}
	}

	if token == nil {
		return reject(ErrorTypeMalformed, "approval token is missing")
	}
	if currentPlan == nil {
		return reject(ErrorTypeMalformed, "current plan is missing")
	}

	now := g.clock.Now()
	if res := g.checkToken(token, actionID, currentPlan.ContentHash(), now); !res.Valid {
		return reject(res.ErrorType, res.Message)
	}

	g.mu.Lock()
	g.sweepLocked(now)
	if _, used := g.consumed[token.TokenID]; used {
		g.mu.Unlock()
		return reject(ErrorTypeAlreadyUsed, "approval token has already been used")
	}
	rec := g.records[actionID]
	if rec != nil {
		if rec.TenantID != token.TenantID {
			g.mu.Unlock()
			return reject(ErrorTypeActionMismatch, "approval token belongs to another tenant")
		}
		if rec.Status != StatusPending {
			status := rec.Status
			g.mu.Unlock()
			return reject(ErrorTypeNotPending, fmt.Sprintf("action is %s", status))
		}
	}
	g.consumed[token.TokenID] = token.ExpiresAt
	if rec != nil {
		rec.Status = StatusApproved
		rec.ApprovedBy = approverID
		rec.DecidedAt = now
		g.removePendingLocked(actionID)
	}
	g.mu.Unlock()

	g.recorder.RecordEvent(outbound.EventApprovalGranted, "approved")
	g.logger.Info("action approved", "action_id", actionID, "tenant_id", token.TenantID, "approver", approverID)

	return Decision{ActionID: actionID, Status: StatusApproved, ApprovedBy: approverID, Token: token}
}

// checkToken runs the stateless checks, drift first so a changed plan is
// always reported as drift.
func (g *Gate) checkToken(token *Token, actionID, currentHash string, now time.Time) ValidationResult {
	if token.CheckPlanDrift(currentHash) {
		return ValidationResult{
			ErrorType: ErrorTypePlanDrift,
			Message:   fmt.Sprintf("plan changed since approval was requested: token bound to %s, current plan is %s", token.ActionPlanHash, currentHash),
		}
	}
	if !token.VerifySignature(g.secret) {
		return ValidationResult{ErrorType: ErrorTypeInvalidSignature, Message: "approval token signature is invalid"}
	}
	if token.ActionID != actionID {
		return ValidationResult{
			ErrorType: ErrorTypeActionMismatch,
			Message:   fmt.Sprintf("approval token is for action %s", token.ActionID),
		}
	}
	if token.IsExpired(now) {
		return ValidationResult{ErrorType: ErrorTypeExpired, Message: "approval token has expired"}
	}
	return ValidationResult{Valid: true}
}

// ValidateToken runs every check Approve runs, including single use, but
// consumes nothing and changes no state.
func (g *Gate) ValidateToken(token *Token, actionID string, currentPlan Plan) ValidationResult {
	if token == nil || currentPlan == nil {
		return ValidationResult{ErrorType: ErrorTypeMalformed, Message: "approval token and current plan are required"}
	}
	now := g.clock.Now()
	if res := g.checkToken(token, actionID, currentPlan.ContentHash(), now); !res.Valid {
		return res
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, used := g.consumed[token.TokenID]; used {
		return ValidationResult{ErrorType: ErrorTypeAlreadyUsed, Message: "approval token has already been used"}
	}
	return ValidationResult{Valid: true}
}

// GetStatus returns the approval status of an action.
func (g *Gate) GetStatus(actionID string) (Status, bool) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
	rec, ok := g.records[actionID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// PendingCount reports how many actions wait for a decision.
func (g *Gate) PendingCount() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
	return len(g.pending)
}

// Reject marks a pending action REJECTED and keeps reason verbatim.
func (g *Gate) Reject(actionID, rejectorID, reason string) (Decision, error) {
	now := g.clock.Now()

	g.mu.Lock()
	g.sweepLocked(now)
	rec, ok := g.records[actionID]
	if !ok {
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if rec.Status != StatusPending {
		status := rec.Status
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s is %s", ErrNotPending, actionID, status)
	}
	rec.Status = StatusRejected
	rec.RejectedBy = rejectorID
	rec.Reason = reason
	rec.DecidedAt = now
	g.removePendingLocked(actionID)
	tenantID := rec.TenantID
	g.mu.Unlock()

	g.recorder.RecordEvent(outbound.EventApprovalRejected, "rejected")
	g.logger.Info("action rejected", "action_id", actionID, "tenant_id", tenantID, "rejector", rejectorID, "reason", reason)

	return Decision{ActionID: actionID, Status: StatusRejected, RejectedBy: rejectorID, Reason: reason}, nil
}

// GetPendingApprovals lists queued items, oldest first. A non-empty tenantID
// returns only that tenant's items; an empty one returns all of them and is
// meant for operator tooling.
func (g *Gate) GetPendingApprovals(tenantID string) []PendingApproval {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)

	out := make([]PendingApproval, 0, len(g.pending))
	for _, id := range g.pending {
		rec := g.records[id]
		if rec == nil || (tenantID != "" && rec.TenantID != tenantID) {
			continue
		}
		out = append(out, PendingApproval{
			ActionID:    rec.ActionID,
			TenantID:    rec.TenantID,
			RequestedBy: rec.RequestedBy,
			RiskLevel:   rec.RiskLevel,
			PlanHash:    rec.PlanHash,
			TokenID:     rec.TokenID,
			CreatedAt:   rec.CreatedAt,
			ExpiresAt:   rec.ExpiresAt,
		})
	}
	return out
}

// GetRecord returns a copy of the approval record for an action.
func (g *Gate) GetRecord(actionID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[actionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// sweepLocked rejects pending items whose token lapsed and prunes consumed
// tokens and decided records past their retention.
func (g *Gate) sweepLocked(now time.Time) {
	kept := g.pending[:0]
	for _, id := range g.pending {
		rec := g.records[id]
		if rec != nil && !now.Before(rec.ExpiresAt) {
			rec.Status = StatusRejected
			rec.RejectedBy = SystemActor
			rec.Reason = "expired"
			rec.DecidedAt = now
			continue
		}
		kept = append(kept, id)
	}
	g.pending = kept

	for id, exp := range g.consumed {
		if !now.Before(exp) {
			delete(g.consumed, id)
		}
	}

	cutoff := now.Add(-g.retention)
	for id, rec := range g.records {
		if rec.Status != StatusPending && rec.DecidedAt.Before(cutoff) {
			delete(g.records, id)
		}
	}
}

func (g *Gate) evictLocked(now time.Time) []string {
	var evicted []string
	for len(g.pending) >= g.maxPending {
		oldest := g.pending[0]
		g.pending = g.pending[1:]
		if rec := g.records[oldest]; rec != nil {
			rec.Status = StatusRejected
			rec.RejectedBy = SystemActor
			rec.Reason = "evicted: pending queue at capacity"
			rec.DecidedAt = now
		}
		evicted = append(evicted, oldest)
	}
	return evicted
}

func (g *Gate) removePendingLocked(actionID string) {
	for i, id := range g.pending {
		if id == actionID {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			return
		}
	}
}
