package killswitch

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clinicore/actiongate/internal/clock"
)

// FailureThresholdActor is recorded as ActivatedBy when a tenant is stopped
// automatically after repeated failures.
const FailureThresholdActor = "system:failure-threshold"

// KillSwitch holds the global, per-tenant and per-capability stops.
// All state lives behind one mutex and is copied out before being returned.
type KillSwitch struct {
	mu           sync.Mutex
	global       State
	tenants      map[string]State
	capabilities map[string]State

	// failure escalation; disabled when threshold <= 0
	threshold int
	window    time.Duration
	failures  map[string][]time.Time

	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a KillSwitch.
type Option func(*KillSwitch)

// WithClock sets the clock used for activation timestamps.
func WithClock(c clock.Clock) Option {
	return func(k *KillSwitch) {
		if c != nil {
			k.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *KillSwitch) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithFailureThreshold stops a tenant automatically once threshold failures
// are recorded for it within window.
func WithFailureThreshold(threshold int, window time.Duration) Option {
	return func(k *KillSwitch) {
		k.threshold = threshold
		k.window = window
	}
}

// New creates a KillSwitch with every scope inactive.
func New(opts ...Option) *KillSwitch {
	k := &KillSwitch{
		tenants:      make(map[string]State),
		capabilities: make(map[string]State),
		failures:     make(map[string][]time.Time),
		clock:        clock.System{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ActivateGlobal stops every action.
func (k *KillSwitch) ActivateGlobal(activatedBy, reason string) State {
	k.mu.Lock()
	k.global = k.newState(ScopeGlobal, "", activatedBy, reason)
	st := k.global
	k.mu.Unlock()

	k.logger.Warn("kill switch activated", "scope", ScopeGlobal, "by", activatedBy, "reason", reason)
	return st
}

// DeactivateGlobal clears the global stop. Returns false if it was not active.
func (k *KillSwitch) DeactivateGlobal(deactivatedBy string) bool {
	k.mu.Lock()
	was := k.global.Active
	k.global = State{}
	k.mu.Unlock()

	if was {
		k.logger.Info("kill switch deactivated", "scope", ScopeGlobal, "by", deactivatedBy)
	}
	return was
}

// ActivateTenant stops every action for one tenant.
func (k *KillSwitch) ActivateTenant(tenantID, activatedBy, reason string) (State, error) {
	if tenantID == "" {
		return State{}, errors.New("tenant id is required")
	}

	k.mu.Lock()
	st := k.newState(ScopeTenant, tenantID, activatedBy, reason)
	k.tenants[tenantID] = st
	k.mu.Unlock()

	k.logger.Warn("kill switch activated", "scope", ScopeTenant, "tenant_id", tenantID, "by", activatedBy, "reason", reason)
	return st, nil
}

// DeactivateTenant clears a tenant stop and its failure history.
func (k *KillSwitch) DeactivateTenant(tenantID, deactivatedBy string) bool {
	k.mu.Lock()
	_, was := k.tenants[tenantID]
	delete(k.tenants, tenantID)
	delete(k.failures, tenantID)
	k.mu.Unlock()

	if was {
		k.logger.Info("kill switch deactivated", "scope", ScopeTenant, "tenant_id", tenantID, "by", deactivatedBy)
	}
	return was
}

// ActivateCapability stops one capability for every tenant. Activating
// CapabilityAll stops all of them.
func (k *KillSwitch) ActivateCapability(capability, activatedBy, reason string) (State, error) {
	if capability == "" {
		return State{}, errors.New("capability is required")
	}

	k.mu.Lock()
	st := k.newState(ScopeCapability, capability, activatedBy, reason)
	k.capabilities[capability] = st
	k.mu.Unlock()

	k.logger.Warn("kill switch activated", "scope", ScopeCapability, "capability", capability, "by", activatedBy, "reason", reason)
	return st, nil
}

// DeactivateCapability clears a capability stop.
func (k *KillSwitch) DeactivateCapability(capability, deactivatedBy string) bool {
	k.mu.Lock()
	_, was := k.capabilities[capability]
	delete(k.capabilities, capability)
	k.mu.Unlock()

	if was {
		k.logger.Info("kill switch deactivated", "scope", ScopeCapability, "capability", capability, "by", deactivatedBy)
	}
	return was
}

// Check reports the first active stop that applies, in priority order
// global, tenant, capability. Empty tenantID or capability skip that scope.
func (k *KillSwitch) Check(tenantID, capability string) (State, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.global.Active {
		return k.global, true
	}
	if tenantID != "" {
		if st, ok := k.tenants[tenantID]; ok && st.Active {
			return st, true
		}
	}
	if capability != "" {
		if st, ok := k.capabilities[CapabilityAll]; ok && st.Active {
			return st, true
		}
		if st, ok := k.capabilities[capability]; ok && st.Active {
			return st, true
		}
	}
	return State{}, false
}

// RequireNotBlocked is Check as a guard: it returns a *BlockedError when any
// applicable stop is active.
func (k *KillSwitch) RequireNotBlocked(tenantID, capability string) error {
	st, blocked := k.Check(tenantID, capability)
	if !blocked {
		return nil
	}
	return &BlockedError{Scope: st.Scope, TargetID: st.TargetID, Reason: st.Reason}
}

// DeactivateAll clears every scope and all failure history.
func (k *KillSwitch) DeactivateAll(deactivatedBy string) {
	k.mu.Lock()
	k.global = State{}
	k.tenants = make(map[string]State)
	k.capabilities = make(map[string]State)
	k.failures = make(map[string][]time.Time)
	k.mu.Unlock()

	k.logger.Info("all kill switches deactivated", "by", deactivatedBy)
}

// GetAllActive returns every active stop: global first, then tenants and
// capabilities ordered by target.
func (k *KillSwitch) GetAllActive() []State {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]State, 0, 1+len(k.tenants)+len(k.capabilities))
	if k.global.Active {
		out = append(out, k.global)
	}
	out = append(out, sortedStates(k.tenants)...)
	out = append(out, sortedStates(k.capabilities)...)
	return out
}

// IsAnyActive reports whether any stop is active.
func (k *KillSwitch) IsAnyActive() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.global.Active || len(k.tenants) > 0 || len(k.capabilities) > 0
}

// RecordFailure counts a hard failure for a tenant. When the configured
// threshold is reached within the window the tenant is stopped and true is
// returned.
func (k *KillSwitch) RecordFailure(tenantID string) bool {
	if k.threshold <= 0 || tenantID == "" {
		return false
	}

	now := k.clock.Now()

	k.mu.Lock()
	if _, stopped := k.tenants[tenantID]; stopped {
		k.mu.Unlock()
		return false
	}
	cutoff := now.Add(-k.window)
	recent := k.failures[tenantID][:0]
	for _, ts := range k.failures[tenantID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	count := len(recent)
	trip := count >= k.threshold
	if trip {
		delete(k.failures, tenantID)
	} else {
		k.failures[tenantID] = recent
	}
	k.mu.Unlock()

	if !trip {
		return false
	}
	// ActivateTenant takes the lock itself.
	_, _ = k.ActivateTenant(tenantID, FailureThresholdActor, "failure threshold reached")
	return true
}

func (k *KillSwitch) newState(scope Scope, target, activatedBy, reason string) State {
	return State{
		Active:      true,
		Scope:       scope,
		TargetID:    target,
		ActivatedBy: activatedBy,
		ActivatedAt: k.clock.Now(),
		Reason:      reason,
	}
}

func sortedStates(m map[string]State) []State {
	out := make([]State, 0, len(m))
	for _, st := range m {
		if st.Active {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}
