package action

import "github.com/clinicore/actiongate/internal/domain/tool"

// Phase is the deployment rollout gate.
type Phase string

const (
	// PhaseShadow: the agent proposes, humans act. Simulation only.
	PhaseShadow Phase = "shadow"
	// PhasePilot: simulations are reviewed against real data. Simulation only.
	PhasePilot Phase = "pilot"
	// PhaseProduction enables execute mode.
	PhaseProduction Phase = "production"
)

// IsValid returns true if the phase is known.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseShadow, PhasePilot, PhaseProduction:
		return true
	default:
		return false
	}
}

// Allows reports whether mode may run in this phase. Simulate is allowed in
// every phase; execute only in production.
func (p Phase) Allows(mode tool.Mode) bool {
	switch mode {
	case tool.ModeSimulate:
		return true
	case tool.ModeExecute:
		return p == PhaseProduction
	default:
		return false
	}
}
