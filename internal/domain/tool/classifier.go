package tool

import (
	"strings"
)

// criticalPatterns indicate destructive or financial operations.
var criticalPatterns = []string{
	"delete", "remove", "drop", "purge", "truncate", "void",
	"refund", "anonymize", "erase", "admin",
}

// highPatterns indicate writes that change operational or billing state.
var highPatterns = []string{
	"update", "modify", "write", "set", "issue", "transfer",
	"import", "assign", "merge",
}

// mediumPatterns indicate narrow, reversible writes and outbound messages.
var mediumPatterns = []string{
	"create", "schedule", "cancel", "send", "notify", "export", "book",
}

// InferRiskLevel guesses a risk level from a tool name.
// Classification is case-insensitive substring matching, checked from
// critical down to low. It is a heuristic used to flag understated
// declarations, never to replace the declared level.
func InferRiskLevel(name string) RiskLevel {
	lower := strings.ToLower(name)

	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelCritical
		}
	}
	for _, pattern := range highPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}

// Understated reports whether the declared risk level is lower than what
// the tool name suggests.
func Understated(def Definition) (RiskLevel, bool) {
	inferred := InferRiskLevel(def.ID)
	return inferred, inferred.Rank() > def.RiskLevel.Rank()
}
