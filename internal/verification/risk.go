package verification

import (
	"clausecheck/internal/config"
	"clausecheck/internal/types"
)

// =============================================================================
// RISK SCORING
// =============================================================================

// RiskScore computes the 0-100 risk score from not-matched findings,
// weighted by priority and capped at 100. A contract where every
// checked provision is present scores 0. Error and not-analyzed
// findings count as not matched: an unverified critical provision is
// still exposure.
func RiskScore(cfg config.VerificationConfig, findings []types.Finding) int {
	weight := func(configured, fallback int) int {
		if configured > 0 {
			return configured
		}
		return fallback
	}
	weights := map[types.Priority]int{
		types.PriorityCritical: weight(cfg.RiskWeightCritical, 30),
		types.PriorityHigh:     weight(cfg.RiskWeightHigh, 15),
		types.PriorityMedium:   weight(cfg.RiskWeightMedium, 7),
		types.PriorityLow:      weight(cfg.RiskWeightLow, 3),
	}

	score := 0
	for _, f := range findings {
		if f.Matched {
			continue
		}
		score += weights[f.Priority]
		if score >= 100 {
			return 100
		}
	}
	return score
}
