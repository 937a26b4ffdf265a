package verification

import (
	"testing"

	"clausecheck/internal/config"
	"clausecheck/internal/types"
)

func TestRiskScoreAllMatchedIsZero(t *testing.T) {
	findings := []types.Finding{
		{ProvisionID: "a", Priority: types.PriorityCritical, Matched: true},
		{ProvisionID: "b", Priority: types.PriorityLow, Matched: true},
	}
	if got := RiskScore(config.Default().Verification, findings); got != 0 {
		t.Errorf("risk = %d, want 0", got)
	}
}

func TestRiskScoreSingleCriticalUnmatched(t *testing.T) {
	findings := []types.Finding{
		{ProvisionID: "a", Priority: types.PriorityCritical, Matched: false,
			ScreeningResult: types.ScreeningAnalyzedNotFound},
		{ProvisionID: "b", Priority: types.PriorityHigh, Matched: true},
	}
	if got := RiskScore(config.Default().Verification, findings); got != 30 {
		t.Errorf("risk = %d, want critical weight 30", got)
	}
}

func TestRiskScoreWeightedSum(t *testing.T) {
	findings := []types.Finding{
		{Priority: types.PriorityCritical, Matched: false}, // 30
		{Priority: types.PriorityHigh, Matched: false},     // 15
		{Priority: types.PriorityMedium, Matched: false},   // 7
		{Priority: types.PriorityLow, Matched: false},      // 3
	}
	if got := RiskScore(config.Default().Verification, findings); got != 55 {
		t.Errorf("risk = %d, want 55", got)
	}
}

func TestRiskScoreCappedAt100(t *testing.T) {
	var findings []types.Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, types.Finding{Priority: types.PriorityCritical, Matched: false})
	}
	if got := RiskScore(config.Default().Verification, findings); got != 100 {
		t.Errorf("risk = %d, want cap 100", got)
	}
}

func TestRiskScoreCountsUnverifiedAsExposure(t *testing.T) {
	findings := []types.Finding{
		{Priority: types.PriorityCritical, Matched: false, ScreeningResult: types.ScreeningError},
		{Priority: types.PriorityLow, Matched: false, ScreeningResult: types.ScreeningNoCandidates},
	}
	if got := RiskScore(config.Default().Verification, findings); got != 33 {
		t.Errorf("risk = %d, want 33", got)
	}
}
