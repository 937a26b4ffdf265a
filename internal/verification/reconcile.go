package verification

import (
	"context"
	"fmt"
	"time"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciler finalizes an analysis: it guarantees exactly one finding
// per provision, computes summary counts, settles the terminal status,
// and updates the parent document.
type Reconciler struct {
	findings types.FindingStore
	analyses types.AnalysisStore
}

// NewReconciler creates a reconciler.
func NewReconciler(findings types.FindingStore, analyses types.AnalysisStore) *Reconciler {
	return &Reconciler{findings: findings, analyses: analyses}
}

// Finalize settles the analysis after all batches have returned.
// noCandidates lists the provisions screening found nothing for; they
// get deterministic verdicts with no model call. The returned analysis
// carries the terminal status that was persisted.
func (r *Reconciler) Finalize(ctx context.Context, analysis types.Analysis, allProvisions []types.Provision, noCandidates []types.Provision, results []types.BatchResult) (types.Analysis, error) {
	timer := logging.StartTimer(logging.CategoryReconcile, "Finalize")
	defer timer.Stop()

	now := time.Now().UTC()

	// Auto-not-found verdicts for provisions with nothing to look at.
	// Distinct from analyzed_not_found: the model never saw these.
	for _, p := range noCandidates {
		f := types.Finding{
			ProvisionID:       p.ID,
			Priority:          p.Priority,
			Matched:           false,
			Confidence:        0,
			Reasoning:         "No candidate text found during screening.",
			RecommendedAction: p.SuggestedAction,
			ScreeningResult:   types.ScreeningNoCandidates,
			CreatedAt:         now,
		}
		if err := r.findings.CreateFinding(ctx, analysis.DocumentID, analysis.ID, f); err != nil {
			return analysis, fmt.Errorf("failed to record no-candidates finding for %s: %w", p.ID, err)
		}
	}

	existing, err := r.recordedSet(ctx, analysis)
	if err != nil {
		return analysis, err
	}

	// Step 1: explicit error findings for provisions whose batch
	// failed, unless the batch recorded a verdict before dying.
	failedBatches, succeededBatches := 0, 0
	var failedProvisionIDs []string
	var firstErr error
	var firstErrCode string
	for _, res := range results {
		if res.Success {
			succeededBatches++
			continue
		}
		failedBatches++
		if firstErr == nil {
			firstErr = res.Err
			firstErrCode = res.ErrCode
		}
		for _, p := range res.Batch.Provisions {
			if existing[p.ID] {
				continue
			}
			failedProvisionIDs = append(failedProvisionIDs, p.ID)
			msg := "Verification batch failed."
			if res.Err != nil {
				msg = fmt.Sprintf("Verification batch failed: %v", res.Err)
			}
			f := types.Finding{
				ProvisionID:     p.ID,
				Priority:        p.Priority,
				Matched:         false,
				Confidence:      0,
				Reasoning:       msg,
				ScreeningResult: types.ScreeningError,
				CreatedAt:       now,
			}
			if err := r.findings.CreateFinding(ctx, analysis.DocumentID, analysis.ID, f); err != nil {
				return analysis, fmt.Errorf("failed to record error finding for %s: %w", p.ID, err)
			}
		}
	}

	// Step 2: re-read and backfill anything still missing (agent
	// skipped a provision inside an otherwise-successful batch).
	existing, err = r.recordedSet(ctx, analysis)
	if err != nil {
		return analysis, err
	}
	backfilled := 0
	for _, p := range allProvisions {
		if existing[p.ID] {
			continue
		}
		backfilled++
		f := types.Finding{
			ProvisionID:     p.ID,
			Priority:        p.Priority,
			Matched:         false,
			Confidence:      0,
			Reasoning:       "No verdict recorded by the verification agent.",
			ScreeningResult: types.ScreeningNotAnalyzed,
			CreatedAt:       now,
		}
		if err := r.findings.CreateFinding(ctx, analysis.DocumentID, analysis.ID, f); err != nil {
			return analysis, fmt.Errorf("failed to backfill finding for %s: %w", p.ID, err)
		}
	}
	if backfilled > 0 {
		logging.Reconcile("Backfilled %d missing findings as not_analyzed", backfilled)
	}

	// Steps 3-4: summary counts and terminal status.
	final, err := r.findings.GetFindings(ctx, analysis.DocumentID, analysis.ID)
	if err != nil {
		return analysis, fmt.Errorf("failed to re-read findings: %w", err)
	}
	var summary types.SummaryCounts
	for _, f := range final {
		if f.Matched {
			summary.Add(f.Priority)
		}
	}

	status := types.AnalysisComplete
	switch {
	case failedBatches == 0:
		status = types.AnalysisComplete
	case succeededBatches == 0:
		status = types.AnalysisFailed
	default:
		status = types.AnalysisPartial
	}

	analysis.Status = status
	analysis.Summary = summary
	analysis.CompletedAt = now
	analysis.Error = nil
	if failedBatches > 0 {
		msg := "verification batches failed"
		if firstErr != nil {
			msg = firstErr.Error()
		}
		analysis.Error = &types.AnalysisError{
			Message:            msg,
			Code:               firstErrCode,
			FailedBatches:      failedBatches,
			SucceededBatches:   succeededBatches,
			FailedProvisionIDs: failedProvisionIDs,
		}
	}

	// Step 5: persist, then settle the document status. Partial still
	// shows results to the user, so only a fully failed analysis marks
	// the document failed.
	if err := r.analyses.UpdateAnalysis(ctx, analysis); err != nil {
		return analysis, fmt.Errorf("failed to persist terminal analysis: %w", err)
	}
	docStatus := "complete"
	if status == types.AnalysisFailed {
		docStatus = "failed"
	}
	if err := r.analyses.SetDocumentStatus(ctx, analysis.DocumentID, docStatus); err != nil {
		return analysis, fmt.Errorf("failed to update document status: %w", err)
	}

	logging.Reconcile("Analysis %s finalized: status=%s findings=%d matched=(c=%d h=%d m=%d l=%d)",
		analysis.ID, status, len(final), summary.Critical, summary.High, summary.Medium, summary.Low)
	return analysis, nil
}

// recordedSet returns the provision ids that already have findings.
func (r *Reconciler) recordedSet(ctx context.Context, analysis types.Analysis) (map[string]bool, error) {
	findings, err := r.findings.GetFindings(ctx, analysis.DocumentID, analysis.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	set := make(map[string]bool, len(findings))
	for _, f := range findings {
		set[f.ProvisionID] = true
	}
	return set, nil
}
