package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"clausecheck/internal/agent"
	"clausecheck/internal/config"
	"clausecheck/internal/llm"
	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// BATCH ORCHESTRATOR
// =============================================================================

// Scope identifies the analysis run the orchestrator works for.
type Scope struct {
	TenantID   string
	DocumentID string
	AnalysisID string
}

// Orchestrator runs verification batches under a bounded concurrency
// window. Findings are persisted by the record tools during each run,
// so partial progress inside a batch survives a later failure.
type Orchestrator struct {
	cfg    config.VerificationConfig
	runner *agent.Runner
	deps   agent.ToolDeps
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg config.VerificationConfig, runner *agent.Runner, deps agent.ToolDeps) *Orchestrator {
	return &Orchestrator{cfg: cfg, runner: runner, deps: deps}
}

// stepBudget returns the agent step limit for a batch's tier.
func (o *Orchestrator) stepBudget(p types.Priority) int {
	pick := func(v, fallback int) int {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch p {
	case types.PriorityCritical:
		return pick(o.cfg.StepsCritical, 60)
	case types.PriorityHigh:
		return pick(o.cfg.StepsHigh, 30)
	case types.PriorityMedium:
		return pick(o.cfg.StepsMedium, 30)
	case types.PriorityLow:
		return pick(o.cfg.StepsLow, 20)
	default:
		return pick(o.cfg.StepsDefault, 40)
	}
}

// RunBatches executes every batch and returns one result per batch.
// ctx carries the analysis-level deadline: once it expires no new
// batch is admitted, but batches already in flight run to the end of
// their own per-batch timeout since their findings are still valid.
// One batch's failure never cancels its siblings.
func (o *Orchestrator) RunBatches(ctx context.Context, scope Scope, batches []types.Batch, candidates types.CandidateMap, cctx types.ContractContext) []types.BatchResult {
	timer := logging.StartTimer(logging.CategoryVerification, "RunBatches")
	defer timer.Stop()

	if len(batches) == 0 {
		return nil
	}

	window := o.cfg.MaxConcurrentBatches
	if window <= 0 {
		window = 3
	}
	batchTimeout := config.ParseDuration(o.cfg.BatchTimeout, 120*time.Second)

	logging.Verification("Running %d batches (window=%d, batch_timeout=%s)", len(batches), window, batchTimeout)

	slots := make(chan struct{}, window)
	results := make([]types.BatchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		// Admission control: respect the analysis deadline before
		// taking a slot. Unlaunched batches fail explicitly so their
		// provisions are reconciled, never silently dropped. The
		// upfront Err check keeps admission deterministic when the
		// deadline has already passed and a slot is free.
		admitted := ctx.Err() == nil
		if admitted {
			select {
			case <-ctx.Done():
				admitted = false
			case slots <- struct{}{}:
			}
		}
		if !admitted {
			results[i] = types.BatchResult{
				Batch:   batch,
				Success: false,
				Err:     ctx.Err(),
				ErrCode: "ANALYSIS_TIMEOUT",
			}
			logging.Get(logging.CategoryVerification).Warn("Batch %d not admitted: analysis deadline reached", batch.Index)
			continue
		}

		wg.Add(1)
		go func(i int, batch types.Batch) {
			defer wg.Done()
			defer func() { <-slots }()
			results[i] = o.runBatch(scope, batch, candidates, cctx, batchTimeout)
		}(i, batch)
	}

	wg.Wait()
	return results
}

// runBatch executes one batch agent under its own wall-clock budget,
// detached from the analysis context so an analysis timeout lets it
// finish.
func (o *Orchestrator) runBatch(scope Scope, batch types.Batch, candidates types.CandidateMap, cctx types.ContractContext, timeout time.Duration) types.BatchResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	provisionMap := make(map[string]types.Provision, len(batch.Provisions))
	for _, p := range batch.Provisions {
		provisionMap[p.ID] = p
	}
	tools := agent.VerificationTools(agent.ToolScope{
		TenantID:   scope.TenantID,
		DocumentID: scope.DocumentID,
		AnalysisID: scope.AnalysisID,
		Provisions: provisionMap,
	}, o.deps)

	prompt := BuildBatchPrompt(batch, candidates, cctx, o.cfg.ExcerptMaxChars)
	budget := o.stepBudget(batch.Priority)

	logging.Verification("Batch %d (%s, %d provisions): starting, step budget %d",
		batch.Index, batch.Priority, len(batch.Provisions), budget)

	transcript, err := o.runner.Invoke(ctx, systemInstructions, prompt, tools, budget)
	result := types.BatchResult{Batch: batch}
	if transcript != nil {
		result.StepsCompleted = transcript.Steps
	}
	if err != nil {
		result.Success = false
		result.Err = err
		result.ErrCode = providerCode(err)
		logging.Get(logging.CategoryVerification).Error("Batch %d failed after %d steps: %v",
			batch.Index, result.StepsCompleted, err)
		return result
	}

	// A budget-exhausted batch still succeeded as a run; provisions it
	// never recorded are backfilled as not_analyzed by reconciliation.
	result.Success = true
	logging.Verification("Batch %d complete: %d steps, exhausted=%v",
		batch.Index, transcript.Steps, transcript.Exhausted)
	return result
}

// providerCode extracts the provider's error code when present.
func providerCode(err error) string {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "BATCH_TIMEOUT"
	}
	return ""
}
