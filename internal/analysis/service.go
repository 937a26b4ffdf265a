// Package analysis wires the full pipeline together: catalog snapshot,
// pre-screening, batched agent verification, and reconciliation. One
// Service instance serves all tenants; each StartAnalysis call runs one
// document's analysis asynchronously.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"clausecheck/internal/agent"
	"clausecheck/internal/catalog"
	"clausecheck/internal/config"
	"clausecheck/internal/embedding"
	"clausecheck/internal/logging"
	"clausecheck/internal/screening"
	"clausecheck/internal/types"
	"clausecheck/internal/verification"
)

// =============================================================================
// ANALYSIS SERVICE
// =============================================================================

// Service orchestrates analyses over the shared stores.
type Service struct {
	cfg      *config.Config
	catalogs *catalog.Manager
	embedder embedding.Engine
	cache    *embedding.Cache
	searcher types.VectorSearcher
	chunks   types.ChunkStore
	findings types.FindingStore
	analyses types.AnalysisStore
	runner   *agent.Runner
	model    string

	mu          sync.Mutex
	cacheSource *catalog.Catalog // catalog snapshot the cache was built from

	wg sync.WaitGroup // in-flight analyses
}

// New creates the service. Call Bootstrap before serving requests.
func New(cfg *config.Config, catalogs *catalog.Manager, embedder embedding.Engine,
	searcher types.VectorSearcher, chunks types.ChunkStore,
	findings types.FindingStore, analyses types.AnalysisStore, client types.LLMClient) *Service {
	return &Service{
		cfg:      cfg,
		catalogs: catalogs,
		embedder: embedder,
		cache:    embedding.NewCache(embedder),
		searcher: searcher,
		chunks:   chunks,
		findings: findings,
		analyses: analyses,
		runner:   agent.New(client),
		model:    client.Model(),
	}
}

// Bootstrap builds the provision embedding cache for the current
// catalog. Serving analyses with a cold cache is not allowed.
func (s *Service) Bootstrap(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryBoot, "Bootstrap")
	defer timer.Stop()
	return s.ensureCache(ctx, s.catalogs.Current())
}

// ensureCache rebuilds the cache when the live catalog has been swapped
// since the last build. Analyses in flight keep their own snapshot.
func (s *Service) ensureCache(ctx context.Context, cat *catalog.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheSource == cat && s.cache.Ready() {
		return nil
	}
	if err := s.cache.Build(ctx, cat.Provisions, s.cfg.Embedding.BatchSize); err != nil {
		return fmt.Errorf("failed to build provision cache: %w", err)
	}
	s.cacheSource = cat
	return nil
}

// StartAnalysis validates the request, records a running analysis, and
// launches the pipeline in the background. Returns the analysis id
// immediately; callers poll GetAnalysis for the terminal state.
func (s *Service) StartAnalysis(ctx context.Context, tenantID, documentID string, cctx types.ContractContext) (string, error) {
	if tenantID == "" || documentID == "" {
		return "", fmt.Errorf("tenant id and document id are required")
	}

	chunks, err := s.chunks.GetChunks(ctx, documentID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", documentID, err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %s has no ingested chunks", documentID)
	}
	// Ownership check: the document must belong to the requesting
	// tenant. Without it the keyword sweep would happily analyze another
	// tenant's text.
	for _, c := range chunks {
		if c.TenantID != tenantID {
			return "", fmt.Errorf("document %s does not belong to tenant %s", documentID, tenantID)
		}
	}

	// Snapshot the catalog once. A reload mid-analysis must not change
	// the provision set of this run.
	cat := s.catalogs.Current()
	if err := s.ensureCache(ctx, cat); err != nil {
		return "", err
	}

	analysis := types.Analysis{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		DocumentID: documentID,
		Model:      s.model,
		Status:     types.AnalysisRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.analyses.CreateAnalysis(ctx, analysis); err != nil {
		return "", fmt.Errorf("failed to create analysis: %w", err)
	}
	if err := s.analyses.SetDocumentStatus(ctx, documentID, "analyzing"); err != nil {
		// The analysis row already exists; settle it so it is never
		// left running with no goroutine behind it.
		s.markFailed(analysis, err, "INTERNAL")
		return "", fmt.Errorf("failed to mark document analyzing: %w", err)
	}

	logging.Boot("Analysis %s started: tenant=%s document=%s provisions=%d",
		analysis.ID, tenantID, documentID, cat.Len())

	s.wg.Add(1)
	go s.run(analysis, cat, cctx)
	return analysis.ID, nil
}

// run executes one analysis end to end, detached from the request
// context. Whatever happens, the analysis leaves the running state.
func (s *Service) run(analysis types.Analysis, cat *catalog.Catalog, cctx types.ContractContext) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalysisTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryReconcile).Error("Analysis %s panicked: %v", analysis.ID, r)
			s.markFailed(analysis, fmt.Errorf("analysis panicked: %v", r), "INTERNAL")
		}
	}()

	screener := screening.New(s.cfg.Screening, s.cache, s.searcher, s.chunks)
	candidates, err := screener.Run(ctx, analysis.TenantID, analysis.DocumentID, cat.Provisions)
	if err != nil {
		// Pre-screening is all-or-nothing: without candidates there is
		// nothing sound to verify.
		s.markFailed(analysis, err, "SCREENING_FAILED")
		return
	}

	with, without := verification.Partition(cat.Provisions, candidates, s.cfg.Screening.MinCandidates)
	batches := verification.GroupBatches(with, s.cfg.Verification.MaxProvisionsPerBatch)
	logging.Batch("Analysis %s: %d provisions batched into %d batches, %d with no candidates",
		analysis.ID, len(with), len(batches), len(without))

	orch := verification.NewOrchestrator(s.cfg.Verification, s.runner, agent.ToolDeps{
		Embedder: s.embedder,
		Searcher: s.searcher,
		Chunks:   s.chunks,
		Findings: s.findings,
		TopK:     s.cfg.Screening.TopKPerProvision,
	})
	results := orch.RunBatches(ctx, verification.Scope{
		TenantID:   analysis.TenantID,
		DocumentID: analysis.DocumentID,
		AnalysisID: analysis.ID,
	}, batches, candidates, cctx)

	reconciler := verification.NewReconciler(s.findings, s.analyses)
	if _, err := reconciler.Finalize(context.Background(), analysis, cat.Provisions, without, results); err != nil {
		s.markFailed(analysis, err, "RECONCILE_FAILED")
	}
}

// markFailed settles an analysis that died before reconciliation could
// run. Uses a fresh context: the analysis deadline may be the reason we
// are here.
func (s *Service) markFailed(analysis types.Analysis, cause error, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	analysis.Status = types.AnalysisFailed
	analysis.CompletedAt = time.Now().UTC()
	analysis.Error = &types.AnalysisError{Message: cause.Error(), Code: code}

	if err := s.analyses.UpdateAnalysis(ctx, analysis); err != nil {
		logging.Get(logging.CategoryReconcile).Error("Failed to persist failed analysis %s: %v", analysis.ID, err)
	}
	if err := s.analyses.SetDocumentStatus(ctx, analysis.DocumentID, "failed"); err != nil {
		logging.Get(logging.CategoryReconcile).Error("Failed to mark document %s failed: %v", analysis.DocumentID, err)
	}
	logging.Reconcile("Analysis %s failed: code=%s err=%v", analysis.ID, code, cause)
}

// GetAnalysis returns one analysis record, or nil when unknown.
func (s *Service) GetAnalysis(ctx context.Context, documentID, analysisID string) (*types.Analysis, error) {
	return s.analyses.GetAnalysis(ctx, documentID, analysisID)
}

// GetFindings returns the findings of one analysis in priority order.
func (s *Service) GetFindings(ctx context.Context, documentID, analysisID string) ([]types.Finding, error) {
	return s.findings.GetFindings(ctx, documentID, analysisID)
}

// RiskScore computes the 0-100 risk score for one analysis.
func (s *Service) RiskScore(ctx context.Context, documentID, analysisID string) (int, error) {
	findings, err := s.findings.GetFindings(ctx, documentID, analysisID)
	if err != nil {
		return 0, err
	}
	return verification.RiskScore(s.cfg.Verification, findings), nil
}

// Wait blocks until every in-flight analysis has settled. Used during
// shutdown so running analyses are not abandoned mid-write.
func (s *Service) Wait() {
	s.wg.Wait()
}
