package verification

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"clausecheck/internal/agent"
	"clausecheck/internal/config"
	"clausecheck/internal/llm"
	"clausecheck/internal/types"
)

func TestMain(m *testing.M) {
	// The genai dependency chain starts a long-lived opencensus stats
	// worker in an init; it is not a leak of ours.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scenarioCatalog is the four-provision catalog used by the end-to-end
// tests: two critical, one high, one low.
func scenarioCatalog() []types.Provision {
	return []types.Provision{
		{ID: "pay-if-paid", Priority: types.PriorityCritical, Definition: "payment contingent on owner payment"},
		{ID: "damages-waiver", Priority: types.PriorityCritical, Definition: "waiver of consequential damages"},
		{ID: "lien-waiver", Priority: types.PriorityHigh, Definition: "waiver of lien rights"},
		{ID: "notice-period", Priority: types.PriorityLow, Definition: "claim notice deadline"},
	}
}

// scenarioCandidates covers the first three provisions; notice-period
// has nothing.
func scenarioCandidates() types.CandidateMap {
	return types.CandidateMap{
		"pay-if-paid":    {{ChunkID: "c1", Score: 0.9, MatchType: types.MatchBoth, Text: "contingent upon receipt"}},
		"damages-waiver": {{ChunkID: "c2", Score: 0.8, MatchType: types.MatchVector, Text: "waives consequential damages"}},
		"lien-waiver":    {{ChunkID: "c3", Score: 0.75, MatchType: types.MatchKeyword, Text: "waives all lien rights"}},
	}
}

// runPipeline drives partition, planning, orchestration, and
// reconciliation the way the analysis service does.
func runPipeline(t *testing.T, client types.LLMClient, store *memStore, provisions []types.Provision, candidates types.CandidateMap) types.Analysis {
	t.Helper()
	cfg := config.Default().Verification
	ctx := context.Background()

	analysis := types.Analysis{
		ID: "a1", TenantID: "t1", DocumentID: "doc1",
		Model: client.Model(), Status: types.AnalysisRunning, StartedAt: time.Now().UTC(),
	}
	if err := store.CreateAnalysis(ctx, analysis); err != nil {
		t.Fatal(err)
	}

	with, without := Partition(provisions, candidates, 1)
	batches := GroupBatches(with, cfg.MaxProvisionsPerBatch)

	orch := NewOrchestrator(cfg, agent.New(client), agent.ToolDeps{
		Embedder: nullEmbedder{}, Searcher: nullSearcher{}, Chunks: nullChunks{}, Findings: store,
	})
	results := orch.RunBatches(ctx, Scope{TenantID: "t1", DocumentID: "doc1", AnalysisID: "a1"},
		batches, candidates, types.ContractContext{})

	final, err := NewReconciler(store, store).Finalize(ctx, analysis, provisions, without, results)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return final
}

func TestEndToEndSuccessfulAnalysis(t *testing.T) {
	provisions := scenarioCatalog()
	client := &scriptedAgentClient{
		provisions: provisions,
		matched: map[string]bool{
			"pay-if-paid": true, "damages-waiver": false, "lien-waiver": true,
		},
	}
	store := newMemStore()

	final := runPipeline(t, client, store, provisions, scenarioCandidates())

	if final.Status != types.AnalysisComplete {
		t.Errorf("status = %s, want complete", final.Status)
	}
	if final.Error != nil {
		t.Errorf("complete analysis should carry no error: %+v", final.Error)
	}
	if final.CompletedAt.IsZero() {
		t.Error("completion timestamp not set")
	}

	// Completeness invariant: exactly one finding per provision.
	findings, _ := store.GetFindings(context.Background(), "doc1", "a1")
	if len(findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(findings))
	}

	notice, ok := store.finding("notice-period")
	if !ok || notice.ScreeningResult != types.ScreeningNoCandidates {
		t.Errorf("notice-period finding = %+v", notice)
	}
	if notice.Matched {
		t.Error("no-candidates provision must be not matched")
	}
	// Auto-not-found never reaches the model.
	for _, prompt := range client.promptLog() {
		if strings.Contains(prompt, "notice-period") {
			t.Error("zero-candidate provision leaked into an agent prompt")
		}
	}

	if final.Summary.Critical != 1 || final.Summary.High != 1 || final.Summary.Low != 0 {
		t.Errorf("summary = %+v", final.Summary)
	}

	// Risk: damages-waiver (critical, 30) + notice-period (low, 3).
	if got := RiskScore(config.Default().Verification, findings); got != 33 {
		t.Errorf("risk = %d, want 33", got)
	}

	if store.docs["doc1"] != "complete" {
		t.Errorf("document status = %q", store.docs["doc1"])
	}
}

func TestEndToEndAllBatchesFail(t *testing.T) {
	provisions := scenarioCatalog()
	client := &scriptedAgentClient{
		provisions: provisions,
		err:        &llm.ProviderError{Provider: "gemini", Code: "RESOURCE_EXHAUSTED", Message: "quota exceeded"},
	}
	store := newMemStore()

	final := runPipeline(t, client, store, provisions, scenarioCandidates())

	if final.Status != types.AnalysisFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Error == nil {
		t.Fatal("failed analysis must carry an error descriptor")
	}
	if final.Error.Code != "RESOURCE_EXHAUSTED" {
		t.Errorf("error code = %s", final.Error.Code)
	}
	if final.Error.SucceededBatches != 0 || final.Error.FailedBatches == 0 {
		t.Errorf("batch counts = %+v", final.Error)
	}

	findings, _ := store.GetFindings(context.Background(), "doc1", "a1")
	if len(findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(findings))
	}
	for _, id := range []string{"pay-if-paid", "damages-waiver", "lien-waiver"} {
		f, _ := store.finding(id)
		if f.ScreeningResult != types.ScreeningError {
			t.Errorf("%s screening result = %s, want error", id, f.ScreeningResult)
		}
	}
	// The no-candidate provision is independent of batch outcomes.
	notice, _ := store.finding("notice-period")
	if notice.ScreeningResult != types.ScreeningNoCandidates {
		t.Errorf("notice-period = %s, want no_candidates", notice.ScreeningResult)
	}

	if store.docs["doc1"] != "failed" {
		t.Errorf("document status = %q", store.docs["doc1"])
	}
}

// partialClient fails only the batch whose prompt names a marked
// provision.
type partialClient struct {
	scriptedAgentClient
	failOn string
}

func (c *partialClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if strings.Contains(userPrompt, c.failOn) && !strings.Contains(userPrompt, "Tool results") {
		return nil, &llm.ProviderError{Provider: "gemini", Code: "HTTP_500", Message: "boom"}
	}
	return c.scriptedAgentClient.CompleteWithTools(ctx, systemPrompt, userPrompt, tools)
}

func TestPartialFailureIsolation(t *testing.T) {
	provisions := scenarioCatalog()
	candidates := scenarioCandidates()
	// Give notice-period a candidate too so all four get batched into
	// three tiers: critical, high, low.
	candidates["notice-period"] = []types.CandidateChunk{{ChunkID: "c4", Score: 0.7, Text: "notice within 7 days"}}

	client := &partialClient{
		scriptedAgentClient: scriptedAgentClient{
			provisions: provisions,
			matched:    map[string]bool{"pay-if-paid": true, "damages-waiver": true, "lien-waiver": true, "notice-period": true},
		},
		failOn: "lien-waiver",
	}
	store := newMemStore()

	final := runPipeline(t, client, store, provisions, candidates)

	if final.Status != types.AnalysisPartial {
		t.Errorf("status = %s, want partial", final.Status)
	}
	if final.Error == nil || final.Error.FailedBatches != 1 || final.Error.SucceededBatches != 2 {
		t.Errorf("error descriptor = %+v", final.Error)
	}
	if len(final.Error.FailedProvisionIDs) != 1 || final.Error.FailedProvisionIDs[0] != "lien-waiver" {
		t.Errorf("failed provisions = %v", final.Error.FailedProvisionIDs)
	}

	// Sibling batches' findings survive.
	for _, id := range []string{"pay-if-paid", "damages-waiver", "notice-period"} {
		f, ok := store.finding(id)
		if !ok || f.ScreeningResult != types.ScreeningAnalyzedFound {
			t.Errorf("%s finding = %+v", id, f)
		}
	}
	lien, _ := store.finding("lien-waiver")
	if lien.ScreeningResult != types.ScreeningError {
		t.Errorf("lien-waiver = %s, want error", lien.ScreeningResult)
	}

	// Partial still surfaces results: document is complete.
	if store.docs["doc1"] != "complete" {
		t.Errorf("document status = %q", store.docs["doc1"])
	}
}

func TestBackfillNotAnalyzed(t *testing.T) {
	provisions := scenarioCatalog()
	store := newMemStore()

	// The silent client ends every batch without recording anything.
	final := runPipeline(t, silentClient{}, store, provisions, scenarioCandidates())

	if final.Status != types.AnalysisComplete {
		t.Errorf("status = %s, want complete (batches returned without error)", final.Status)
	}
	findings, _ := store.GetFindings(context.Background(), "doc1", "a1")
	if len(findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(findings))
	}
	for _, id := range []string{"pay-if-paid", "damages-waiver", "lien-waiver"} {
		f, _ := store.finding(id)
		if f.ScreeningResult != types.ScreeningNotAnalyzed || f.Matched {
			t.Errorf("%s = %+v, want not_analyzed backfill", id, f)
		}
	}
}

func TestStepBudgetByTier(t *testing.T) {
	cfg := config.Default().Verification
	orch := NewOrchestrator(cfg, nil, agent.ToolDeps{})

	cases := map[types.Priority]int{
		types.PriorityCritical: 60,
		types.PriorityHigh:     30,
		types.PriorityMedium:   30,
		types.PriorityLow:      20,
		types.Priority("odd"):  40,
	}
	for tier, want := range cases {
		if got := orch.stepBudget(tier); got != want {
			t.Errorf("budget(%s) = %d, want %d", tier, got, want)
		}
	}
}

func TestRunBatchesHonorsConcurrencyWindow(t *testing.T) {
	cfg := config.Default().Verification
	cfg.MaxProvisionsPerBatch = 1 // one batch per provision

	var provisions []types.Provision
	candidates := types.CandidateMap{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("clause-%d", i)
		provisions = append(provisions, types.Provision{
			ID: id, Priority: types.PriorityCritical, Definition: "risk-shifting clause",
		})
		candidates[id] = []types.CandidateChunk{{
			ChunkID: fmt.Sprintf("c%d", i), Score: 0.9, Text: "clause text",
		}}
	}

	with, _ := Partition(provisions, candidates, 1)
	batches := GroupBatches(with, cfg.MaxProvisionsPerBatch)
	if len(batches) <= cfg.MaxConcurrentBatches {
		t.Fatalf("batches = %d, need more than the window of %d", len(batches), cfg.MaxConcurrentBatches)
	}

	client := &gateClient{}
	store := newMemStore()
	orch := NewOrchestrator(cfg, agent.New(client), agent.ToolDeps{
		Embedder: nullEmbedder{}, Searcher: nullSearcher{}, Chunks: nullChunks{}, Findings: store,
	})
	results := orch.RunBatches(context.Background(), Scope{TenantID: "t1", DocumentID: "doc1", AnalysisID: "a1"},
		batches, candidates, types.ContractContext{})

	for _, res := range results {
		if !res.Success {
			t.Errorf("batch %d failed: %v", res.Batch.Index, res.Err)
		}
	}
	peak := client.peakInFlight()
	if peak > cfg.MaxConcurrentBatches {
		t.Errorf("peak in-flight model calls = %d, want at most %d", peak, cfg.MaxConcurrentBatches)
	}
	if peak < 2 {
		t.Errorf("peak in-flight model calls = %d, batches never overlapped", peak)
	}
}

func TestRunBatchesRespectsAnalysisDeadline(t *testing.T) {
	provisions := scenarioCatalog()
	client := &scriptedAgentClient{provisions: provisions, matched: map[string]bool{}}
	store := newMemStore()
	cfg := config.Default().Verification

	with, _ := Partition(provisions, scenarioCandidates(), 1)
	batches := GroupBatches(with, cfg.MaxProvisionsPerBatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // deadline already passed before any batch launches

	orch := NewOrchestrator(cfg, agent.New(client), agent.ToolDeps{
		Embedder: nullEmbedder{}, Searcher: nullSearcher{}, Chunks: nullChunks{}, Findings: store,
	})
	results := orch.RunBatches(ctx, Scope{TenantID: "t1", DocumentID: "doc1", AnalysisID: "a1"},
		batches, scenarioCandidates(), types.ContractContext{})

	for _, res := range results {
		if res.Success {
			t.Errorf("batch %d admitted past the deadline", res.Batch.Index)
		}
		if res.ErrCode != "ANALYSIS_TIMEOUT" {
			t.Errorf("batch %d code = %s", res.Batch.Index, res.ErrCode)
		}
	}
}

func TestBuildBatchPromptContents(t *testing.T) {
	prov := types.Provision{
		ID: "pay-if-paid", Priority: types.PriorityCritical,
		Definition:         "payment contingent on owner payment",
		CanonicalWording:   "contingent upon receipt of payment",
		FalsePositiveTraps: []string{"pay-when-paid timing clauses are not pay-if-paid"},
		Rubric:             types.ConfidenceRubric{High: "explicit condition precedent language"},
	}
	batch := types.Batch{Priority: types.PriorityCritical, Provisions: []types.Provision{prov}}
	candidates := types.CandidateMap{
		"pay-if-paid": {{
			ChunkID: "c1", PageStart: 3, PageEnd: 3, Score: 0.85,
			MatchType: types.MatchBoth, MatchedKeywords: []string{"contingent upon"},
			Text: strings.Repeat("x", 3000),
		}},
	}

	prompt := BuildBatchPrompt(batch, candidates, types.ContractContext{ContractorName: "Acme Builders", State: "TX"}, 2000)

	for _, want := range []string{
		"pay-if-paid", "payment contingent on owner payment",
		"pay-when-paid timing clauses", "explicit condition precedent",
		"both match, score 0.85", "contingent upon", "Acme Builders", "TX", "[truncated]",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, strings.Repeat("x", 2500)) {
		t.Error("excerpt not truncated to cap")
	}
}
