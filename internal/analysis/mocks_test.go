package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"clausecheck/internal/types"
)

// memChunks is an in-memory chunk store for one document.
type memChunks struct {
	documentID string
	chunks     []types.Chunk
}

func (m *memChunks) GetChunk(ctx context.Context, documentID, chunkID string) (*types.Chunk, error) {
	for _, c := range m.chunks {
		if documentID == m.documentID && c.ID == chunkID {
			out := c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("chunk %s not found", chunkID)
}

func (m *memChunks) GetChunks(ctx context.Context, documentID string, chunkIDs []string) ([]types.Chunk, error) {
	if documentID != m.documentID {
		return nil, nil
	}
	if chunkIDs == nil {
		return append([]types.Chunk{}, m.chunks...), nil
	}
	var out []types.Chunk
	for _, id := range chunkIDs {
		for _, c := range m.chunks {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (m *memChunks) GetAdjacentChunks(ctx context.Context, documentID, chunkID string, window int) ([]types.Chunk, error) {
	return m.GetChunks(ctx, documentID, nil)
}

// emptySearcher returns no vector hits; candidates come from the
// keyword sweep alone.
type emptySearcher struct{}

func (emptySearcher) Search(ctx context.Context, emb []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	return nil, nil
}

// countingEmbedder returns fixed-size vectors and counts batch calls,
// so cache rebuilds are observable.
type countingEmbedder struct {
	mu         sync.Mutex
	batchCalls int
	fail       bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return []float32{1, 0}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()
	if e.fail {
		return nil, fmt.Errorf("embedder down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }
func (e *countingEmbedder) Name() string    { return "counting" }

func (e *countingEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchCalls
}

// memPipelineStore backs findings, analyses, and document status.
type memPipelineStore struct {
	mu       sync.Mutex
	findings map[string]types.Finding
	analyses map[string]types.Analysis
	docs     map[string]string
}

func newMemPipelineStore() *memPipelineStore {
	return &memPipelineStore{
		findings: make(map[string]types.Finding),
		analyses: make(map[string]types.Analysis),
		docs:     make(map[string]string),
	}
}

func (m *memPipelineStore) CreateFinding(ctx context.Context, documentID, analysisID string, f types.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings[f.ProvisionID] = f
	return nil
}

func (m *memPipelineStore) GetFindings(ctx context.Context, documentID, analysisID string) ([]types.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Finding, 0, len(m.findings))
	for _, f := range m.findings {
		out = append(out, f)
	}
	return out, nil
}

func (m *memPipelineStore) CreateAnalysis(ctx context.Context, a types.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[a.ID] = a
	return nil
}

func (m *memPipelineStore) GetAnalysis(ctx context.Context, documentID, analysisID string) (*types.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[analysisID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memPipelineStore) UpdateAnalysis(ctx context.Context, a types.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[a.ID] = a
	return nil
}

func (m *memPipelineStore) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = status
	return nil
}

// statusRejectingStore fails SetDocumentStatus for one specific status
// value and behaves normally otherwise.
type statusRejectingStore struct {
	*memPipelineStore
	rejectStatus string
}

func (s *statusRejectingStore) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	if status == s.rejectStatus {
		return fmt.Errorf("document table unavailable")
	}
	return s.memPipelineStore.SetDocumentStatus(ctx, documentID, status)
}

func (m *memPipelineStore) docStatus(documentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[documentID]
}

// recordingClient plays a one-shot verification agent: it records a
// matched verdict for every provision named in the prompt, then ends.
type recordingClient struct {
	mu      sync.Mutex
	ids     []string
	matched map[string]bool
	err     error
}

func (c *recordingClient) Model() string { return "recording" }

func (c *recordingClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *recordingClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *recordingClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	if strings.Contains(userPrompt, "Tool results") {
		return &types.LLMToolResponse{Text: "Done.", StopReason: "end_turn"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []interface{}
	for _, id := range c.ids {
		if !strings.Contains(userPrompt, id) {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"provision_id": id,
			"matched":      c.matched[id],
			"confidence":   0.85,
			"reasoning":    "verdict",
		})
	}
	if len(entries) == 0 {
		return &types.LLMToolResponse{Text: "Nothing to record.", StopReason: "end_turn"}, nil
	}
	return &types.LLMToolResponse{
		StopReason: "tool_use",
		ToolCalls: []types.ToolCall{{
			ID:    "call_0",
			Name:  "record_findings",
			Input: map[string]interface{}{"findings": entries},
		}},
	}, nil
}
