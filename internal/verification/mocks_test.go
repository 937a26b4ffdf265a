package verification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"clausecheck/internal/types"
)

// memStore is an in-memory finding and analysis store.
type memStore struct {
	mu       sync.Mutex
	findings map[string]types.Finding // provision id -> finding
	analyses map[string]types.Analysis
	docs     map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		findings: make(map[string]types.Finding),
		analyses: make(map[string]types.Analysis),
		docs:     make(map[string]string),
	}
}

func (m *memStore) CreateFinding(ctx context.Context, documentID, analysisID string, f types.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings[f.ProvisionID] = f
	return nil
}

func (m *memStore) GetFindings(ctx context.Context, documentID, analysisID string) ([]types.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Finding, 0, len(m.findings))
	for _, f := range m.findings {
		out = append(out, f)
	}
	return out, nil
}

func (m *memStore) CreateAnalysis(ctx context.Context, a types.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[a.ID] = a
	return nil
}

func (m *memStore) GetAnalysis(ctx context.Context, documentID, analysisID string) (*types.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[analysisID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) UpdateAnalysis(ctx context.Context, a types.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[a.ID] = a
	return nil
}

func (m *memStore) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = status
	return nil
}

func (m *memStore) finding(provisionID string) (types.Finding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.findings[provisionID]
	return f, ok
}

// scriptedAgentClient plays a cooperative verification agent: on the
// first turn of each batch it records a verdict for every provision
// named in the prompt, on the follow-up turn it ends. Safe for
// concurrent batches because behavior depends only on the prompt.
type scriptedAgentClient struct {
	mu        sync.Mutex
	provisions []types.Provision
	matched    map[string]bool // provision id -> verdict to emit
	err        error           // non-nil makes every call fail
	prompts    []string
}

func (c *scriptedAgentClient) Model() string { return "scripted" }

func (c *scriptedAgentClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *scriptedAgentClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *scriptedAgentClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, userPrompt)
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if strings.Contains(userPrompt, "Tool results") {
		return &types.LLMToolResponse{Text: "All verdicts recorded.", StopReason: "end_turn"}, nil
	}

	var entries []interface{}
	for _, p := range c.provisions {
		if !strings.Contains(userPrompt, "=== Provision") || !strings.Contains(userPrompt, p.ID) {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"provision_id": p.ID,
			"matched":      c.matched[p.ID],
			"confidence":   0.9,
			"reasoning":    "scripted verdict",
		})
	}
	if len(entries) == 0 {
		return &types.LLMToolResponse{Text: "Nothing to record.", StopReason: "end_turn"}, nil
	}
	return &types.LLMToolResponse{
		StopReason: "tool_use",
		ToolCalls: []types.ToolCall{{
			ID:   "call_0",
			Name: "record_findings",
			Input: map[string]interface{}{"findings": entries},
		}},
	}, nil
}

func (c *scriptedAgentClient) promptLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.prompts...)
}

// silentClient never records anything and ends immediately. Used to
// exercise the not_analyzed backfill.
type silentClient struct{}

func (silentClient) Model() string { return "silent" }
func (silentClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (silentClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}
func (silentClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return &types.LLMToolResponse{Text: "Nothing found.", StopReason: "end_turn"}, nil
}

// gateClient ends every batch after a single call but holds each call
// open briefly, so overlapping batches are observable.
type gateClient struct {
	silentClient
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (c *gateClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return &types.LLMToolResponse{Text: "Done.", StopReason: "end_turn"}, nil
}

func (c *gateClient) peakInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// test embedder/searcher/chunks for the tool table; the scripted agent
// never calls them but the table requires them.
type nullEmbedder struct{}

func (nullEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (nullEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (nullEmbedder) Dimensions() int { return 1 }
func (nullEmbedder) Name() string    { return "null" }

type nullSearcher struct{}

func (nullSearcher) Search(ctx context.Context, emb []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	return nil, nil
}

type nullChunks struct{}

func (nullChunks) GetChunk(ctx context.Context, documentID, chunkID string) (*types.Chunk, error) {
	return nil, fmt.Errorf("chunk %s not found", chunkID)
}
func (nullChunks) GetChunks(ctx context.Context, documentID string, chunkIDs []string) ([]types.Chunk, error) {
	return nil, nil
}
func (nullChunks) GetAdjacentChunks(ctx context.Context, documentID, chunkID string, window int) ([]types.Chunk, error) {
	return nil, nil
}
