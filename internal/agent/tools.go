package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clausecheck/internal/embedding"
	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// VERIFICATION TOOL TABLE
// =============================================================================

// ToolScope binds a tool table to one analysis batch: the document
// under review and the provisions the agent may record verdicts for.
type ToolScope struct {
	TenantID   string
	DocumentID string
	AnalysisID string
	Provisions map[string]types.Provision // keyed by provision id
}

// ToolDeps are the collaborators the verification tools call into.
type ToolDeps struct {
	Embedder embedding.Engine
	Searcher types.VectorSearcher
	Chunks   types.ChunkStore
	Findings types.FindingStore
	TopK     int
}

// VerificationTools builds the tool table one batch agent works with.
// The record tools write directly to the finding store; recording is
// idempotent, so a retried batch cannot duplicate verdicts.
func VerificationTools(scope ToolScope, deps ToolDeps) []Tool {
	return []Tool{
		searchDocumentTool(scope, deps),
		getChunkTool(scope, deps),
		getAdjacentChunksTool(scope, deps),
		recordFindingTool(scope, deps),
		recordFindingsTool(scope, deps),
	}
}

func searchDocumentTool(scope ToolScope, deps ToolDeps) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "search_document",
			Description: "Semantic search over this contract. Returns the most similar chunks with ids, pages, and previews.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural language search query"},
				},
				"required": []string{"query"},
			},
		},
		Run: func(ctx context.Context, input map[string]interface{}) (string, error) {
			query, _ := input["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			vec, err := deps.Embedder.Embed(ctx, query)
			if err != nil {
				return "", fmt.Errorf("failed to embed query: %w", err)
			}
			topK := deps.TopK
			if topK <= 0 {
				topK = 5
			}
			hits, err := deps.Searcher.Search(ctx, vec, scope.TenantID, scope.DocumentID, topK)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "No similar chunks found.", nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "chunk %s (pages %d-%d, similarity %.2f): %s\n",
					h.ChunkID, h.PageStart, h.PageEnd, h.Score, h.TextPreview)
			}
			return b.String(), nil
		},
	}
}

func getChunkTool(scope ToolScope, deps ToolDeps) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_chunk",
			Description: "Fetch the full text of one chunk by id.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"chunk_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"chunk_id"},
			},
		},
		Run: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["chunk_id"].(string)
			if id == "" {
				return "", fmt.Errorf("chunk_id is required")
			}
			c, err := deps.Chunks.GetChunk(ctx, scope.DocumentID, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("chunk %s (pages %d-%d):\n%s", c.ID, c.PageStart, c.PageEnd, c.Text), nil
		},
	}
}

func getAdjacentChunksTool(scope ToolScope, deps ToolDeps) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "get_adjacent_chunks",
			Description: "Fetch the chunks surrounding a chunk, for clauses that span chunk boundaries.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"chunk_id": map[string]interface{}{"type": "string"},
					"window":   map[string]interface{}{"type": "integer", "description": "Chunks on each side, default 1"},
				},
				"required": []string{"chunk_id"},
			},
		},
		Run: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["chunk_id"].(string)
			if id == "" {
				return "", fmt.Errorf("chunk_id is required")
			}
			window := 1
			if w, ok := input["window"].(float64); ok && w > 0 {
				window = int(w)
			}
			chunks, err := deps.Chunks.GetAdjacentChunks(ctx, scope.DocumentID, id, window)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for _, c := range chunks {
				fmt.Fprintf(&b, "chunk %s (pages %d-%d):\n%s\n\n", c.ID, c.PageStart, c.PageEnd, c.Text)
			}
			return b.String(), nil
		},
	}
}

func recordFindingTool(scope ToolScope, deps ToolDeps) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "record_finding",
			Description: "Record the final verdict for one provision. Call exactly once per provision in your batch.",
			InputSchema: findingSchema(),
		},
		Run: func(ctx context.Context, input map[string]interface{}) (string, error) {
			if err := recordOne(ctx, scope, deps, input); err != nil {
				return "", err
			}
			return "Finding recorded.", nil
		},
	}
}

func recordFindingsTool(scope ToolScope, deps ToolDeps) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        "record_findings",
			Description: "Record final verdicts for several provisions at once.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"findings": map[string]interface{}{
						"type":  "array",
						"items": findingSchema(),
					},
				},
				"required": []string{"findings"},
			},
		},
		Run: func(ctx context.Context, input map[string]interface{}) (string, error) {
			raw, ok := input["findings"].([]interface{})
			if !ok {
				return "", fmt.Errorf("findings must be an array")
			}
			recorded := 0
			var errs []string
			for _, item := range raw {
				one, ok := item.(map[string]interface{})
				if !ok {
					errs = append(errs, "non-object entry skipped")
					continue
				}
				if err := recordOne(ctx, scope, deps, one); err != nil {
					errs = append(errs, err.Error())
					continue
				}
				recorded++
			}
			msg := fmt.Sprintf("%d findings recorded.", recorded)
			if len(errs) > 0 {
				msg += " Errors: " + strings.Join(errs, "; ")
			}
			return msg, nil
		},
	}
}

func findingSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"provision_id":       map[string]interface{}{"type": "string"},
			"matched":            map[string]interface{}{"type": "boolean"},
			"confidence":         map[string]interface{}{"type": "number", "description": "0.0 to 1.0 per the rubric"},
			"evidence_chunk_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"evidence_pages":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "integer"}},
			"evidence_excerpts":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"reasoning":          map[string]interface{}{"type": "string"},
			"recommended_action": map[string]interface{}{"type": "string"},
		},
		"required": []string{"provision_id", "matched", "confidence"},
	}
}

// recordOne validates and persists one verdict. Provisions outside the
// batch are rejected so a confused agent cannot overwrite sibling
// batches' findings.
func recordOne(ctx context.Context, scope ToolScope, deps ToolDeps, input map[string]interface{}) error {
	provisionID, _ := input["provision_id"].(string)
	prov, ok := scope.Provisions[provisionID]
	if !ok {
		return fmt.Errorf("provision %q is not in this batch", provisionID)
	}
	matched, _ := input["matched"].(bool)
	confidence, _ := input["confidence"].(float64)
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", confidence)
	}

	result := types.ScreeningAnalyzedNotFound
	if matched {
		result = types.ScreeningAnalyzedFound
	}

	f := types.Finding{
		ProvisionID:       provisionID,
		Priority:          prov.Priority,
		Matched:           matched,
		Confidence:        confidence,
		EvidenceChunkIDs:  stringSlice(input["evidence_chunk_ids"]),
		EvidencePages:     intSlice(input["evidence_pages"]),
		EvidenceExcerpts:  stringSlice(input["evidence_excerpts"]),
		Reasoning:         stringField(input["reasoning"]),
		RecommendedAction: stringField(input["recommended_action"]),
		ScreeningResult:   result,
		CreatedAt:         time.Now().UTC(),
	}
	if f.RecommendedAction == "" && !matched {
		f.RecommendedAction = prov.SuggestedAction
	}

	if err := deps.Findings.CreateFinding(ctx, scope.DocumentID, scope.AnalysisID, f); err != nil {
		return fmt.Errorf("failed to persist finding for %s: %w", provisionID, err)
	}
	logging.VerificationDebug("Recorded finding: provision=%s matched=%v confidence=%.2f", provisionID, matched, confidence)
	return nil
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intSlice(v interface{}) []int {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out = append(out, int(i))
			}
		}
	}
	return out
}
