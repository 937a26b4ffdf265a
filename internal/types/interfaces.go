package types

import (
	"context"
)

// ChunkStore provides access to a contract's segmented text.
// Every call is scoped to one document; implementations must not leak
// chunks across documents or tenants.
type ChunkStore interface {
	GetChunk(ctx context.Context, documentID, chunkID string) (*Chunk, error)
	// GetChunks returns the named chunks, or every chunk of the document
	// when chunkIDs is nil.
	GetChunks(ctx context.Context, documentID string, chunkIDs []string) ([]Chunk, error)
	// GetAdjacentChunks returns the chunks surrounding chunkID within
	// +-window positions, in document order, including the chunk itself.
	GetAdjacentChunks(ctx context.Context, documentID, chunkID string, window int) ([]Chunk, error)
}

// VectorSearcher performs similarity search over chunk embeddings.
// The tenant and document scope on every call is a hard security
// boundary, not a performance optimization.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, tenantID, documentID string, topK int) ([]VectorHit, error)
}

// FindingStore persists per-provision verdicts.
type FindingStore interface {
	// CreateFinding is an idempotent upsert keyed by
	// (documentID, analysisID, finding.ProvisionID): writing twice leaves
	// exactly one record, last write wins.
	CreateFinding(ctx context.Context, documentID, analysisID string, finding Finding) error
	GetFindings(ctx context.Context, documentID, analysisID string) ([]Finding, error)
}

// AnalysisStore persists analysis run records and the parent document's
// status field.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, analysis Analysis) error
	GetAnalysis(ctx context.Context, documentID, analysisID string) (*Analysis, error)
	UpdateAnalysis(ctx context.Context, analysis Analysis) error
	SetDocumentStatus(ctx context.Context, documentID, status string) error
}

// LLMClient is the interface verification uses to call a language model.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteWithTools sends a prompt with tool definitions and returns
	// the response together with any tool calls the model requested.
	CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []ToolDefinition) (*LLMToolResponse, error)
	// Model returns the model identifier recorded on analyses.
	Model() string
}

// ToolDefinition describes a tool the LLM agent can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// UsageMetadata captures token usage from one LLM call.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMToolResponse contains the text response and tool calls from one
// model turn.
type LLMToolResponse struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls"`
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", ...
	Usage      UsageMetadata `json:"usage"`
}
