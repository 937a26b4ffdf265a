package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// =============================================================================
// COHERE EMBEDDING ENGINE
// =============================================================================

// CohereEngine generates embeddings using the Cohere Embed API (v2).
// Docs: https://docs.cohere.com/reference/embed
type CohereEngine struct {
	client *cohereclient.Client
	model  string
}

// NewCohereEngine creates a new Cohere embedding engine.
func NewCohereEngine(apiKey, model string) (*CohereEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Cohere API key is required")
	}
	if model == "" {
		model = "embed-english-v3.0"
	}

	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)

	return &CohereEngine{
		client: client,
		model:  model,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *CohereEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *CohereEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          e.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, fmt.Errorf("cohere embed failed: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, fmt.Errorf("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(floats), len(texts))
	}

	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
// embed-english-v3.0 produces 1024-dimensional vectors.
func (e *CohereEngine) Dimensions() int {
	return 1024
}

// Name returns the engine name.
func (e *CohereEngine) Name() string {
	return fmt.Sprintf("cohere:%s", e.model)
}
