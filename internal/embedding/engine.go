// Package embedding provides vector embedding generation for contract
// retrieval. Supports multiple backends: Google GenAI (cloud), Cohere
// (cloud), and Ollama (local).
package embedding

import (
	"context"
	"fmt"
	"math"

	"clausecheck/internal/config"
	"clausecheck/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "genai":
		return NewGenAIEngine(cfg.APIKey, cfg.Model)
	case "cohere":
		return NewCohereEngine(cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'genai', 'cohere' or 'ollama')", cfg.Provider)
	}
}

// =============================================================================
// COSINE SIMILARITY UTILITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		aMag += float64(a[i] * a[i])
		bMag += float64(b[i] * b[i])
	}

	if aMag == 0 || bMag == 0 {
		logging.Get(logging.CategoryEmbedding).Warn("CosineSimilarity: zero magnitude vector detected")
		return 0, nil
	}

	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
