package llm

import (
	"fmt"

	"clausecheck/internal/config"
	"clausecheck/internal/types"
)

// NewClient creates an LLM client from configuration.
func NewClient(cfg config.LLMConfig) (types.LLMClient, error) {
	switch cfg.Provider {
	case "gemini", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
		}
		return NewGeminiClient(GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: config.ParseDuration(cfg.Timeout, 0),
		}), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'gemini' or 'mock')", cfg.Provider)
	}
}
