// Package config loads clausecheck configuration from a YAML file with
// environment overrides. Every tuned constant of the analysis pipeline
// (similarity thresholds, score bonuses, batch sizes, step budgets,
// timeouts) lives here rather than in code.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all clausecheck configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Screening    ScreeningConfig    `yaml:"screening"`
	Verification VerificationConfig `yaml:"verification"`
	Storage      StorageConfig      `yaml:"storage"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LLMConfig configures the verification agent's language model.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider used by the
// provision cache and chunk ingestion.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama, cohere
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	BatchSize      int    `yaml:"batch_size"` // texts per embedBatch call
}

// ScreeningConfig holds the pre-screening retrieval knobs. The score
// constants are tuned values, deliberately configuration rather than
// code (their derivation is undocumented upstream).
type ScreeningConfig struct {
	TopKPerProvision          int     `yaml:"top_k_per_provision"`
	TopKPerSynonym            int     `yaml:"top_k_per_synonym"`
	VectorSimilarityThreshold float64 `yaml:"vector_similarity_threshold"`
	KeywordBaseScore          float64 `yaml:"keyword_base_score"`
	KeywordPatternBonus       float64 `yaml:"keyword_pattern_bonus"`
	BothMatchBoost            float64 `yaml:"both_match_boost"`
	MinCandidates             int     `yaml:"min_candidates"`
	Timeout                   string  `yaml:"timeout"`
}

// VerificationConfig bounds the agent verification pass.
type VerificationConfig struct {
	MaxProvisionsPerBatch int    `yaml:"max_provisions_per_batch"`
	MaxConcurrentBatches  int    `yaml:"max_concurrent_batches"`
	StepsCritical         int    `yaml:"steps_critical"`
	StepsHigh             int    `yaml:"steps_high"`
	StepsMedium           int    `yaml:"steps_medium"`
	StepsLow              int    `yaml:"steps_low"`
	StepsDefault          int    `yaml:"steps_default"`
	ExcerptMaxChars       int    `yaml:"excerpt_max_chars"`
	BatchTimeout          string `yaml:"batch_timeout"`
	AnalysisTimeout       string `yaml:"analysis_timeout"`

	// Risk weights applied to not-matched findings, summed, capped at 100.
	RiskWeightCritical int `yaml:"risk_weight_critical"`
	RiskWeightHigh     int `yaml:"risk_weight_high"`
	RiskWeightMedium   int `yaml:"risk_weight_medium"`
	RiskWeightLow      int `yaml:"risk_weight_low"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// CatalogConfig locates the provision catalog.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload between analyses on file change
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:    "clausecheck",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "10m",
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			BatchSize:      100,
		},
		Screening: ScreeningConfig{
			TopKPerProvision:          5,
			TopKPerSynonym:            3,
			VectorSimilarityThreshold: 0.65,
			KeywordBaseScore:          0.70,
			KeywordPatternBonus:       0.05,
			BothMatchBoost:            0.10,
			MinCandidates:             1,
			Timeout:                   "30s",
		},
		Verification: VerificationConfig{
			MaxProvisionsPerBatch: 15,
			MaxConcurrentBatches:  3,
			StepsCritical:         60,
			StepsHigh:             30,
			StepsMedium:           30,
			StepsLow:              20,
			StepsDefault:          40,
			ExcerptMaxChars:       2000,
			BatchTimeout:          "120s",
			AnalysisTimeout:       "5m",
			RiskWeightCritical:    30,
			RiskWeightHigh:        15,
			RiskWeightMedium:      7,
			RiskWeightLow:         3,
		},
		Storage: StorageConfig{
			DatabasePath: "clausecheck.db",
		},
		Catalog: CatalogConfig{
			Path: "catalog.yaml",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   ".",
		},
	}
}

// Load reads configuration from path, applying defaults for anything
// unset and environment overrides on top. A missing file is not an
// error; defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("COHERE_API_KEY"); key != "" && c.Embedding.Provider == "cohere" {
		c.Embedding.APIKey = key
	}
	if path := os.Getenv("CLAUSECHECK_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("CLAUSECHECK_CATALOG"); path != "" {
		c.Catalog.Path = path
	}
	if addr := os.Getenv("CLAUSECHECK_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if os.Getenv("CLAUSECHECK_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Screening.TopKPerProvision <= 0 {
		return fmt.Errorf("screening.top_k_per_provision must be positive")
	}
	if c.Screening.TopKPerSynonym <= 0 {
		return fmt.Errorf("screening.top_k_per_synonym must be positive")
	}
	if c.Screening.VectorSimilarityThreshold < 0 || c.Screening.VectorSimilarityThreshold > 1 {
		return fmt.Errorf("screening.vector_similarity_threshold must be in [0,1]")
	}
	if c.Verification.MaxProvisionsPerBatch <= 0 {
		return fmt.Errorf("verification.max_provisions_per_batch must be positive")
	}
	if c.Verification.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("verification.max_concurrent_batches must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	for name, v := range map[string]string{
		"llm.timeout":                   c.LLM.Timeout,
		"screening.timeout":             c.Screening.Timeout,
		"verification.batch_timeout":    c.Verification.BatchTimeout,
		"verification.analysis_timeout": c.Verification.AnalysisTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	return nil
}

// ParseDuration parses s, falling back to fallback on empty or invalid
// values. Used where a half-configured file should not take the process
// down.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ScreeningTimeout returns the pre-screening wall-clock budget.
func (c *Config) ScreeningTimeout() time.Duration {
	return ParseDuration(c.Screening.Timeout, 30*time.Second)
}

// BatchTimeout returns the per-batch wall-clock budget.
func (c *Config) BatchTimeout() time.Duration {
	return ParseDuration(c.Verification.BatchTimeout, 120*time.Second)
}

// AnalysisTimeout returns the total-analysis budget.
func (c *Config) AnalysisTimeout() time.Duration {
	return ParseDuration(c.Verification.AnalysisTimeout, 5*time.Minute)
}

// LLMTimeout returns the provider HTTP timeout.
func (c *Config) LLMTimeout() time.Duration {
	return ParseDuration(c.LLM.Timeout, 10*time.Minute)
}
