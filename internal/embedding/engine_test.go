package embedding

import (
	"math"
	"testing"

	"clausecheck/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tc := range cases {
		got, err := CosineSimilarity(tc.a, tc.b)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("%s: similarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCosineSimilarityLengthMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("mismatched lengths should error")
	}
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(config.EmbeddingConfig{Provider: "magic"})
	if err == nil {
		t.Fatal("unknown provider should error")
	}
}

func TestNewEngineRequiresAPIKeys(t *testing.T) {
	if _, err := NewEngine(config.EmbeddingConfig{Provider: "genai"}); err == nil {
		t.Error("genai without key should error")
	}
	if _, err := NewEngine(config.EmbeddingConfig{Provider: "cohere"}); err == nil {
		t.Error("cohere without key should error")
	}
}

func TestOllamaEngineDefaults(t *testing.T) {
	e, err := NewOllamaEngine("", "")
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}
	if e.endpoint != "http://localhost:11434" {
		t.Errorf("endpoint = %s, want localhost default", e.endpoint)
	}
	if e.Dimensions() != 768 {
		t.Errorf("dimensions = %d, want 768", e.Dimensions())
	}
	if e.Name() != "ollama:embeddinggemma" {
		t.Errorf("name = %s", e.Name())
	}
}
