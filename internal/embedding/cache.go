package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// ErrNotReady is returned when the cache is queried before Build has
// completed. Callers must fail the analysis rather than screen with
// partial vectors.
var ErrNotReady = errors.New("provision embedding cache not built")

// ProvisionVectors holds the pre-computed embeddings for one catalog
// provision: the canonical wording plus each synonym and search query.
type ProvisionVectors struct {
	Canonical     []float32
	Synonyms      [][]float32
	SearchQueries [][]float32
}

// Cache holds embeddings for every provision in the active catalog.
// Built once at startup (and again when the catalog is swapped), then
// read-only. Safe for concurrent reads after Build returns.
type Cache struct {
	engine Engine

	mu      sync.RWMutex
	vectors map[string]ProvisionVectors
	ready   bool
}

// NewCache creates an unbuilt cache backed by engine.
func NewCache(engine Engine) *Cache {
	return &Cache{
		engine:  engine,
		vectors: make(map[string]ProvisionVectors),
	}
}

// Build embeds every provision's canonical wording, synonyms, and
// search queries in batched EmbedBatch calls of at most batchSize
// texts. Any embedding failure aborts the build and leaves the cache
// not ready. Replaces any previous contents atomically.
func (c *Cache) Build(ctx context.Context, provisions []types.Provision, batchSize int) error {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Cache.Build")
	defer timer.Stop()

	if batchSize <= 0 {
		batchSize = 100
	}

	// Flatten every text into one list, remembering where each vector
	// belongs so the batched results can be routed back.
	type slot struct {
		provisionID string
		kind        int // 0 canonical, 1 synonym, 2 search query
		index       int
	}
	var texts []string
	var slots []slot
	for _, p := range provisions {
		texts = append(texts, p.CanonicalWording)
		slots = append(slots, slot{p.ID, 0, 0})
		for i, s := range p.Synonyms {
			texts = append(texts, s)
			slots = append(slots, slot{p.ID, 1, i})
		}
		for i, q := range p.SearchQueries {
			texts = append(texts, q)
			slots = append(slots, slot{p.ID, 2, i})
		}
	}

	logging.Embedding("Building provision cache: %d provisions, %d texts, batch size %d",
		len(provisions), len(texts), batchSize)

	vectors := make([]([]float32), len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.engine.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("cache build failed at batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return fmt.Errorf("cache build: engine returned %d vectors for %d texts", len(batch), end-start)
		}
		copy(vectors[start:end], batch)
	}

	built := make(map[string]ProvisionVectors, len(provisions))
	for _, p := range provisions {
		built[p.ID] = ProvisionVectors{
			Synonyms:      make([][]float32, len(p.Synonyms)),
			SearchQueries: make([][]float32, len(p.SearchQueries)),
		}
	}
	for i, s := range slots {
		pv := built[s.provisionID]
		switch s.kind {
		case 0:
			pv.Canonical = vectors[i]
		case 1:
			pv.Synonyms[s.index] = vectors[i]
		case 2:
			pv.SearchQueries[s.index] = vectors[i]
		}
		built[s.provisionID] = pv
	}

	c.mu.Lock()
	c.vectors = built
	c.ready = true
	c.mu.Unlock()

	logging.Embedding("Provision cache ready: %d provisions", len(built))
	return nil
}

// Ready reports whether Build has completed successfully.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Get returns the vectors for a provision. Returns ErrNotReady before
// Build completes, and an error for unknown provision ids.
func (c *Cache) Get(provisionID string) (ProvisionVectors, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return ProvisionVectors{}, ErrNotReady
	}
	pv, ok := c.vectors[provisionID]
	if !ok {
		return ProvisionVectors{}, fmt.Errorf("provision %s not in embedding cache", provisionID)
	}
	return pv, nil
}

// Len returns the number of cached provisions (0 before Build).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return 0
	}
	return len(c.vectors)
}
