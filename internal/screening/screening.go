// Package screening implements the cheap pre-verification pass: vector
// similarity retrieval plus an exact keyword sweep over the whole
// contract, merged into a per-provision candidate map that bounds what
// the verification agent has to read.
package screening

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clausecheck/internal/config"
	"clausecheck/internal/embedding"
	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// vectorQueryConcurrency bounds the in-flight vector searches.
const vectorQueryConcurrency = 8

// VectorSource provides the pre-computed embeddings for catalog
// provisions. *embedding.Cache satisfies it.
type VectorSource interface {
	Get(provisionID string) (embedding.ProvisionVectors, error)
}

// Engine runs the pre-screening pass for one document.
type Engine struct {
	cfg      config.ScreeningConfig
	vectors  VectorSource
	searcher types.VectorSearcher
	chunks   types.ChunkStore
}

// New creates a screening engine.
func New(cfg config.ScreeningConfig, vectors VectorSource, searcher types.VectorSearcher, chunks types.ChunkStore) *Engine {
	return &Engine{cfg: cfg, vectors: vectors, searcher: searcher, chunks: chunks}
}

// Run screens every provision against one document and returns the
// candidate map. Individual retrieval failures reduce recall and are
// logged; a missing provision vector or an expired context is fatal.
func (e *Engine) Run(ctx context.Context, tenantID, documentID string, provisions []types.Provision) (types.CandidateMap, error) {
	timer := logging.StartTimer(logging.CategoryScreening, "Run")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, config.ParseDuration(e.cfg.Timeout, 30*time.Second))
	defer cancel()

	logging.Screening("Screening %d provisions against document %s", len(provisions), documentID)

	// Resolve every provision's vectors up front so a cold cache fails
	// the analysis before any retrieval work starts.
	vectors := make(map[string]embedding.ProvisionVectors, len(provisions))
	for _, p := range provisions {
		pv, err := e.vectors.Get(p.ID)
		if err != nil {
			return nil, fmt.Errorf("screening aborted: %w", err)
		}
		vectors[p.ID] = pv
	}

	var (
		mu         sync.Mutex
		vectorHits = make(map[string]map[string]*types.CandidateChunk) // provision -> chunk -> candidate
		degraded   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(vectorQueryConcurrency)

	search := func(provisionID string, query []float32, topK int) {
		g.Go(func() error {
			hits, err := e.searcher.Search(gctx, query, tenantID, documentID, topK)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				degraded++
				mu.Unlock()
				logging.Get(logging.CategoryScreening).Warn("Vector query failed for provision %s: %v", provisionID, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			byChunk := vectorHits[provisionID]
			if byChunk == nil {
				byChunk = make(map[string]*types.CandidateChunk)
				vectorHits[provisionID] = byChunk
			}
			for _, h := range hits {
				if h.Score < e.cfg.VectorSimilarityThreshold {
					continue
				}
				if c, ok := byChunk[h.ChunkID]; ok {
					if h.Score > c.Score {
						c.Score = h.Score
					}
					continue
				}
				byChunk[h.ChunkID] = &types.CandidateChunk{
					ChunkID:   h.ChunkID,
					PageStart: h.PageStart,
					PageEnd:   h.PageEnd,
					Score:     h.Score,
					MatchType: types.MatchVector,
				}
			}
			return nil
		})
	}

	for _, p := range provisions {
		pv := vectors[p.ID]
		search(p.ID, pv.Canonical, e.cfg.TopKPerProvision)
		for _, v := range pv.Synonyms {
			search(p.ID, v, e.cfg.TopKPerSynonym)
		}
		for _, v := range pv.SearchQueries {
			search(p.ID, v, e.cfg.TopKPerSynonym)
		}
	}

	// Keyword sweep runs alongside the vector queries.
	var (
		keywordHits map[string][]types.CandidateChunk
		keywordErr  error
	)
	g.Go(func() error {
		keywordHits, keywordErr = e.keywordSweep(gctx, documentID, provisions)
		if keywordErr != nil && gctx.Err() != nil {
			return gctx.Err()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("screening timed out: %w", err)
	}
	if keywordErr != nil {
		// Recall degrades to vector-only.
		degraded++
		logging.Get(logging.CategoryScreening).Warn("Keyword sweep failed: %v", keywordErr)
	}
	if degraded > 0 {
		logging.Screening("Screening degraded: %d retrieval failures", degraded)
	}

	result := e.merge(provisions, vectorHits, keywordHits)
	if err := e.hydrate(ctx, documentID, result); err != nil {
		logging.Get(logging.CategoryScreening).Warn("Candidate text hydration incomplete: %v", err)
	}

	total := 0
	for _, cands := range result {
		total += len(cands)
	}
	logging.Screening("Screening complete: %d candidates across %d provisions", total, len(provisions))
	return result, nil
}

// keywordSweep scans every chunk of the document for each provision's
// exact patterns. Case-insensitive substring match.
func (e *Engine) keywordSweep(ctx context.Context, documentID string, provisions []types.Provision) (map[string][]types.CandidateChunk, error) {
	chunks, err := e.chunks.GetChunks(ctx, documentID, nil)
	if err != nil {
		return nil, fmt.Errorf("keyword sweep could not load chunks: %w", err)
	}

	hits := make(map[string][]types.CandidateChunk)
	for _, p := range provisions {
		patterns := p.KeywordPatterns()
		if len(patterns) == 0 {
			continue
		}
		for _, c := range chunks {
			lower := strings.ToLower(c.Text)
			var matched []string
			for _, pat := range patterns {
				if strings.Contains(lower, pat) {
					matched = append(matched, pat)
				}
			}
			if len(matched) == 0 {
				continue
			}
			score := e.cfg.KeywordBaseScore + e.cfg.KeywordPatternBonus*float64(len(matched))
			if score > 1.0 {
				score = 1.0
			}
			hits[p.ID] = append(hits[p.ID], types.CandidateChunk{
				ChunkID:         c.ID,
				PageStart:       c.PageStart,
				PageEnd:         c.PageEnd,
				Score:           score,
				MatchType:       types.MatchKeyword,
				MatchedKeywords: matched,
				Text:            c.Text,
			})
		}
	}
	return hits, nil
}

// merge combines vector and keyword candidates per provision. A chunk
// found by both signals takes the higher of the two scores plus the
// both-match boost, capped at 1.0, and keeps the keyword evidence.
func (e *Engine) merge(provisions []types.Provision, vectorHits map[string]map[string]*types.CandidateChunk, keywordHits map[string][]types.CandidateChunk) types.CandidateMap {
	out := make(types.CandidateMap, len(provisions))
	for _, p := range provisions {
		byChunk := make(map[string]*types.CandidateChunk)
		for id, c := range vectorHits[p.ID] {
			cp := *c
			byChunk[id] = &cp
		}
		for _, kc := range keywordHits[p.ID] {
			if vc, ok := byChunk[kc.ChunkID]; ok {
				score := vc.Score
				if kc.Score > score {
					score = kc.Score
				}
				score += e.cfg.BothMatchBoost
				if score > 1.0 {
					score = 1.0
				}
				vc.Score = score
				vc.MatchType = types.MatchBoth
				vc.MatchedKeywords = kc.MatchedKeywords
				vc.Text = kc.Text
				continue
			}
			cp := kc
			byChunk[kc.ChunkID] = &cp
		}

		cands := make([]types.CandidateChunk, 0, len(byChunk))
		for _, c := range byChunk {
			cands = append(cands, *c)
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Score != cands[j].Score {
				return cands[i].Score > cands[j].Score
			}
			return cands[i].ChunkID < cands[j].ChunkID
		})
		if len(cands) > e.cfg.TopKPerProvision {
			cands = cands[:e.cfg.TopKPerProvision]
		}
		out[p.ID] = cands
	}
	return out
}

// hydrate backfills chunk text for vector-only candidates in one
// batched read per document.
func (e *Engine) hydrate(ctx context.Context, documentID string, m types.CandidateMap) error {
	need := make(map[string]bool)
	for _, cands := range m {
		for _, c := range cands {
			if c.Text == "" {
				need[c.ChunkID] = true
			}
		}
	}
	if len(need) == 0 {
		return nil
	}

	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	chunks, err := e.chunks.GetChunks(ctx, documentID, ids)
	if err != nil {
		return err
	}
	text := make(map[string]string, len(chunks))
	for _, c := range chunks {
		text[c.ID] = c.Text
	}
	for pid, cands := range m {
		for i := range cands {
			if cands[i].Text == "" {
				cands[i].Text = text[cands[i].ChunkID]
			}
		}
		m[pid] = cands
	}
	return nil
}
