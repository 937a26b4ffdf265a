package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// VECTOR SEARCH
// =============================================================================

// previewLen bounds the text preview attached to vector hits.
const previewLen = 200

// Search returns the topK most similar chunks of one document, scored
// by cosine similarity. The tenant and document filter applies inside
// the query, never after it.
func (s *Store) Search(ctx context.Context, embedding []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	if topK <= 0 {
		topK = 10
	}
	if tenantID == "" || documentID == "" {
		return nil, fmt.Errorf("search requires tenant and document scope")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		hits, err := s.searchVec(ctx, embedding, tenantID, documentID, topK)
		if err == nil {
			return hits, nil
		}
		logging.Get(logging.CategoryStore).Warn("vec0 search failed, falling back to brute force: %v", err)
	}
	return s.searchBruteForce(ctx, embedding, tenantID, documentID, topK)
}

// searchVec queries the vec0 index. The KNN scan cannot carry the
// tenant filter, so it over-fetches and filters on the join; a short
// result set falls through to brute force via the caller.
func (s *Store) searchVec(ctx context.Context, embedding []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	blob := serializeVector(embedding)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ce.chunk_id, v.distance
		FROM (SELECT rowid, distance FROM vec_chunks WHERE embedding MATCH ? AND k = ?) AS v
		JOIN chunk_embeddings ce ON ce.rowid = v.rowid
		WHERE ce.tenant_id = ? AND ce.document_id = ?
		ORDER BY v.distance
		LIMIT ?`,
		blob, topK*8, tenantID, documentID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []types.VectorHit
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, types.VectorHit{ChunkID: chunkID, Score: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.annotateHits(ctx, documentID, hits)
}

// searchBruteForce scans every embedding of the document and ranks by
// cosine similarity. A single contract has at most a few hundred
// chunks, so the scan stays cheap.
func (s *Store) searchBruteForce(ctx context.Context, embedding []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, embedding FROM chunk_embeddings
		WHERE tenant_id = ? AND document_id = ?`,
		tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}
	defer rows.Close()

	var hits []types.VectorHit
	for rows.Next() {
		var chunkID string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, err
		}
		vec, err := deserializeVector(blob)
		if err != nil {
			logging.StoreDebug("Skipping chunk %s: bad embedding blob: %v", chunkID, err)
			continue
		}
		score, err := cosineSimilarity(embedding, vec)
		if err != nil {
			continue
		}
		hits = append(hits, types.VectorHit{ChunkID: chunkID, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return s.annotateHits(ctx, documentID, hits)
}

// annotateHits fills page ranges and text previews from the chunks
// table.
func (s *Store) annotateHits(ctx context.Context, documentID string, hits []types.VectorHit) ([]types.VectorHit, error) {
	for i := range hits {
		var pageStart, pageEnd int
		var text string
		err := s.db.QueryRowContext(ctx,
			"SELECT page_start, page_end, text FROM chunks WHERE document_id = ? AND id = ?",
			documentID, hits[i].ChunkID,
		).Scan(&pageStart, &pageEnd, &text)
		if err != nil {
			continue
		}
		hits[i].PageStart = pageStart
		hits[i].PageEnd = pageEnd
		if len(text) > previewLen {
			text = text[:previewLen]
		}
		hits[i].TextPreview = text
	}
	return hits, nil
}

// =============================================================================
// EMBEDDING SERIALIZATION
// =============================================================================

// serializeVector encodes a float32 vector as a little-endian blob,
// the format sqlite-vec expects.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector decodes a little-endian float32 blob.
func deserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
