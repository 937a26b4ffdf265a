package screening

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clausecheck/internal/embedding"
	"clausecheck/internal/types"
)

// fakeVectorSource hands out scripted provision vectors. Each vector is
// a one-element tag the fake searcher keys on.
type fakeVectorSource struct {
	vectors map[string]embedding.ProvisionVectors
}

func (f *fakeVectorSource) Get(provisionID string) (embedding.ProvisionVectors, error) {
	pv, ok := f.vectors[provisionID]
	if !ok {
		return embedding.ProvisionVectors{}, embedding.ErrNotReady
	}
	return pv, nil
}

func tag(v float32) []float32 { return []float32{v} }

// fakeSearcher returns scripted hits per query tag and records the
// scope of every call.
type fakeSearcher struct {
	mu      sync.Mutex
	hits    map[float32][]types.VectorHit
	failTag float32 // queries with this tag fail
	calls   []searchCall
}

type searchCall struct {
	tag                  float32
	tenantID, documentID string
	topK                 int
}

func (f *fakeSearcher) Search(ctx context.Context, emb []float32, tenantID, documentID string, topK int) ([]types.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{emb[0], tenantID, documentID, topK})
	f.mu.Unlock()
	if f.failTag != 0 && emb[0] == f.failTag {
		return nil, errors.New("index unavailable")
	}
	hits := f.hits[emb[0]]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// fakeChunkStore is an in-memory document.
type fakeChunkStore struct {
	chunks  []types.Chunk
	failAll bool
}

func (f *fakeChunkStore) GetChunk(ctx context.Context, documentID, chunkID string) (*types.Chunk, error) {
	for i := range f.chunks {
		if f.chunks[i].ID == chunkID {
			return &f.chunks[i], nil
		}
	}
	return nil, fmt.Errorf("chunk %s not found", chunkID)
}

func (f *fakeChunkStore) GetChunks(ctx context.Context, documentID string, chunkIDs []string) ([]types.Chunk, error) {
	if f.failAll {
		return nil, errors.New("store offline")
	}
	if chunkIDs == nil {
		return f.chunks, nil
	}
	want := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	var out []types.Chunk
	for _, c := range f.chunks {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) GetAdjacentChunks(ctx context.Context, documentID, chunkID string, window int) ([]types.Chunk, error) {
	return f.GetChunks(ctx, documentID, nil)
}
