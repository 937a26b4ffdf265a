package store

import (
	"context"
	"database/sql"
	"fmt"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// CHUNK STORE
// =============================================================================

// IngestChunks bulk-inserts a document's chunks with their embeddings.
// Chunks are stored in slice order; that order defines adjacency for
// GetAdjacentChunks. Re-ingesting a chunk id replaces it.
func (s *Store) IngestChunks(ctx context.Context, chunks []types.Chunk, embeddings [][]float32) error {
	timer := logging.StartTimer(logging.CategoryStore, "IngestChunks")
	defer timer.Stop()

	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, tenant_id, document_id, seq, page_start, page_end, section_path, text, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, document_id, id) DO UPDATE SET
				seq=excluded.seq, page_start=excluded.page_start, page_end=excluded.page_end,
				section_path=excluded.section_path, text=excluded.text, content_hash=excluded.content_hash`,
			c.ID, c.TenantID, c.DocumentID, i, c.PageStart, c.PageEnd, c.SectionPath, c.Text, c.ContentHash,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}

		blob := serializeVector(embeddings[i])
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, tenant_id, document_id, embedding)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id, document_id, chunk_id) DO UPDATE SET embedding=excluded.embedding`,
			c.ID, c.TenantID, c.DocumentID, blob,
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding for chunk %s: %w", c.ID, err)
		}

		if s.vectorExt {
			rowid, err := res.LastInsertId()
			if err == nil && rowid > 0 {
				if _, err := tx.ExecContext(ctx,
					"INSERT OR REPLACE INTO vec_chunks (rowid, embedding) VALUES (?, ?)",
					rowid, blob,
				); err != nil {
					return fmt.Errorf("failed to index embedding for chunk %s: %w", c.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest: %w", err)
	}

	logging.Store("Ingested %d chunks for document %s", len(chunks), documentOf(chunks))
	return nil
}

func documentOf(chunks []types.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	return chunks[0].DocumentID
}

// GetChunk returns one chunk of a document.
func (s *Store) GetChunk(ctx context.Context, documentID, chunkID string) (*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, document_id, page_start, page_end, section_path, text, content_hash
		FROM chunks WHERE document_id = ? AND id = ?`, documentID, chunkID)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s not found in document %s", chunkID, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", chunkID, err)
	}
	return c, nil
}

// GetChunks returns the named chunks of a document, or every chunk in
// document order when chunkIDs is nil.
func (s *Store) GetChunks(ctx context.Context, documentID string, chunkIDs []string) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chunkIDs == nil {
		return s.queryChunks(ctx, `
			SELECT id, tenant_id, document_id, page_start, page_end, section_path, text, content_hash
			FROM chunks WHERE document_id = ? ORDER BY seq`, documentID)
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, tenant_id, document_id, page_start, page_end, section_path, text, content_hash
		FROM chunks WHERE document_id = ? AND id IN (?` // first placeholder
	args := []interface{}{documentID, chunkIDs[0]}
	for _, id := range chunkIDs[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ") ORDER BY seq"

	return s.queryChunks(ctx, query, args...)
}

// GetAdjacentChunks returns the chunks within +-window positions of
// chunkID, in document order, including the chunk itself.
func (s *Store) GetAdjacentChunks(ctx context.Context, documentID, chunkID string, window int) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if window < 0 {
		window = 0
	}

	var seq int
	err := s.db.QueryRowContext(ctx,
		"SELECT seq FROM chunks WHERE document_id = ? AND id = ?", documentID, chunkID,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s not found in document %s", chunkID, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to locate chunk %s: %w", chunkID, err)
	}

	return s.queryChunks(ctx, `
		SELECT id, tenant_id, document_id, page_start, page_end, section_path, text, content_hash
		FROM chunks WHERE document_id = ? AND seq BETWEEN ? AND ? ORDER BY seq`,
		documentID, seq-window, seq+window)
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...interface{}) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk query failed: %w", err)
	}
	defer rows.Close()

	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var c types.Chunk
	var section, hash sql.NullString
	if err := row.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.PageStart, &c.PageEnd, &section, &c.Text, &hash); err != nil {
		return nil, err
	}
	c.SectionPath = section.String
	c.ContentHash = hash.String
	return &c, nil
}

// FindDuplicateDocument reports an earlier document of the same tenant
// sharing every chunk content hash with documentID, if one exists.
// Used during ingestion to flag re-uploaded contracts.
func (s *Store) FindDuplicateDocument(ctx context.Context, tenantID, documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT other.document_id FROM chunks AS mine
		JOIN chunks AS other
			ON other.tenant_id = mine.tenant_id
			AND other.content_hash = mine.content_hash
			AND other.document_id != mine.document_id
		WHERE mine.tenant_id = ? AND mine.document_id = ?
		GROUP BY other.document_id
		HAVING COUNT(*) = (SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND document_id = ?)
		LIMIT 1`,
		tenantID, documentID, tenantID, documentID)

	var dup string
	err := row.Scan(&dup)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("duplicate document query failed: %w", err)
	}
	return dup, true, nil
}
