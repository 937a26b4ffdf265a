package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// FINDING STORE
// =============================================================================

// CreateFinding upserts the verdict for one provision of one analysis.
// Keyed by (analysis_id, provision_id); writing twice leaves exactly
// one record with the later values.
func (s *Store) CreateFinding(ctx context.Context, documentID, analysisID string, f types.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkIDs, _ := json.Marshal(f.EvidenceChunkIDs)
	pages, _ := json.Marshal(f.EvidencePages)
	excerpts, _ := json.Marshal(f.EvidenceExcerpts)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (analysis_id, document_id, provision_id, priority, matched, confidence,
			evidence_chunk_ids, evidence_pages, evidence_excerpts, reasoning, recommended_action,
			screening_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(analysis_id, provision_id) DO UPDATE SET
			priority=excluded.priority, matched=excluded.matched, confidence=excluded.confidence,
			evidence_chunk_ids=excluded.evidence_chunk_ids, evidence_pages=excluded.evidence_pages,
			evidence_excerpts=excluded.evidence_excerpts, reasoning=excluded.reasoning,
			recommended_action=excluded.recommended_action, screening_result=excluded.screening_result,
			created_at=excluded.created_at`,
		analysisID, documentID, f.ProvisionID, string(f.Priority), f.Matched, f.Confidence,
		string(chunkIDs), string(pages), string(excerpts), f.Reasoning, f.RecommendedAction,
		string(f.ScreeningResult), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert finding %s: %w", f.ProvisionID, err)
	}

	logging.StoreDebug("Finding upserted: analysis=%s provision=%s matched=%v result=%s",
		analysisID, f.ProvisionID, f.Matched, f.ScreeningResult)
	return nil
}

// GetFindings returns every finding of an analysis ordered by priority
// tier then provision id.
func (s *Store) GetFindings(ctx context.Context, documentID, analysisID string) ([]types.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT provision_id, priority, matched, confidence, evidence_chunk_ids, evidence_pages,
			evidence_excerpts, reasoning, recommended_action, screening_result, created_at
		FROM findings
		WHERE document_id = ? AND analysis_id = ?
		ORDER BY CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4 END, provision_id`,
		documentID, analysisID)
	if err != nil {
		return nil, fmt.Errorf("findings query failed: %w", err)
	}
	defer rows.Close()

	var out []types.Finding
	for rows.Next() {
		var f types.Finding
		var priority, result string
		var chunkIDs, pages, excerpts, reasoning, action sql.NullString
		if err := rows.Scan(&f.ProvisionID, &priority, &f.Matched, &f.Confidence,
			&chunkIDs, &pages, &excerpts, &reasoning, &action, &result, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Priority = types.Priority(priority)
		f.ScreeningResult = types.ScreeningResult(result)
		f.Reasoning = reasoning.String
		f.RecommendedAction = action.String
		if chunkIDs.Valid {
			json.Unmarshal([]byte(chunkIDs.String), &f.EvidenceChunkIDs)
		}
		if pages.Valid {
			json.Unmarshal([]byte(pages.String), &f.EvidencePages)
		}
		if excerpts.Valid {
			json.Unmarshal([]byte(excerpts.String), &f.EvidenceExcerpts)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
