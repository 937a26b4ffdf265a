package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// ANALYSIS STORE
// =============================================================================

// CreateAnalysis inserts a new analysis run record.
func (s *Store) CreateAnalysis(ctx context.Context, a types.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, _ := json.Marshal(a.Summary)
	errJSON, err := marshalAnalysisError(a.Error)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, tenant_id, document_id, model, status, summary, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.DocumentID, a.Model, string(a.Status),
		string(summary), errJSON, a.StartedAt, nullTime(a.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis %s: %w", a.ID, err)
	}

	logging.Store("Analysis created: id=%s document=%s status=%s", a.ID, a.DocumentID, a.Status)
	return nil
}

// GetAnalysis returns one analysis of a document, or nil when unknown.
func (s *Store) GetAnalysis(ctx context.Context, documentID, analysisID string) (*types.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, document_id, model, status, summary, error, started_at, completed_at
		FROM analyses WHERE document_id = ? AND id = ?`,
		documentID, analysisID)

	var a types.Analysis
	var status string
	var summary, errJSON sql.NullString
	var completed sql.NullTime
	err := row.Scan(&a.ID, &a.TenantID, &a.DocumentID, &a.Model, &status, &summary, &errJSON, &a.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis %s: %w", analysisID, err)
	}

	a.Status = types.AnalysisStatus(status)
	if summary.Valid && summary.String != "" {
		json.Unmarshal([]byte(summary.String), &a.Summary)
	}
	if errJSON.Valid && errJSON.String != "" {
		var ae types.AnalysisError
		if json.Unmarshal([]byte(errJSON.String), &ae) == nil {
			a.Error = &ae
		}
	}
	if completed.Valid {
		a.CompletedAt = completed.Time
	}
	return &a, nil
}

// UpdateAnalysis overwrites the mutable fields of an analysis record.
func (s *Store) UpdateAnalysis(ctx context.Context, a types.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, _ := json.Marshal(a.Summary)
	errJSON, err := marshalAnalysisError(a.Error)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE analyses SET status = ?, summary = ?, error = ?, completed_at = ?, model = ?
		WHERE id = ?`,
		string(a.Status), string(summary), errJSON, nullTime(a.CompletedAt), a.Model, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update analysis %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analysis %s not found", a.ID)
	}

	logging.Store("Analysis updated: id=%s status=%s", a.ID, a.Status)
	return nil
}

// SetDocumentStatus upserts the parent document's status field.
func (s *Store) SetDocumentStatus(ctx context.Context, documentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, status, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=CURRENT_TIMESTAMP`,
		documentID, status)
	if err != nil {
		return fmt.Errorf("failed to set document %s status: %w", documentID, err)
	}
	return nil
}

// GetDocumentStatus returns the document's status, empty when unknown.
func (s *Store) GetDocumentStatus(ctx context.Context, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", documentID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document %s status: %w", documentID, err)
	}
	return status, nil
}

func marshalAnalysisError(ae *types.AnalysisError) (interface{}, error) {
	if ae == nil {
		return nil, nil
	}
	b, err := json.Marshal(ae)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis error: %w", err)
	}
	return string(b), nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
