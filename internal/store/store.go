// Package store implements SQLite-backed persistence for contract
// chunks, their embeddings, findings, and analysis runs. A single
// write connection with WAL mode; vector search uses the sqlite-vec
// extension when the binary is built with it and falls back to a
// brute-force cosine scan otherwise.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"clausecheck/internal/logging"
)

// Store is the SQLite persistence layer. It implements
// types.ChunkStore, types.VectorSearcher, types.FindingStore, and
// types.AnalysisStore.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	dims      int  // embedding dimensionality for the vec index
	vectorExt bool // sqlite-vec available
}

// New opens (or creates) the database at path. dims is the
// dimensionality of chunk embeddings; the vec0 index is declared with
// it when sqlite-vec is compiled in.
func New(path string, dims int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("Opening store at %s (dims=%d)", path, dims)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, dims: dims}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, using vec0 chunk index")
		if err := s.initVecIndex(); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec0 index init failed, falling back to brute-force search: %v", err)
			s.vectorExt = false
		}
	} else {
		logging.Store("sqlite-vec not available, using brute-force cosine search")
	}

	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		page_start INTEGER NOT NULL,
		page_end INTEGER NOT NULL,
		section_path TEXT,
		text TEXT NOT NULL,
		content_hash TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant_id, document_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(tenant_id, document_id, seq);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(content_hash);

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		embedding BLOB NOT NULL,
		UNIQUE(tenant_id, document_id, chunk_id)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_doc ON chunk_embeddings(tenant_id, document_id);

	CREATE TABLE IF NOT EXISTS findings (
		analysis_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		provision_id TEXT NOT NULL,
		priority TEXT NOT NULL,
		matched INTEGER NOT NULL,
		confidence REAL NOT NULL,
		evidence_chunk_ids TEXT,
		evidence_pages TEXT,
		evidence_excerpts TEXT,
		reasoning TEXT,
		recommended_action TEXT,
		screening_result TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(analysis_id, provision_id)
	);
	CREATE INDEX IF NOT EXISTS idx_findings_analysis ON findings(document_id, analysis_id);

	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		model TEXT,
		status TEXT NOT NULL,
		summary TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_doc ON analyses(document_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for sqlite-vec.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version %s", version)
	}
}

// initVecIndex creates the vec0 virtual table for chunk embeddings.
func (s *Store) initVecIndex() error {
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding float[%d])", s.dims))
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	logging.Store("Closing store at %s", s.dbPath)
	return s.db.Close()
}
