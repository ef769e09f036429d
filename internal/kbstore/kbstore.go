// Package kbstore owns the knowledge-base chunk database: chunk rows with
// canonical legal metadata, their embeddings, the ingestion processing log,
// extracted term facets, and session bindings.
//
// The driver is mattn/go-sqlite3. When built with -tags "sqlite_vec cgo" the
// sqlite-vec extension provides ANN search over a vec0 virtual table; without
// it the store degrades to brute-force cosine ranking over stored embeddings.
package kbstore

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"qanoon/internal/logging"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the KB chunk store handle. Safe for concurrent use.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	path      string
	vectorExt bool
	dim       int
}

// Open opens (creating if necessary) the KB database at path. dim is the
// embedding dimensionality every stored vector must have.
func Open(path string, dim int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "kbstore.Open")
	defer timer.Stop()

	if dim <= 0 {
		dim = 384
	}

	logging.Store("Opening KB database: %s (dim=%d)", path, dim)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open KB database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open KB database: %w", err)
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

	s := &Store{db: db, path: path, dim: dim}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize KB schema: %v", err)
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; falling back to brute-force cosine ranking")
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasVectorIndex reports whether ANN search through sqlite-vec is available.
func (s *Store) HasVectorIndex() bool {
	return s.vectorExt
}

// Dimension returns the embedding dimensionality the store was opened with.
func (s *Store) Dimension() int {
	return s.dim
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kb_chunks (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		source_type           TEXT NOT NULL,
		source_id             TEXT NOT NULL,
		source_case_id        INTEGER,
		source_document_id    INTEGER,
		content_text          TEXT NOT NULL,
		content_summary       TEXT NOT NULL DEFAULT '',
		court                 TEXT NOT NULL DEFAULT '',
		case_number           TEXT NOT NULL DEFAULT '',
		case_title            TEXT NOT NULL DEFAULT '',
		legal_domain          TEXT NOT NULL DEFAULT 'general',
		legal_concepts        TEXT NOT NULL DEFAULT '[]',
		legal_entities        TEXT NOT NULL DEFAULT '[]',
		citations             TEXT NOT NULL DEFAULT '[]',
		vector_id             TEXT NOT NULL DEFAULT '',
		embedding_model       TEXT NOT NULL DEFAULT '',
		embedding_dim         INTEGER NOT NULL DEFAULT 0,
		embedding             BLOB,
		content_quality_score REAL NOT NULL DEFAULT 0,
		legal_relevance_score REAL NOT NULL DEFAULT 0,
		completeness_score    REAL NOT NULL DEFAULT 0,
		content_hash          TEXT NOT NULL,
		is_processed          INTEGER NOT NULL DEFAULT 1,
		created_at            DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at            DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_type, source_id),
		UNIQUE(content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_case   ON kb_chunks(source_case_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_domain ON kb_chunks(legal_domain);

	CREATE TABLE IF NOT EXISTS processing_log (
		case_id            INTEGER PRIMARY KEY,
		chunk_count        INTEGER NOT NULL DEFAULT 0,
		terms_extracted    INTEGER NOT NULL DEFAULT 0,
		text_hash          TEXT NOT NULL DEFAULT '',
		rules_version      TEXT NOT NULL DEFAULT '',
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		is_successful      INTEGER NOT NULL DEFAULT 1,
		processed_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS legal_terms (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		term_type    TEXT NOT NULL,
		canonical    TEXT NOT NULL,
		statute_code TEXT NOT NULL DEFAULT '',
		section_num  TEXT NOT NULL DEFAULT '',
		UNIQUE(term_type, canonical)
	);

	CREATE TABLE IF NOT EXISTS term_occurrences (
		term_id       INTEGER NOT NULL REFERENCES legal_terms(id),
		case_id       INTEGER NOT NULL,
		document_id   INTEGER,
		start_char    INTEGER NOT NULL,
		end_char      INTEGER NOT NULL,
		page          INTEGER,
		surface_text  TEXT NOT NULL DEFAULT '',
		confidence    REAL NOT NULL DEFAULT 1.0,
		source_rule   TEXT NOT NULL DEFAULT '',
		rules_version TEXT NOT NULL DEFAULT '',
		UNIQUE(term_id, case_id, start_char, end_char)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		bound_case_id INTEGER,
		history       TEXT NOT NULL DEFAULT '[]',
		updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create KB schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for sqlite-vec and creates the ANN virtual table
// when present.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		logging.StoreDebug("sqlite-vec probe failed: %v", err)
		s.vectorExt = false
		return
	}
	logging.StoreDebug("sqlite-vec version: %s", version)

	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS kb_vec USING vec0(embedding float[%d])", s.dim)
	if _, err := s.db.Exec(ddl); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to create vec0 table: %v", err)
		s.vectorExt = false
		return
	}
	s.vectorExt = true
}

// =============================================================================
// VECTOR SERIALIZATION
// =============================================================================

// serializeVector encodes a float32 vector as a little-endian blob, the
// format sqlite-vec expects for float[] columns.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosine computes cosine similarity without allocating; both inputs must be
// the same length.
func cosine(a, b []float32) float64 {
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	if ma == 0 || mb == 0 {
		return 0
	}
	return dot / (math.Sqrt(ma) * math.Sqrt(mb))
}
