package casestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// The scraper owns this schema in production. CreateSchema mirrors it so
// tests and local development can build a case database from scratch.
const schema = `
CREATE TABLE IF NOT EXISTS cases (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	case_number      TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	court            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	bench            TEXT NOT NULL DEFAULT '',
	sr_number        TEXT NOT NULL DEFAULT '',
	institution_date TEXT NOT NULL DEFAULT '',
	hearing_date     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cases_number ON cases(case_number);
CREATE INDEX IF NOT EXISTS idx_cases_title  ON cases(title);

CREATE TABLE IF NOT EXISTS case_details (
	case_id              INTEGER PRIMARY KEY REFERENCES cases(id),
	advocates_petitioner TEXT NOT NULL DEFAULT '',
	advocates_respondent TEXT NOT NULL DEFAULT '',
	case_description     TEXT NOT NULL DEFAULT '',
	case_stage           TEXT NOT NULL DEFAULT '',
	short_order          TEXT NOT NULL DEFAULT '',
	fir_number           TEXT NOT NULL DEFAULT '',
	fir_date             TEXT NOT NULL DEFAULT '',
	police_station       TEXT NOT NULL DEFAULT '',
	under_section        TEXT NOT NULL DEFAULT '',
	incident             TEXT NOT NULL DEFAULT '',
	accused              TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orders (
	case_id       INTEGER NOT NULL REFERENCES cases(id),
	sr_number     INTEGER NOT NULL,
	hearing_date  TEXT NOT NULL DEFAULT '',
	bench         TEXT NOT NULL DEFAULT '',
	list_type     TEXT NOT NULL DEFAULT '',
	case_stage    TEXT NOT NULL DEFAULT '',
	short_order   TEXT NOT NULL DEFAULT '',
	disposal_date TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT 'main',
	UNIQUE(case_id, sr_number, source)
);

CREATE TABLE IF NOT EXISTS comments (
	case_id         INTEGER NOT NULL REFERENCES cases(id),
	compliance_date TEXT NOT NULL DEFAULT '',
	case_no         TEXT NOT NULL DEFAULT '',
	doc_type        TEXT NOT NULL DEFAULT '',
	parties         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	UNIQUE(case_id, compliance_date, case_no, source)
);

CREATE TABLE IF NOT EXISTS parties (
	case_id      INTEGER NOT NULL REFERENCES cases(id),
	party_number INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	side         TEXT NOT NULL DEFAULT '',
	UNIQUE(case_id, party_number)
);

CREATE TABLE IF NOT EXISTS documents (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id      INTEGER NOT NULL REFERENCES cases(id),
	file_path    TEXT NOT NULL DEFAULT '',
	original_url TEXT NOT NULL DEFAULT '',
	sha256       TEXT NOT NULL DEFAULT '' UNIQUE,
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	total_pages  INTEGER NOT NULL DEFAULT 0,
	downloaded   INTEGER NOT NULL DEFAULT 0,
	processed    INTEGER NOT NULL DEFAULT 0,
	cleaned      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS document_texts (
	document_id       INTEGER NOT NULL REFERENCES documents(id),
	page              INTEGER NOT NULL,
	raw_text          TEXT NOT NULL DEFAULT '',
	clean_text        TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT 'pymupdf',
	confidence        REAL NOT NULL DEFAULT 0,
	UNIQUE(document_id, page)
);
`

// CreateSchema creates the case database schema at path. Opens a writable
// connection of its own; the read-only Store never writes.
func CreateSchema(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open case database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create case schema: %w", err)
	}
	return nil
}
