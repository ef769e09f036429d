// Package casestore provides read-only access to the scraped case database.
// The scraper pipeline owns this database; qanoon only ever reads from it.
// The driver is modernc.org/sqlite (pure Go) so the reader works without cgo.
package casestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// STORE
// =============================================================================

// Store is a read-only handle on the case database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the case database at path. The file must already exist in
// production; tests create one with CreateSchema.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "casestore.Open")
	defer timer.Stop()

	logging.Store("Opening case database: %s", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open case database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open case database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	// The scraper may be writing concurrently; query_only keeps us honest.
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		logging.StoreDebug("Failed to set sqlite query_only: %v", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CASE LOOKUPS
// =============================================================================

// GetCase returns a single case by id, or sql.ErrNoRows wrapped.
func (s *Store) GetCase(ctx context.Context, id int64) (*types.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_number, title, court, status, bench, sr_number,
		       institution_date, hearing_date
		FROM cases WHERE id = ?`, id)

	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("case %d not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to load case %d: %w", id, err)
	}
	return c, nil
}

// FindCasesByNumber returns cases whose case_number contains pattern,
// case-insensitively. Pattern is a raw substring, not SQL LIKE syntax.
func (s *Store) FindCasesByNumber(ctx context.Context, pattern string, limit int) ([]types.Case, error) {
	timer := logging.StartTimer(logging.CategoryStore, "FindCasesByNumber")
	defer timer.StopWithInfo()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_number, title, court, status, bench, sr_number,
		       institution_date, hearing_date
		FROM cases
		WHERE case_number LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY id LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("case number search failed: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

// FindCasesByNormalizedNumber searches case numbers after applying the same
// normalization the caller applied to its hint: upper-case, ". " tightened
// to ".", " / " tightened to "/". Pattern must already be normalized.
func (s *Store) FindCasesByNormalizedNumber(ctx context.Context, pattern string, limit int) ([]types.Case, error) {
	timer := logging.StartTimer(logging.CategoryStore, "FindCasesByNormalizedNumber")
	defer timer.StopWithInfo()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_number, title, court, status, bench, sr_number,
		       institution_date, hearing_date
		FROM cases
		WHERE REPLACE(REPLACE(UPPER(case_number), '. ', '.'), ' / ', '/')
		      LIKE '%' || ? || '%'
		ORDER BY id LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("normalized case number search failed: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

// FindCasesByTitle returns cases whose title contains pattern, case-insensitively.
func (s *Store) FindCasesByTitle(ctx context.Context, pattern string, limit int) ([]types.Case, error) {
	timer := logging.StartTimer(logging.CategoryStore, "FindCasesByTitle")
	defer timer.StopWithInfo()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_number, title, court, status, bench, sr_number,
		       institution_date, hearing_date
		FROM cases
		WHERE title LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY id LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("case title search failed: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

// ListCaseIDs returns all case ids in ascending order, for ingestion sweeps.
func (s *Store) ListCaseIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list case ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan case id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// DETAIL / CHILD ROWS
// =============================================================================

// GetCaseDetail returns the detail row for a case, or nil when absent.
func (s *Store) GetCaseDetail(ctx context.Context, caseID int64) (*types.CaseDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT case_id, advocates_petitioner, advocates_respondent,
		       case_description, case_stage, short_order,
		       fir_number, fir_date, police_station, under_section, incident, accused
		FROM case_details WHERE case_id = ?`, caseID)

	var d types.CaseDetail
	err := row.Scan(&d.CaseID, &d.AdvocatesPetitioner, &d.AdvocatesRespondent,
		&d.CaseDescription, &d.CaseStage, &d.ShortOrder,
		&d.FIR.Number, &d.FIR.Date, &d.FIR.PoliceStation,
		&d.FIR.UnderSection, &d.FIR.Incident, &d.FIR.Accused)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case detail %d: %w", caseID, err)
	}
	return &d, nil
}

// GetOrders returns the orders for a case, most recent hearing first.
func (s *Store) GetOrders(ctx context.Context, caseID int64, limit int) ([]types.Order, error) {
	q := `
		SELECT case_id, sr_number, hearing_date, bench, list_type, case_stage,
		       short_order, disposal_date, source
		FROM orders WHERE case_id = ?
		ORDER BY hearing_date DESC, sr_number DESC`
	args := []interface{}{caseID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		if err := rows.Scan(&o.CaseID, &o.SrNumber, &o.HearingDate, &o.Bench,
			&o.ListType, &o.CaseStage, &o.ShortOrder, &o.DisposalDate, &o.Source); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetComments returns the comments/CMs for a case, most recent first.
func (s *Store) GetComments(ctx context.Context, caseID int64, limit int) ([]types.Comment, error) {
	q := `
		SELECT case_id, compliance_date, case_no, doc_type, parties, description, source
		FROM comments WHERE case_id = ?
		ORDER BY compliance_date DESC`
	args := []interface{}{caseID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load comments for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var out []types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.CaseID, &c.ComplianceDate, &c.CaseNo, &c.DocType,
			&c.Parties, &c.Description, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetParties returns the parties for a case in party-number order.
func (s *Store) GetParties(ctx context.Context, caseID int64) ([]types.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, party_number, name, side
		FROM parties WHERE case_id = ? ORDER BY party_number`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parties for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var out []types.Party
	for rows.Next() {
		var p types.Party
		if err := rows.Scan(&p.CaseID, &p.PartyNumber, &p.Name, &p.Side); err != nil {
			return nil, fmt.Errorf("failed to scan party: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetDocuments returns the documents attached to a case.
func (s *Store) GetDocuments(ctx context.Context, caseID int64) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, file_path, original_url, sha256, size_bytes,
		       total_pages, downloaded, processed, cleaned
		FROM documents WHERE case_id = ? ORDER BY id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var out []types.Document
	for rows.Next() {
		var d types.Document
		if err := rows.Scan(&d.ID, &d.CaseID, &d.FilePath, &d.OriginalURL, &d.SHA256,
			&d.SizeBytes, &d.TotalPages, &d.Downloaded, &d.Processed, &d.Cleaned); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDocumentTexts returns the per-page extracted texts of a document in page order.
func (s *Store) GetDocumentTexts(ctx context.Context, documentID int64) ([]types.DocumentText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, page, raw_text, clean_text, extraction_method, confidence
		FROM document_texts WHERE document_id = ? ORDER BY page`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document texts for %d: %w", documentID, err)
	}
	defer rows.Close()

	var out []types.DocumentText
	for rows.Next() {
		var t types.DocumentText
		if err := rows.Scan(&t.DocumentID, &t.Page, &t.RawText, &t.CleanText,
			&t.ExtractionMethod, &t.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan document text: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetCaseText returns the concatenated clean text of every processed document
// page belonging to a case, in (document, page) order. Empty string when the
// case has no extracted text.
func (s *Store) GetCaseText(ctx context.Context, caseID int64) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetCaseText")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(t.clean_text, ''), t.raw_text)
		FROM document_texts t
		JOIN documents d ON d.id = t.document_id
		WHERE d.case_id = ?
		ORDER BY d.id, t.page`, caseID)
	if err != nil {
		return "", fmt.Errorf("failed to load case text for %d: %w", caseID, err)
	}
	defer rows.Close()

	var text string
	for rows.Next() {
		var page string
		if err := rows.Scan(&page); err != nil {
			return "", fmt.Errorf("failed to scan case text page: %w", err)
		}
		if page == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += page
	}
	return text, rows.Err()
}

// SearchDocumentTexts returns (case_id, clean_text) pairs whose text contains
// the pattern, for the retrieval fallback chain.
func (s *Store) SearchDocumentTexts(ctx context.Context, pattern string, limit int) ([]TextHit, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.case_id, COALESCE(NULLIF(t.clean_text, ''), t.raw_text)
		FROM document_texts t
		JOIN documents d ON d.id = t.document_id
		WHERE COALESCE(NULLIF(t.clean_text, ''), t.raw_text) LIKE '%' || ? || '%' COLLATE NOCASE
		LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("document text search failed: %w", err)
	}
	defer rows.Close()

	var out []TextHit
	for rows.Next() {
		var h TextHit
		if err := rows.Scan(&h.CaseID, &h.Text); err != nil {
			return nil, fmt.Errorf("failed to scan text hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TextHit is one document-text search result.
type TextHit struct {
	CaseID int64
	Text   string
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*types.Case, error) {
	var c types.Case
	err := row.Scan(&c.ID, &c.CaseNumber, &c.Title, &c.Court, &c.Status,
		&c.Bench, &c.SRNumber, &c.InstitutionDate, &c.HearingDate)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCases(rows *sql.Rows) ([]types.Case, error) {
	var out []types.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
