package kbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// PROCESSING LOG
// =============================================================================

// ProcessingEntry is one processing-log row, the record of an ingestion run.
type ProcessingEntry struct {
	CaseID           int64
	ChunkCount       int
	TermsExtracted   int
	TextHash         string
	RulesVersion     string
	ProcessingTimeMS int64
	Successful       bool
}

// IsCaseProcessed reports whether a case has a successful processing-log
// entry. Ingestion without force skips processed cases.
func (s *Store) IsCaseProcessed(ctx context.Context, caseID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processing_log WHERE case_id = ? AND is_successful = 1",
		caseID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("processing log lookup failed: %w", err)
	}
	return n > 0, nil
}

// GetProcessingEntry loads a case's processing-log entry, or nil when absent.
func (s *Store) GetProcessingEntry(ctx context.Context, caseID int64) (*ProcessingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e ProcessingEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT case_id, chunk_count, terms_extracted, text_hash, rules_version,
		       processing_time_ms, is_successful
		FROM processing_log WHERE case_id = ?`, caseID).
		Scan(&e.CaseID, &e.ChunkCount, &e.TermsExtracted, &e.TextHash,
			&e.RulesVersion, &e.ProcessingTimeMS, &e.Successful)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("processing log lookup failed: %w", err)
	}
	return &e, nil
}

// RecordProcessing records (or refreshes) a case's processing-log entry.
func (s *Store) RecordProcessing(ctx context.Context, e ProcessingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_log
			(case_id, chunk_count, terms_extracted, text_hash, rules_version,
			 processing_time_ms, is_successful, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(case_id) DO UPDATE SET
			chunk_count        = excluded.chunk_count,
			terms_extracted    = excluded.terms_extracted,
			text_hash          = excluded.text_hash,
			rules_version      = excluded.rules_version,
			processing_time_ms = excluded.processing_time_ms,
			is_successful      = excluded.is_successful,
			processed_at       = CURRENT_TIMESTAMP`,
		e.CaseID, e.ChunkCount, e.TermsExtracted, e.TextHash, e.RulesVersion,
		e.ProcessingTimeMS, e.Successful)
	if err != nil {
		return fmt.Errorf("failed to record processing for case %d: %w", e.CaseID, err)
	}
	return nil
}

// ClearCaseProcessed removes a case's processing-log entry, for force reprocessing.
func (s *Store) ClearCaseProcessed(ctx context.Context, caseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM processing_log WHERE case_id = ?", caseID); err != nil {
		return fmt.Errorf("failed to clear processing log for case %d: %w", caseID, err)
	}
	return nil
}

// =============================================================================
// LEGAL TERM FACETS
// =============================================================================

// UpsertTerm inserts a term if absent and returns its id.
func (s *Store) UpsertTerm(ctx context.Context, term types.LegalTerm) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM legal_terms WHERE term_type = ? AND canonical = ?",
		term.TermType, term.Canonical).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO legal_terms (term_type, canonical, statute_code, section_num)
			VALUES (?, ?, ?, ?)`,
			term.TermType, term.Canonical, term.StatuteCode, term.SectionNum)
		if err != nil {
			return 0, fmt.Errorf("failed to insert term: %w", err)
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, fmt.Errorf("term lookup failed: %w", err)
	}
	return id, nil
}

// AddOccurrence records a term occurrence. Duplicate
// (term, case, start, end) rows are ignored.
func (s *Store) AddOccurrence(ctx context.Context, occ types.TermOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO term_occurrences
			(term_id, case_id, document_id, start_char, end_char, page,
			 surface_text, confidence, source_rule, rules_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		occ.TermID, occ.CaseID, occ.DocumentID, occ.StartChar, occ.EndChar, occ.Page,
		occ.SurfaceText, occ.Confidence, occ.SourceRule, occ.RulesVersion)
	if err != nil {
		return fmt.Errorf("failed to add term occurrence: %w", err)
	}
	return nil
}

// GetTermOccurrences returns the occurrences recorded for a case.
func (s *Store) GetTermOccurrences(ctx context.Context, caseID int64) ([]types.TermOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT term_id, case_id, document_id, start_char, end_char, page,
		       surface_text, confidence, source_rule, rules_version
		FROM term_occurrences WHERE case_id = ?
		ORDER BY start_char`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load occurrences for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var out []types.TermOccurrence
	for rows.Next() {
		var o types.TermOccurrence
		if err := rows.Scan(&o.TermID, &o.CaseID, &o.DocumentID, &o.StartChar, &o.EndChar,
			&o.Page, &o.SurfaceText, &o.Confidence, &o.SourceRule, &o.RulesVersion); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// SESSIONS
// =============================================================================

// GetSession loads a session by id, or nil when absent.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.ActiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess types.ActiveSession
	var history string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, bound_case_id, history, updated_at FROM sessions WHERE session_id = ?",
		sessionID).Scan(&sess.SessionID, &sess.BoundCaseID, &history, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
		logging.Session("Discarding corrupt history for session %s: %v", sessionID, err)
		sess.History = nil
	}
	return &sess, nil
}

// SaveSession upserts a session, refreshing its timestamp.
func (s *Store) SaveSession(ctx context.Context, sess *types.ActiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	sess.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, bound_case_id, history, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			bound_case_id = excluded.bound_case_id,
			history = excluded.history,
			updated_at = excluded.updated_at`,
		sess.SessionID, sess.BoundCaseID, string(history), sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}
	logging.Session("Saved session %s (bound_case=%v, turns=%d)",
		sess.SessionID, sess.BoundCaseID, len(sess.History))
	return nil
}
