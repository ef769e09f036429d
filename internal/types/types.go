// Package types provides shared type definitions used across qanoon packages.
// This package exists to break import cycles between the stores, the retrieval
// stages, and the orchestrator. Types here are foundational data structures
// with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// CASE STORE ENTITIES (read-only; owned by the external scraper pipeline)
// =============================================================================

// CaseStatus is an open enumeration; scrapers may introduce new values.
type CaseStatus string

const (
	StatusPending  CaseStatus = "pending"
	StatusDecided  CaseStatus = "decided"
	StatusDisposed CaseStatus = "disposed"
)

// Case is a court case record as scraped from the court site.
type Case struct {
	ID              int64
	CaseNumber      string // free-form, e.g. "T.A. 2/2023 Civil (SB)"
	Title           string
	Court           string
	Status          CaseStatus
	Bench           string
	SRNumber        string
	InstitutionDate string
	HearingDate     string
}

// FIRBlock holds First Information Report details attached to a case.
type FIRBlock struct {
	Number        string
	Date          string
	PoliceStation string
	UnderSection  string
	Incident      string
	Accused       string
}

// CaseDetail carries the extended fields scraped from the case detail page.
type CaseDetail struct {
	CaseID               int64
	AdvocatesPetitioner  string
	AdvocatesRespondent  string
	CaseDescription      string
	CaseStage            string
	ShortOrder           string
	FIR                  FIRBlock
}

// OrderSource tags which scrape surface produced an order row.
type OrderSource string

const (
	OrderSourceMain    OrderSource = "main"
	OrderSourceDetail  OrderSource = "detail"
	OrderSourceHearing OrderSource = "hearing"
)

// Order is a single hearing order. Unique per (case, sr, source).
type Order struct {
	CaseID       int64
	SrNumber     int
	HearingDate  string
	Bench        string
	ListType     string
	CaseStage    string
	ShortOrder   string
	DisposalDate string
	Source       OrderSource
}

// Comment is a case comment/CM row. Unique per (case, compliance_date, case_no, source).
type Comment struct {
	CaseID         int64
	ComplianceDate string
	CaseNo         string
	DocType        string
	Parties        string
	Description    string
	Source         string
}

// Party is a named party to a case. Unique per (case, party_number).
type Party struct {
	CaseID      int64
	PartyNumber int
	Name        string
	Side        string // petitioner | respondent | ...
}

// Document is a downloaded case document, deduplicated by SHA-256.
type Document struct {
	ID          int64
	CaseID      int64
	FilePath    string
	OriginalURL string
	SHA256      string
	SizeBytes   int64
	TotalPages  int
	Downloaded  bool
	Processed   bool
	Cleaned     bool
}

// DocumentText is the extracted text of one (document, page).
type DocumentText struct {
	DocumentID       int64
	Page             int
	RawText          string
	CleanText        string
	ExtractionMethod string // pymupdf | ocr
	Confidence       float64
}

// =============================================================================
// KNOWLEDGE BASE CHUNKS (core-owned)
// =============================================================================

// SourceType classifies where a KB chunk came from.
type SourceType string

const (
	SourceCaseMetadata SourceType = "case_metadata"
	SourceCaseDocument SourceType = "case_document"
	SourceJudgment     SourceType = "judgment"
	SourceOrder        SourceType = "order"
	SourceComment      SourceType = "comment"
	SourceQAChunk      SourceType = "qa_chunk"
	SourceLegalText    SourceType = "legal_text"
)

// LegalEntity is a typed entity reference carried in chunk metadata.
type LegalEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// KBChunk is the retrieval unit: a contiguous slice of case or document text
// with canonical legal metadata and quality scores.
//
// Invariants:
//   - (SourceType, SourceID) is unique
//   - ContentHash = SHA256(source_type:source_id:content_text) and is unique
//   - every persisted chunk has IsProcessed = true
type KBChunk struct {
	ID               int64
	SourceType       SourceType
	SourceID         string
	SourceCaseID     *int64
	SourceDocumentID *int64

	ContentText    string
	ContentSummary string

	Court         string
	CaseNumber    string
	CaseTitle     string
	LegalDomain   string
	LegalConcepts []string
	LegalEntities []LegalEntity
	Citations     []string

	VectorID       string
	EmbeddingModel string
	EmbeddingDim   int

	ContentQualityScore float64
	LegalRelevanceScore float64
	CompletenessScore   float64

	ContentHash string
	IsProcessed bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// STATUTE ENTRIES
// =============================================================================

// StatuteEntry is a curated law-information record served by the keyword engine.
type StatuteEntry struct {
	Slug         string   `yaml:"slug" json:"slug"`
	Title        string   `yaml:"title" json:"title"`
	Sections     []string `yaml:"sections" json:"sections"`
	Punishment   string   `yaml:"punishment" json:"punishment"`
	Jurisdiction string   `yaml:"jurisdiction" json:"jurisdiction"`
	Rights       string   `yaml:"rights" json:"rights"`
	WhatToDo     string   `yaml:"what_to_do" json:"what_to_do"`
	Tags         []string `yaml:"tags" json:"tags"`
	Active       bool     `yaml:"active" json:"active"`
	Featured     bool     `yaml:"featured" json:"featured"`
}

// =============================================================================
// LEGAL TERMS (ingestion-extracted analytic facets)
// =============================================================================

// LegalTerm is a canonicalized term extracted during ingestion.
type LegalTerm struct {
	ID          int64
	TermType    string // section | citation | court | judge | advocate | party | ...
	Canonical   string
	StatuteCode string
	SectionNum  string
}

// TermOccurrence records one surface occurrence of a term.
// Unique per (term, case, start_char, end_char).
type TermOccurrence struct {
	TermID       int64
	CaseID       int64
	DocumentID   *int64
	StartChar    int
	EndChar      int
	Page         *int
	SurfaceText  string
	Confidence   float64
	SourceRule   string
	RulesVersion string
}

// =============================================================================
// SESSIONS
// =============================================================================

// ActiveSession binds a conversation to a case for follow-up turns.
type ActiveSession struct {
	SessionID   string
	BoundCaseID *int64
	History     []SessionTurn
	UpdatedAt   time.Time
}

// SessionTurn is one question/answer turn in a session.
type SessionTurn struct {
	Question string
	Method   string
	CaseID   *int64
	AskedAt  time.Time
}

// =============================================================================
// RANKED RESULTS
// =============================================================================

// Retrieval method tags. Every result carries exactly one; consumers switch
// on the tag rather than on result shape.
const (
	MethodExactCaseNumber   = "exact_case_number"
	MethodTwoStageQA        = "two_stage_qa"
	MethodActiveCaseLock    = "active_case_lock"
	MethodFallbackQAKB      = "fallback_qa_kb"
	MethodFallbackDBEmbed   = "fallback_db_embedding"
	MethodFallbackDBSimple  = "fallback_db_simple"
)

// RankedResult is the engine's single result record. The typed fields are
// always meaningful; the long tail of per-source fields (fir_number,
// short_order, advocates_*, ...) lives in Extras. Downstream consumers check
// presence, not type. All scores are float64 at the engine boundary.
type RankedResult struct {
	ID         string                 `json:"id"`
	Score      float64                `json:"score"`
	Text       string                 `json:"text"`
	CaseID     *int64                 `json:"case_id,omitempty"`
	CaseNumber string                 `json:"case_number,omitempty"`
	CaseTitle  string                 `json:"case_title,omitempty"`
	Court      string                 `json:"court,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Extras     map[string]interface{} `json:"extras,omitempty"`

	// Stage-2 scores; populated only when the reranker ran.
	RerankScore           float64 `json:"rerank_score,omitempty"`
	NormalizedRerankScore float64 `json:"normalized_rerank_score,omitempty"`
	CombinedScore         float64 `json:"combined_score,omitempty"`

	// Exact-match annotations.
	MatchType        string `json:"match_type,omitempty"`
	SourceMatchStage string `json:"source_match_stage,omitempty"`

	// Orchestrator annotations.
	QARank           int     `json:"qa_rank,omitempty"`
	QARelevanceScore float64 `json:"qa_relevance_score,omitempty"`
	RetrievalMethod  string  `json:"retrieval_method,omitempty"`
	RetrievalTimeMS  int64   `json:"retrieval_time_ms,omitempty"`
}

// Extra returns an extras value and whether it is present.
func (r *RankedResult) Extra(key string) (interface{}, bool) {
	if r.Extras == nil {
		return nil, false
	}
	v, ok := r.Extras[key]
	return v, ok
}

// SetExtra stores an extras value, allocating the map on first use.
func (r *RankedResult) SetExtra(key string, value interface{}) {
	if r.Extras == nil {
		r.Extras = make(map[string]interface{})
	}
	r.Extras[key] = value
}
