// Package ingest builds the knowledge base from the scraped case store. For
// each case it assembles a labelled comprehensive text, chunks it, embeds the
// chunks, extracts legal-term facets, and records the run in the processing
// log. Ingestion is idempotent per (rules version, text hash).
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qanoon/internal/casestore"
	"qanoon/internal/chunker"
	"qanoon/internal/embedding"
	"qanoon/internal/kbstore"
	"qanoon/internal/logging"
	"qanoon/internal/reference"
	"qanoon/internal/types"
)

// RulesVersion tags the extraction rules; bump it to force re-extraction of
// every case on the next run.
const RulesVersion = "2024.1"

const (
	recentOrderLimit   = 10
	recentCommentLimit = 10
)

// Ingestor processes cases from the read-only case store into the KB.
type Ingestor struct {
	cases  *casestore.Store
	kb     *kbstore.Store
	engine embedding.Engine
	cfg    chunker.Config
}

// Report summarizes one case's ingestion run.
type Report struct {
	CaseID  int64
	Chunks  int
	Terms   int
	Skipped bool
	Elapsed time.Duration
}

// New creates an Ingestor.
func New(cases *casestore.Store, kb *kbstore.Store, engine embedding.Engine, cfg chunker.Config) *Ingestor {
	return &Ingestor{cases: cases, kb: kb, engine: engine, cfg: cfg}
}

// ProcessCase ingests a single case. Without force, a case whose text and
// rules version match its last successful run is skipped. After a successful
// return, at least the case_metadata chunk is retrievable by source_case_id.
func (ing *Ingestor) ProcessCase(ctx context.Context, caseID int64, force bool) (*Report, error) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryIngest, "ProcessCase")
	defer timer.StopWithInfo()

	c, err := ing.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	}

	text, err := ing.buildComprehensiveText(ctx, c)
	if err != nil {
		ing.recordFailure(ctx, caseID, start)
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	}
	textHash := kbstore.HashContent(types.SourceJudgment, fmt.Sprintf("case-%d", caseID), text)

	if !force {
		entry, err := ing.kb.GetProcessingEntry(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
		}
		if entry != nil && entry.Successful && entry.TextHash == textHash && entry.RulesVersion == RulesVersion {
			logging.Ingest("Case %d unchanged since last run, skipping", caseID)
			return &Report{CaseID: caseID, Skipped: true, Elapsed: time.Since(start)}, nil
		}
	}

	if force {
		if err := ing.kb.DeleteByCase(ctx, caseID); err != nil {
			return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
		}
		if err := ing.kb.ClearCaseProcessed(ctx, caseID); err != nil {
			return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
		}
	}

	base := chunker.Base{
		CaseNo:       c.CaseNumber,
		Court:        c.Court,
		Year:         yearOf(c.InstitutionDate),
		DocumentType: "judgment",
	}

	chunkCount := 0

	// Comprehensive case view.
	if n, err := ing.persistChunks(ctx, c, types.SourceJudgment,
		fmt.Sprintf("case-%d", caseID), nil, chunker.Split(text, base, ing.cfg)); err != nil {
		ing.recordFailure(ctx, caseID, start)
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	} else {
		chunkCount += n
	}

	// Each document individually, for passage-level attribution.
	docBase := base
	docBase.DocumentType = "document"
	docs, err := ing.cases.GetDocuments(ctx, caseID)
	if err != nil {
		ing.recordFailure(ctx, caseID, start)
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	}
	for _, doc := range docs {
		docText, err := ing.documentText(ctx, doc.ID)
		if err != nil {
			ing.recordFailure(ctx, caseID, start)
			return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
		}
		if docText == "" {
			continue
		}
		docID := doc.ID
		n, err := ing.persistChunks(ctx, c, types.SourceCaseDocument,
			fmt.Sprintf("doc-%d", doc.ID), &docID, chunker.Split(docText, docBase, ing.cfg))
		if err != nil {
			ing.recordFailure(ctx, caseID, start)
			return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
		}
		chunkCount += n
	}

	// The case_metadata chunk powers retrieval-time enrichment.
	if err := ing.persistMetadataChunk(ctx, c); err != nil {
		ing.recordFailure(ctx, caseID, start)
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	}
	chunkCount++

	terms, err := ing.extractTerms(ctx, caseID, text)
	if err != nil {
		// Term extraction is an analytic facet; a failure degrades it
		// without failing the run.
		logging.Get(logging.CategoryIngest).Warn("Term extraction failed for case %d: %v", caseID, err)
		terms = 0
	}

	entry := kbstore.ProcessingEntry{
		CaseID:           caseID,
		ChunkCount:       chunkCount,
		TermsExtracted:   terms,
		TextHash:         textHash,
		RulesVersion:     RulesVersion,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Successful:       true,
	}
	if err := ing.kb.RecordProcessing(ctx, entry); err != nil {
		return nil, fmt.Errorf("ingestion failed for case %d: %w", caseID, err)
	}

	logging.Ingest("Case %d ingested: %d chunks, %d terms in %dms",
		caseID, chunkCount, terms, entry.ProcessingTimeMS)
	return &Report{CaseID: caseID, Chunks: chunkCount, Terms: terms, Elapsed: time.Since(start)}, nil
}

// ProcessAll ingests every case in the store, continuing past per-case
// failures. It returns the reports of the cases that were attempted.
func (ing *Ingestor) ProcessAll(ctx context.Context, force bool) ([]Report, error) {
	ids, err := ing.cases.ListCaseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	reports := make([]Report, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := ing.ProcessCase(ctx, id, force)
		if err != nil {
			logging.Get(logging.CategoryIngest).Error("Case %d ingestion failed: %v", id, err)
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (ing *Ingestor) recordFailure(ctx context.Context, caseID int64, start time.Time) {
	entry := kbstore.ProcessingEntry{
		CaseID:           caseID,
		RulesVersion:     RulesVersion,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Successful:       false,
	}
	if err := ing.kb.RecordProcessing(ctx, entry); err != nil {
		logging.Get(logging.CategoryIngest).Error("Failed to log failed run for case %d: %v", caseID, err)
	}
}

// =============================================================================
// COMPREHENSIVE TEXT
// =============================================================================

// boilerplateLines are scraper artifacts stripped from PDF text before
// concatenation.
var boilerplateLines = []string{
	"ORDER SHEET",
	"IN THE ISLAMABAD HIGH COURT",
	"IN THE LAHORE HIGH COURT",
	"FORM OF ORDER SHEET",
}

// buildComprehensiveText concatenates the labelled sections of a case in a
// fixed order: PDF content, basic info, detail fields, recent orders, recent
// comments, case CMs, parties.
func (ing *Ingestor) buildComprehensiveText(ctx context.Context, c *types.Case) (string, error) {
	var b strings.Builder

	pdfText, err := ing.cases.GetCaseText(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if pdfText = stripBoilerplate(pdfText); pdfText != "" {
		b.WriteString("=== Case Documents ===\n")
		b.WriteString(pdfText)
		b.WriteString("\n\n")
	}

	b.WriteString("=== Case Information ===\n")
	fmt.Fprintf(&b, "Case Number: %s\n", c.CaseNumber)
	fmt.Fprintf(&b, "Title: %s\n", c.Title)
	fmt.Fprintf(&b, "Court: %s\n", c.Court)
	fmt.Fprintf(&b, "Status: %s\n", c.Status)
	if c.Bench != "" {
		fmt.Fprintf(&b, "Bench: %s\n", c.Bench)
	}
	if c.InstitutionDate != "" {
		fmt.Fprintf(&b, "Institution Date: %s\n", c.InstitutionDate)
	}
	if c.HearingDate != "" {
		fmt.Fprintf(&b, "Hearing Date: %s\n", c.HearingDate)
	}
	b.WriteString("\n")

	detail, err := ing.cases.GetCaseDetail(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if detail != nil {
		b.WriteString("=== Case Details ===\n")
		writeField(&b, "Advocates (Petitioner)", detail.AdvocatesPetitioner)
		writeField(&b, "Advocates (Respondent)", detail.AdvocatesRespondent)
		writeField(&b, "Description", detail.CaseDescription)
		writeField(&b, "Stage", detail.CaseStage)
		writeField(&b, "Short Order", detail.ShortOrder)
		if detail.FIR.Number != "" {
			fmt.Fprintf(&b, "FIR: %s", detail.FIR.Number)
			if detail.FIR.PoliceStation != "" {
				fmt.Fprintf(&b, ", %s", detail.FIR.PoliceStation)
			}
			if detail.FIR.UnderSection != "" {
				fmt.Fprintf(&b, ", under %s", detail.FIR.UnderSection)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	orders, err := ing.cases.GetOrders(ctx, c.ID, recentOrderLimit)
	if err != nil {
		return "", err
	}
	if len(orders) > 0 {
		b.WriteString("=== Recent Orders ===\n")
		for _, o := range orders {
			fmt.Fprintf(&b, "%s: %s\n", o.HearingDate, o.ShortOrder)
		}
		b.WriteString("\n")
	}

	comments, err := ing.cases.GetComments(ctx, c.ID, recentCommentLimit)
	if err != nil {
		return "", err
	}
	var cms, rest []types.Comment
	for _, cm := range comments {
		if strings.EqualFold(cm.DocType, "CM") {
			cms = append(cms, cm)
		} else {
			rest = append(rest, cm)
		}
	}
	if len(rest) > 0 {
		b.WriteString("=== Recent Comments ===\n")
		for _, cm := range rest {
			fmt.Fprintf(&b, "%s: %s\n", cm.ComplianceDate, cm.Description)
		}
		b.WriteString("\n")
	}
	if len(cms) > 0 {
		b.WriteString("=== Case CMs ===\n")
		for _, cm := range cms {
			fmt.Fprintf(&b, "%s (%s): %s\n", cm.CaseNo, cm.ComplianceDate, cm.Description)
		}
		b.WriteString("\n")
	}

	parties, err := ing.cases.GetParties(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if len(parties) > 0 {
		b.WriteString("=== Parties ===\n")
		for _, p := range parties {
			fmt.Fprintf(&b, "%d. %s (%s)\n", p.PartyNumber, p.Name, p.Side)
		}
	}

	return strings.TrimSpace(b.String()), nil
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func stripBoilerplate(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))
		skip := false
		for _, bp := range boilerplateLines {
			if upper == bp {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func yearOf(date string) string {
	// Dates arrive as YYYY-MM-DD or DD-MM-YYYY depending on the scrape
	// surface; take whichever side holds four digits.
	if len(date) >= 4 {
		if head := date[:4]; isDigits(head) {
			return head
		}
		if tail := date[len(date)-4:]; isDigits(tail) {
			return tail
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// =============================================================================
// CHUNK PERSISTENCE
// =============================================================================

func (ing *Ingestor) documentText(ctx context.Context, documentID int64) (string, error) {
	pages, err := ing.cases.GetDocumentTexts(ctx, documentID)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, p := range pages {
		text := p.CleanText
		if text == "" {
			text = p.RawText
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return stripBoilerplate(strings.Join(parts, "\n")), nil
}

// persistChunks embeds the chunk batch in one call and upserts each chunk.
func (ing *Ingestor) persistChunks(ctx context.Context, c *types.Case, sourceType types.SourceType, sourcePrefix string, documentID *int64, chunks []chunker.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := ing.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("chunk embedding failed: %w", err)
	}

	caseID := c.ID
	for i, ch := range chunks {
		kbChunk := &types.KBChunk{
			SourceType:          sourceType,
			SourceID:            fmt.Sprintf("%s-chunk-%d", sourcePrefix, i),
			SourceCaseID:        &caseID,
			SourceDocumentID:    documentID,
			ContentText:         ch.Text,
			Court:               c.Court,
			CaseNumber:          c.CaseNumber,
			CaseTitle:           c.Title,
			LegalDomain:         ch.Metadata.LegalDomain,
			LegalConcepts:       ch.Metadata.Sections,
			EmbeddingModel:      ing.engine.Name(),
			ContentQualityScore: ch.Metadata.AIContextScore,
			LegalRelevanceScore: ch.Metadata.QARelevance,
			CompletenessScore:   completeness(ch.Metadata),
		}
		if _, err := ing.kb.UpsertChunk(ctx, kbChunk, vecs[i]); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}

// completeness scores how much structured context the chunk carries.
func completeness(md chunker.Metadata) float64 {
	score := 0.2
	if md.CaseNo != "" {
		score += 0.3
	}
	if md.Court != "" {
		score += 0.2
	}
	if len(md.Sections) > 0 {
		score += 0.2
	}
	if md.LegalDomain != "" && md.LegalDomain != "general" {
		score += 0.1
	}
	return score
}

// persistMetadataChunk writes the case_metadata chunk that carries the
// structured fields retrieval merges into bare judgment chunks.
func (ing *Ingestor) persistMetadataChunk(ctx context.Context, c *types.Case) error {
	detail, err := ing.cases.GetCaseDetail(ctx, c.ID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Case Number: %s\n", c.CaseNumber)
	fmt.Fprintf(&b, "Title: %s\n", c.Title)
	fmt.Fprintf(&b, "Court: %s\n", c.Court)
	fmt.Fprintf(&b, "Status: %s\n", c.Status)

	var entities []types.LegalEntity
	addEntity := func(typ, value string) {
		if value != "" {
			entities = append(entities, types.LegalEntity{Type: typ, Value: value})
		}
	}
	addEntity("status", string(c.Status))
	addEntity("bench", c.Bench)
	if detail != nil {
		addEntity("advocates_petitioner", detail.AdvocatesPetitioner)
		addEntity("advocates_respondent", detail.AdvocatesRespondent)
		addEntity("short_order", detail.ShortOrder)
		addEntity("case_stage", detail.CaseStage)
		addEntity("fir_number", detail.FIR.Number)
		addEntity("fir_sections", detail.FIR.UnderSection)
	}

	caseID := c.ID
	chunk := &types.KBChunk{
		SourceType:    types.SourceCaseMetadata,
		SourceID:      fmt.Sprintf("case-%d-meta", c.ID),
		SourceCaseID:  &caseID,
		ContentText:   b.String(),
		Court:         c.Court,
		CaseNumber:    c.CaseNumber,
		CaseTitle:     c.Title,
		LegalEntities: entities,
	}

	vec, err := ing.engine.Embed(ctx, chunk.ContentText)
	if err != nil {
		return fmt.Errorf("metadata chunk embedding failed: %w", err)
	}
	chunk.EmbeddingModel = ing.engine.Name()
	_, err = ing.kb.UpsertChunk(ctx, chunk, vec)
	return err
}

// =============================================================================
// TERM EXTRACTION
// =============================================================================

// termKinds maps reference kinds to stored term types.
var termKinds = map[reference.Kind]string{
	reference.KindCitation:   "citation",
	reference.KindSection:    "section",
	reference.KindSubSection: "section",
	reference.KindArticle:    "article",
	reference.KindRule:       "rule",
}

// extractTerms canonicalizes the comprehensive text and records each
// reference as a term occurrence. Returns the number of occurrences stored.
func (ing *Ingestor) extractTerms(ctx context.Context, caseID int64, text string) (int, error) {
	res := reference.Normalize(text)
	if res.Err != "" {
		return 0, fmt.Errorf("normalization failed: %s", res.Err)
	}

	stored := 0
	for _, ref := range res.References {
		termType, ok := termKinds[ref.Kind]
		if !ok {
			continue
		}
		term := types.LegalTerm{
			TermType:    termType,
			Canonical:   ref.Canonical,
			StatuteCode: ref.Act,
		}
		termID, err := ing.kb.UpsertTerm(ctx, term)
		if err != nil {
			return stored, err
		}
		occ := types.TermOccurrence{
			TermID:       termID,
			CaseID:       caseID,
			StartChar:    ref.Start,
			EndChar:      ref.End,
			SurfaceText:  ref.Surface,
			Confidence:   ref.QARelevance,
			SourceRule:   string(ref.Kind),
			RulesVersion: RulesVersion,
		}
		if err := ing.kb.AddOccurrence(ctx, occ); err != nil {
			return stored, err
		}
		stored++
	}
	logging.IngestDebug("Case %d: %d term occurrence(s) extracted", caseID, stored)
	return stored, nil
}
