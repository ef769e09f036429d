package kbstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// CHUNK WRITES
// =============================================================================

// HashContent computes the canonical content hash for a chunk.
func HashContent(sourceType types.SourceType, sourceID, contentText string) string {
	sum := sha256.Sum256([]byte(string(sourceType) + ":" + sourceID + ":" + contentText))
	return hex.EncodeToString(sum[:])
}

// UpsertChunk inserts or updates a chunk keyed by (source_type, source_id)
// and returns its id. Missing ContentHash is computed; IsProcessed is forced
// true. The embedding, when present, is mirrored into the ANN index.
func (s *Store) UpsertChunk(ctx context.Context, chunk *types.KBChunk, embedding []float32) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertChunk")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.ContentHash == "" {
		chunk.ContentHash = HashContent(chunk.SourceType, chunk.SourceID, chunk.ContentText)
	}
	chunk.IsProcessed = true

	concepts, _ := json.Marshal(chunk.LegalConcepts)
	entities, _ := json.Marshal(chunk.LegalEntities)
	citations, _ := json.Marshal(chunk.Citations)

	var blob []byte
	if len(embedding) > 0 {
		if len(embedding) != s.dim {
			return 0, fmt.Errorf("embedding dimension %d does not match store dimension %d", len(embedding), s.dim)
		}
		blob = serializeVector(embedding)
		chunk.EmbeddingDim = len(embedding)
	}

	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM kb_chunks WHERE source_type = ? AND source_id = ?",
		chunk.SourceType, chunk.SourceID).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO kb_chunks (
				source_type, source_id, source_case_id, source_document_id,
				content_text, content_summary, court, case_number, case_title,
				legal_domain, legal_concepts, legal_entities, citations,
				vector_id, embedding_model, embedding_dim, embedding,
				content_quality_score, legal_relevance_score, completeness_score,
				content_hash, is_processed
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			chunk.SourceType, chunk.SourceID, chunk.SourceCaseID, chunk.SourceDocumentID,
			chunk.ContentText, chunk.ContentSummary, chunk.Court, chunk.CaseNumber, chunk.CaseTitle,
			chunk.LegalDomain, string(concepts), string(entities), string(citations),
			chunk.VectorID, chunk.EmbeddingModel, chunk.EmbeddingDim, blob,
			chunk.ContentQualityScore, chunk.LegalRelevanceScore, chunk.CompletenessScore,
			chunk.ContentHash)
		if err != nil {
			return 0, fmt.Errorf("failed to insert chunk: %w", err)
		}
		existingID, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get chunk id: %w", err)
		}

	case err != nil:
		return 0, fmt.Errorf("chunk lookup failed: %w", err)

	default:
		_, err := s.db.ExecContext(ctx, `
			UPDATE kb_chunks SET
				source_case_id = ?, source_document_id = ?,
				content_text = ?, content_summary = ?, court = ?, case_number = ?,
				case_title = ?, legal_domain = ?, legal_concepts = ?,
				legal_entities = ?, citations = ?, vector_id = ?,
				embedding_model = ?, embedding_dim = ?, embedding = ?,
				content_quality_score = ?, legal_relevance_score = ?,
				completeness_score = ?, content_hash = ?, is_processed = 1,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			chunk.SourceCaseID, chunk.SourceDocumentID,
			chunk.ContentText, chunk.ContentSummary, chunk.Court, chunk.CaseNumber,
			chunk.CaseTitle, chunk.LegalDomain, string(concepts),
			string(entities), string(citations), chunk.VectorID,
			chunk.EmbeddingModel, chunk.EmbeddingDim, blob,
			chunk.ContentQualityScore, chunk.LegalRelevanceScore,
			chunk.CompletenessScore, chunk.ContentHash, existingID)
		if err != nil {
			return 0, fmt.Errorf("failed to update chunk: %w", err)
		}
	}

	chunk.ID = existingID

	if s.vectorExt && blob != nil {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO kb_vec (rowid, embedding) VALUES (?, ?)",
			existingID, blob); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to index embedding for chunk %d: %v", existingID, err)
		}
	}

	logging.StoreDebug("Upserted chunk %d (%s:%s)", existingID, chunk.SourceType, chunk.SourceID)
	return existingID, nil
}

// DeleteByCase removes all chunks for a case, including their ANN rows.
func (s *Store) DeleteByCase(ctx context.Context, caseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vectorExt {
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM kb_vec WHERE rowid IN (SELECT id FROM kb_chunks WHERE source_case_id = ?)",
			caseID); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to delete ANN rows for case %d: %v", caseID, err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM kb_chunks WHERE source_case_id = ?", caseID); err != nil {
		return fmt.Errorf("failed to delete chunks for case %d: %w", caseID, err)
	}
	logging.Store("Deleted chunks for case %d", caseID)
	return nil
}

// =============================================================================
// CHUNK READS
// =============================================================================

const chunkColumns = `
	id, source_type, source_id, source_case_id, source_document_id,
	content_text, content_summary, court, case_number, case_title,
	legal_domain, legal_concepts, legal_entities, citations,
	vector_id, embedding_model, embedding_dim,
	content_quality_score, legal_relevance_score, completeness_score,
	content_hash, is_processed, created_at, updated_at`

func scanChunk(row interface{ Scan(...interface{}) error }) (*types.KBChunk, error) {
	var c types.KBChunk
	var concepts, entities, citations string
	var processed int
	err := row.Scan(&c.ID, &c.SourceType, &c.SourceID, &c.SourceCaseID, &c.SourceDocumentID,
		&c.ContentText, &c.ContentSummary, &c.Court, &c.CaseNumber, &c.CaseTitle,
		&c.LegalDomain, &concepts, &entities, &citations,
		&c.VectorID, &c.EmbeddingModel, &c.EmbeddingDim,
		&c.ContentQualityScore, &c.LegalRelevanceScore, &c.CompletenessScore,
		&c.ContentHash, &processed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.IsProcessed = processed != 0
	json.Unmarshal([]byte(concepts), &c.LegalConcepts)
	json.Unmarshal([]byte(entities), &c.LegalEntities)
	json.Unmarshal([]byte(citations), &c.Citations)
	return &c, nil
}

// GetChunk returns a chunk by id.
func (s *Store) GetChunk(ctx context.Context, id int64) (*types.KBChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanChunk(s.db.QueryRowContext(ctx,
		"SELECT"+chunkColumns+" FROM kb_chunks WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk %d: %w", id, err)
	}
	return c, nil
}

// GetCaseMetadataChunk returns the case_metadata chunk for a case, or nil.
// Used by the retriever's enrichment step.
func (s *Store) GetCaseMetadataChunk(ctx context.Context, caseID int64) (*types.KBChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanChunk(s.db.QueryRowContext(ctx,
		"SELECT"+chunkColumns+` FROM kb_chunks
		 WHERE source_type = ? AND source_case_id = ? LIMIT 1`,
		types.SourceCaseMetadata, caseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata chunk for case %d: %w", caseID, err)
	}
	return c, nil
}

// CountChunksByCase returns the number of chunks stored for a case.
func (s *Store) CountChunksByCase(ctx context.Context, caseID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM kb_chunks WHERE source_case_id = ?", caseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for case %d: %w", caseID, err)
	}
	return n, nil
}

// SearchText returns chunks whose content contains the pattern,
// case-insensitively, ordered by legal relevance. The retrieval fallback
// chain embeds and re-ranks these.
func (s *Store) SearchText(ctx context.Context, pattern string, limit int) ([]types.KBChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchText")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+chunkColumns+` FROM kb_chunks
		 WHERE content_text LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY legal_relevance_score DESC LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("chunk text search failed: %w", err)
	}
	defer rows.Close()

	var out []types.KBChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// =============================================================================
// VECTOR QUERY
// =============================================================================

// ChunkMatch pairs a chunk with its similarity score in [0,1].
type ChunkMatch struct {
	Chunk types.KBChunk
	Score float64
}

// Filter keys the index supports; anything else is dropped with a warning.
var supportedFilterColumns = map[string]string{
	"legal_domain": "legal_domain",
	"court":        "court",
	"source_type":  "source_type",
	"case_id":      "source_case_id",
	"case_number":  "case_number",
}

func buildFilterClause(filters map[string]interface{}) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for key, val := range filters {
		col, ok := supportedFilterColumns[key]
		if !ok {
			logging.Get(logging.CategoryStore).Warn("Dropping unsupported metadata filter: %s", key)
			continue
		}
		clauses = append(clauses, col+" = ?")
		args = append(args, val)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	sort.Strings(clauses) // deterministic SQL for the query planner cache
	return " AND " + strings.Join(clauses, " AND "), args
}

// QueryByVector returns the topK most similar chunks to the query vector,
// honoring supported metadata filters. With sqlite-vec the ANN index serves
// the candidates; otherwise every embedded chunk is scored by cosine.
func (s *Store) QueryByVector(ctx context.Context, query []float32, topK int, filters map[string]interface{}) ([]ChunkMatch, error) {
	timer := logging.StartTimer(logging.CategoryStore, "QueryByVector")
	defer timer.StopWithInfo()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match store dimension %d", len(query), s.dim)
	}
	if topK <= 0 {
		topK = 30
	}

	if s.vectorExt {
		return s.queryANN(ctx, query, topK, filters)
	}
	return s.queryBruteForce(ctx, query, topK, filters)
}

// queryANN overfetches from the vec0 index and post-filters, scoring the
// survivors by cosine so both paths produce comparable scores.
func (s *Store) queryANN(ctx context.Context, query []float32, topK int, filters map[string]interface{}) ([]ChunkMatch, error) {
	fetch := topK
	if len(filters) > 0 {
		fetch = topK * 4
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid FROM kb_vec WHERE embedding MATCH ? ORDER BY distance LIMIT ?`,
		serializeVector(query), fetch)
	if err != nil {
		return nil, fmt.Errorf("ANN query failed: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan ANN row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	clause, args := buildFilterClause(filters)
	var matches []ChunkMatch
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			"SELECT"+chunkColumns+", embedding FROM kb_chunks WHERE id = ?"+clause,
			append([]interface{}{id}, args...)...)
		match, err := scanChunkWithScore(row, query)
		if err == sql.ErrNoRows {
			continue // filtered out
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load ANN candidate %d: %w", id, err)
		}
		matches = append(matches, *match)
		if len(matches) >= topK {
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func (s *Store) queryBruteForce(ctx context.Context, query []float32, topK int, filters map[string]interface{}) ([]ChunkMatch, error) {
	clause, args := buildFilterClause(filters)
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+chunkColumns+", embedding FROM kb_chunks WHERE embedding IS NOT NULL"+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("brute-force query failed: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		match, err := scanChunkWithScore(rows, query)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if match == nil {
			continue
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func scanChunkWithScore(row interface{ Scan(...interface{}) error }, query []float32) (*ChunkMatch, error) {
	var c types.KBChunk
	var concepts, entities, citations string
	var processed int
	var blob []byte
	err := row.Scan(&c.ID, &c.SourceType, &c.SourceID, &c.SourceCaseID, &c.SourceDocumentID,
		&c.ContentText, &c.ContentSummary, &c.Court, &c.CaseNumber, &c.CaseTitle,
		&c.LegalDomain, &concepts, &entities, &citations,
		&c.VectorID, &c.EmbeddingModel, &c.EmbeddingDim,
		&c.ContentQualityScore, &c.LegalRelevanceScore, &c.CompletenessScore,
		&c.ContentHash, &processed, &c.CreatedAt, &c.UpdatedAt, &blob)
	if err != nil {
		return nil, err
	}
	c.IsProcessed = processed != 0
	json.Unmarshal([]byte(concepts), &c.LegalConcepts)
	json.Unmarshal([]byte(entities), &c.LegalEntities)
	json.Unmarshal([]byte(citations), &c.Citations)

	vec := deserializeVector(blob)
	if vec == nil || len(vec) != len(query) {
		return nil, nil
	}
	return &ChunkMatch{Chunk: c, Score: cosine(query, vec)}, nil
}

// =============================================================================
// QUALITY METRICS
// =============================================================================

// Stats aggregates KB quality metrics for the stats command.
type Stats struct {
	TotalChunks     int            `json:"total_chunks"`
	DistinctCases   int            `json:"distinct_cases"`
	BySourceType    map[string]int `json:"by_source_type"`
	AvgQuality      float64        `json:"avg_content_quality"`
	AvgRelevance    float64        `json:"avg_legal_relevance"`
	AvgCompleteness float64        `json:"avg_completeness"`
	EmbeddedChunks  int            `json:"embedded_chunks"`
}

// GetStats computes aggregate quality metrics over the KB.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetStats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{BySourceType: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT source_case_id),
		       COALESCE(AVG(content_quality_score), 0),
		       COALESCE(AVG(legal_relevance_score), 0),
		       COALESCE(AVG(completeness_score), 0),
		       COUNT(embedding)
		FROM kb_chunks`).Scan(
		&stats.TotalChunks, &stats.DistinctCases,
		&stats.AvgQuality, &stats.AvgRelevance, &stats.AvgCompleteness,
		&stats.EmbeddedChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate KB stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT source_type, COUNT(*) FROM kb_chunks GROUP BY source_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count by source type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan source type count: %w", err)
		}
		stats.BySourceType[st] = n
	}
	return stats, rows.Err()
}
