// Package retrieval implements stage-1 dense recall: query embedding, vector
// search over the KB, case-metadata enrichment, and the lexical fallback
// chain used when the vector index or the embedding backend is unavailable.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"qanoon/internal/casestore"
	"qanoon/internal/embedding"
	"qanoon/internal/kbstore"
	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// RETRIEVER
// =============================================================================

const (
	defaultInitialK  = 30
	metaCacheLimit   = 512
	lexicalScoreBase = 10.0
)

// Retriever runs dense recall. Shared across queries; the enrichment cache
// is concurrent-read with singleflight-deduplicated population.
type Retriever struct {
	kb       *kbstore.Store
	cases    *casestore.Store
	engine   embedding.Engine
	initialK int

	group     singleflight.Group
	cacheMu   sync.RWMutex
	metaCache map[int64]*types.KBChunk
}

// New creates a Retriever. initialK <= 0 selects the default of 30.
func New(kb *kbstore.Store, cases *casestore.Store, engine embedding.Engine, initialK int) *Retriever {
	if initialK <= 0 {
		initialK = defaultInitialK
	}
	return &Retriever{
		kb:        kb,
		cases:     cases,
		engine:    engine,
		initialK:  initialK,
		metaCache: make(map[int64]*types.KBChunk),
	}
}

// Retrieve returns up to initialK candidates for a query along with the
// retrieval-method tag describing which path produced them. The primary path
// is dense vector search; on failure the lexical fallback chain runs.
func (r *Retriever) Retrieve(ctx context.Context, query string, filters map[string]interface{}) ([]types.RankedResult, string, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.StopWithInfo()

	results, err := r.denseRetrieve(ctx, query, filters)
	if err == nil {
		return results, types.MethodTwoStageQA, nil
	}
	logging.Get(logging.CategoryRetrieval).Warn("Dense retrieval failed, entering fallback chain: %v", err)

	if results, err := r.fallbackKBEmbed(ctx, query); err == nil && len(results) > 0 {
		return results, types.MethodFallbackQAKB, nil
	} else if err != nil {
		logging.RetrievalDebug("KB embed fallback failed: %v", err)
	}

	if results, err := r.fallbackDocTextEmbed(ctx, query); err == nil && len(results) > 0 {
		return results, types.MethodFallbackDBEmbed, nil
	} else if err != nil {
		logging.RetrievalDebug("Document-text embed fallback failed: %v", err)
	}

	results, err = r.fallbackLexical(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("all retrieval paths failed: %w", err)
	}
	return results, types.MethodFallbackDBSimple, nil
}

// =============================================================================
// PRIMARY PATH
// =============================================================================

func (r *Retriever) denseRetrieve(ctx context.Context, query string, filters map[string]interface{}) ([]types.RankedResult, error) {
	vec, err := r.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	matches, err := r.kb.QueryByVector(ctx, vec, r.initialK, filters)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	logging.Retrieval("Dense recall: %d candidates for %q", len(matches), query)

	results := make([]types.RankedResult, 0, len(matches))
	for _, m := range matches {
		result := chunkToResult(m.Chunk, m.Score)
		r.enrich(ctx, &result, m.Chunk)
		attachStructuredSummary(&result)
		results = append(results, result)
	}
	return results, nil
}

func chunkToResult(c types.KBChunk, score float64) types.RankedResult {
	result := types.RankedResult{
		ID:         fmt.Sprintf("chunk-%d", c.ID),
		Score:      score,
		Text:       c.ContentText,
		CaseID:     c.SourceCaseID,
		CaseNumber: c.CaseNumber,
		CaseTitle:  c.CaseTitle,
		Court:      c.Court,
	}
	result.SetExtra("source_type", string(c.SourceType))
	if c.LegalDomain != "" {
		result.SetExtra("legal_domain", c.LegalDomain)
	}
	for _, e := range c.LegalEntities {
		result.SetExtra(e.Type, e.Value)
	}
	return result
}

// =============================================================================
// ENRICHMENT
// =============================================================================

// enrich fills structured fields from the case_metadata chunk when the match
// lacks them. Lookups are cached per case id and deduplicated under
// concurrent load via singleflight.
func (r *Retriever) enrich(ctx context.Context, result *types.RankedResult, c types.KBChunk) {
	if c.SourceCaseID == nil {
		return
	}
	if result.CaseNumber != "" && result.CaseTitle != "" && result.Court != "" {
		return
	}
	caseID := *c.SourceCaseID

	meta, err := r.caseMetadata(ctx, caseID)
	if err != nil {
		// An enrichment miss is not an error; the match keeps its metadata.
		logging.RetrievalDebug("Enrichment miss for case %d: %v", caseID, err)
		return
	}
	if meta == nil {
		return
	}

	if result.CaseNumber == "" {
		result.CaseNumber = meta.CaseNumber
	}
	if result.CaseTitle == "" {
		result.CaseTitle = meta.CaseTitle
	}
	if result.Court == "" {
		result.Court = meta.Court
	}
	for _, e := range meta.LegalEntities {
		if _, ok := result.Extra(e.Type); !ok {
			result.SetExtra(e.Type, e.Value)
		}
	}
}

func (r *Retriever) caseMetadata(ctx context.Context, caseID int64) (*types.KBChunk, error) {
	r.cacheMu.RLock()
	cached, ok := r.metaCache[caseID]
	r.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(fmt.Sprintf("case-%d", caseID), func() (interface{}, error) {
		meta, err := r.kb.GetCaseMetadataChunk(ctx, caseID)
		if err != nil {
			return nil, err
		}
		r.cacheMu.Lock()
		if len(r.metaCache) >= metaCacheLimit {
			// Simple bounded cache: drop everything rather than track LRU.
			r.metaCache = make(map[int64]*types.KBChunk)
		}
		r.metaCache[caseID] = meta
		r.cacheMu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.KBChunk), nil
}

// attachStructuredSummary synthesizes a concise summary from the structured
// extras and prepends it to the text used downstream.
func attachStructuredSummary(result *types.RankedResult) {
	var parts []string
	addStr := func(label, key string) {
		if v, ok := result.Extra(key); ok {
			if s, ok := v.(string); ok && s != "" {
				parts = append(parts, label+": "+s)
			}
		}
	}

	if result.CaseNumber != "" {
		parts = append(parts, "Case: "+result.CaseNumber)
	}
	if result.CaseTitle != "" {
		parts = append(parts, "Title: "+result.CaseTitle)
	}
	if result.Court != "" {
		parts = append(parts, "Court: "+result.Court)
	}
	addStr("Status", "status")
	addStr("Bench", "bench")
	addStr("Advocates (Petitioner)", "advocates_petitioner")
	addStr("Advocates (Respondent)", "advocates_respondent")
	addStr("Short Order", "short_order")
	addStr("FIR", "fir_number")

	if len(parts) == 0 {
		return
	}
	summary := strings.Join(parts, " | ")
	result.SetExtra("structured_summary", summary)
	result.Text = summary + "\n\n" + result.Text
}

// =============================================================================
// FALLBACK CHAIN
// =============================================================================

// fallbackKBEmbed: lexical KB search, then batch-embed the candidates and
// rank by cosine against the query embedding.
func (r *Retriever) fallbackKBEmbed(ctx context.Context, query string) ([]types.RankedResult, error) {
	chunks, err := r.kb.SearchText(ctx, query, r.initialK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ContentText
	}
	scores, err := r.embedAndRank(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	results := make([]types.RankedResult, 0, len(chunks))
	for _, s := range scores {
		result := chunkToResult(chunks[s.Index], s.Similarity)
		attachStructuredSummary(&result)
		results = append(results, result)
	}
	return results, nil
}

// fallbackDocTextEmbed: same ranking over raw document texts.
func (r *Retriever) fallbackDocTextEmbed(ctx context.Context, query string) ([]types.RankedResult, error) {
	hits, err := r.cases.SearchDocumentTexts(ctx, query, r.initialK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	scores, err := r.embedAndRank(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	results := make([]types.RankedResult, 0, len(hits))
	for _, s := range scores {
		hit := hits[s.Index]
		caseID := hit.CaseID
		result := types.RankedResult{
			ID:     fmt.Sprintf("doctext-%d-%d", hit.CaseID, s.Index),
			Score:  s.Similarity,
			Text:   hit.Text,
			CaseID: &caseID,
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Retriever) embedAndRank(ctx context.Context, query string, texts []string) ([]embedding.SimilarityResult, error) {
	queryVec, err := r.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	// Candidates embed in one batch; the disk cache absorbs repeats.
	vecs, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return embedding.FindTopK(queryVec, vecs, len(texts))
}

// fallbackLexical: plain substring search scored by normalized match count.
// The last resort when no embedding backend is reachable.
func (r *Retriever) fallbackLexical(ctx context.Context, query string) ([]types.RankedResult, error) {
	chunks, err := r.kb.SearchText(ctx, query, r.initialK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		// Individual terms may still hit where the whole phrase does not.
		for _, word := range strings.Fields(query) {
			if len(word) < 4 {
				continue
			}
			more, err := r.kb.SearchText(ctx, word, r.initialK)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, more...)
			if len(chunks) >= r.initialK {
				break
			}
		}
	}

	words := strings.Fields(strings.ToLower(query))
	seen := make(map[int64]bool)
	var results []types.RankedResult
	for _, c := range chunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		result := chunkToResult(c, lexicalScore(c.ContentText, words))
		attachStructuredSummary(&result)
		results = append(results, result)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > r.initialK {
		results = results[:r.initialK]
	}
	return results, nil
}

// lexicalScore is match-count / 10, capped at 1.0.
func lexicalScore(text string, queryWords []string) float64 {
	lower := strings.ToLower(text)
	matches := 0
	for _, w := range queryWords {
		matches += strings.Count(lower, w)
	}
	score := float64(matches) / lexicalScoreBase
	if score > 1.0 {
		score = 1.0
	}
	return score
}
