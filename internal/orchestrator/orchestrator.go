// Package orchestrator is the public entry point for question answering. It
// coordinates analysis, exact-match short-circuiting, two-stage retrieval,
// diversification, and the active-case session lock, and hands ranked results
// to the (external) answer generator.
//
// Error policy: RetrieveForQA never returns an error. Failures in any stage
// are logged and degrade to an empty result list.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"qanoon/internal/analyzer"
	"qanoon/internal/diversify"
	"qanoon/internal/exactmatch"
	"qanoon/internal/kbstore"
	"qanoon/internal/logging"
	"qanoon/internal/rerank"
	"qanoon/internal/retrieval"
	"qanoon/internal/statute"
	"qanoon/internal/types"
)

const (
	defaultTopK       = 10
	defaultWorkerPool = 8
)

// Options tunes the pipeline. Zero values select defaults.
type Options struct {
	DiversityThreshold float64
	WorkerPoolSize     int
}

// Orchestrator wires the retrieval stages together. All dependencies are
// constructed once at process start and threaded through explicitly; the
// orchestrator holds no hidden globals.
type Orchestrator struct {
	matcher   *exactmatch.Matcher
	retriever *retrieval.Retriever
	reranker  *rerank.Reranker
	statutes  *statute.Engine
	kb        *kbstore.Store

	diversityThreshold float64
	workers            chan struct{}
}

// New creates an Orchestrator. statutes and kb may be nil; the statute
// surface and session persistence are then disabled.
func New(matcher *exactmatch.Matcher, retriever *retrieval.Retriever, reranker *rerank.Reranker, statutes *statute.Engine, kb *kbstore.Store, opts Options) *Orchestrator {
	if opts.DiversityThreshold <= 0 {
		opts.DiversityThreshold = diversify.DefaultThreshold
	}
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = defaultWorkerPool
	}
	return &Orchestrator{
		matcher:            matcher,
		retriever:          retriever,
		reranker:           reranker,
		statutes:           statutes,
		kb:                 kb,
		diversityThreshold: opts.DiversityThreshold,
		workers:            make(chan struct{}, opts.WorkerPoolSize),
	}
}

// RetrieveForQA answers a single query with no session context.
func (o *Orchestrator) RetrieveForQA(ctx context.Context, query string, topK int, filters map[string]interface{}) []types.RankedResult {
	return o.RetrieveForSession(ctx, nil, query, topK, filters)
}

// RetrieveForSession runs the full pipeline for one query, honoring the
// session's active-case lock when set. The session, if non-nil, is updated
// in place with the new turn and persisted when a KB store is configured.
func (o *Orchestrator) RetrieveForSession(ctx context.Context, sess *types.ActiveSession, query string, topK int, filters map[string]interface{}) []types.RankedResult {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryOrchestrator, "RetrieveForQA")
	defer timer.StopWithInfo()

	if !o.acquireWorker(ctx) {
		logging.Orchestrator("Query rejected, context done before a worker was free: %v", ctx.Err())
		return []types.RankedResult{}
	}
	defer o.releaseWorker()

	if topK <= 0 {
		topK = defaultTopK
	}

	results, method := o.runPipeline(ctx, sess, query, topK, filters)
	annotate(results, method, time.Since(start))
	o.recordTurn(ctx, sess, query, method, results)

	logging.Orchestrator("Query %q served %d result(s) via %s in %dms",
		query, len(results), method, time.Since(start).Milliseconds())
	return results
}

func (o *Orchestrator) runPipeline(ctx context.Context, sess *types.ActiveSession, query string, topK int, filters map[string]interface{}) ([]types.RankedResult, string) {
	analysis := analyzer.Analyze(query)

	// Active-case lock: a bound session with no fresh hint or explicit
	// entities stays on the bound case.
	if sess != nil && sess.BoundCaseID != nil && analysis.CaseTitleHint == "" && !hasExplicitEntities(analysis) {
		if result := o.lockedCaseResult(ctx, *sess.BoundCaseID); result != nil {
			return []types.RankedResult{*result}, types.MethodActiveCaseLock
		}
		// Lock miss falls through to normal retrieval.
	}

	// Exact-match dominance: any hit returns alone, never mixed with
	// semantic candidates.
	if analysis.CaseTitleHint != "" {
		matches, err := o.matcher.Match(ctx, analysis.CaseTitleHint)
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("Exact match failed for hint %q: %v", analysis.CaseTitleHint, err)
		} else if len(matches) > 0 {
			return matches, types.MethodExactCaseNumber
		}
	}
	if ctx.Err() != nil {
		logging.Orchestrator("Query %q cancelled before retrieval: %v", query, ctx.Err())
		return []types.RankedResult{}, ""
	}

	candidates, method, err := o.retriever.Retrieve(ctx, query, filters)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("Retrieval failed for %q: %v", query, err)
		return []types.RankedResult{}, ""
	}
	if ctx.Err() != nil {
		logging.Orchestrator("Query %q cancelled after stage 1: %v", query, ctx.Err())
		return []types.RankedResult{}, ""
	}

	reranked := false
	if len(candidates) >= 2 && o.reranker != nil {
		candidates = o.reranker.Rerank(ctx, query, candidates)
		// A passthrough (encoder down) leaves every normalized score zero;
		// a successful pass always produces at least one non-zero.
		for i := range candidates {
			if candidates[i].NormalizedRerankScore != 0 {
				reranked = true
				break
			}
		}
	}
	if ctx.Err() != nil {
		logging.Orchestrator("Query %q cancelled after reranking: %v", query, ctx.Err())
		return []types.RankedResult{}, ""
	}

	results := diversify.Apply(candidates, topK, o.diversityThreshold, analysis.CaseTitleHint)

	// Fused score becomes the authoritative score once the reranker ran.
	if reranked {
		for i := range results {
			results[i].Score = results[i].CombinedScore
		}
	}
	return results, method
}

func (o *Orchestrator) lockedCaseResult(ctx context.Context, caseID int64) *types.RankedResult {
	result, err := o.matcher.DossierForCase(ctx, caseID)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Active-case lock lookup failed for case %d: %v", caseID, err)
		return nil
	}
	result.MatchType = types.MethodActiveCaseLock
	return result
}

// hasExplicitEntities reports whether the analysis carries entities specific
// enough to override the session lock.
func hasExplicitEntities(a analyzer.Analysis) bool {
	for _, e := range a.LegalEntities {
		switch e.Type {
		case "case_number", "citation", "statute", "court":
			return true
		}
	}
	return false
}

// annotate stamps qa_rank 1..n, the method tag, and the elapsed time.
func annotate(results []types.RankedResult, method string, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	for i := range results {
		results[i].QARank = i + 1
		results[i].QARelevanceScore = results[i].Score
		results[i].RetrievalMethod = method
		results[i].RetrievalTimeMS = ms
	}
}

// recordTurn appends the turn to the session and rebinds the active case
// after an authoritative single-case answer.
func (o *Orchestrator) recordTurn(ctx context.Context, sess *types.ActiveSession, query, method string, results []types.RankedResult) {
	if sess == nil {
		return
	}

	turn := types.SessionTurn{Question: query, Method: method, AskedAt: time.Now()}
	if len(results) > 0 && results[0].CaseID != nil {
		turn.CaseID = results[0].CaseID
		if method == types.MethodExactCaseNumber || method == types.MethodActiveCaseLock {
			sess.BoundCaseID = results[0].CaseID
		}
	}
	sess.History = append(sess.History, turn)

	if o.kb != nil {
		if err := o.kb.SaveSession(ctx, sess); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("Session save failed for %s: %v", sess.SessionID, err)
		}
	}
}

// =============================================================================
// WORKER POOL
// =============================================================================

func (o *Orchestrator) acquireWorker(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case o.workers <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) releaseWorker() { <-o.workers }

// RetrieveBatch serves several queries concurrently, bounded by the worker
// pool size. Results align with the input order.
func (o *Orchestrator) RetrieveBatch(ctx context.Context, queries []string, topK int, filters map[string]interface{}) [][]types.RankedResult {
	out := make([][]types.RankedResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(o.workers))
	for i, q := range queries {
		g.Go(func() error {
			out[i] = o.RetrieveForQA(gctx, q, topK, filters)
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()
	return out
}

// =============================================================================
// LAW INFORMATION VARIANT
// =============================================================================

// LawInfo serves statute-shaped queries from the keyword engine instead of
// the case pipeline.
func (o *Orchestrator) LawInfo(query string) []statute.Result {
	if o.statutes == nil {
		return nil
	}
	return o.statutes.Search(query, statute.SearchAll)
}
