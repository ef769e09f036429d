package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"qanoon/internal/casestore"
	"qanoon/internal/exactmatch"
	"qanoon/internal/kbstore"
	"qanoon/internal/rerank"
	"qanoon/internal/retrieval"
	"qanoon/internal/statute"
	"qanoon/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FIXTURES
// =============================================================================

type vecEngine struct {
	dims int
	vecs map[string][]float32
	def  []float32
	fail bool
}

func (e *vecEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return e.def, nil
}

func (e *vecEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *vecEngine) Dimensions() int { return e.dims }
func (e *vecEngine) Name() string    { return "fixture" }

type fixedScorer struct {
	scores []float64
	err    error
}

func (s *fixedScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[:len(passages)], nil
}

func seedCases(t *testing.T) *casestore.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cases.db")
	if err := casestore.CreateSchema(path); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open fixture db: %v", err)
	}
	stmts := []string{
		`INSERT INTO cases (id, case_number, title, court, status)
		 VALUES (1, 'T.A. 2/2023 Civil (SB)', 'Ali Khan vs State', 'Islamabad High Court', 'pending')`,
		`INSERT INTO cases (id, case_number, title, court, status)
		 VALUES (42, 'Crl. Misc. 5/2024', 'Bashir Ahmed vs The State', 'Lahore High Court', 'pending')`,
		`INSERT INTO case_details (case_id, advocates_petitioner, advocates_respondent, short_order)
		 VALUES (42, 'Mr. Saleem Raza', 'Addl. AG', 'Bail granted')`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("fixture insert failed: %v", err)
		}
	}
	db.Close()

	store, err := casestore.Open(path)
	if err != nil {
		t.Fatalf("casestore.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newKB(t *testing.T) *kbstore.Store {
	t.Helper()
	kb, err := kbstore.Open(filepath.Join(t.TempDir(), "kb.db"), 4)
	if err != nil {
		t.Fatalf("kbstore.Open failed: %v", err)
	}
	t.Cleanup(func() { kb.Close() })
	return kb
}

const (
	narcoticsText  = "The court granted bail in narcotics offences under the control of narcotic substances act"
	narcoticsDup   = narcoticsText + " today"
	preArrestText  = "Pre arrest bail requires extraordinary grounds distinct from post arrest considerations"
	civilText      = "Specific performance of the agreement to sell immovable property was decreed"
)

func seedChunks(t *testing.T, kb *kbstore.Store) {
	t.Helper()
	ctx := context.Background()

	chunks := []struct {
		id   string
		text string
		vec  []float32
	}{
		{"j1", narcoticsText, []float32{1, 0, 0, 0}},
		{"j2", narcoticsDup, []float32{0.95, 0.05, 0, 0}},
		{"j3", preArrestText, []float32{0.8, 0.2, 0, 0}},
		{"j4", civilText, []float32{0, 1, 0, 0}},
	}
	for i, c := range chunks {
		caseID := int64(100 + i)
		chunk := &types.KBChunk{
			SourceType:   types.SourceJudgment,
			SourceID:     c.id,
			SourceCaseID: &caseID,
			ContentText:  c.text,
		}
		if _, err := kb.UpsertChunk(ctx, chunk, c.vec); err != nil {
			t.Fatalf("seed chunk %s: %v", c.id, err)
		}
	}
}

func newOrchestrator(t *testing.T, kb *kbstore.Store, cases *casestore.Store, engine *vecEngine, scorer rerank.Scorer) *Orchestrator {
	t.Helper()
	retriever := retrieval.New(kb, cases, engine, 30)
	reranker := rerank.New(scorer, 0.7, 12, 8)
	return New(exactmatch.New(cases), retriever, reranker, nil, kb, Options{})
}

func jaccardTokens(a, b string) float64 {
	setA := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(a)) {
		setA[w] = true
	}
	setB := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(b)) {
		setB[w] = true
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// =============================================================================
// PIPELINE TESTS
// =============================================================================

func TestRetrieveForQA_ExactMatchShortCircuit(t *testing.T) {
	// A case-number hint returns only the dossier, never semantic candidates.
	kb := newKB(t)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1, 1, 1, 1}})

	results := o.RetrieveForQA(context.Background(), "details for T.A. 2/2023 Civil (SB)", 10, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.RetrievalMethod != types.MethodExactCaseNumber {
		t.Errorf("method = %q, want exact_case_number", r.RetrievalMethod)
	}
	if r.QARank != 1 || r.Score != 1.0 {
		t.Errorf("rank/score = %d/%f", r.QARank, r.Score)
	}
	if !strings.Contains(r.Text, "Case Number: T.A. 2/2023 Civil (SB)") {
		t.Errorf("dossier text missing case number:\n%s", r.Text)
	}
}

func TestRetrieveForQA_TwoStageSemantic(t *testing.T) {
	// Semantic path: dense recall, rerank fusion, diversity. Near-duplicate
	// passages never sit next to each other in the output.
	kb := newKB(t)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	scorer := &fixedScorer{scores: []float64{0.9, 0.8, 0.7, 0.6}}
	o := newOrchestrator(t, kb, seedCases(t), engine, scorer)

	results := o.RetrieveForQA(context.Background(), "bail in narcotics offences under PPC", 3, nil)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.RetrievalMethod != types.MethodTwoStageQA {
			t.Errorf("result %d method = %q, want two_stage_qa", i, r.RetrievalMethod)
		}
		if r.QARank != i+1 {
			t.Errorf("result %d qa_rank = %d, want %d", i, r.QARank, i+1)
		}
		if r.RetrievalTimeMS < 0 {
			t.Errorf("result %d negative elapsed time", i)
		}
	}
	for i := 1; i < len(results); i++ {
		if sim := jaccardTokens(results[i-1].Text, results[i].Text); sim > 0.8 {
			t.Errorf("consecutive results %d/%d too similar: %.3f", i-1, i, sim)
		}
	}
	// The near-duplicate of the top passage was suppressed.
	for _, r := range results {
		if strings.HasSuffix(r.Text, "today") {
			t.Error("near-duplicate passage survived diversification")
		}
	}
	// Fused score became the authoritative score.
	if results[0].Score != results[0].CombinedScore {
		t.Errorf("score %f not normalized to fused %f", results[0].Score, results[0].CombinedScore)
	}
}

func TestRetrieveForQA_SessionLock(t *testing.T) {
	// Turn 1 binds the session to the matched case; turn 2 without a fresh
	// hint stays locked to it.
	kb := newKB(t)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1}})

	sess := &types.ActiveSession{SessionID: uuid.NewString()}
	ctx := context.Background()

	first := o.RetrieveForSession(ctx, sess, "details for Crl. Misc. 5/2024", 10, nil)
	if len(first) != 1 || first[0].RetrievalMethod != types.MethodExactCaseNumber {
		t.Fatalf("turn 1 = %+v", first)
	}
	if sess.BoundCaseID == nil || *sess.BoundCaseID != 42 {
		t.Fatalf("session not bound to case 42: %v", sess.BoundCaseID)
	}

	second := o.RetrieveForSession(ctx, sess, "who are the advocates", 10, nil)
	if len(second) != 1 {
		t.Fatalf("turn 2 returned %d results, want 1", len(second))
	}
	r := second[0]
	if r.RetrievalMethod != types.MethodActiveCaseLock {
		t.Errorf("turn 2 method = %q, want active_case_lock", r.RetrievalMethod)
	}
	if r.CaseID == nil || *r.CaseID != 42 {
		t.Errorf("turn 2 case id = %v, want 42", r.CaseID)
	}
	if v, ok := r.Extra("advocates_petitioner"); !ok || v != "Mr. Saleem Raza" {
		t.Errorf("advocates extra = %v", v)
	}
	if len(sess.History) != 2 {
		t.Errorf("history length = %d, want 2", len(sess.History))
	}

	// The session persisted through the KB store.
	saved, err := kb.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if saved == nil || saved.BoundCaseID == nil || *saved.BoundCaseID != 42 {
		t.Errorf("persisted session = %+v", saved)
	}
}

func TestRetrieveForQA_FreshHintOverridesLock(t *testing.T) {
	kb := newKB(t)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1}})

	bound := int64(1)
	sess := &types.ActiveSession{SessionID: uuid.NewString(), BoundCaseID: &bound}

	results := o.RetrieveForSession(context.Background(), sess, "status of Crl. Misc. 5/2024", 10, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].RetrievalMethod != types.MethodExactCaseNumber {
		t.Errorf("method = %q, want exact_case_number", results[0].RetrievalMethod)
	}
	if sess.BoundCaseID == nil || *sess.BoundCaseID != 42 {
		t.Errorf("session not rebound to the fresh case: %v", sess.BoundCaseID)
	}
}

func TestRetrieveForQA_EmptyQuery(t *testing.T) {
	kb := newKB(t)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1}})

	results := o.RetrieveForQA(context.Background(), "", 10, nil)
	if len(results) != 0 {
		t.Errorf("empty query returned %d results", len(results))
	}
}

func TestRetrieveForQA_NeverRaises(t *testing.T) {
	// Embedding down and the KB store closed: every path fails, the caller
	// still gets an empty list.
	kb := newKB(t)
	engine := &vecEngine{dims: 4, fail: true}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1}})
	kb.Close()

	results := o.RetrieveForQA(context.Background(), "bail in narcotics", 10, nil)
	if len(results) != 0 {
		t.Errorf("got %d results from a dead pipeline", len(results))
	}
}

func TestRetrieveForQA_CancelledContext(t *testing.T) {
	kb := newKB(t)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{1, 1, 1, 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := o.RetrieveForQA(ctx, "bail", 10, nil)
	if len(results) != 0 {
		t.Errorf("cancelled query returned %d results", len(results))
	}
}

func TestRetrieveBatch(t *testing.T) {
	kb := newKB(t)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := newOrchestrator(t, kb, seedCases(t), engine, &fixedScorer{scores: []float64{0.9, 0.8, 0.7, 0.6}})

	queries := []string{"bail in narcotics", "specific performance agreement", "pre arrest bail"}
	out := o.RetrieveBatch(context.Background(), queries, 3, nil)
	if len(out) != len(queries) {
		t.Fatalf("got %d result sets, want %d", len(out), len(queries))
	}
	for i, results := range out {
		if len(results) == 0 {
			t.Errorf("query %d returned no results", i)
			continue
		}
		for j, r := range results {
			if r.QARank != j+1 {
				t.Errorf("query %d result %d qa_rank = %d", i, j, r.QARank)
			}
		}
	}
}

func TestLawInfo(t *testing.T) {
	corpus := filepath.Join(t.TempDir(), "statutes.yaml")
	data := `statutes:
  - slug: theft-ppc-379
    title: Theft
    sections: ["PPC 379"]
    punishment: "Up to 3 years"
    jurisdiction: Pakistan
    tags: [theft, stolen, property]
    active: true
`
	if err := os.WriteFile(corpus, []byte(data), 0644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	engine, err := statute.New(corpus)
	if err != nil {
		t.Fatalf("statute.New failed: %v", err)
	}

	kb := newKB(t)
	vec := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	o := New(exactmatch.New(seedCases(t)), retrieval.New(kb, nil, vec, 30),
		rerank.New(nil, 0.7, 12, 8), engine, kb, Options{})

	results := o.LawInfo("theft")
	if len(results) == 0 {
		t.Fatal("no statute results")
	}
	if results[0].Entry.Slug != "theft-ppc-379" {
		t.Errorf("top slug = %q", results[0].Entry.Slug)
	}

	bare := New(exactmatch.New(seedCases(t)), retrieval.New(kb, nil, vec, 30),
		rerank.New(nil, 0.7, 12, 8), nil, kb, Options{})
	if out := bare.LawInfo("theft"); out != nil {
		t.Errorf("nil engine returned %v", out)
	}
}
