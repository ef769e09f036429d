package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"qanoon/internal/casestore"
	"qanoon/internal/kbstore"
	"qanoon/internal/types"
)

// vecEngine returns fixed vectors per text; dims configurable so a test can
// force a mismatch with the store.
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

func newKB(t *testing.T, dim int) *kbstore.Store {
	t.Helper()
	kb, err := kbstore.Open(filepath.Join(t.TempDir(), "kb.db"), dim)
	if err != nil {
		t.Fatalf("kbstore.Open failed: %v", err)
	}
	t.Cleanup(func() { kb.Close() })
	return kb
}

func newCases(t *testing.T) *casestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.db")
	if err := casestore.CreateSchema(path); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	cs, err := casestore.Open(path)
	if err != nil {
		t.Fatalf("casestore.Open failed: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func cid(v int64) *int64 { return &v }

func seedChunks(t *testing.T, kb *kbstore.Store) {
	t.Helper()
	ctx := context.Background()

	meta := &types.KBChunk{
		SourceType:   types.SourceCaseMetadata,
		SourceID:     "case-1-meta",
		SourceCaseID: cid(1),
		ContentText:  "Case Number: T.A. 2/2023 Civil (SB)",
		CaseNumber:   "T.A. 2/2023 Civil (SB)",
		CaseTitle:    "Ali Khan vs State",
		Court:        "Islamabad High Court",
		LegalEntities: []types.LegalEntity{
			{Type: "advocates_petitioner", Value: "Mr. Saleem Raza"},
			{Type: "short_order", Value: "Bail granted"},
		},
	}
	if _, err := kb.UpsertChunk(ctx, meta, []float32{0, 0, 0, 1}); err != nil {
		t.Fatalf("seed meta chunk: %v", err)
	}

	// Judgment chunk with no structured metadata of its own.
	bare := &types.KBChunk{
		SourceType:          types.SourceJudgment,
		SourceID:            "case-1-j1",
		SourceCaseID:        cid(1),
		ContentText:         "The court considered bail in narcotics offences at length.",
		LegalDomain:         "criminal",
		LegalRelevanceScore: 0.9,
	}
	if _, err := kb.UpsertChunk(ctx, bare, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("seed bare chunk: %v", err)
	}

	other := &types.KBChunk{
		SourceType:          types.SourceJudgment,
		SourceID:            "case-2-j1",
		SourceCaseID:        cid(2),
		ContentText:         "Specific performance of the agreement to sell was decreed.",
		CaseNumber:          "C.S. 11/2021",
		CaseTitle:           "Bashir vs Iqbal",
		Court:               "Lahore High Court",
		LegalDomain:         "civil",
		LegalRelevanceScore: 0.4,
	}
	if _, err := kb.UpsertChunk(ctx, other, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("seed other chunk: %v", err)
	}
}

func TestRetrieve_DensePath(t *testing.T) {
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	r := New(kb, newCases(t), engine, 30)

	results, method, err := r.Retrieve(context.Background(), "bail in narcotics", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if method != types.MethodTwoStageQA {
		t.Errorf("method = %q, want two_stage_qa", method)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if !strings.Contains(results[0].Text, "narcotics") {
		t.Errorf("top result text = %q", results[0].Text)
	}
	// Scores descend.
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("results not in descending score order")
		}
	}
}

func TestRetrieve_EnrichmentFromMetadataChunk(t *testing.T) {
	// The bare judgment chunk inherits case fields and entity extras from
	// the case_metadata chunk.
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	r := New(kb, newCases(t), engine, 30)

	results, _, err := r.Retrieve(context.Background(), "bail", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	var enriched *types.RankedResult
	for i := range results {
		if results[i].CaseID != nil && *results[i].CaseID == 1 && strings.Contains(results[i].ID, "chunk") {
			if strings.Contains(results[i].Text, "narcotics") {
				enriched = &results[i]
				break
			}
		}
	}
	if enriched == nil {
		t.Fatal("judgment chunk not in results")
	}
	if enriched.CaseNumber != "T.A. 2/2023 Civil (SB)" {
		t.Errorf("case number not enriched: %q", enriched.CaseNumber)
	}
	if v, ok := enriched.Extra("advocates_petitioner"); !ok || v != "Mr. Saleem Raza" {
		t.Errorf("advocates extra not merged: %v", v)
	}
}

func TestRetrieve_StructuredSummaryPrepended(t *testing.T) {
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	r := New(kb, newCases(t), engine, 30)

	results, _, err := r.Retrieve(context.Background(), "bail", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, res := range results {
		if res.CaseID != nil && *res.CaseID == 1 && strings.Contains(res.Text, "narcotics") {
			if v, ok := res.Extra("structured_summary"); !ok {
				t.Error("structured_summary extra missing")
			} else if !strings.HasPrefix(res.Text, v.(string)) {
				t.Error("summary not prepended to text")
			}
			return
		}
	}
	t.Fatal("expected chunk not found")
}

func TestRetrieve_FilterPassthrough(t *testing.T) {
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	r := New(kb, newCases(t), engine, 30)

	results, _, err := r.Retrieve(context.Background(), "agreement",
		map[string]interface{}{"legal_domain": "civil"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, res := range results {
		if v, _ := res.Extra("legal_domain"); v != "civil" {
			t.Errorf("filter leaked non-civil result: %v", res)
		}
	}
}

func TestRetrieve_FallbackKBEmbed(t *testing.T) {
	// Engine emits 3-dim vectors against a 4-dim store: the dense path
	// fails, but lexical+embed ranking still works in a consistent space.
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 3, def: []float32{1, 0, 0}}
	r := New(kb, newCases(t), engine, 30)

	results, method, err := r.Retrieve(context.Background(), "narcotics", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if method != types.MethodFallbackQAKB {
		t.Errorf("method = %q, want fallback_qa_kb", method)
	}
	if len(results) == 0 {
		t.Fatal("no fallback results")
	}
}

func TestRetrieve_FallbackLexical(t *testing.T) {
	// Embedding down entirely: the last-resort lexical path serves.
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, fail: true}
	r := New(kb, newCases(t), engine, 30)

	results, method, err := r.Retrieve(context.Background(), "narcotics", nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if method != types.MethodFallbackDBSimple {
		t.Errorf("method = %q, want fallback_db_simple", method)
	}
	if len(results) == 0 {
		t.Fatal("no lexical results")
	}
	for _, res := range results {
		if res.Score < 0 || res.Score > 1 {
			t.Errorf("lexical score out of range: %f", res.Score)
		}
	}
}

func TestLexicalScore(t *testing.T) {
	if got := lexicalScore("bail bail bail", []string{"bail"}); got != 0.3 {
		t.Errorf("score = %f, want 0.3", got)
	}
	if got := lexicalScore(strings.Repeat("bail ", 50), []string{"bail"}); got != 1.0 {
		t.Errorf("score not capped: %f", got)
	}
	if got := lexicalScore("nothing here", []string{"bail"}); got != 0 {
		t.Errorf("score = %f, want 0", got)
	}
}

func TestCaseMetadataCache(t *testing.T) {
	kb := newKB(t, 4)
	seedChunks(t, kb)
	engine := &vecEngine{dims: 4, def: []float32{1, 0, 0, 0}}
	r := New(kb, newCases(t), engine, 30)
	ctx := context.Background()

	first, err := r.caseMetadata(ctx, 1)
	if err != nil || first == nil {
		t.Fatalf("caseMetadata: %v, %v", first, err)
	}
	second, err := r.caseMetadata(ctx, 1)
	if err != nil {
		t.Fatalf("cached caseMetadata failed: %v", err)
	}
	if second != first {
		t.Error("second lookup did not hit the cache")
	}

	missing, err := r.caseMetadata(ctx, 999)
	if err != nil {
		t.Fatalf("caseMetadata for missing case errored: %v", err)
	}
	if missing != nil {
		t.Error("expected nil metadata for unknown case")
	}
}
