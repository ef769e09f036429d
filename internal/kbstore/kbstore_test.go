package kbstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"qanoon/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "kb.db"), 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func caseID(id int64) *int64 { return &id }

func testChunk(sourceID string, cid int64) *types.KBChunk {
	return &types.KBChunk{
		SourceType:          types.SourceJudgment,
		SourceID:            sourceID,
		SourceCaseID:        caseID(cid),
		ContentText:         "The petitioner seeks bail under section 497 CrPC in " + sourceID,
		Court:               "Islamabad High Court",
		CaseNumber:          "T.A. 2/2023 Civil (SB)",
		CaseTitle:           "Ali Khan vs State",
		LegalDomain:         "criminal",
		LegalRelevanceScore: 0.8,
	}
}

func TestUpsertChunk_InsertThenUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	chunk := testChunk("doc1-p1", 1)
	id, err := store.UpsertChunk(ctx, chunk, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}
	if id == 0 {
		t.Fatal("chunk id not assigned")
	}
	if !chunk.IsProcessed {
		t.Error("IsProcessed not forced true")
	}
	if chunk.ContentHash == "" {
		t.Error("ContentHash not computed")
	}

	// Same source key upserts in place.
	chunk2 := testChunk("doc1-p1", 1)
	chunk2.ContentText = "Updated text for the same source"
	id2, err := store.UpsertChunk(ctx, chunk2, []float32{0, 1, 0, 0})
	if err != nil {
		t.Fatalf("second UpsertChunk failed: %v", err)
	}
	if id2 != id {
		t.Errorf("upsert created a new row: %d != %d", id2, id)
	}

	got, err := store.GetChunk(ctx, id)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if got.ContentText != "Updated text for the same source" {
		t.Errorf("content not updated: %q", got.ContentText)
	}
}

func TestUpsertChunk_DimensionMismatch(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.UpsertChunk(context.Background(), testChunk("d", 1), []float32{1, 2}); err == nil {
		t.Error("expected error for wrong embedding dimension")
	}
}

func TestHashContent_Deterministic(t *testing.T) {
	a := HashContent(types.SourceJudgment, "x", "text")
	b := HashContent(types.SourceJudgment, "x", "text")
	c := HashContent(types.SourceOrder, "x", "text")
	if a != b {
		t.Error("hash not deterministic")
	}
	if a == c {
		t.Error("hash ignores source type")
	}
}

func TestDeleteByCase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"a", "b"} {
		if _, err := store.UpsertChunk(ctx, testChunk(src, 7), nil); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}
	if _, err := store.UpsertChunk(ctx, testChunk("other", 8), nil); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	if err := store.DeleteByCase(ctx, 7); err != nil {
		t.Fatalf("DeleteByCase failed: %v", err)
	}

	n, err := store.CountChunksByCase(ctx, 7)
	if err != nil {
		t.Fatalf("CountChunksByCase failed: %v", err)
	}
	if n != 0 {
		t.Errorf("case 7 still has %d chunks", n)
	}
	n, _ = store.CountChunksByCase(ctx, 8)
	if n != 1 {
		t.Errorf("case 8 lost its chunk")
	}
}

func TestQueryByVector_RanksByCosine(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	vecs := map[string][]float32{
		"exact":      {1, 0, 0, 0},
		"close":      {0.9, 0.1, 0, 0},
		"orthogonal": {0, 0, 1, 0},
	}
	for src, v := range vecs {
		if _, err := store.UpsertChunk(ctx, testChunk(src, 1), v); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}

	matches, err := store.QueryByVector(ctx, []float32{1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("QueryByVector failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Chunk.SourceID != "exact" {
		t.Errorf("top match = %q, want exact", matches[0].Chunk.SourceID)
	}
	if matches[1].Chunk.SourceID != "close" {
		t.Errorf("second match = %q, want close", matches[1].Chunk.SourceID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not in descending score order")
	}
}

func TestQueryByVector_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	crim := testChunk("crim", 1)
	crim.LegalDomain = "criminal"
	civil := testChunk("civil", 2)
	civil.LegalDomain = "civil"
	for _, c := range []*types.KBChunk{crim, civil} {
		if _, err := store.UpsertChunk(ctx, c, []float32{1, 0, 0, 0}); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}

	matches, err := store.QueryByVector(ctx, []float32{1, 0, 0, 0}, 10,
		map[string]interface{}{"legal_domain": "civil"})
	if err != nil {
		t.Fatalf("QueryByVector failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.SourceID != "civil" {
		t.Fatalf("filter not applied: %v", matches)
	}

	// Unsupported filters drop with a warning instead of failing.
	matches, err = store.QueryByVector(ctx, []float32{1, 0, 0, 0}, 10,
		map[string]interface{}{"moon_phase": "full"})
	if err != nil {
		t.Fatalf("QueryByVector with unsupported filter failed: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("unsupported filter restricted results: got %d", len(matches))
	}
}

func TestQueryByVector_WrongDimension(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.QueryByVector(context.Background(), []float32{1, 0}, 5, nil); err == nil {
		t.Error("expected error for wrong query dimension")
	}
}

func TestSearchText_OrdersByRelevance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	low := testChunk("low", 1)
	low.LegalRelevanceScore = 0.2
	high := testChunk("high", 2)
	high.LegalRelevanceScore = 0.9
	for _, c := range []*types.KBChunk{low, high} {
		if _, err := store.UpsertChunk(ctx, c, nil); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}

	got, err := store.SearchText(ctx, "BAIL", 10)
	if err != nil {
		t.Fatalf("SearchText failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].SourceID != "high" {
		t.Errorf("first result = %q, want high-relevance chunk", got[0].SourceID)
	}
}

func TestGetCaseMetadataChunk(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	meta := testChunk("case-1-meta", 1)
	meta.SourceType = types.SourceCaseMetadata
	if _, err := store.UpsertChunk(ctx, meta, nil); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	got, err := store.GetCaseMetadataChunk(ctx, 1)
	if err != nil {
		t.Fatalf("GetCaseMetadataChunk failed: %v", err)
	}
	if got == nil || got.SourceID != "case-1-meta" {
		t.Fatalf("got %v, want metadata chunk", got)
	}

	got, err = store.GetCaseMetadataChunk(ctx, 99)
	if err != nil {
		t.Fatalf("GetCaseMetadataChunk failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for case without metadata chunk")
	}
}

func TestProcessingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	done, err := store.IsCaseProcessed(ctx, 5)
	if err != nil {
		t.Fatalf("IsCaseProcessed failed: %v", err)
	}
	if done {
		t.Error("unprocessed case reported processed")
	}

	entry := ProcessingEntry{
		CaseID: 5, ChunkCount: 12, TermsExtracted: 7,
		TextHash: "abc123", RulesVersion: "v1",
		ProcessingTimeMS: 40, Successful: true,
	}
	if err := store.RecordProcessing(ctx, entry); err != nil {
		t.Fatalf("RecordProcessing failed: %v", err)
	}
	done, _ = store.IsCaseProcessed(ctx, 5)
	if !done {
		t.Error("processed case not reported")
	}
	got, err := store.GetProcessingEntry(ctx, 5)
	if err != nil {
		t.Fatalf("GetProcessingEntry failed: %v", err)
	}
	if got == nil || got.TextHash != "abc123" || got.TermsExtracted != 7 {
		t.Errorf("entry round-trip mismatch: %+v", got)
	}

	// A failed run does not count as processed.
	entry.Successful = false
	if err := store.RecordProcessing(ctx, entry); err != nil {
		t.Fatalf("RecordProcessing (failed run) errored: %v", err)
	}
	done, _ = store.IsCaseProcessed(ctx, 5)
	if done {
		t.Error("failed run reported as processed")
	}
	entry.Successful = true
	if err := store.RecordProcessing(ctx, entry); err != nil {
		t.Fatalf("RecordProcessing failed: %v", err)
	}

	if err := store.ClearCaseProcessed(ctx, 5); err != nil {
		t.Fatalf("ClearCaseProcessed failed: %v", err)
	}
	done, _ = store.IsCaseProcessed(ctx, 5)
	if done {
		t.Error("cleared case still reported processed")
	}
}

func TestTermsAndOccurrences(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertTerm(ctx, types.LegalTerm{
		TermType: "section", Canonical: "s. 302 PPC", StatuteCode: "ppc", SectionNum: "302",
	})
	if err != nil {
		t.Fatalf("UpsertTerm failed: %v", err)
	}
	id2, err := store.UpsertTerm(ctx, types.LegalTerm{TermType: "section", Canonical: "s. 302 PPC"})
	if err != nil {
		t.Fatalf("second UpsertTerm failed: %v", err)
	}
	if id2 != id {
		t.Errorf("duplicate term got new id: %d != %d", id2, id)
	}

	occ := types.TermOccurrence{
		TermID: id, CaseID: 1, StartChar: 10, EndChar: 22,
		SurfaceText: "section 302 PPC", Confidence: 0.95, SourceRule: "section_pattern",
	}
	if err := store.AddOccurrence(ctx, occ); err != nil {
		t.Fatalf("AddOccurrence failed: %v", err)
	}
	// Duplicate span is ignored.
	if err := store.AddOccurrence(ctx, occ); err != nil {
		t.Fatalf("duplicate AddOccurrence errored: %v", err)
	}

	got, err := store.GetTermOccurrences(ctx, 1)
	if err != nil {
		t.Fatalf("GetTermOccurrences failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(got))
	}
}

func TestSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.GetSession(ctx, "nope")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown session")
	}

	sess := &types.ActiveSession{
		SessionID:   "abc",
		BoundCaseID: caseID(42),
		History: []types.SessionTurn{
			{Question: "what is the status", Method: types.MethodExactCaseNumber, AskedAt: time.Now()},
		},
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err = store.GetSession(ctx, "abc")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.BoundCaseID == nil || *got.BoundCaseID != 42 {
		t.Fatalf("session round-trip lost bound case: %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Question != "what is the status" {
		t.Errorf("history round-trip broken: %+v", got.History)
	}
}

func TestGetStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	j := testChunk("j1", 1)
	j.ContentQualityScore = 0.6
	o := testChunk("o1", 2)
	o.SourceType = types.SourceOrder
	o.ContentQualityScore = 0.8
	if _, err := store.UpsertChunk(ctx, j, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}
	if _, err := store.UpsertChunk(ctx, o, nil); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalChunks != 2 {
		t.Errorf("total = %d, want 2", stats.TotalChunks)
	}
	if stats.DistinctCases != 2 {
		t.Errorf("distinct cases = %d, want 2", stats.DistinctCases)
	}
	if stats.EmbeddedChunks != 1 {
		t.Errorf("embedded = %d, want 1", stats.EmbeddedChunks)
	}
	if stats.BySourceType["judgment"] != 1 || stats.BySourceType["order"] != 1 {
		t.Errorf("by source type = %v", stats.BySourceType)
	}
	if stats.AvgQuality < 0.69 || stats.AvgQuality > 0.71 {
		t.Errorf("avg quality = %f, want 0.7", stats.AvgQuality)
	}
}
