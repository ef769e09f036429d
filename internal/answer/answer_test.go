package answer

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qanoon/internal/types"
)

func TestBuildPrompt(t *testing.T) {
	caseID := int64(7)
	results := []types.RankedResult{
		{CaseID: &caseID, CaseNumber: "W.P. 1/2024", Score: 0.9, QARank: 1},
	}
	sess := &types.ActiveSession{SessionID: "s1", BoundCaseID: &caseID}

	got := BuildPrompt("what is the status", results, sess)
	want := Prompt{
		Question:  "what is the status",
		Retrieved: results,
		Session:   sess,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("prompt mismatch (-want +got):\n%s", diff)
	}
}

func TestPassthroughNoResults(t *testing.T) {
	got, err := Passthrough{}.Generate(context.Background(), BuildPrompt("q", nil, nil))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "No grounded answer available for this question." {
		t.Fatalf("unexpected empty-result message: %q", got)
	}
}

func TestPassthroughFormatsResults(t *testing.T) {
	long := strings.Repeat("order text ", 100)
	id1, id2 := int64(1), int64(2)
	results := []types.RankedResult{
		{
			CaseID:          &id1,
			CaseNumber:      "W.P. 1/2024",
			CaseTitle:       "Ali vs State",
			Text:            "Case Number: W.P. 1/2024\nStatus: Pending",
			Score:           1.0,
			QARank:          1,
			MatchType:       types.MethodExactCaseNumber,
			RetrievalMethod: types.MethodExactCaseNumber,
		},
		{
			CaseID:          &id2,
			CaseTitle:       "Bibi vs State",
			Text:            long,
			Score:           0.71,
			QARank:          2,
			RetrievalMethod: types.MethodExactCaseNumber,
		},
	}

	got, err := Passthrough{}.Generate(context.Background(),
		BuildPrompt("status of W.P. 1/2024", results, nil))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(got, "Found 2 result(s) via `exact_case_number`") {
		t.Errorf("missing method header:\n%s", got)
	}
	if !strings.Contains(got, "### 1. W.P. 1/2024 — Ali vs State (score 1.000)") {
		t.Errorf("missing dossier heading:\n%s", got)
	}
	// Dossier text prints whole.
	if !strings.Contains(got, "Status: Pending") {
		t.Errorf("dossier text truncated:\n%s", got)
	}
	// Chunk text is truncated with an ellipsis.
	if !strings.Contains(got, "…") {
		t.Errorf("long chunk not truncated:\n%s", got)
	}
	if strings.Contains(got, long) {
		t.Errorf("long chunk printed whole")
	}
}
