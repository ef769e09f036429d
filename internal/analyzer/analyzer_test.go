package analyzer

import (
	"strings"
	"testing"
)

func entityOfType(entities []Entity, typ string) *Entity {
	for i := range entities {
		if entities[i].Type == typ {
			return &entities[i]
		}
	}
	return nil
}

func TestAnalyze_BailNarcoticsQuery(t *testing.T) {
	// The statute code must be tagged and the intent must land on research
	// or procedure.
	a := Analyze("bail in narcotics offences under PPC")

	statute := entityOfType(a.LegalEntities, "statute")
	if statute == nil {
		t.Fatalf("no statute entity in %v", a.LegalEntities)
	}
	if statute.Normalized != "PPC" {
		t.Errorf("statute normalized = %q, want PPC", statute.Normalized)
	}
	if a.Intent != IntentLegalResearch && a.Intent != IntentProceduralInquiry {
		t.Errorf("intent = %s, want legal_research or procedural_inquiry", a.Intent)
	}
	if a.Confidence <= 0 || a.Confidence > 1 {
		t.Errorf("confidence out of range: %f", a.Confidence)
	}
}

func TestAnalyze_EmptyQueryFallback(t *testing.T) {
	a := Analyze("   ")
	if a.Intent != IntentLegalResearch {
		t.Errorf("intent = %s, want legal_research fallback", a.Intent)
	}
	if a.Confidence != 0.5 {
		t.Errorf("confidence = %f, want 0.5", a.Confidence)
	}
	if a.QueryType != "empty" {
		t.Errorf("query type = %q, want empty", a.QueryType)
	}
	if a.SearchStrategy != StrategyBalancedHybrid {
		t.Errorf("strategy = %q, want %q", a.SearchStrategy, StrategyBalancedHybrid)
	}
	if a.CaseTitleHint != "" {
		t.Errorf("unexpected hint %q", a.CaseTitleHint)
	}
}

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		query  string
		intent Intent
	}{
		{"give me the case number for the appeal", IntentCaseLookup},
		{"precedent on dishonour of cheques", IntentPrecedentSearch},
		{"how do i file a writ petition", IntentProceduralInquiry},
		{"difference between qatl-e-amd and qatl-e-khata", IntentComparativeAnalysis},
		{"who was the presiding judge", IntentFactualSearch},
		{"punishment for defamation", IntentLegalResearch},
	}
	for _, tc := range cases {
		got, conf := detectIntent(tc.query)
		if got != tc.intent {
			t.Errorf("detectIntent(%q) = %s, want %s", tc.query, got, tc.intent)
		}
		if conf <= 0 || conf > 1 {
			t.Errorf("detectIntent(%q) confidence = %f", tc.query, conf)
		}
	}
}

func TestDetectIntent_Default(t *testing.T) {
	intent, conf := detectIntent("zebra crossing colours")
	if intent != IntentLegalResearch || conf != 0.5 {
		t.Errorf("default = (%s, %f), want (legal_research, 0.5)", intent, conf)
	}
}

func TestExtractEntities_Citation(t *testing.T) {
	entities := ExtractEntities("as held in PLD 2019 SC 123")
	cit := entityOfType(entities, "citation")
	if cit == nil {
		t.Fatalf("no citation entity in %v", entities)
	}
	if cit.Normalized != "PLD 2019 SC 123" {
		t.Errorf("normalized = %q", cit.Normalized)
	}
	if cit.Confidence < 0.9 {
		t.Errorf("confidence = %f, want >= 0.9", cit.Confidence)
	}
}

func TestExtractEntities_SectionForms(t *testing.T) {
	for _, query := range []string{
		"punishment under section 302 PPC",
		"charged u/s 302 ppc",
		"what does 302 PPC say",
	} {
		entities := ExtractEntities(query)
		st := entityOfType(entities, "statute")
		if st == nil {
			t.Errorf("%q: no statute entity", query)
			continue
		}
		if st.Normalized != "s. 302 PPC" {
			t.Errorf("%q: normalized = %q, want s. 302 PPC", query, st.Normalized)
		}
	}
}

func TestExtractEntities_CaseNumberAndCourt(t *testing.T) {
	entities := ExtractEntities("Crl. Appeal 45/2023 before the Lahore High Court")
	if entityOfType(entities, "case_number") == nil {
		t.Errorf("no case_number entity in %v", entities)
	}
	court := entityOfType(entities, "court")
	if court == nil {
		t.Fatalf("no court entity in %v", entities)
	}
	if court.Normalized != "Lahore High Court" {
		t.Errorf("court normalized = %q", court.Normalized)
	}
}

func TestExtractEntities_ConceptsAndProcedures(t *testing.T) {
	entities := ExtractEntities("habeas corpus petition and bail application")
	if entityOfType(entities, "concept") == nil {
		t.Errorf("habeas corpus not tagged as concept")
	}
	if entityOfType(entities, "procedure") == nil {
		t.Errorf("bail not tagged as procedure")
	}
}

func TestExtractEntities_PositionOrder(t *testing.T) {
	entities := ExtractEntities("section 302 PPC and PLD 2019 SC 123")
	for i := 1; i < len(entities); i++ {
		if entities[i].Position < entities[i-1].Position {
			t.Fatalf("entities out of position order: %v", entities)
		}
	}
}

func TestSpecificityScore(t *testing.T) {
	// A bare keyword scores low.
	low := Analyze("bail").SpecificityScore
	// A fully specified lookup scores high.
	high := Analyze(`details for Crl. Appeal 45/2023 decided vs State in 2023`).SpecificityScore

	if low >= high {
		t.Errorf("specificity low=%f >= high=%f", low, high)
	}
	if high > 1.0 {
		t.Errorf("specificity above cap: %f", high)
	}
}

func TestChooseStrategy(t *testing.T) {
	cases := []struct {
		intent      Intent
		specificity float64
		want        string
	}{
		{IntentCaseLookup, 0.9, StrategyExactMatchPriority},
		{IntentPrecedentSearch, 0.9, StrategyPrecisionFocused},
		{IntentLegalResearch, 0.5, StrategySemanticHybrid},
		{IntentFactualSearch, 0.5, StrategyBalancedHybrid},
		{IntentFactualSearch, 0.2, StrategySemanticExpansion},
		{IntentLegalResearch, 0.2, StrategyComprehensiveCoverage},
	}
	for _, tc := range cases {
		if got := chooseStrategy(tc.intent, tc.specificity); got != tc.want {
			t.Errorf("chooseStrategy(%s, %.1f) = %s, want %s", tc.intent, tc.specificity, got, tc.want)
		}
	}
}

func TestExtractCaseTitleHint(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"Give me details for T.A. 2/2023 Civil (SB)", "T.A. 2/2023 Civil (SB)"},
		{"advocates involved in Ali Khan vs State", "Ali Khan vs State"},
		{"what is the status of W.P. 99/2022?", "W.P. 99/2022"},
		{"there is a case T.A. 2/2023 Civil (SB) pending", "T.A. 2/2023 Civil (SB)"},
		{"who are the advocates", ""},
		{"punishment for theft", ""},
	}
	for _, tc := range cases {
		if got := extractCaseTitleHint(tc.query); got != tc.want {
			t.Errorf("extractCaseTitleHint(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestExtractCaseTitleHint_VersusFallback(t *testing.T) {
	got := extractCaseTitleHint("any orders passed in the matter Bashir Ahmed versus Federation")
	if !strings.Contains(got, "versus") {
		t.Errorf("hint = %q, want a versus-shaped title", got)
	}
}

func TestExpandQuery(t *testing.T) {
	a := Analyze("bail under PPC")

	if len(a.ExpansionTerms) == 0 {
		t.Fatal("no expansion terms")
	}
	if len(a.ExpansionTerms) > 20 {
		t.Errorf("expansion terms exceed cap: %d", len(a.ExpansionTerms))
	}
	joined := strings.Join(a.ExpansionTerms, "|")
	if !strings.Contains(joined, "penal code") {
		t.Errorf("PPC expansion missing from %v", a.ExpansionTerms)
	}
	if !strings.Contains(joined, "surety") {
		t.Errorf("bail synonym missing from %v", a.ExpansionTerms)
	}
	for _, term := range a.ExpansionTerms {
		if term == "bail" || term == "ppc" || term == "under" {
			t.Errorf("original query term %q not removed", term)
		}
	}
}

func TestQueryType(t *testing.T) {
	if a := Analyze("who are the advocates?"); a.QueryType != "question" {
		t.Errorf("query type = %q, want question", a.QueryType)
	}
	if a := Analyze("theft punishment ppc"); a.QueryType != "keyword" {
		t.Errorf("query type = %q, want keyword", a.QueryType)
	}
}
