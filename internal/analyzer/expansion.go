package analyzer

import "strings"

// =============================================================================
// QUERY EXPANSION
// =============================================================================

const maxExpansionTerms = 20

var intentExpansion = map[Intent][]string{
	IntentCaseLookup:          {"case details", "case record", "cause list"},
	IntentLegalResearch:       {"legal provisions", "statutory interpretation", "case law"},
	IntentPrecedentSearch:     {"precedent", "reported judgment", "ratio decidendi"},
	IntentProceduralInquiry:   {"procedure", "filing requirements", "limitation period"},
	IntentFactualSearch:       {"case facts", "hearing record"},
	IntentComparativeAnalysis: {"comparison", "distinguishing features"},
}

// statuteExpansion augments queries that mention a statute code.
var statuteExpansion = map[string][]string{
	"PPC":          {"criminal law", "penal code", "offense"},
	"CrPC":         {"criminal procedure", "investigation", "trial"},
	"CPC":          {"civil procedure", "suit", "decree"},
	"QSO":          {"evidence", "qanun-e-shahadat", "witness"},
	"Constitution": {"constitutional law", "fundamental rights", "writ jurisdiction"},
}

// wordSynonyms expands individual query words.
var wordSynonyms = map[string][]string{
	"bail":      {"release", "surety", "bond"},
	"murder":    {"homicide", "qatl"},
	"theft":     {"stealing", "robbery"},
	"advocate":  {"lawyer", "counsel"},
	"advocates": {"lawyers", "counsel"},
	"judge":     {"justice", "bench"},
	"fir":       {"first information report", "police report"},
	"appeal":    {"appellate", "revision"},
	"divorce":   {"khula", "talaq"},
	"narcotics": {"drugs", "controlled substances"},
	"property":  {"land", "immovable property"},
	"custody":   {"guardianship", "minor"},
}

// expandQuery builds the expansion-term list: intent terms, entity-driven
// statute augmentation, and per-word synonyms, with original query words
// removed and the result capped.
func expandQuery(query string, intent Intent, entities []Entity) []string {
	original := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		original[w] = true
	}

	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		t = strings.ToLower(t)
		if original[t] || seen[t] || len(terms) >= maxExpansionTerms {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	for _, t := range intentExpansion[intent] {
		add(t)
	}
	for _, e := range entities {
		if e.Type != "statute" {
			continue
		}
		code := e.Normalized
		if idx := strings.LastIndex(code, " "); idx >= 0 {
			code = code[idx+1:]
		}
		for _, t := range statuteExpansion[code] {
			add(t)
		}
	}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		for _, t := range wordSynonyms[w] {
			add(t)
		}
	}
	return terms
}

// semanticConcepts collects the normalized concept and procedure entities,
// for downstream boosting.
func semanticConcepts(intent Intent, entities []Entity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entities {
		if e.Type == "concept" || e.Type == "procedure" {
			if !seen[e.Normalized] {
				seen[e.Normalized] = true
				out = append(out, e.Normalized)
			}
		}
	}
	return out
}
