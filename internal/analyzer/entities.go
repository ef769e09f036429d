package analyzer

import (
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// LEGAL-ENTITY EXTRACTION
// =============================================================================

var (
	statuteSectionPattern = regexp.MustCompile(`(?i)\b(?:section|sec\.?|s\.?|u/s)\s*(\d+[A-Za-z\-]*)\s*(?:of\s+(?:the\s+)?)?(PPC|CrPC|CPC|QSO|Constitution)\b`)
	bareStatutePattern    = regexp.MustCompile(`(?i)\b(\d+[A-Za-z\-]*)\s+(PPC|CrPC|CPC|QSO)\b`)
	statuteCodePattern    = regexp.MustCompile(`(?i)\b(PPC|CrPC|CPC|QSO|Constitution)\b`)
	citationEntityPattern = regexp.MustCompile(`\b(PLD|MLD|CLC|SCMR|YLR|PLJ)\s+(\d{4})\s+(?:([A-Z][A-Za-z]*)\s+)?(\d+)\b`)
	caseNumberPattern     = regexp.MustCompile(`(?i)\b(Crl|Civil|Const|Writ|W\.P|C\.P|T\.A|F\.A\.O)\.?\s*(?:(Appeal|Petition|Misc|Application)\.?\s*)?(\d+)/(\d{4})\b`)
	courtPattern          = regexp.MustCompile(`(?i)\b(Supreme Court|Federal Shariat Court|(?:Islamabad|Lahore|Sindh|Peshawar|Balochistan)\s+High Court|High Court)\b`)
)

var legalConcepts = []string{
	"fundamental rights", "due process", "res judicata", "habeas corpus",
	"double jeopardy", "natural justice", "locus standi", "ultra vires",
	"mens rea", "burden of proof", "presumption of innocence",
}

var legalProcedures = []string{
	"bail", "appeal", "revision", "review", "remand", "acquittal",
	"injunction", "stay order", "writ petition", "cross examination",
}

// ExtractEntities finds statutes, citations, case numbers, courts, concepts,
// and procedures in a query. Results are in position order; overlapping
// lower-priority hits on the same span are dropped.
func ExtractEntities(query string) []Entity {
	var entities []Entity
	covered := make([]bool, len(query))

	claim := func(start, end int) bool {
		for i := start; i < end && i < len(covered); i++ {
			if covered[i] {
				return false
			}
		}
		for i := start; i < end && i < len(covered); i++ {
			covered[i] = true
		}
		return true
	}

	// Citations first: their spans must not be re-claimed as statutes.
	for _, loc := range citationEntityPattern.FindAllStringSubmatchIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "citation", Text: text, Position: loc[0],
				Confidence: 0.95, Normalized: normalizeSpace(text),
			})
		}
	}

	for _, loc := range caseNumberPattern.FindAllStringIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "case_number", Text: text, Position: loc[0],
				Confidence: 0.95, Normalized: normalizeSpace(text),
			})
		}
	}

	for _, loc := range statuteSectionPattern.FindAllStringSubmatchIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		num := query[loc[2]:loc[3]]
		code := canonicalStatuteCode(query[loc[4]:loc[5]])
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "statute", Text: text, Position: loc[0],
				Confidence: 0.95, Normalized: "s. " + num + " " + code,
			})
		}
	}

	for _, loc := range bareStatutePattern.FindAllStringSubmatchIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		num := query[loc[2]:loc[3]]
		code := canonicalStatuteCode(query[loc[4]:loc[5]])
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "statute", Text: text, Position: loc[0],
				Confidence: 0.9, Normalized: "s. " + num + " " + code,
			})
		}
	}

	// Standalone code mentions ("offences under PPC").
	for _, loc := range statuteCodePattern.FindAllStringIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "statute", Text: text, Position: loc[0],
				Confidence: 0.9, Normalized: canonicalStatuteCode(text),
			})
		}
	}

	for _, loc := range courtPattern.FindAllStringIndex(query, -1) {
		text := query[loc[0]:loc[1]]
		if claim(loc[0], loc[1]) {
			entities = append(entities, Entity{
				Type: "court", Text: text, Position: loc[0],
				Confidence: 0.9, Normalized: titleCase(text),
			})
		}
	}

	lower := strings.ToLower(query)
	for _, concept := range legalConcepts {
		if idx := strings.Index(lower, concept); idx >= 0 && claim(idx, idx+len(concept)) {
			entities = append(entities, Entity{
				Type: "concept", Text: query[idx : idx+len(concept)], Position: idx,
				Confidence: 0.9, Normalized: concept,
			})
		}
	}
	for _, proc := range legalProcedures {
		if idx := strings.Index(lower, proc); idx >= 0 && claim(idx, idx+len(proc)) {
			entities = append(entities, Entity{
				Type: "procedure", Text: query[idx : idx+len(proc)], Position: idx,
				Confidence: 0.9, Normalized: proc,
			})
		}
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Position < entities[j].Position
	})
	return entities
}

func canonicalStatuteCode(code string) string {
	switch strings.ToLower(code) {
	case "ppc":
		return "PPC"
	case "crpc":
		return "CrPC"
	case "cpc":
		return "CPC"
	case "qso":
		return "QSO"
	case "constitution":
		return "Constitution"
	}
	return strings.ToUpper(code)
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeSpace(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
