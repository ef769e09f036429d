// Package analyzer turns a raw user query into a structured analysis: intent,
// legal entities, specificity, expansion terms, and the search strategy the
// orchestrator should run. Analysis is pure; the package holds no state.
package analyzer

import (
	"regexp"
	"strings"

	"qanoon/internal/logging"
)

// =============================================================================
// ANALYSIS TYPES
// =============================================================================

// Intent classifies what the user is trying to do.
type Intent string

const (
	IntentCaseLookup          Intent = "case_lookup"
	IntentLegalResearch       Intent = "legal_research"
	IntentPrecedentSearch     Intent = "precedent_search"
	IntentProceduralInquiry   Intent = "procedural_inquiry"
	IntentFactualSearch       Intent = "factual_search"
	IntentComparativeAnalysis Intent = "comparative_analysis"
)

// Search strategies, chosen from (intent, specificity).
const (
	StrategyExactMatchPriority    = "exact_match_priority"
	StrategyPrecisionFocused      = "precision_focused"
	StrategySemanticHybrid        = "semantic_hybrid"
	StrategyBalancedHybrid        = "balanced_hybrid"
	StrategySemanticExpansion     = "semantic_expansion"
	StrategyComprehensiveCoverage = "comprehensive_coverage"
)

// Entity is a legal entity found in the query.
type Entity struct {
	Type       string  `json:"type"` // statute | citation | case_number | court | concept | procedure
	Text       string  `json:"text"`
	Position   int     `json:"position"`
	Confidence float64 `json:"confidence"`
	Normalized string  `json:"normalized"`
}

// Analysis is the full analyzer output consumed by the orchestrator.
type Analysis struct {
	Intent              Intent             `json:"intent"`
	Confidence          float64            `json:"confidence"`
	LegalEntities       []Entity           `json:"legal_entities"`
	QueryType           string             `json:"query_type"` // question | keyword | empty
	SpecificityScore    float64            `json:"specificity_score"`
	ExpansionTerms      []string           `json:"expansion_terms"`
	SemanticConcepts    []string           `json:"semantic_concepts"`
	SearchStrategy      string             `json:"search_strategy"`
	ExpectedResultTypes []string           `json:"expected_result_types"`
	BoostFactors        map[string]float64 `json:"boost_factors"`
	CaseTitleHint       string             `json:"case_title_hint,omitempty"`
}

// =============================================================================
// INTENT DETECTION
// =============================================================================

type intentPattern struct {
	intent Intent
	re     *regexp.Regexp
	weight float64
}

var intentPatterns = []intentPattern{
	{IntentCaseLookup, regexp.MustCompile(`(?i)\b(case number|case no\.?|details (for|of)|status of|cause list)\b`), 0.9},
	{IntentCaseLookup, regexp.MustCompile(`\b\d+/\d{4}\b`), 0.7},
	{IntentPrecedentSearch, regexp.MustCompile(`(?i)\b(precedent|similar cases?|leading case|cited in|case law on)\b`), 0.9},
	{IntentProceduralInquiry, regexp.MustCompile(`(?i)\b(how (do|to|can)|procedure|process (for|of)|file (a|an)|steps to)\b`), 0.8},
	{IntentComparativeAnalysis, regexp.MustCompile(`(?i)\b(compare|difference between|distinguish)\b`), 0.8},
	{IntentFactualSearch, regexp.MustCompile(`(?i)\b(who|when|where|what happened|which judge)\b`), 0.7},
	{IntentLegalResearch, regexp.MustCompile(`(?i)\b(punishment|offen[cs]e|section|act\b|law on|rights|liability|bail)\b`), 0.7},
}

func detectIntent(query string) (Intent, float64) {
	best := make(map[Intent]float64)
	var total float64
	for _, p := range intentPatterns {
		if p.re.MatchString(query) {
			if p.weight > best[p.intent] {
				total += p.weight - best[p.intent]
				best[p.intent] = p.weight
			}
		}
	}
	if len(best) == 0 {
		return IntentLegalResearch, 0.5
	}

	var winner Intent
	var bestScore float64
	for intent, score := range best {
		if score > bestScore || (score == bestScore && intent < winner) {
			winner, bestScore = intent, score
		}
	}
	return winner, bestScore / total
}

// =============================================================================
// SPECIFICITY
// =============================================================================

var (
	versusPattern = regexp.MustCompile(`(?i)\b(vs\.?|v\.|versus)\b`)
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	statusPattern = regexp.MustCompile(`(?i)\b(pending|decided|disposed|dismissed|adjourned)\b`)
)

var entitySpecificityWeight = map[string]float64{
	"citation":    0.30,
	"case_number": 0.25,
	"statute":     0.20,
	"concept":     0.15,
	"court":       0.10,
	"procedure":   0.10,
}

func specificityScore(query string, entities []Entity) float64 {
	words := len(strings.Fields(query))
	var score float64
	switch {
	case words <= 1:
		score = 0.1
	case words <= 3:
		score = 0.3
	case words <= 6:
		score = 0.5
	default:
		score = 0.7
	}

	seen := make(map[string]bool)
	for _, e := range entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			score += entitySpecificityWeight[e.Type]
		}
	}

	if strings.Contains(query, `"`) {
		score += 0.1
	}
	for _, re := range []*regexp.Regexp{versusPattern, yearPattern, statusPattern} {
		if re.MatchString(query) {
			score += 0.05
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// =============================================================================
// STRATEGY MATRIX
// =============================================================================

func chooseStrategy(intent Intent, specificity float64) string {
	switch {
	case specificity > 0.7:
		if intent == IntentCaseLookup {
			return StrategyExactMatchPriority
		}
		return StrategyPrecisionFocused
	case specificity > 0.4:
		if intent == IntentLegalResearch || intent == IntentPrecedentSearch {
			return StrategySemanticHybrid
		}
		return StrategyBalancedHybrid
	default:
		if intent == IntentFactualSearch {
			return StrategySemanticExpansion
		}
		return StrategyComprehensiveCoverage
	}
}

var expectedResultTypes = map[Intent][]string{
	IntentCaseLookup:          {"case_metadata"},
	IntentLegalResearch:       {"legal_text", "judgment", "qa_chunk"},
	IntentPrecedentSearch:     {"judgment", "case_document"},
	IntentProceduralInquiry:   {"legal_text", "qa_chunk"},
	IntentFactualSearch:       {"case_metadata", "order", "comment"},
	IntentComparativeAnalysis: {"judgment"},
}

var boostFactors = map[Intent]map[string]float64{
	IntentCaseLookup:          {"case_number": 2.0, "case_title": 1.5},
	IntentLegalResearch:       {"legal_relevance": 1.5, "sections": 1.3},
	IntentPrecedentSearch:     {"citations": 1.8, "court": 1.2},
	IntentProceduralInquiry:   {"legal_relevance": 1.3},
	IntentFactualSearch:       {"case_metadata": 1.5},
	IntentComparativeAnalysis: {"legal_relevance": 1.2},
}

// =============================================================================
// CASE-TITLE HINT
// =============================================================================

// UI-phrasing markers; the hint is whatever follows the marker.
var hintMarkers = []string{
	"details for", "details of", "advocates involved in", "advocates for",
	"fir number for", "fir number of", "status of", "hearing date for",
	"hearing date of", "orders in", "short order in", "case history of",
}

var questionOpener = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|which|is|are|can|does|do)\b`)

var (
	caseNumberShape = regexp.MustCompile(`\b[A-Z][A-Za-z]*\.(?:\s?[A-Z][A-Za-z]*\.)*\s*\d+/\d{4}(?:\s+[A-Za-z]+)?(?:\s*\([A-Z]{1,3}\))?`)
	titleShape      = regexp.MustCompile(`(?i)\b([\w.]+(?:\s+[\w.]+){0,4})\s+(?:vs\.?|v\.|versus)\s+([\w.]+(?:\s+[\w.]+){0,4})`)
)

func extractCaseTitleHint(query string) string {
	lower := strings.ToLower(query)
	for _, marker := range hintMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			hint := strings.TrimSpace(query[idx+len(marker):])
			hint = strings.Trim(hint, "?.!, ")
			if hint != "" {
				return hint
			}
		}
	}
	if m := caseNumberShape.FindString(query); m != "" {
		return m
	}
	if m := titleShape.FindString(query); m != "" {
		return strings.Trim(m, "?.!, ")
	}
	return ""
}

// =============================================================================
// ANALYZE
// =============================================================================

// Analyze produces the full analysis for a query. An empty query yields the
// fallback analysis rather than an error.
func Analyze(query string) Analysis {
	timer := logging.StartTimer(logging.CategoryAnalyzer, "Analyze")
	defer timer.Stop()

	query = strings.TrimSpace(query)
	if query == "" {
		return Analysis{
			Intent:              IntentLegalResearch,
			Confidence:          0.5,
			QueryType:           "empty",
			SearchStrategy:      StrategyBalancedHybrid,
			ExpectedResultTypes: expectedResultTypes[IntentLegalResearch],
			BoostFactors:        boostFactors[IntentLegalResearch],
		}
	}

	intent, confidence := detectIntent(query)
	entities := ExtractEntities(query)
	specificity := specificityScore(query, entities)
	strategy := chooseStrategy(intent, specificity)
	hint := extractCaseTitleHint(query)

	queryType := "keyword"
	if strings.HasSuffix(query, "?") || questionOpener.MatchString(query) {
		queryType = "question"
	}

	analysis := Analysis{
		Intent:              intent,
		Confidence:          confidence,
		LegalEntities:       entities,
		QueryType:           queryType,
		SpecificityScore:    specificity,
		ExpansionTerms:      expandQuery(query, intent, entities),
		SemanticConcepts:    semanticConcepts(intent, entities),
		SearchStrategy:      strategy,
		ExpectedResultTypes: expectedResultTypes[intent],
		BoostFactors:        boostFactors[intent],
		CaseTitleHint:       hint,
	}

	logging.Analyzer("Analyzed query: intent=%s conf=%.2f specificity=%.2f strategy=%s entities=%d hint=%q",
		intent, confidence, specificity, strategy, len(entities), hint)
	return analysis
}
