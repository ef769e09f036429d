// Package reference canonicalizes Pakistani legal references found in
// arbitrary text: statute sections, case citations, constitutional articles,
// procedural rules, court references, and agency mentions.
//
// Normalize is pure: it takes text and returns the processed text with every
// recognized reference replaced by its canonical form, plus the accepted
// reference set and an aggregated QA context. It never panics; internal
// failures return the original text with an error marker.
package reference

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"qanoon/internal/logging"
)

// =============================================================================
// REFERENCE KINDS AND PRIORITIES
// =============================================================================

// Kind classifies a recognized legal reference.
type Kind string

const (
	KindCitation   Kind = "citation"   // PLD 2019 SC 123
	KindSubSection Kind = "subsection" // s. 497(2)
	KindArticle    Kind = "article"    // Art. 199 Constitution
	KindRule       Kind = "rule"       // Rule 11 CPC / Order 7 CPC
	KindSection    Kind = "section"    // s. 302 PPC
	KindCourtRef   Kind = "court_ref"  // SC 2023 45
	KindAgency     Kind = "agency"     // FIA investigation
	KindGeneric    Kind = "generic"
)

// Priority scale: citations dominate everything, sections dominate court and
// agency references, generic matches lose to all.
var kindPriority = map[Kind]int{
	KindCitation:   6,
	KindSubSection: 5,
	KindArticle:    4,
	KindRule:       3,
	KindSection:    2,
	KindCourtRef:   0,
	KindAgency:     0,
	KindGeneric:    -1,
}

// coreStatuteCodes are the principal codes that anchor QA relevance.
var coreStatuteCodes = map[string]bool{
	"ppc":          true,
	"crpc":         true,
	"cpc":          true,
	"constitution": true,
}

// agencyRelevance bands each known agency code into [0.70, 0.85].
var agencyRelevance = map[string]float64{
	"fia": 0.85,
	"nab": 0.85,
	"anf": 0.80,
	"fbr": 0.75,
	"pta": 0.70,
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// Reference is one canonicalized legal reference.
type Reference struct {
	Kind        Kind    `json:"kind"`
	Surface     string  `json:"surface"`
	Canonical   string  `json:"canonical"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Priority    int     `json:"priority"`
	QARelevance float64 `json:"qa_relevance"`

	// Key is the normalized dedup key, e.g. "section|302|ppc".
	Key string `json:"-"`

	// Act/Court/Year feed the aggregated QA context.
	Act   string `json:"act,omitempty"`
	Court string `json:"court,omitempty"`
	Year  string `json:"year,omitempty"`
}

// QAContext aggregates facets across all accepted references.
type QAContext struct {
	Acts           []string `json:"acts"`
	Courts         []string `json:"courts"`
	Years          []string `json:"years"`
	ReferenceTypes []string `json:"reference_types"`
}

// Result is the normalizer output.
type Result struct {
	ProcessedText string      `json:"processed_text"`
	References    []Reference `json:"references"`
	QAContext     QAContext   `json:"qa_context"`

	// Err carries an error marker when normalization failed internally.
	// The caller still receives usable (original) text.
	Err string `json:"error,omitempty"`
}

// =============================================================================
// PATTERNS
// =============================================================================

var (
	citationPattern = regexp.MustCompile(
		`\b(PLD|MLD|CLC|SCMR|YLR|PLJ)\s+(\d{4})\s+(?:([A-Z][A-Za-z]*)\s+)?(\d+)\b`)

	subSectionPattern = regexp.MustCompile(
		`(?i)\bsub-?section\s+(\d+[A-Za-z]*)\s+of\s+section\s+(\d+[A-Za-z]*)\b`)

	articlePattern = regexp.MustCompile(
		`(?i)\bart(?:icle)?\.?\s*(\d+)(?:\((\d+)\))?(?:\s+(?:of\s+(?:the\s+)?)?constitution)?`)

	rulePattern = regexp.MustCompile(
		`(?i)\b(rule|order)\s+(\d+[A-Za-z]*)\s+(CPC|CrPC)\b`)

	// "section 302 PPC", "s. 302 ppc", "u/s 489-F PPC"
	sectionPattern = regexp.MustCompile(
		`(?i)\b(?:section|sec\.?|s\.|u/s)\s*(\d+(?:-[A-Za-z])?[A-Za-z]?)\s*(?:of\s+(?:the\s+)?)?(PPC|CrPC|CPC|QSO|Constitution)?`)

	// "302 PPC" with no section keyword.
	bareSectionPattern = regexp.MustCompile(
		`\b(\d+(?:-[A-Za-z])?[A-Za-z]?)\s+(PPC|CrPC|CPC|QSO)\b`)

	courtRefPattern = regexp.MustCompile(
		`\b(SC|IHC|LHC|SHC|PHC|BHC|Supreme Court|Islamabad High Court|Lahore High Court|Sindh High Court|Peshawar High Court)\s+(\d{4})\s+(\d+)\b`)

	agencyPattern = regexp.MustCompile(
		`\b(FIA|NAB|ANF|FBR|PTA)\s+([a-z]+)\b`)
)

// statute code spellings normalize to their canonical register.
var actCanonical = map[string]string{
	"ppc":          "PPC",
	"crpc":         "CrPC",
	"cpc":          "CPC",
	"qso":          "QSO",
	"constitution": "Constitution",
}

// =============================================================================
// NORMALIZE
// =============================================================================

// Normalize finds and canonicalizes every recognizable legal reference in
// text. On internal failure it returns the original text, an empty reference
// list, and an error marker; it never panics out to the caller.
func Normalize(text string) (result Result) {
	timer := logging.StartTimer(logging.CategoryNormalizer, "Normalize")
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryNormalizer).Error("Normalize panicked: %v", r)
			result = Result{
				ProcessedText: text,
				References:    nil,
				Err:           fmt.Sprintf("normalization failed: %v", r),
			}
		}
	}()

	if text == "" {
		return Result{ProcessedText: ""}
	}

	candidates := findCandidates(text)
	logging.NormalizerDebug("Found %d candidate references in %d chars", len(candidates), len(text))

	// Duplicate suppression before sorting: first occurrence of a key wins.
	seen := make(map[string]bool)
	deduped := candidates[:0]
	for _, c := range candidates {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		deduped = append(deduped, c)
	}

	// Sort by descending priority, then by original position.
	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Priority != deduped[j].Priority {
			return deduped[i].Priority > deduped[j].Priority
		}
		return deduped[i].Start < deduped[j].Start
	})

	// Overlap suppression: reject a candidate whose overlap with any accepted
	// span exceeds 50% of the shorter span.
	var accepted []Reference
	for _, c := range deduped {
		if overlapsAccepted(c, accepted) {
			continue
		}
		c.QARelevance = qaRelevance(c)
		accepted = append(accepted, c)
	}

	processed := applyCanonical(text, accepted)

	logging.NormalizerDebug("Accepted %d references after dedup and overlap suppression", len(accepted))

	return Result{
		ProcessedText: processed,
		References:    accepted,
		QAContext:     buildQAContext(accepted),
	}
}

// findCandidates runs every pattern over the text, in found order.
func findCandidates(text string) []Reference {
	var out []Reference

	for _, m := range citationPattern.FindAllStringSubmatchIndex(text, -1) {
		reporter := text[m[2]:m[3]]
		year := text[m[4]:m[5]]
		court := ""
		if m[6] >= 0 {
			court = text[m[6]:m[7]]
		}
		page := text[m[8]:m[9]]
		canonical := reporter + " " + year
		if court != "" {
			canonical += " " + court
		}
		canonical += " " + page
		out = append(out, Reference{
			Kind:      KindCitation,
			Surface:   text[m[0]:m[1]],
			Canonical: canonical,
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindCitation],
			Key:       strings.ToLower("citation|" + reporter + "|" + year + "|" + court + "|" + page),
			Court:     court,
			Year:      year,
		})
	}

	for _, m := range subSectionPattern.FindAllStringSubmatchIndex(text, -1) {
		sub := text[m[2]:m[3]]
		section := text[m[4]:m[5]]
		out = append(out, Reference{
			Kind:      KindSubSection,
			Surface:   text[m[0]:m[1]],
			Canonical: fmt.Sprintf("s. %s(%s)", section, sub),
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindSubSection],
			Key:       strings.ToLower("subsection|" + section + "|" + sub),
		})
	}

	for _, m := range articlePattern.FindAllStringSubmatchIndex(text, -1) {
		num := text[m[2]:m[3]]
		out = append(out, Reference{
			Kind:      KindArticle,
			Surface:   text[m[0]:m[1]],
			Canonical: fmt.Sprintf("Art. %s Constitution", num),
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindArticle],
			Key:       "art|" + num + "|constitution",
			Act:       "Constitution",
		})
	}

	for _, m := range rulePattern.FindAllStringSubmatchIndex(text, -1) {
		word := capitalize(text[m[2]:m[3]])
		num := text[m[4]:m[5]]
		act := actCanonical[strings.ToLower(text[m[6]:m[7]])]
		out = append(out, Reference{
			Kind:      KindRule,
			Surface:   text[m[0]:m[1]],
			Canonical: fmt.Sprintf("%s %s %s", word, num, act),
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindRule],
			Key:       strings.ToLower("rule|" + word + "|" + num + "|" + act),
			Act:       act,
		})
	}

	for _, m := range sectionPattern.FindAllStringSubmatchIndex(text, -1) {
		num := text[m[2]:m[3]]
		act := ""
		if m[4] >= 0 {
			act = actCanonical[strings.ToLower(text[m[4]:m[5]])]
		}
		canonical := "s. " + num
		if act != "" {
			canonical += " " + act
		}
		kind := KindSection
		priority := kindPriority[KindSection]
		if act == "" {
			// A section with no act is too weak to beat anything.
			kind = KindGeneric
			priority = kindPriority[KindGeneric]
		}
		out = append(out, Reference{
			Kind:      kind,
			Surface:   text[m[0]:m[1]],
			Canonical: canonical,
			Start:     m[0],
			End:       m[1],
			Priority:  priority,
			Key:       strings.ToLower("section|" + num + "|" + act),
			Act:       act,
		})
	}

	for _, m := range bareSectionPattern.FindAllStringSubmatchIndex(text, -1) {
		num := text[m[2]:m[3]]
		act := actCanonical[strings.ToLower(text[m[4]:m[5]])]
		out = append(out, Reference{
			Kind:      KindSection,
			Surface:   text[m[0]:m[1]],
			Canonical: fmt.Sprintf("s. %s %s", num, act),
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindSection],
			Key:       strings.ToLower("section|" + num + "|" + act),
			Act:       act,
		})
	}

	for _, m := range courtRefPattern.FindAllStringSubmatchIndex(text, -1) {
		court := text[m[2]:m[3]]
		year := text[m[4]:m[5]]
		num := text[m[6]:m[7]]
		out = append(out, Reference{
			Kind:      KindCourtRef,
			Surface:   text[m[0]:m[1]],
			Canonical: fmt.Sprintf("%s %s %s", court, year, num),
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindCourtRef],
			Key:       strings.ToLower("court|" + court + "|" + year + "|" + num),
			Court:     court,
			Year:      year,
		})
	}

	for _, m := range agencyPattern.FindAllStringSubmatchIndex(text, -1) {
		agency := text[m[2]:m[3]]
		verb := text[m[4]:m[5]]
		out = append(out, Reference{
			Kind:      KindAgency,
			Surface:   text[m[0]:m[1]],
			Canonical: agency + " " + verb,
			Start:     m[0],
			End:       m[1],
			Priority:  kindPriority[KindAgency],
			Key:       strings.ToLower("agency|" + agency),
		})
	}

	// Stable found order for dedup: sort by position, preserving the pattern
	// pass order for identical positions.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// overlapsAccepted reports whether c overlaps any accepted span by more than
// 50% of the shorter span.
func overlapsAccepted(c Reference, accepted []Reference) bool {
	for _, a := range accepted {
		overlap := min(c.End, a.End) - max(c.Start, a.Start)
		if overlap <= 0 {
			continue
		}
		shorter := min(c.End-c.Start, a.End-a.Start)
		if shorter <= 0 {
			continue
		}
		if float64(overlap) > 0.5*float64(shorter) {
			return true
		}
	}
	return false
}

// qaRelevance scores how useful a reference is for grounded QA.
func qaRelevance(r Reference) float64 {
	if r.Kind == KindAgency {
		code := strings.ToLower(strings.SplitN(r.Canonical, " ", 2)[0])
		if v, ok := agencyRelevance[code]; ok {
			return v
		}
		return 0.70
	}

	score := 0.75
	if coreStatuteCodes[strings.ToLower(r.Act)] {
		score = 0.9
	}
	switch r.Kind {
	case KindCitation:
		score = 0.9 + 0.1
	case KindArticle:
		score += 0.05
	case KindCourtRef:
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// applyCanonical replaces each accepted surface span with its canonical form
// using precise character slicing. Spans are applied right-to-left so earlier
// offsets stay valid. The acceptance filter tolerates intersections of up to
// half the shorter span, so a span crossing the previously applied one is
// skipped here to keep the splice offsets exact.
func applyCanonical(text string, refs []Reference) string {
	byPos := make([]Reference, len(refs))
	copy(byPos, refs)
	sort.Slice(byPos, func(i, j int) bool { return byPos[i].Start > byPos[j].Start })

	out := text
	lastStart := len(text)
	for _, r := range byPos {
		if r.Start < 0 || r.End > len(text) || r.Start > r.End {
			continue
		}
		if r.End > lastStart {
			continue
		}
		out = out[:r.Start] + r.Canonical + out[r.End:]
		lastStart = r.Start
	}
	return out
}

// buildQAContext aggregates acts, courts, years, and reference types.
func buildQAContext(refs []Reference) QAContext {
	ctx := QAContext{}
	seenAct := make(map[string]bool)
	seenCourt := make(map[string]bool)
	seenYear := make(map[string]bool)
	seenType := make(map[string]bool)

	for _, r := range refs {
		if r.Act != "" && !seenAct[r.Act] {
			seenAct[r.Act] = true
			ctx.Acts = append(ctx.Acts, r.Act)
		}
		if r.Court != "" && !seenCourt[r.Court] {
			seenCourt[r.Court] = true
			ctx.Courts = append(ctx.Courts, r.Court)
		}
		if r.Year != "" && !seenYear[r.Year] {
			seenYear[r.Year] = true
			ctx.Years = append(ctx.Years, r.Year)
		}
		if !seenType[string(r.Kind)] {
			seenType[string(r.Kind)] = true
			ctx.ReferenceTypes = append(ctx.ReferenceTypes, string(r.Kind))
		}
	}
	return ctx
}

// capitalize upper-cases the first letter ("rule" -> "Rule").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
