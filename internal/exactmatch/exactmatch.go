// Package exactmatch resolves case-title hints directly against the case
// store, short-circuiting semantic retrieval. A hit here is authoritative:
// the orchestrator returns exact matches alone, never mixed with semantic
// candidates.
package exactmatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"qanoon/internal/casestore"
	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// Matching tiers, recorded on each result as source_match_stage.
const (
	StageIExact        = "iexact"
	StageNormalized    = "normalized"
	StagePattern       = "pattern"
	StageTitleContains = "title_contains"
)

const maxMatches = 5

// Matcher runs the tiered case-number match against the case store.
type Matcher struct {
	cases *casestore.Store
}

// New creates a Matcher over the given case store.
func New(cases *casestore.Store) *Matcher {
	return &Matcher{cases: cases}
}

// caseNumberShape extracts the numeric core of a case number from a mixed
// hint, e.g. "T.A. 2/2023" out of "the matter T.A. 2/2023 listed today".
var caseNumberShape = regexp.MustCompile(`[A-Z]+\.?\s*\d+/\d+`)

// Match resolves a hint through four tiers, first hit wins:
// exact case-insensitive case number, normalized contains, extracted
// pattern contains, then title contains. Results are capped at 5, each a
// full dossier with score 1.0.
func (m *Matcher) Match(ctx context.Context, hint string) ([]types.RankedResult, error) {
	timer := logging.StartTimer(logging.CategoryExactMatch, "Match")
	defer timer.StopWithInfo()

	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, nil
	}

	type tier struct {
		stage string
		find  func() ([]types.Case, error)
	}
	tiers := []tier{
		{StageIExact, func() ([]types.Case, error) {
			cases, err := m.cases.FindCasesByNumber(ctx, hint, maxMatches)
			if err != nil {
				return nil, err
			}
			// FindCasesByNumber is a contains search; iexact keeps only
			// whole-number matches.
			var out []types.Case
			for _, c := range cases {
				if strings.EqualFold(c.CaseNumber, hint) {
					out = append(out, c)
				}
			}
			return out, nil
		}},
		{StageNormalized, func() ([]types.Case, error) {
			return m.cases.FindCasesByNormalizedNumber(ctx, normalizeHint(hint), maxMatches)
		}},
		{StagePattern, func() ([]types.Case, error) {
			pattern := caseNumberShape.FindString(strings.ToUpper(hint))
			if pattern == "" {
				return nil, nil
			}
			return m.cases.FindCasesByNumber(ctx, pattern, maxMatches)
		}},
		{StageTitleContains, func() ([]types.Case, error) {
			return m.cases.FindCasesByTitle(ctx, hint, maxMatches)
		}},
	}

	for _, t := range tiers {
		cases, err := t.find()
		if err != nil {
			return nil, fmt.Errorf("exact-match tier %s failed: %w", t.stage, err)
		}
		if len(cases) == 0 {
			continue
		}
		logging.ExactMatch("Hint %q matched %d case(s) at tier %s", hint, len(cases), t.stage)

		if len(cases) > maxMatches {
			cases = cases[:maxMatches]
		}
		results := make([]types.RankedResult, 0, len(cases))
		for _, c := range cases {
			r, err := m.assembleDossier(ctx, c)
			if err != nil {
				logging.Get(logging.CategoryExactMatch).Warn("Dossier assembly failed for case %d: %v", c.ID, err)
				continue
			}
			r.SourceMatchStage = t.stage
			results = append(results, *r)
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	logging.ExactMatch("Hint %q matched no cases", hint)
	return nil, nil
}

// DossierForCase assembles the dossier for a known case id. Used by the
// orchestrator's active-case lock, where the id comes from the session rather
// than from a hint.
func (m *Matcher) DossierForCase(ctx context.Context, caseID int64) (*types.RankedResult, error) {
	c, err := m.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return m.assembleDossier(ctx, *c)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeHint upper-cases, collapses whitespace, and tightens the
// punctuation spacing variants seen in scraped case numbers.
func normalizeHint(hint string) string {
	n := strings.ToUpper(strings.TrimSpace(hint))
	n = whitespaceRun.ReplaceAllString(n, " ")
	n = strings.ReplaceAll(n, ". ", ".")
	n = strings.ReplaceAll(n, " / ", "/")
	return n
}

// =============================================================================
// DOSSIER ASSEMBLY
// =============================================================================

// assembleDossier builds the full structured result for a matched case:
// a labelled text block plus the extras map the answer generator reads.
func (m *Matcher) assembleDossier(ctx context.Context, c types.Case) (*types.RankedResult, error) {
	detail, err := m.cases.GetCaseDetail(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	orders, err := m.cases.GetOrders(ctx, c.ID, 3)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Case Number: %s\n", c.CaseNumber)
	fmt.Fprintf(&b, "Title: %s\n", c.Title)
	fmt.Fprintf(&b, "Court: %s\n", c.Court)
	fmt.Fprintf(&b, "Status: %s\n", c.Status)
	if c.Bench != "" {
		fmt.Fprintf(&b, "Bench: %s\n", c.Bench)
	}
	if c.InstitutionDate != "" {
		fmt.Fprintf(&b, "Institution Date: %s\n", c.InstitutionDate)
	}
	if c.HearingDate != "" {
		fmt.Fprintf(&b, "Hearing Date: %s\n", c.HearingDate)
	}

	caseID := c.ID
	result := &types.RankedResult{
		ID:         fmt.Sprintf("case-%d", c.ID),
		Score:      1.0,
		CaseID:     &caseID,
		CaseNumber: c.CaseNumber,
		CaseTitle:  c.Title,
		Court:      c.Court,
		Status:     string(c.Status),
		MatchType:  types.MethodExactCaseNumber,
	}
	if c.SRNumber != "" {
		result.SetExtra("sr_number", c.SRNumber)
	}

	if detail != nil {
		if detail.AdvocatesPetitioner != "" {
			fmt.Fprintf(&b, "Advocates (Petitioner): %s\n", detail.AdvocatesPetitioner)
			result.SetExtra("advocates_petitioner", detail.AdvocatesPetitioner)
		}
		if detail.AdvocatesRespondent != "" {
			fmt.Fprintf(&b, "Advocates (Respondent): %s\n", detail.AdvocatesRespondent)
			result.SetExtra("advocates_respondent", detail.AdvocatesRespondent)
		}
		if detail.ShortOrder != "" {
			fmt.Fprintf(&b, "Short Order: %s\n", detail.ShortOrder)
			result.SetExtra("short_order", detail.ShortOrder)
		}
		if detail.CaseDescription != "" {
			fmt.Fprintf(&b, "Description: %s\n", detail.CaseDescription)
		}
		if detail.CaseStage != "" {
			result.SetExtra("case_stage", detail.CaseStage)
		}
		if detail.FIR.Number != "" {
			fmt.Fprintf(&b, "FIR: %s", detail.FIR.Number)
			if detail.FIR.Date != "" {
				fmt.Fprintf(&b, " dated %s", detail.FIR.Date)
			}
			if detail.FIR.PoliceStation != "" {
				fmt.Fprintf(&b, ", %s", detail.FIR.PoliceStation)
			}
			if detail.FIR.UnderSection != "" {
				fmt.Fprintf(&b, ", under %s", detail.FIR.UnderSection)
			}
			b.WriteString("\n")
			result.SetExtra("fir_number", detail.FIR.Number)
			if detail.FIR.UnderSection != "" {
				result.SetExtra("fir_sections", detail.FIR.UnderSection)
			}
		}
	}

	if len(orders) > 0 {
		b.WriteString("Recent Orders:\n")
		for _, o := range orders {
			fmt.Fprintf(&b, "  %s: %s\n", o.HearingDate, o.ShortOrder)
		}
	}

	result.Text = b.String()
	return result, nil
}
