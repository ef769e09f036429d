// Package diversify post-filters ranked results: an MMR-style pass drops
// near-duplicate texts by Jaccard similarity, and a title pass floats results
// matching the query's case-title hint to the front.
package diversify

import (
	"strings"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// DefaultThreshold is the Jaccard similarity above which a candidate is
// considered a duplicate of an already-accepted result.
const DefaultThreshold = 0.8

// Apply runs the diversity pass then hint prioritization, returning at most
// k results. threshold <= 0 selects the default of 0.8.
func Apply(results []types.RankedResult, k int, threshold float64, caseTitleHint string) []types.RankedResult {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "diversify.Apply")
	defer timer.Stop()

	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if k <= 0 || k > len(results) {
		k = len(results)
	}

	diverse := diversityFilter(results, k, threshold)
	return prioritizeHint(diverse, caseTitleHint)
}

// diversityFilter runs the acceptance pass; if that leaves fewer than k, the
// rejects refill greedily in their original order.
func diversityFilter(results []types.RankedResult, k int, threshold float64) []types.RankedResult {
	accepted, rejected := acceptDiverse(results, k, threshold)

	if len(accepted) < k {
		refill := k - len(accepted)
		if refill > len(rejected) {
			refill = len(rejected)
		}
		if refill > 0 {
			logging.RetrievalDebug("Diversity pass refilling %d near-duplicate result(s)", refill)
			accepted = append(accepted, rejected[:refill]...)
		}
	}
	return accepted
}

// acceptDiverse walks candidates in score order, rejecting any whose text has
// Jaccard similarity above threshold with an already-accepted text.
func acceptDiverse(results []types.RankedResult, k int, threshold float64) (accepted, rejected []types.RankedResult) {
	var acceptedTokens []map[string]bool
	for _, r := range results {
		if len(accepted) >= k {
			break
		}
		tokens := tokenize(r.Text)
		dup := false
		for _, prev := range acceptedTokens {
			if jaccard(tokens, prev) > threshold {
				dup = true
				break
			}
		}
		if dup {
			rejected = append(rejected, r)
			continue
		}
		accepted = append(accepted, r)
		acceptedTokens = append(acceptedTokens, tokens)
	}
	return accepted, rejected
}

// prioritizeHint partitions results by normalized-title match against the
// hint; matches lead when any exist.
func prioritizeHint(results []types.RankedResult, hint string) []types.RankedResult {
	if hint == "" {
		return results
	}
	normHint := normalizeTitle(hint)
	if normHint == "" {
		return results
	}

	var matches, rest []types.RankedResult
	for _, r := range results {
		title := normalizeTitle(r.CaseTitle)
		if title != "" && (strings.Contains(title, normHint) || strings.Contains(normHint, title)) {
			matches = append(matches, r)
		} else {
			rest = append(rest, r)
		}
	}
	if len(matches) == 0 {
		return results
	}
	return append(matches, rest...)
}

// =============================================================================
// TEXT SIMILARITY
// =============================================================================

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		tokens[w] = true
	}
	return tokens
}

// jaccard computes |A∩B| / |A∪B| over token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// normalizeTitle lowercases and collapses non-alphanumerics to single spaces.
func normalizeTitle(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
