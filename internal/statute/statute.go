// Package statute implements keyword retrieval over the curated statute
// corpus (law-information entries, not case records). Matching is synonym-
// expanded and topic-aware so that "someone stole my car" finds vehicle and
// theft offences without dragging in gas-theft or carriage statutes.
package statute

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// ENGINE
// =============================================================================

// SearchType restricts which entry fields participate in matching.
type SearchType string

const (
	SearchAll          SearchType = "all"
	SearchTitle        SearchType = "title"
	SearchSections     SearchType = "sections"
	SearchTags         SearchType = "tags"
	SearchJurisdiction SearchType = "jurisdiction"
)

// Result is a scored statute entry. Relevance 100 marks an exact-phrase hit.
type Result struct {
	Entry     types.StatuteEntry
	Relevance int
}

// Engine serves statute searches over an in-memory corpus loaded from YAML.
// Reload swaps the corpus atomically; searches in flight keep the old slice.
type Engine struct {
	mu      sync.RWMutex
	path    string
	entries []types.StatuteEntry
}

// New loads the corpus at path (a YAML file or a directory of YAML files).
func New(path string) (*Engine, error) {
	e := &Engine{path: path}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// corpusFile is the on-disk YAML shape; a bare list is also accepted.
type corpusFile struct {
	Statutes []types.StatuteEntry `yaml:"statutes"`
}

// Reload re-reads the corpus from disk. Inactive entries are dropped at load
// time so searches never see them.
func (e *Engine) Reload() error {
	timer := logging.StartTimer(logging.CategoryStatute, "Reload")
	defer timer.Stop()

	info, err := os.Stat(e.path)
	if err != nil {
		return fmt.Errorf("statute corpus not found at %s: %w", e.path, err)
	}

	var files []string
	if info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(e.path, "*.yaml"))
		if err != nil {
			return fmt.Errorf("failed to list corpus directory: %w", err)
		}
		files = matches
		sort.Strings(files)
	} else {
		files = []string{e.path}
	}

	var entries []types.StatuteEntry
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read corpus file %s: %w", f, err)
		}
		loaded, err := parseCorpus(data)
		if err != nil {
			return fmt.Errorf("failed to parse corpus file %s: %w", f, err)
		}
		for _, entry := range loaded {
			if entry.Active {
				entries = append(entries, entry)
			}
		}
	}

	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()

	logging.Statute("Loaded statute corpus: %d active entries from %d file(s)", len(entries), len(files))
	return nil
}

func parseCorpus(data []byte) ([]types.StatuteEntry, error) {
	var wrapped corpusFile
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Statutes) > 0 {
		return wrapped.Statutes, nil
	}
	var plain []types.StatuteEntry
	if err := yaml.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return plain, nil
}

// Count returns the number of active entries loaded.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// =============================================================================
// SEARCH
// =============================================================================

// Search scores the corpus against a free-text query.
//
// Pipeline: synonym expansion, exact-phrase short-circuit (relevance 100),
// topic-relevance filtering of the term set, weighted field retrieval
// (title 90 / tags 80 / sections 70), topic exclusion, then an in-topic
// requirement on title or tags. Results are ordered by (-relevance, title).
func (e *Engine) Search(query string, searchType SearchType) []Result {
	timer := logging.StartTimer(logging.CategoryStatute, "Search")
	defer timer.StopWithInfo()

	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil
	}
	if searchType == "" {
		searchType = SearchAll
	}

	e.mu.RLock()
	entries := e.entries
	e.mu.RUnlock()

	// Exact-phrase pass.
	var exact []Result
	for _, entry := range entries {
		if entryContainsPhrase(entry, query, searchType) {
			exact = append(exact, Result{Entry: entry, Relevance: 100})
		}
	}
	if len(exact) > 0 {
		sortResults(exact)
		logging.StatuteDebug("Exact-phrase pass matched %d entries", len(exact))
		return exact
	}

	terms := expandTerms(query)
	topic := detectTopic(query)
	terms = topic.filterTerms(terms)
	if len(terms) == 0 {
		logging.StatuteDebug("No topic-relevant terms after filtering; returning empty")
		return nil
	}

	// Weighted retrieval; score = max over matched fields.
	scores := make(map[string]int)
	byKey := make(map[string]types.StatuteEntry)
	for _, entry := range entries {
		score := 0
		if searchType == SearchAll || searchType == SearchTitle {
			if matchesAnyTerm(entry.Title, terms) {
				score = 90
			}
		}
		if score < 80 && (searchType == SearchAll || searchType == SearchTags) {
			if matchesAnyTermList(entry.Tags, terms) {
				score = 80
			}
		}
		if score < 70 && (searchType == SearchAll || searchType == SearchSections) {
			if matchesAnyTermList(entry.Sections, terms) {
				score = 70
			}
		}
		if score < 70 && searchType == SearchJurisdiction {
			if matchesAnyTerm(entry.Jurisdiction, terms) {
				score = 70
			}
		}
		if score == 0 {
			continue
		}
		if topic.excludes(entry) {
			logging.StatuteDebug("Excluding %q for topic %s", entry.Title, topic.name)
			continue
		}
		// In-topic requirement: the entry must carry a relevant term in its
		// title or tags, not just a section match. The general fallback has
		// no topic vocabulary, so the gate cannot bind there.
		if topic.name != "general" &&
			!matchesAnyTerm(entry.Title, terms) && !matchesAnyTermList(entry.Tags, terms) {
			continue
		}
		if prev, ok := scores[entry.Slug]; !ok || score > prev {
			scores[entry.Slug] = score
			byKey[entry.Slug] = entry
		}
	}

	results := make([]Result, 0, len(scores))
	for slug, score := range scores {
		results = append(results, Result{Entry: byKey[slug], Relevance: score})
	}
	sortResults(results)
	return results
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Entry.Title < results[j].Entry.Title
	})
}

func entryContainsPhrase(entry types.StatuteEntry, phrase string, searchType SearchType) bool {
	contains := func(s string) bool {
		return strings.Contains(strings.ToLower(s), phrase)
	}
	containsList := func(list []string) bool {
		for _, s := range list {
			if contains(s) {
				return true
			}
		}
		return false
	}
	switch searchType {
	case SearchTitle:
		return contains(entry.Title)
	case SearchSections:
		return containsList(entry.Sections)
	case SearchTags:
		return containsList(entry.Tags)
	case SearchJurisdiction:
		return contains(entry.Jurisdiction)
	default:
		return contains(entry.Title) || containsList(entry.Sections) ||
			containsList(entry.Tags) || contains(entry.Jurisdiction) ||
			contains(entry.Punishment)
	}
}

func matchesAnyTerm(field string, terms []string) bool {
	field = strings.ToLower(field)
	for _, t := range terms {
		if strings.Contains(field, t) {
			return true
		}
	}
	return false
}

func matchesAnyTermList(fields []string, terms []string) bool {
	for _, f := range fields {
		if matchesAnyTerm(f, terms) {
			return true
		}
	}
	return false
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// Suggest returns entry titles for autocomplete. Prefixes shorter than two
// characters produce nothing. Featured entries sort first.
func (e *Engine) Suggest(prefix string) []string {
	prefix = strings.TrimSpace(strings.ToLower(prefix))
	if len(prefix) < 2 {
		return nil
	}

	e.mu.RLock()
	entries := e.entries
	e.mu.RUnlock()

	type suggestion struct {
		title    string
		featured bool
	}
	var hits []suggestion
	for _, entry := range entries {
		title := strings.ToLower(entry.Title)
		matched := strings.HasPrefix(title, prefix)
		if !matched {
			for _, word := range strings.Fields(title) {
				if strings.HasPrefix(word, prefix) {
					matched = true
					break
				}
			}
		}
		if matched {
			hits = append(hits, suggestion{title: entry.Title, featured: entry.Featured})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].featured != hits[j].featured {
			return hits[i].featured
		}
		return hits[i].title < hits[j].title
	})

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.title
	}
	return out
}
