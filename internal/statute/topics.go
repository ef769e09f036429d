package statute

import (
	"strings"

	"qanoon/internal/types"
)

// =============================================================================
// SYNONYM EXPANSION
// =============================================================================

// synonymGroups maps everyday phrasing onto statutory vocabulary. When any
// member of a group appears in the query, the whole group joins the term set.
var synonymGroups = [][]string{
	{"theft", "stealing", "stole", "steal", "stolen", "robbery", "larceny", "burglary", "snatching"},
	{"murder", "kill", "killed", "killing", "homicide", "qatl"},
	{"hurt", "injury", "assault", "beating", "wound"},
	{"kidnapping", "abduction", "kidnapped", "abducted"},
	{"fraud", "cheating", "cheated", "scam", "forgery", "dishonesty"},
	{"marriage", "nikah", "wedlock"},
	{"divorce", "khula", "talaq", "separation"},
	{"custody", "guardianship", "minor"},
	{"dowry", "dower", "haq mehr"},
	{"bail", "remand", "custody hearing"},
	{"narcotics", "drugs", "heroin", "opium", "charas", "psychotropic"},
	{"bribery", "corruption", "graft", "kickback"},
	{"defamation", "slander", "libel"},
	{"trespass", "encroachment"},
	{"harassment", "stalking", "intimidation"},
	{"car", "vehicle", "motorcycle", "bike", "truck", "motor vehicle", "automobile"},
	{"traffic", "driving", "road", "accident", "rash driving"},
	{"tax", "duty", "levy", "customs"},
	{"tenancy", "rent", "eviction", "landlord", "tenant"},
	{"cybercrime", "hacking", "online fraud", "electronic crime"},
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "by": true, "can": true,
	"do": true, "for": true, "get": true, "he": true, "his": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "my": true, "of": true,
	"on": true, "or": true, "she": true, "someone": true, "the": true,
	"to": true, "was": true, "what": true, "who": true, "with": true,
}

// expandTerms returns the synonym-expanded term set for a query. Stopwords
// are dropped from the query words; synonym members are added verbatim.
func expandTerms(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool)
	var terms []string

	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	for _, w := range words {
		if stopwords[w] || len(w) < 2 {
			continue
		}
		add(w)
	}
	for _, group := range synonymGroups {
		hit := false
		for _, member := range group {
			if seen[member] || strings.Contains(strings.ToLower(query), member) {
				hit = true
				break
			}
		}
		if hit {
			for _, member := range group {
				add(member)
			}
		}
	}
	return terms
}

// =============================================================================
// TOPIC RULES
// =============================================================================

// topicRule scopes a query to a subject area: which expanded terms stay
// relevant, and which entry titles are categorically off-topic. Exclusion
// patterns are AND-groups of title substrings.
type topicRule struct {
	name     string
	triggers []string
	relevant []string
	exclude  [][]string
}

var topicRules = []topicRule{
	{
		name:     "vehicle_theft",
		triggers: []string{"car", "vehicle", "motorcycle", "bike", "truck", "automobile"},
		relevant: []string{"theft", "stealing", "stole", "steal", "stolen", "robbery", "snatching",
			"motor vehicle", "motor", "vehicle", "car", "motorcycle", "bike", "truck", "automobile"},
		exclude: [][]string{
			{"banking"}, {"agricultural"}, {"maritime"}, {"cotton"}, {"port"},
			{"gas", "theft"}, {"electricity", "theft"},
			{"carriage"}, {"shipping"}, {"transport"}, {"cargo"},
		},
	},
	{
		name:     "violence",
		triggers: []string{"murder", "kill", "homicide", "qatl", "assault", "hurt", "stab", "shot"},
		relevant: []string{"murder", "kill", "killed", "killing", "homicide", "qatl",
			"hurt", "injury", "assault", "wound", "violence", "death", "attempt"},
		exclude: [][]string{
			{"agricultural"}, {"blood transfusion"}, {"banking"}, {"maritime"}, {"education"},
		},
	},
	{
		name:     "traffic",
		triggers: []string{"traffic", "driving", "license", "accident", "rash"},
		relevant: []string{"traffic", "driving", "road", "motor", "vehicle", "accident",
			"rash driving", "license", "negligence"},
		exclude: [][]string{
			{"trafficking"},
		},
	},
	{
		name:     "family",
		triggers: []string{"marriage", "divorce", "khula", "talaq", "custody", "dowry", "nikah", "maintenance"},
		relevant: []string{"marriage", "nikah", "divorce", "khula", "talaq", "custody",
			"guardianship", "minor", "dowry", "dower", "maintenance", "family"},
	},
	{
		name:     "narcotics",
		triggers: []string{"narcotics", "drugs", "heroin", "opium", "charas", "smuggling"},
		relevant: []string{"narcotics", "drugs", "heroin", "opium", "charas", "psychotropic",
			"smuggling", "possession", "trafficking"},
	},
}

// detectTopic returns the first topic whose trigger appears in the query,
// or the permissive zero topic.
func detectTopic(query string) topicRule {
	query = strings.ToLower(query)
	for _, rule := range topicRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(query, trigger) {
				return rule
			}
		}
	}
	return topicRule{name: "general"}
}

// filterTerms keeps only topic-relevant terms. The general topic keeps
// everything: with no subject detected there is nothing to scope by.
func (t topicRule) filterTerms(terms []string) []string {
	if len(t.relevant) == 0 {
		return terms
	}
	relevant := make(map[string]bool, len(t.relevant))
	for _, r := range t.relevant {
		relevant[r] = true
	}
	var out []string
	for _, term := range terms {
		if relevant[term] {
			out = append(out, term)
		}
	}
	return out
}

// excludes reports whether an entry's title hits the topic's deny-list.
// Every substring in an exclusion group must be present.
func (t topicRule) excludes(entry types.StatuteEntry) bool {
	title := strings.ToLower(entry.Title)
	for _, group := range t.exclude {
		all := true
		for _, sub := range group {
			if !strings.Contains(title, sub) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
