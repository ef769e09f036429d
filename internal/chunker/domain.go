package chunker

import "strings"

// =============================================================================
// LEGAL DOMAIN CLASSIFICATION
// =============================================================================

// Domain names. DomainGeneral is the zero-score fallback.
const (
	DomainCriminal       = "criminal"
	DomainCivil          = "civil"
	DomainConstitutional = "constitutional"
	DomainFamily         = "family"
	DomainCommercial     = "commercial"
	DomainTax            = "tax"
	DomainLabor          = "labor"
	DomainProperty       = "property"
	DomainBanking        = "banking"
	DomainIP             = "intellectual_property"
	DomainCorporate      = "corporate"
	DomainGeneral        = "general"
)

// domainKeywords holds three weighted keyword bands per domain:
// high = 3, medium = 2, low = 1.
type domainKeywords struct {
	high   []string
	medium []string
	low    []string
}

var domainVocabulary = map[string]domainKeywords{
	DomainCriminal: {
		high:   []string{"murder", "ppc", "fir", "bail", "accused", "conviction", "sentence"},
		medium: []string{"theft", "robbery", "police", "investigation", "charged under", "criminal charges", "narcotics"},
		low:    []string{"offence", "offense", "custody", "remand", "prosecution"},
	},
	DomainCivil: {
		high:   []string{"cpc", "decree", "plaint", "suit for"},
		medium: []string{"damages", "injunction", "specific performance", "civil suit"},
		low:    []string{"plaintiff", "defendant", "recovery", "declaration"},
	},
	DomainConstitutional: {
		high:   []string{"constitution", "article 199", "writ petition", "fundamental rights"},
		medium: []string{"habeas corpus", "mandamus", "certiorari", "quo warranto"},
		low:    []string{"petition", "vires", "jurisdiction"},
	},
	DomainFamily: {
		high:   []string{"khula", "divorce", "dower", "custody of minor"},
		medium: []string{"marriage", "maintenance", "guardian", "nikah"},
		low:    []string{"family court", "dowry", "minor"},
	},
	DomainCommercial: {
		high:   []string{"contract act", "breach of contract", "arbitration"},
		medium: []string{"agreement", "consideration", "tender", "partnership"},
		low:    []string{"commercial", "trade", "business"},
	},
	DomainTax: {
		high:   []string{"income tax", "sales tax", "fbr", "customs duty"},
		medium: []string{"assessment", "taxation", "excise", "withholding"},
		low:    []string{"revenue", "duty", "tariff"},
	},
	DomainLabor: {
		high:   []string{"industrial relations", "eobi", "workmen compensation"},
		medium: []string{"termination", "reinstatement", "labour court", "labor court"},
		low:    []string{"employee", "employer", "wages", "service"},
	},
	DomainProperty: {
		high:   []string{"land revenue", "mutation", "pre-emption", "ejectment"},
		medium: []string{"tenancy", "lease", "possession", "partition"},
		low:    []string{"property", "land", "plot", "khasra"},
	},
	DomainBanking: {
		high:   []string{"banking companies", "loan default", "markup", "finance facility"},
		medium: []string{"mortgage", "recovery of finance", "negotiable instruments"},
		low:    []string{"bank", "cheque", "account"},
	},
	DomainIP: {
		high:   []string{"trademark", "copyright", "patent"},
		medium: []string{"infringement", "passing off", "registered design"},
		low:    []string{"brand", "logo", "royalty"},
	},
	DomainCorporate: {
		high:   []string{"companies act", "secp", "winding up"},
		medium: []string{"shareholders", "directors", "memorandum of association"},
		low:    []string{"company", "corporate", "shares"},
	},
}

// criminalTieBreakers decide criminal-vs-civil ties per the tie-break rule.
var criminalTieBreakers = []string{"ppc", "charged under", "criminal charges", "accused", "conviction"}

// ClassifyDomain scores the text against each domain's keyword bands and
// returns the argmax. A zero total score classifies as general. When criminal
// and civil both score and a criminal tie-breaker term is present, criminal
// wins regardless of the raw scores.
func ClassifyDomain(text string) string {
	lower := strings.ToLower(text)

	scores := make(map[string]int, len(domainVocabulary))
	for domain, vocab := range domainVocabulary {
		score := 0
		for _, kw := range vocab.high {
			if strings.Contains(lower, kw) {
				score += 3
			}
		}
		for _, kw := range vocab.medium {
			if strings.Contains(lower, kw) {
				score += 2
			}
		}
		for _, kw := range vocab.low {
			if strings.Contains(lower, kw) {
				score += 1
			}
		}
		scores[domain] = score
	}

	// Tie-break: criminal-flavored text beats a civil score.
	if scores[DomainCriminal] > 0 && scores[DomainCivil] > 0 {
		for _, marker := range criminalTieBreakers {
			if strings.Contains(lower, marker) {
				return DomainCriminal
			}
		}
	}

	best := DomainGeneral
	bestScore := 0
	// Deterministic argmax: iterate a fixed order, not map order.
	for _, domain := range []string{
		DomainCriminal, DomainCivil, DomainConstitutional, DomainFamily,
		DomainCommercial, DomainTax, DomainLabor, DomainProperty,
		DomainBanking, DomainIP, DomainCorporate,
	} {
		if scores[domain] > bestScore {
			best = domain
			bestScore = scores[domain]
		}
	}
	return best
}
