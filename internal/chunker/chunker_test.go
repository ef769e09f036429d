package chunker

import (
	"strings"
	"testing"
)

// makeText builds a deterministic text of n chars with '.' at the given
// positions and no other sentence terminators.
func makeText(n int, dots ...int) string {
	b := []byte(strings.Repeat("lorem ipsum dicta curiae ", n/25+1))[:n]
	for i := range b {
		if b[i] == '.' {
			b[i] = ' '
		}
	}
	for _, d := range dots {
		b[d] = '.'
	}
	return string(b)
}

func TestSplit_SentenceBoundary(t *testing.T) {
	// 5000 chars, terminators at 450 and 520. With the default config the
	// window is 525 chars with 75 overlap; the first chunk should end at the
	// boundary (char 521) and the second should start at 446.
	text := makeText(5000, 450, 520)

	chunks := Split(text, Base{}, DefaultConfig())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	if chunks[0].End != 521 {
		t.Errorf("first chunk ends at %d, want 521", chunks[0].End)
	}
	if chunks[1].Start != 446 {
		t.Errorf("second chunk starts at %d, want 446", chunks[1].Start)
	}
}

func TestSplit_ForwardProgressAndBounds(t *testing.T) {
	cfg := DefaultConfig()
	text := makeText(12000)

	chunks := Split(text, Base{}, cfg)
	if len(chunks) == 0 {
		t.Fatal("no chunks emitted")
	}

	minChars := cfg.chars(cfg.MinChunkSize)
	maxChars := cfg.chars(cfg.MaxChunkSize)

	for i, c := range chunks {
		if len(c.Text) < minChars {
			t.Errorf("chunk %d below minimum: %d < %d", i, len(c.Text), minChars)
		}
		if len(c.Text) > maxChars {
			t.Errorf("chunk %d above maximum: %d > %d", i, len(c.Text), maxChars)
		}
		if i > 0 && c.Start < chunks[i-1].Start+1 {
			t.Errorf("chunk %d does not advance: start %d after previous start %d", i, c.Start, chunks[i-1].Start)
		}
	}
}

func TestSplit_ShortInputSkipped(t *testing.T) {
	chunks := Split("too short", Base{}, DefaultConfig())
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for text below minimum, got %d", len(chunks))
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	if chunks := Split("", Base{}, DefaultConfig()); chunks != nil {
		t.Errorf("expected nil for empty input, got %d chunks", len(chunks))
	}
}

func TestSplit_MetadataSections(t *testing.T) {
	text := strings.Repeat("The accused was charged under section 302 PPC before the court. ", 10)
	chunks := Split(text, Base{CaseNo: "Crl. Appeal 5/2023", Court: "Islamabad High Court", DocumentType: "judgment"}, DefaultConfig())
	if len(chunks) == 0 {
		t.Fatal("no chunks emitted")
	}

	md := chunks[0].Metadata
	if md.ParagraphNo != 1 {
		t.Errorf("paragraph_no = %d, want 1", md.ParagraphNo)
	}
	found := false
	for _, s := range md.Sections {
		if s == "s. 302 PPC" {
			found = true
		}
	}
	if !found {
		t.Errorf("sections %v missing s. 302 PPC", md.Sections)
	}
	if md.LegalDomain != DomainCriminal {
		t.Errorf("legal_domain = %q, want criminal", md.LegalDomain)
	}
}

func TestSplit_ScoresInRange(t *testing.T) {
	text := strings.Repeat("The court heard the case under the law and the relevant act and section. ", 12)
	chunks := Split(text, Base{CaseNo: "W.P. 99/2022", Court: "Lahore High Court", Judges: []string{"J. Ahmed"}}, DefaultConfig())
	if len(chunks) == 0 {
		t.Fatal("no chunks emitted")
	}
	for i, c := range chunks {
		if c.Metadata.AIContextScore < 0 || c.Metadata.AIContextScore > 1 {
			t.Errorf("chunk %d ai_context_score out of range: %f", i, c.Metadata.AIContextScore)
		}
		if c.Metadata.QARelevance < 0 || c.Metadata.QARelevance > 1 {
			t.Errorf("chunk %d qa_relevance out of range: %f", i, c.Metadata.QARelevance)
		}
	}
}

func TestClassifyDomain(t *testing.T) {
	cases := []struct {
		text   string
		domain string
	}{
		{"the accused was convicted of murder under ppc and the fir was registered", DomainCriminal},
		{"suit for specific performance with a decree under cpc", DomainCivil},
		{"writ petition under article 199 asserting fundamental rights", DomainConstitutional},
		{"khula and custody of minor with maintenance", DomainFamily},
		{"income tax assessment challenged before fbr", DomainTax},
		{"the weather was pleasant that day", DomainGeneral},
	}

	for _, tc := range cases {
		if got := ClassifyDomain(tc.text); got != tc.domain {
			t.Errorf("ClassifyDomain(%q) = %q, want %q", tc.text, got, tc.domain)
		}
	}
}

func TestClassifyDomain_CriminalCivilTieBreak(t *testing.T) {
	// Text mentions both civil and criminal vocabulary; the presence of
	// "accused" must tip it to criminal.
	text := "the plaintiff filed a civil suit for damages but the accused faced criminal charges"
	if got := ClassifyDomain(text); got != DomainCriminal {
		t.Errorf("tie-break produced %q, want criminal", got)
	}
}

func TestQARelevance_PlaceholderFields(t *testing.T) {
	md := Metadata{CaseNo: "N/A", Court: "unknown"}
	score := qaRelevanceScore(md, "the quick brown fox jumps")
	if score != 0 {
		t.Errorf("placeholder-only metadata scored %f, want 0", score)
	}
}
