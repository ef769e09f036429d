// Package chunker splits case and document text into overlapping,
// token-budgeted chunks suitable for embedding. Chunking runs on the
// reference-normalized text so downstream retrieval sees canonical legal
// references. Each chunk carries structured metadata: extracted sections,
// a legal-domain classification, and QA quality scores.
package chunker

import (
	"strings"

	"qanoon/internal/logging"
	"qanoon/internal/reference"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds chunking parameters. Sizes are in tokens; TokenRatio converts
// tokens to characters.
type Config struct {
	ChunkSize    int     // target tokens per chunk
	ChunkOverlap int     // overlap tokens between consecutive chunks
	MinChunkSize int     // minimum tokens for an emitted chunk
	MaxChunkSize int     // maximum tokens per chunk
	TokenRatio   float64 // characters per token
}

// DefaultConfig returns the standard chunking parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    700,
		ChunkOverlap: 100,
		MinChunkSize: 200,
		MaxChunkSize: 1000,
		TokenRatio:   0.75,
	}
}

// chars converts a token budget to characters.
func (c Config) chars(tokens int) int {
	return int(float64(tokens) * c.TokenRatio)
}

// =============================================================================
// CHUNK TYPES
// =============================================================================

// Base carries document-level metadata the caller already knows; the chunker
// copies it onto every chunk and augments it with per-chunk fields.
type Base struct {
	CaseNo       string
	Court        string
	Judges       []string
	Year         string
	DocumentType string // judgment | document
	ContentType  string
}

// Metadata is the per-chunk structured metadata.
type Metadata struct {
	CaseNo         string   `json:"case_no"`
	Court          string   `json:"court"`
	Judges         []string `json:"judges"`
	Year           string   `json:"year"`
	Sections       []string `json:"sections"`
	ParagraphNo    int      `json:"paragraph_no"`
	DocumentType   string   `json:"document_type"`
	ContentType    string   `json:"content_type"`
	LegalDomain    string   `json:"legal_domain"`
	AIContextScore float64  `json:"ai_context_score"`
	QARelevance    float64  `json:"qa_relevance"`
}

// Chunk is one emitted text slice with its source offsets (into the
// normalized text) and metadata.
type Chunk struct {
	Text     string
	Start    int
	End      int
	Metadata Metadata
}

// =============================================================================
// SPLIT
// =============================================================================

// sentenceBackscanChars bounds how far back from the window end we look for a
// sentence terminator.
const sentenceBackscanChars = 200

// Split normalizes the text via the reference normalizer and cuts it into
// overlapping chunks with sentence-boundary awareness. It always terminates
// and guarantees forward progress between consecutive chunks.
func Split(text string, base Base, cfg Config) []Chunk {
	timer := logging.StartTimer(logging.CategoryChunker, "Split")
	defer timer.Stop()

	if text == "" {
		return nil
	}

	norm := reference.Normalize(text)
	input := norm.ProcessedText
	if input == "" {
		input = text
	}

	targetChars := cfg.chars(cfg.ChunkSize)
	overlapChars := cfg.chars(cfg.ChunkOverlap)
	minChars := cfg.chars(cfg.MinChunkSize)

	if targetChars <= 0 {
		return nil
	}
	if overlapChars >= targetChars {
		overlapChars = targetChars / 2
	}

	var chunks []Chunk
	start := 0
	for start < len(input) {
		end := start + targetChars
		if end > len(input) {
			end = len(input)
		} else {
			// Prefer ending on a sentence boundary within the backscan window,
			// provided the boundary keeps the chunk above the minimum size.
			scanFrom := end - sentenceBackscanChars
			if scanFrom < start {
				scanFrom = start
			}
			if dot := strings.LastIndexByte(input[scanFrom:end], '.'); dot >= 0 {
				boundary := scanFrom + dot
				if boundary > start+minChars {
					end = boundary + 1
				}
			}
		}

		piece := input[start:end]
		if len(piece) >= minChars {
			chunks = append(chunks, Chunk{
				Text:  piece,
				Start: start,
				End:   end,
			})
		}

		next := end - overlapChars
		if next <= start {
			// Forward progress: never revisit the same window.
			next = end
		}
		if next >= len(input) {
			break
		}
		start = next
	}

	for i := range chunks {
		chunks[i].Metadata = buildMetadata(chunks[i].Text, base, i)
	}

	logging.ChunkerDebug("Split %d chars into %d chunks (target=%d chars, overlap=%d chars)",
		len(input), len(chunks), targetChars, overlapChars)
	return chunks
}

// buildMetadata computes the per-chunk metadata for one chunk.
func buildMetadata(text string, base Base, index int) Metadata {
	sections := extractSections(text)
	domain := ClassifyDomain(text)

	md := Metadata{
		CaseNo:       base.CaseNo,
		Court:        base.Court,
		Judges:       base.Judges,
		Year:         base.Year,
		Sections:     sections,
		ParagraphNo:  index + 1,
		DocumentType: base.DocumentType,
		ContentType:  base.ContentType,
		LegalDomain:  domain,
	}
	md.AIContextScore = aiContextScore(md, len(text))
	md.QARelevance = qaRelevanceScore(md, text)
	return md
}

// extractSections runs the reference normalizer over the chunk and collects
// canonical section references.
func extractSections(text string) []string {
	res := reference.Normalize(text)
	var sections []string
	seen := make(map[string]bool)
	for _, ref := range res.References {
		if ref.Kind != reference.KindSection && ref.Kind != reference.KindSubSection {
			continue
		}
		if seen[ref.Canonical] {
			continue
		}
		seen[ref.Canonical] = true
		sections = append(sections, ref.Canonical)
	}
	return sections
}

// =============================================================================
// SCORES
// =============================================================================

// aiContextScore estimates how much standalone legal context a chunk carries.
func aiContextScore(md Metadata, textLen int) float64 {
	score := 0.3
	if md.LegalDomain != DomainGeneral {
		score += 0.2
	}
	if len(md.Sections) > 0 {
		score += 0.2
	}
	court := strings.ToLower(md.Court)
	if strings.Contains(court, "high court") || strings.Contains(court, "supreme court") {
		score += 0.2
	}
	if textLen > 500 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// qaKeywords are the anchor terms whose presence signals QA usefulness.
var qaKeywords = []string{"court", "judge", "case", "law", "legal", "section", "act"}

// qaRelevanceScore estimates how useful the chunk is for grounded QA.
func qaRelevanceScore(md Metadata, text string) float64 {
	lower := strings.ToLower(text)

	present := 0
	for _, kw := range qaKeywords {
		if strings.Contains(lower, kw) {
			present++
		}
	}
	score := 0.4 * float64(present) / float64(len(qaKeywords))

	if md.CaseNo != "" && !isPlaceholder(md.CaseNo) {
		score += 0.2
	}
	if md.Court != "" && !isPlaceholder(md.Court) {
		score += 0.2
	}
	if len(md.Judges) > 0 {
		score += 0.1
	}
	if len(md.Sections) > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// isPlaceholder reports whether a field holds scraper filler rather than data.
func isPlaceholder(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "n/a", "na", "none", "unknown", "-", "null":
		return true
	}
	return false
}
