// Package answer defines the contract between the retrieval engine and the
// external answer generator: a prompt payload carrying the question, the
// retrieved passages, and the session context. The engine never composes
// narrative answers itself; the default generator just formats the passages.
package answer

import (
	"context"
	"fmt"
	"strings"

	"qanoon/internal/types"
)

// Prompt is the generator payload for one question.
type Prompt struct {
	Question  string               `json:"question"`
	Retrieved []types.RankedResult `json:"retrieved"`
	Session   *types.ActiveSession `json:"session,omitempty"`
}

// Generator produces a narrative answer from a prompt. Implementations wrap
// an external LLM; the engine ships only the passthrough default.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// BuildPrompt assembles the generator payload.
func BuildPrompt(question string, retrieved []types.RankedResult, sess *types.ActiveSession) Prompt {
	return Prompt{Question: question, Retrieved: retrieved, Session: sess}
}

// Passthrough is the default Generator: it renders the retrieved passages as
// markdown without composing an answer.
type Passthrough struct{}

// Generate formats the prompt's passages. With zero results it returns the
// stock no-grounded-answer message.
func (Passthrough) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if len(prompt.Retrieved) == 0 {
		return "No grounded answer available for this question.", nil
	}

	var b strings.Builder
	method := prompt.Retrieved[0].RetrievalMethod
	fmt.Fprintf(&b, "Found %d result(s) via `%s`:\n\n", len(prompt.Retrieved), method)
	for _, r := range prompt.Retrieved {
		fmt.Fprintf(&b, "### %d. ", r.QARank)
		switch {
		case r.CaseNumber != "" && r.CaseTitle != "":
			fmt.Fprintf(&b, "%s — %s", r.CaseNumber, r.CaseTitle)
		case r.CaseNumber != "":
			b.WriteString(r.CaseNumber)
		case r.CaseTitle != "":
			b.WriteString(r.CaseTitle)
		default:
			b.WriteString("Passage")
		}
		fmt.Fprintf(&b, " (score %.3f)\n\n", r.Score)
		b.WriteString(passageBody(r))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// passageBody truncates long chunk texts; dossiers print whole.
func passageBody(r types.RankedResult) string {
	text := strings.TrimSpace(r.Text)
	if r.MatchType != "" {
		return text
	}
	const maxChars = 600
	if len(text) > maxChars {
		text = text[:maxChars] + "…"
	}
	return text
}
