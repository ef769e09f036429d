// Package rerank implements stage-2 cross-encoder reranking: each (query,
// passage) pair is scored by an external cross-encoder service, scores are
// min-max normalized, and the final ordering fuses the normalized rerank
// score with the stage-1 similarity.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"qanoon/internal/logging"
	"qanoon/internal/types"
)

// =============================================================================
// CROSS-ENCODER CLIENT
// =============================================================================

// Scorer scores (query, passage) pairs. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// HTTPScorer calls a cross-encoder service (e.g. a MiniLM MS-MARCO model
// behind a small HTTP wrapper).
type HTTPScorer struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPScorer creates a scorer against the given endpoint.
func NewHTTPScorer(endpoint, model string) *HTTPScorer {
	if model == "" {
		model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}
	return &HTTPScorer{
		endpoint: endpoint,
		model:    model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rerankRequest struct {
	Model    string   `json:"model"`
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score sends the pairs to the service in one call.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: s.model, Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cross-encoder returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(result.Scores) != len(passages) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d passages", len(result.Scores), len(passages))
	}
	return result.Scores, nil
}

// =============================================================================
// RERANKER
// =============================================================================

const (
	defaultSemanticWeight = 0.7
	defaultFinalK         = 12
	defaultMinFinalK      = 8
)

// Reranker fuses cross-encoder scores with stage-1 similarity.
type Reranker struct {
	scorer         Scorer
	semanticWeight float64
	finalK         int
}

// New creates a Reranker. semanticWeight <= 0 selects 0.7; minK <= 0 selects
// the default floor of 8; finalK below the floor is raised to it.
func New(scorer Scorer, semanticWeight float64, finalK, minK int) *Reranker {
	if semanticWeight <= 0 || semanticWeight > 1 {
		semanticWeight = defaultSemanticWeight
	}
	if minK <= 0 {
		minK = defaultMinFinalK
	}
	if finalK <= 0 {
		finalK = defaultFinalK
	}
	if finalK < minK {
		finalK = minK
	}
	return &Reranker{scorer: scorer, semanticWeight: semanticWeight, finalK: finalK}
}

// Rerank reorders candidates by fused score and keeps the top finalK.
// With fewer than 2 candidates, or when the cross-encoder is unavailable,
// the input passes through untouched.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.RankedResult) []types.RankedResult {
	timer := logging.StartTimer(logging.CategoryRerank, "Rerank")
	defer timer.StopWithInfo()

	if len(candidates) < 2 || r.scorer == nil {
		return candidates
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Text
	}

	raw, err := r.scorer.Score(ctx, query, passages)
	if err != nil {
		logging.Get(logging.CategoryRerank).Warn("Cross-encoder unavailable, passing candidates through: %v", err)
		return candidates
	}

	normalized := normalizeMinMax(raw)
	out := make([]types.RankedResult, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = raw[i]
		out[i].NormalizedRerankScore = normalized[i]
		out[i].CombinedScore = r.semanticWeight*normalized[i] + (1-r.semanticWeight)*out[i].Score
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	if len(out) > r.finalK {
		out = out[:r.finalK]
	}

	logging.Rerank("Reranked %d candidates, kept %d (weight=%.2f)", len(candidates), len(out), r.semanticWeight)
	return out
}

// normalizeMinMax maps scores into [0,1]; a degenerate range maps everything
// to 0.5.
func normalizeMinMax(scores []float64) []float64 {
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
