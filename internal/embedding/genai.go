package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string, dims int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims <= 0 {
		dims = 384
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var task string
	switch taskType {
	case "SEMANTIC_SIMILARITY", "":
		task = "SEMANTIC_SIMILARITY"
	case "RETRIEVAL_DOCUMENT":
		task = "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		task = "RETRIEVAL_QUERY"
	case "QUESTION_ANSWERING":
		task = "QUESTION_ANSWERING"
	case "FACT_VERIFICATION":
		task = "FACT_VERIFICATION"
	default:
		task = "SEMANTIC_SIMILARITY"
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: task,
		dims:     dims,
	}, nil
}

// embedRequest builds the request for every embed call. OutputDimensionality
// must match the configured dimension or the store rejects every vector.
func (e *GenAIEngine) embedRequest() *genai.EmbedContentConfig {
	dims := int32(e.dims)
	return &genai.EmbedContentConfig{
		TaskType:             e.taskType,
		OutputDimensionality: &dims,
	}
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		e.embedRequest(),
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	vec := result.Embeddings[0].Values
	if len(vec) != e.dims {
		return nil, fmt.Errorf("GenAI returned %d-dim vector, expected %d", len(vec), e.dims)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
// GenAI has native batch support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		e.embedRequest(),
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb.Values) != e.dims {
			return nil, fmt.Errorf("GenAI returned %d-dim vector at index %d, expected %d",
				len(emb.Values), i, e.dims)
		}
		embeddings[i] = emb.Values
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *GenAIEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// Close closes the GenAI client. The genai.Client holds no resources that
// need explicit closing, so this is a no-op.
func (e *GenAIEngine) Close() error {
	return nil
}
