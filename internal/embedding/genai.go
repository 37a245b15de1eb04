package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultGenAIModel = "gemini-embedding-001"
	genAITaskType     = "SEMANTIC_SIMILARITY"
)

// GenAI generates embeddings with the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini embedding client. apiKey is required.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}
	if model == "" {
		model = defaultGenAIModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	return &GenAI{client: client, model: model}, nil
}

// Name returns the backend identifier.
func (g *GenAI) Name() string { return "genai:" + g.model }

// Embed generates an embedding for a single text.
func (g *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for several texts in one request.
func (g *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType: genAITaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: embed content: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("genai: embedding %d missing", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
