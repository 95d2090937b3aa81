package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/ollama"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaEmbedder handles embedding generation using Ollama
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder creates a new Ollama embedder
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaEmbedder{client: ollama.NewClient(baseURL), model: model}
}

// Embed generates an embedding for the given text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	vecs, err := e.client.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama batch embed: %w", err)
	}
	return vecs, nil
}
