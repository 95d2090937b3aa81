// Package embeddings turns text into vectors for the semantic index and the
// embedding based similarity judge.
package embeddings

import (
	"context"
	"fmt"
	"math"
)

// Embedder produces embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider string // ollama, openai, gemini
	Model    string
	APIKey   string
	BaseURL  string
}

// New creates the embedder named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "gemini":
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
