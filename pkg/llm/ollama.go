package llm

import (
	"context"
	"fmt"

	"github.com/testsabirweb/slack_digest/pkg/ollama"
)

// OllamaClient completes prompts against a local Ollama server.
type OllamaClient struct {
	client    *ollama.Client
	model     string
	maxTokens int
}

// NewOllamaClient creates a client for cfg.Model (llama3:8b by default).
func NewOllamaClient(cfg Config) *OllamaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3:8b"
	}
	return &OllamaClient{client: ollama.NewClient(baseURL), model: model, maxTokens: cfg.MaxTokens}
}

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *OllamaClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	messages := make([]ollama.Message, 0, 2)
	if system != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: system})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: user})

	resp, err := c.client.Chat(ctx, ollama.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Options:  &ollama.Options{NumPredict: c.maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("ollama completion: %w", err)
	}
	return resp.Message.Content, nil
}
