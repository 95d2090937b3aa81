package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testsabirweb/slack_digest/internal/config"
	"github.com/testsabirweb/slack_digest/internal/logging"
	"github.com/testsabirweb/slack_digest/pkg/embeddings"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	if cfg.Weaviate.Host == "" {
		logger.Error("WEAVIATE_HOST is not set")
		os.Exit(1)
	}

	// Create Weaviate client
	fmt.Printf("Connecting to Weaviate at %s://%s...\n", cfg.Weaviate.Scheme, cfg.Weaviate.Host)
	client, err := vector.NewWeaviateClient(cfg.Weaviate.Scheme, cfg.Weaviate.Host, cfg.Weaviate.APIKey, cfg.Weaviate.Class)
	if err != nil {
		logger.Error("failed to create weaviate client", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Check health
	fmt.Println("Checking Weaviate health...")
	if err := client.HealthCheck(ctx); err != nil {
		logger.Error("weaviate health check failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("✓ Weaviate is healthy")

	// Initialize schema
	fmt.Printf("Initializing %s schema...\n", cfg.Weaviate.Class)
	if err := client.Initialize(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	fmt.Println("✓ Schema initialized successfully")

	// Round-trip a document through the configured embedder
	if len(os.Args) > 1 && os.Args[1] == "test" {
		fmt.Println("\nTesting document operations...")
		if err := testDocument(ctx, cfg, client, logger); err != nil {
			logger.Error("document test failed", "error", err)
			os.Exit(1)
		}
	}

	fmt.Println("\nWeaviate setup completed successfully!")
}

func testDocument(ctx context.Context, cfg *config.Config, client *vector.WeaviateClient, logger *slog.Logger) error {
	baseURL := cfg.Embeddings.BaseURL
	if baseURL == "" && cfg.Embeddings.Provider == "ollama" {
		baseURL = cfg.Ollama.URL
	}
	embedder, err := embeddings.New(ctx, embeddings.Config{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		APIKey:   cfg.Embeddings.APIKey,
		BaseURL:  baseURL,
	})
	if err != nil {
		return err
	}
	index := vector.NewSemanticIndex(client, embedder, logger)

	doc := vector.Document{
		ID:      vector.DocumentID("CSETUP", "0000000000.000000", 0),
		Content: "Submitted Jane Doe https://www.site.com/in/janedoe to the client",
		Metadata: vector.DocumentMetadata{
			Channel:    "setup-test",
			ChannelID:  "CSETUP",
			User:       "setup",
			TS:         "0000000000.000000",
			CreatedAt:  time.Now().UTC(),
			Candidate:  "Jane Doe",
			ProfileURL: "site.com/in/janedoe",
		},
	}

	fmt.Printf("Storing test document with ID: %s...\n", doc.ID)
	if _, err := index.Index(ctx, []vector.Document{doc}); err != nil {
		return err
	}
	fmt.Println("✓ Document stored successfully")

	hits, err := index.Query(ctx, "Jane Doe submission", 1, vector.Filters{Channel: "setup-test"})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Query returned %d document(s)\n", len(hits))

	fmt.Printf("Deleting test document...\n")
	if err := client.Delete(ctx, doc.ID); err != nil {
		return err
	}
	fmt.Println("✓ Document deleted successfully")
	return nil
}
