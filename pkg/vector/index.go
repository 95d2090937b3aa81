package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/embeddings"
)

const embedBatchSize = 32

// SemanticIndex embeds documents on the way in and queries on the way out.
type SemanticIndex struct {
	client   Client
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewSemanticIndex combines a vector store and an embedder.
func NewSemanticIndex(client Client, embedder embeddings.Embedder, logger *slog.Logger) *SemanticIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticIndex{client: client, embedder: embedder, logger: logger.With("component", "semantic_index")}
}

// Index embeds and stores docs, returning how many were stored.
func (s *SemanticIndex) Index(ctx context.Context, docs []Document) (int, error) {
	stored := 0
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}

		for i := range batch {
			doc := batch[i]
			doc.Embedding = vecs[i]
			if doc.ID == "" {
				doc.ID = DocumentID(doc.Metadata.ChannelID, doc.Metadata.TS, i+start)
			}
			if err := s.client.Store(ctx, doc); err != nil {
				return stored, err
			}
			stored++
		}
	}

	s.logger.DebugContext(ctx, "indexed documents", "count", stored)
	return stored, nil
}

// EmbedAndIndex stores one document per text with the matching metadata.
func (s *SemanticIndex) EmbedAndIndex(ctx context.Context, texts []string, metadata []DocumentMetadata) error {
	if len(texts) != len(metadata) {
		return fmt.Errorf("embed and index: %d texts but %d metadata entries", len(texts), len(metadata))
	}
	docs := make([]Document, len(texts))
	for i := range texts {
		docs[i] = Document{
			ID:       DocumentID(metadata[i].ChannelID, metadata[i].TS, 0),
			Content:  texts[i],
			Metadata: metadata[i],
		}
	}
	_, err := s.Index(ctx, docs)
	return err
}

// Query returns the k documents closest to text.
func (s *SemanticIndex) Query(ctx context.Context, text string, k int, f Filters) ([]Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.client.Search(ctx, vec, k, f)
}

// SearchTexts returns the content of the k closest documents in channel.
func (s *SemanticIndex) SearchTexts(ctx context.Context, query string, k int, channel string) ([]string, error) {
	docs, err := s.Query(ctx, query, k, Filters{Channel: channel})
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	return texts, nil
}
