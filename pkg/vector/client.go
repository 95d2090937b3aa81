package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding indexed Slack messages.
const DefaultClassName = "SlackMessage"

// Document represents a document to be stored in the vector database
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  DocumentMetadata
	Distance  float64
}

// DocumentMetadata describes the Slack message behind a document
type DocumentMetadata struct {
	Channel       string
	ChannelID     string
	User          string
	TS            string
	CreatedAt     time.Time
	Candidate     string
	ProfileURL    string
	IsThreadReply bool
}

// Filters narrows a search. Empty fields are ignored.
type Filters struct {
	Channel    string
	ProfileURL string
}

// DocumentID derives a stable object id for a chunk of a message.
func DocumentID(channelID, ts string, chunk int) string {
	key := fmt.Sprintf("slack:%s_%s_%d", channelID, ts, chunk)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Client interface for vector database operations
type Client interface {
	// Initialize sets up the database schema
	Initialize(ctx context.Context) error

	// Store stores a document with its embedding
	Store(ctx context.Context, doc Document) error

	// Search performs a vector similarity search
	Search(ctx context.Context, query []float32, limit int, f Filters) ([]Document, error)

	// Delete removes a document by ID
	Delete(ctx context.Context, id string) error

	// HealthCheck verifies the connection to the vector database
	HealthCheck(ctx context.Context) error
}

// WeaviateClient implements the Client interface for Weaviate
type WeaviateClient struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateClient creates a new Weaviate client
func NewWeaviateClient(scheme, host, apiKey, className string) (*WeaviateClient, error) {
	if host == "" {
		return nil, fmt.Errorf("weaviate host cannot be empty")
	}
	if className == "" {
		className = DefaultClassName
	}

	cfg := weaviate.Config{
		Scheme: scheme,
		Host:   host,
	}

	// Add API key authentication if provided
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &WeaviateClient{client: client, className: className}, nil
}

// Initialize creates the message class when it does not exist yet
func (c *WeaviateClient) Initialize(ctx context.Context) error {
	exists, err := c.client.Schema().ClassExistenceChecker().
		WithClassName(c.className).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check class existence: %w", err)
	}
	if exists {
		return nil
	}

	classObj := &models.Class{
		Class:       c.className,
		Description: "A Slack message with its channel, thread and candidate context",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}, Description: "Rendered message with thread context"},
			{Name: "channel", DataType: []string{"text"}, Description: "Channel name"},
			{Name: "channelId", DataType: []string{"text"}, Description: "Channel ID"},
			{Name: "user", DataType: []string{"text"}, Description: "Author display name"},
			{Name: "ts", DataType: []string{"text"}, Description: "Slack timestamp"},
			{Name: "datetime", DataType: []string{"date"}, Description: "Message time"},
			{Name: "candidate", DataType: []string{"text"}, Description: "Associated candidate name"},
			{Name: "profileUrl", DataType: []string{"text"}, Description: "Associated candidate profile URL"},
			{Name: "isThreadReply", DataType: []string{"boolean"}, Description: "Whether the message is a thread reply"},
		},
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
	}

	err = c.client.Schema().ClassCreator().
		WithClass(classObj).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create class schema: %w", err)
	}
	return nil
}

// Store stores a document unless an object with the same id already exists.
// Message content is immutable so an existing object is left untouched.
func (c *WeaviateClient) Store(ctx context.Context, doc Document) error {
	exists, err := c.client.Data().Checker().
		WithClassName(c.className).
		WithID(doc.ID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check document %s: %w", doc.ID, err)
	}
	if exists {
		return nil
	}

	_, err = c.client.Data().Creator().
		WithClassName(c.className).
		WithID(doc.ID).
		WithProperties(documentProperties(doc)).
		WithVector(doc.Embedding).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func documentProperties(doc Document) map[string]interface{} {
	return map[string]interface{}{
		"content":       doc.Content,
		"channel":       doc.Metadata.Channel,
		"channelId":     doc.Metadata.ChannelID,
		"user":          doc.Metadata.User,
		"ts":            doc.Metadata.TS,
		"datetime":      doc.Metadata.CreatedAt.UTC().Format(time.RFC3339),
		"candidate":     doc.Metadata.Candidate,
		"profileUrl":    doc.Metadata.ProfileURL,
		"isThreadReply": doc.Metadata.IsThreadReply,
	}
}

// Search performs vector similarity search in Weaviate
func (c *WeaviateClient) Search(ctx context.Context, query []float32, limit int, f Filters) ([]Document, error) {
	get := c.client.GraphQL().Get().
		WithClassName(c.className).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "channel"},
			graphql.Field{Name: "channelId"},
			graphql.Field{Name: "user"},
			graphql.Field{Name: "ts"},
			graphql.Field{Name: "datetime"},
			graphql.Field{Name: "candidate"},
			graphql.Field{Name: "profileUrl"},
			graphql.Field{Name: "isThreadReply"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{
				{Name: "id"},
				{Name: "distance"},
			}},
		).
		WithNearVector(c.client.GraphQL().NearVectorArgBuilder().
			WithVector(query)).
		WithLimit(limit)

	if where := buildWhere(f); where != nil {
		get = get.WithWhere(where)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	return parseSearchResults(result, c.className)
}

func buildWhere(f Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if f.Channel != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"channel"}).
			WithOperator(filters.Equal).
			WithValueText(f.Channel))
	}
	if f.ProfileURL != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"profileUrl"}).
			WithOperator(filters.Equal).
			WithValueText(f.ProfileURL))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// Delete removes a document from Weaviate
func (c *WeaviateClient) Delete(ctx context.Context, id string) error {
	err := c.client.Data().Deleter().
		WithClassName(c.className).
		WithID(id).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// HealthCheck verifies Weaviate connection
func (c *WeaviateClient) HealthCheck(ctx context.Context) error {
	ready, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate health check failed: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

// parseSearchResults converts the GraphQL Get payload into documents
func parseSearchResults(result *models.GraphQLResponse, className string) ([]Document, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := get[className].([]interface{})
	if !ok {
		return nil, nil
	}

	documents := make([]Document, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		doc := Document{
			Content: stringField(obj, "content"),
			Metadata: DocumentMetadata{
				Channel:    stringField(obj, "channel"),
				ChannelID:  stringField(obj, "channelId"),
				User:       stringField(obj, "user"),
				TS:         stringField(obj, "ts"),
				Candidate:  stringField(obj, "candidate"),
				ProfileURL: stringField(obj, "profileUrl"),
			},
		}
		if reply, ok := obj["isThreadReply"].(bool); ok {
			doc.Metadata.IsThreadReply = reply
		}
		if dt := stringField(obj, "datetime"); dt != "" {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				doc.Metadata.CreatedAt = t
			}
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			doc.ID = stringField(additional, "id")
			if d, ok := additional["distance"].(float64); ok {
				doc.Distance = d
			}
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}
