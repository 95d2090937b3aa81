package api

import (
	"context"
	"errors"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/vector"
)

// Search errors
var (
	ErrEmptyQuery    = errors.New("search query cannot be empty")
	ErrInvalidLimit  = errors.New("limit must be between 1 and 100")
	ErrInvalidOffset = errors.New("offset cannot be negative")
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Searcher runs semantic queries over indexed messages.
type Searcher interface {
	Query(ctx context.Context, text string, k int, f vector.Filters) ([]vector.Document, error)
}

// SearchRequest represents a search query request
type SearchRequest struct {
	// Query is the search query text
	Query string `json:"query"`

	// Limit is the maximum number of results to return (default: 10, max: 100)
	Limit int `json:"limit,omitempty"`

	// Offset for pagination (default: 0)
	Offset int `json:"offset,omitempty"`

	// Filters for metadata-based filtering
	Filters *SearchFilters `json:"filters,omitempty"`
}

// SearchFilters narrows a search to a channel, a candidate or a time span.
type SearchFilters struct {
	// Channel name
	Channel string `json:"channel,omitempty"`

	// Candidate profile URL
	ProfileURL string `json:"profileUrl,omitempty"`

	DateFrom *time.Time `json:"dateFrom,omitempty"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
}

// SearchResult represents a single search result
type SearchResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	// Vector distance to the query, lower is closer
	Distance float64 `json:"distance"`

	Channel       string    `json:"channel"`
	ChannelID     string    `json:"channelId,omitempty"`
	User          string    `json:"user,omitempty"`
	TS            string    `json:"ts,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	Candidate     string    `json:"candidate,omitempty"`
	ProfileURL    string    `json:"profileUrl,omitempty"`
	IsThreadReply bool      `json:"isThreadReply,omitempty"`
}

// SearchResponse represents the search API response
type SearchResponse struct {
	Results []SearchResult `json:"results"`

	// Matches before pagination
	Total int `json:"total"`

	// Number of results returned in this response
	Count int `json:"count"`

	Offset int `json:"offset"`

	ProcessingTimeMs int64 `json:"processingTimeMs"`

	Metadata *SearchMetadata `json:"metadata,omitempty"`
}

// SearchMetadata contains additional information about the search
type SearchMetadata struct {
	ProcessedQuery string                 `json:"processedQuery,omitempty"`
	FiltersApplied map[string]interface{} `json:"filtersApplied,omitempty"`
}

// Validate validates the search request and applies defaults.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return ErrEmptyQuery
	}

	if r.Limit <= 0 {
		r.Limit = defaultSearchLimit
	} else if r.Limit > maxSearchLimit {
		r.Limit = maxSearchLimit
	}

	if r.Offset < 0 {
		r.Offset = 0
	}

	return nil
}

// vectorFilters returns the filters pushed down to the index.
func (r *SearchRequest) vectorFilters() vector.Filters {
	if r.Filters == nil {
		return vector.Filters{}
	}
	return vector.Filters{Channel: r.Filters.Channel, ProfileURL: r.Filters.ProfileURL}
}

func (r *SearchRequest) appliedFilters() map[string]interface{} {
	if r.Filters == nil {
		return nil
	}
	applied := make(map[string]interface{})
	if r.Filters.Channel != "" {
		applied["channel"] = r.Filters.Channel
	}
	if r.Filters.ProfileURL != "" {
		applied["profileUrl"] = r.Filters.ProfileURL
	}
	if r.Filters.DateFrom != nil {
		applied["dateFrom"] = r.Filters.DateFrom
	}
	if r.Filters.DateTo != nil {
		applied["dateTo"] = r.Filters.DateTo
	}
	if len(applied) == 0 {
		return nil
	}
	return applied
}

// inRange applies the date filters, which the index does not evaluate.
func (r *SearchRequest) inRange(t time.Time) bool {
	if r.Filters == nil {
		return true
	}
	if r.Filters.DateFrom != nil && t.Before(*r.Filters.DateFrom) {
		return false
	}
	if r.Filters.DateTo != nil && t.After(*r.Filters.DateTo) {
		return false
	}
	return true
}

// search runs req against s and paginates the hits.
func search(ctx context.Context, s Searcher, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()

	docs, err := s.Query(ctx, req.Query, req.Offset+req.Limit, req.vectorFilters())
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		if !req.inRange(d.Metadata.CreatedAt) {
			continue
		}
		results = append(results, SearchResult{
			ID:            d.ID,
			Content:       d.Content,
			Distance:      d.Distance,
			Channel:       d.Metadata.Channel,
			ChannelID:     d.Metadata.ChannelID,
			User:          d.Metadata.User,
			TS:            d.Metadata.TS,
			CreatedAt:     d.Metadata.CreatedAt,
			Candidate:     d.Metadata.Candidate,
			ProfileURL:    d.Metadata.ProfileURL,
			IsThreadReply: d.Metadata.IsThreadReply,
		})
	}

	total := len(results)
	if req.Offset >= len(results) {
		results = results[:0]
	} else {
		results = results[req.Offset:]
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return &SearchResponse{
		Results:          results,
		Total:            total,
		Count:            len(results),
		Offset:           req.Offset,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Metadata: &SearchMetadata{
			ProcessedQuery: req.Query,
			FiltersApplied: req.appliedFilters(),
		},
	}, nil
}
