package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testsabirweb/slack_digest/pkg/vector"
)

type fakeSearcher struct {
	docs    []vector.Document
	err     error
	k       int
	filters vector.Filters
}

func (f *fakeSearcher) Query(_ context.Context, _ string, k int, flt vector.Filters) ([]vector.Document, error) {
	f.k, f.filters = k, flt
	if f.err != nil {
		return nil, f.err
	}
	if len(f.docs) > k {
		return f.docs[:k], nil
	}
	return f.docs, nil
}

func doc(id string, created time.Time) vector.Document {
	return vector.Document{
		ID:       id,
		Content:  "content " + id,
		Distance: 0.1,
		Metadata: vector.DocumentMetadata{Channel: "candidatelabs-acme", CreatedAt: created},
	}
}

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name       string
		req        SearchRequest
		wantErr    error
		wantLimit  int
		wantOffset int
	}{
		{"empty query", SearchRequest{}, ErrEmptyQuery, 0, 0},
		{"valid query with defaults", SearchRequest{Query: "test query"}, nil, 10, 0},
		{"negative offset", SearchRequest{Query: "test", Offset: -1}, nil, 10, 0},
		{"limit too high", SearchRequest{Query: "test", Limit: 200}, nil, 100, 0},
		{"explicit values", SearchRequest{Query: "test", Limit: 5, Offset: 3}, nil, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, tt.req.Limit)
			assert.Equal(t, tt.wantOffset, tt.req.Offset)
		})
	}
}

func TestSearchPaginates(t *testing.T) {
	base := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	s := &fakeSearcher{docs: []vector.Document{doc("a", base), doc("b", base), doc("c", base), doc("d", base)}}

	resp, err := search(context.Background(), s, SearchRequest{Query: "q", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, s.k)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].ID)
	assert.Equal(t, "c", resp.Results[1].ID)
	assert.Equal(t, "candidatelabs-acme", resp.Results[0].Channel)
	assert.Nil(t, resp.Metadata.FiltersApplied)
}

func TestSearchFilters(t *testing.T) {
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	s := &fakeSearcher{docs: []vector.Document{
		doc("before", from.Add(-time.Hour)),
		doc("inside", from.Add(time.Hour)),
		doc("after", to.Add(time.Hour)),
	}}

	req := SearchRequest{
		Query: "q",
		Limit: 10,
		Filters: &SearchFilters{
			Channel:    "candidatelabs-acme",
			ProfileURL: "https://site.com/in/jdoe",
			DateFrom:   &from,
			DateTo:     &to,
		},
	}
	resp, err := search(context.Background(), s, req)
	require.NoError(t, err)

	assert.Equal(t, vector.Filters{Channel: "candidatelabs-acme", ProfileURL: "https://site.com/in/jdoe"}, s.filters)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "inside", resp.Results[0].ID)
	assert.Len(t, resp.Metadata.FiltersApplied, 4)
}

func TestSearchOffsetPastEnd(t *testing.T) {
	s := &fakeSearcher{docs: []vector.Document{doc("a", time.Now())}}
	resp, err := search(context.Background(), s, SearchRequest{Query: "q", Limit: 5, Offset: 3})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 1, resp.Total)
}

func TestSearchError(t *testing.T) {
	_, err := search(context.Background(), &fakeSearcher{err: errors.New("weaviate down")}, SearchRequest{Query: "q", Limit: 1})
	assert.Error(t, err)
}
