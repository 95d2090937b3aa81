package api

import (
	"context"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

// filteredOversample widens the store query when filters are applied after
// the fetch.
const filteredOversample = 5

// MessageSearcher finds stored messages containing a phrase.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, query string, limit int) ([]models.Message, error)
}

// KeywordSearcher serves /search from the message store when no vector index
// is configured. Hits are newest first and carry no distance.
type KeywordSearcher struct {
	store MessageSearcher
}

// NewKeywordSearcher wraps store as a Searcher.
func NewKeywordSearcher(store MessageSearcher) *KeywordSearcher {
	return &KeywordSearcher{store: store}
}

// Query returns up to k stored messages containing text that pass f. The
// channel filter matches a channel name or id.
func (s *KeywordSearcher) Query(ctx context.Context, text string, k int, f vector.Filters) ([]vector.Document, error) {
	fetch := k
	if f.Channel != "" || f.ProfileURL != "" {
		fetch = k * filteredOversample
	}
	msgs, err := s.store.SearchMessages(ctx, text, fetch)
	if err != nil {
		return nil, err
	}

	profile := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(f.ProfileURL, "https://"), "http://"))
	profile = strings.TrimPrefix(profile, "www.")

	docs := make([]vector.Document, 0, len(msgs))
	for _, m := range msgs {
		if len(docs) == k {
			break
		}
		if f.Channel != "" && m.ChannelName != f.Channel && m.ChannelID != f.Channel {
			continue
		}
		if profile != "" && !strings.Contains(strings.ToLower(m.Text), profile) {
			continue
		}
		docs = append(docs, vector.Document{
			ID:      vector.DocumentID(m.ChannelID, m.TS, 0),
			Content: m.Text,
			Metadata: vector.DocumentMetadata{
				Channel:       m.ChannelName,
				ChannelID:     m.ChannelID,
				User:          m.Author(),
				TS:            m.TS,
				CreatedAt:     m.Time(),
				IsThreadReply: m.IsReply(),
			},
		})
	}
	return docs, nil
}
