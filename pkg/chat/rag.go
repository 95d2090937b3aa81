package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

// DefaultSearchLimit bounds the semantic hits of the full-context mode.
const DefaultSearchLimit = 50

// Searcher runs a semantic query against the message index.
type Searcher interface {
	Query(ctx context.Context, text string, k int, f vector.Filters) ([]vector.Document, error)
}

// FullContextRequest parameterizes the full-context mode.
type FullContextRequest struct {
	Query    string
	Messages []models.Message
	Limit    int
	Filters  vector.Filters
}

// FullContext renders up to Limit semantic hits for the (rewritten) query,
// then every thread rooted in Messages with all of its replies.
func (b *ContextBuilder) FullContext(ctx context.Context, req FullContextRequest) (string, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var sections []string
	if b.searcher != nil && strings.TrimSpace(req.Query) != "" {
		query := req.Query
		if b.rewriter != nil {
			query = b.rewriter.Optimize(ctx, query)
		}
		docs, err := b.searcher.Query(ctx, query, limit, req.Filters)
		if err != nil {
			return "", fmt.Errorf("semantic search: %w", err)
		}
		if len(docs) > 0 {
			sections = append(sections, b.renderSearchResults(docs))
		}
	}

	sections = append(sections, b.renderThreads(req.Messages)...)
	return joinSections(sections), nil
}

func (b *ContextBuilder) renderSearchResults(docs []vector.Document) string {
	var sb strings.Builder
	sb.WriteString("=== Semantic Search Results ===")
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n" + Separator)
		}
		fmt.Fprintf(&sb, "\nMessage: %s", d.Content)
		fmt.Fprintf(&sb, "\nChannel: %s", d.Metadata.Channel)
		fmt.Fprintf(&sb, "\nUser: %s", d.Metadata.User)
		fmt.Fprintf(&sb, "\nTimestamp: %s", b.formatTS(d.Metadata.TS))
	}
	return sb.String()
}

// renderThreads returns the "Thread Replies" section as one block per root.
func (b *ContextBuilder) renderThreads(msgs []models.Message) []string {
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	candidates.SortChronological(sorted)

	replies := make(map[string][]models.Message)
	for _, m := range sorted {
		if m.IsReply() {
			key := models.MessageKey(m.ChannelID, m.ThreadTS)
			replies[key] = append(replies[key], m)
		}
	}

	blocks := []string{"=== Thread Replies ==="}
	for _, root := range sorted {
		if root.IsReply() {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Thread started by: %s", root.Author())
		fmt.Fprintf(&sb, "\nParent message: %s", root.Text)
		fmt.Fprintf(&sb, "\nChannel: %s", root.ChannelName)
		fmt.Fprintf(&sb, "\nTimestamp: %s", b.formatTS(root.TS))
		if rs := replies[root.Key()]; len(rs) > 0 {
			sb.WriteString("\nReplies:")
			for _, r := range rs {
				fmt.Fprintf(&sb, "\n- %s: %s", r.Author(), r.Text)
				fmt.Fprintf(&sb, "\n  %s", b.formatTS(r.TS))
			}
		}
		blocks = append(blocks, sb.String())
	}
	return blocks
}
