// Package processing turns Slack messages into vector store documents.
package processing

import (
	"fmt"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

const (
	documentTimeLayout = "2006-01-02 15:04:05"
	unknownParent      = "[Parent: unknown]"
)

// ChunkingConfig holds configuration for text chunking
type ChunkingConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

// DefaultChunkingConfig returns default chunking configuration
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		MaxChunkSize: 500, // words per chunk
		ChunkOverlap: 50,
	}
}

// DocumentProcessor renders messages as searchable documents. Thread
// replies carry the text of their root so a hit on a reply shows what it
// answers.
type DocumentProcessor struct {
	chunkSize    int
	chunkOverlap int
	loc          *time.Location
}

// NewDocumentProcessor creates a processor rendering dates in loc.
func NewDocumentProcessor(cfg ChunkingConfig, loc *time.Location) *DocumentProcessor {
	if cfg.MaxChunkSize <= 0 {
		cfg = DefaultChunkingConfig()
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		cfg.ChunkOverlap = 0
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DocumentProcessor{chunkSize: cfg.MaxChunkSize, chunkOverlap: cfg.ChunkOverlap, loc: loc}
}

// candidateRef is the candidate a message is indexed under.
type candidateRef struct {
	name string
	url  string
}

// candidateIndex maps message keys to the first bundle claiming them.
func candidateIndex(bundles []*models.Bundle) map[string]candidateRef {
	idx := make(map[string]candidateRef)
	put := func(key string, b *models.Bundle) {
		if _, ok := idx[key]; !ok {
			idx[key] = candidateRef{name: b.Latest().Name, url: b.ProfileURL}
		}
	}
	for _, b := range bundles {
		for _, a := range b.Anchors {
			put(a.AnchorKey(), b)
		}
		for _, l := range [][]models.Message{b.ThreadReplies, b.DirectMentions, b.FuzzyMatches} {
			for _, m := range l {
				put(m.Key(), b)
			}
		}
	}
	return idx
}

// Process returns the documents for msgs. Messages associated with a
// bundle carry its candidate name and profile URL.
func (p *DocumentProcessor) Process(msgs []models.Message, bundles []*models.Bundle) []vector.Document {
	roots := make(map[string]models.Message, len(msgs))
	for _, m := range msgs {
		if !m.IsReply() {
			roots[m.Key()] = m
		}
	}
	cands := candidateIndex(bundles)

	var docs []vector.Document
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		meta := vector.DocumentMetadata{
			Channel:       m.ChannelName,
			ChannelID:     m.ChannelID,
			User:          m.Author(),
			TS:            m.TS,
			CreatedAt:     m.Time(),
			IsThreadReply: m.IsReply(),
		}
		if c, ok := cands[m.Key()]; ok {
			meta.Candidate = c.name
			meta.ProfileURL = c.url
		}

		prefix := p.prefix(m, roots)
		for i, chunk := range p.chunkText(m.Text) {
			docs = append(docs, vector.Document{
				ID:       vector.DocumentID(m.ChannelID, m.TS, i),
				Content:  prefix + chunk,
				Metadata: meta,
			})
		}
	}
	return docs
}

func (p *DocumentProcessor) prefix(m models.Message, roots map[string]models.Message) string {
	dt := m.Time().In(p.loc).Format(documentTimeLayout)
	channel := m.ChannelName
	if channel == "" {
		channel = m.ChannelID
	}
	if !m.IsReply() {
		return fmt.Sprintf("%s [%s] ", dt, channel)
	}
	parent := unknownParent
	if root, ok := roots[models.MessageKey(m.ChannelID, m.ThreadTS)]; ok {
		parent = root.Text
	}
	return fmt.Sprintf("%s [%s] (thread reply) [Main message: %s] ", dt, channel, parent)
}

// chunkText splits text into word chunks with overlap
func (p *DocumentProcessor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) <= p.chunkSize {
		return []string{text}
	}

	var chunks []string
	for i := 0; i < len(words); {
		end := i + p.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
		i += p.chunkSize - p.chunkOverlap
	}
	return chunks
}
