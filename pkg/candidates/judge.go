package candidates

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/testsabirweb/slack_digest/pkg/embeddings"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

// DefaultSimilarityThreshold is the cosine similarity above which a message is
// considered to be about a candidate.
const DefaultSimilarityThreshold = 0.75

// SimilarityJudge decides whether a message is about a candidate.
type SimilarityJudge interface {
	Judge(ctx context.Context, c models.Candidate, msg models.Message) (bool, error)
}

// JudgeFunc adapts a function to SimilarityJudge.
type JudgeFunc func(ctx context.Context, c models.Candidate, msg models.Message) (bool, error)

func (f JudgeFunc) Judge(ctx context.Context, c models.Candidate, msg models.Message) (bool, error) {
	return f(ctx, c, msg)
}

// EmbeddingJudge compares the anchor text and the message text by cosine
// similarity. Anchor vectors are cached per anchor message.
type EmbeddingJudge struct {
	embedder  embeddings.Embedder
	threshold float64

	mu      sync.Mutex
	anchors map[string][]float32
}

// NewEmbeddingJudge creates a judge; a non-positive threshold means
// DefaultSimilarityThreshold.
func NewEmbeddingJudge(embedder embeddings.Embedder, threshold float64) *EmbeddingJudge {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &EmbeddingJudge{
		embedder:  embedder,
		threshold: threshold,
		anchors:   make(map[string][]float32),
	}
}

func (j *EmbeddingJudge) Judge(ctx context.Context, c models.Candidate, msg models.Message) (bool, error) {
	anchor, err := j.anchorVector(ctx, c)
	if err != nil {
		return false, err
	}
	vec, err := j.embedder.Embed(ctx, msg.Text)
	if err != nil {
		return false, fmt.Errorf("embed message %s: %w", msg.ID, err)
	}
	return embeddings.CosineSimilarity(anchor, vec) >= j.threshold, nil
}

func (j *EmbeddingJudge) anchorVector(ctx context.Context, c models.Candidate) ([]float32, error) {
	key := c.AnchorKey() + "|" + c.ProfileURL

	j.mu.Lock()
	vec, ok := j.anchors[key]
	j.mu.Unlock()
	if ok {
		return vec, nil
	}

	text := c.RawText
	if strings.TrimSpace(text) == "" {
		text = c.Name
	}
	vec, err := j.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed anchor %s: %w", c.ProfileURL, err)
	}

	j.mu.Lock()
	j.anchors[key] = vec
	j.mu.Unlock()
	return vec, nil
}

// Completer is the slice of the LLM client the judge needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMJudge asks a language model for a YES/NO verdict.
type LLMJudge struct {
	llm Completer
}

// NewLLMJudge creates a judge backed by llm.
func NewLLMJudge(llm Completer) *LLMJudge {
	return &LLMJudge{llm: llm}
}

// JudgePrompt renders the question put to the model.
func JudgePrompt(name, text string) string {
	return fmt.Sprintf("Is this message about candidate %s? Answer YES/NO\n\nMessage: %s", name, text)
}

func (j *LLMJudge) Judge(ctx context.Context, c models.Candidate, msg models.Message) (bool, error) {
	resp, err := j.llm.Complete(ctx, JudgePrompt(c.Name, msg.Text))
	if err != nil {
		return false, fmt.Errorf("llm judge: %w", err)
	}
	answer := strings.ToUpper(strings.TrimSpace(resp))
	answer = strings.TrimLeft(answer, "*\"' ")
	return strings.HasPrefix(answer, "YES"), nil
}

// TextSearcher returns the text of the k documents closest to query.
type TextSearcher interface {
	SearchTexts(ctx context.Context, query string, k int, channel string) ([]string, error)
}

// SearchJudge runs a semantic search with the message text and accepts the
// pair when any of the top hits names the candidate.
type SearchJudge struct {
	searcher TextSearcher
	k        int
}

// NewSearchJudge creates a judge that inspects the top k hits (3 when k <= 0).
func NewSearchJudge(searcher TextSearcher, k int) *SearchJudge {
	if k <= 0 {
		k = 3
	}
	return &SearchJudge{searcher: searcher, k: k}
}

func (j *SearchJudge) Judge(ctx context.Context, c models.Candidate, msg models.Message) (bool, error) {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" {
		return false, nil
	}
	hits, err := j.searcher.SearchTexts(ctx, msg.Text, j.k, msg.ChannelName)
	if err != nil {
		return false, fmt.Errorf("search judge: %w", err)
	}
	for _, h := range hits {
		if strings.Contains(strings.ToLower(h), name) {
			return true, nil
		}
	}
	return false, nil
}
