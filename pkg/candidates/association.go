package candidates

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

// Kind names an association class.
type Kind string

const (
	KindThread Kind = "thread"
	KindDirect Kind = "direct"
	KindFuzzy  Kind = "fuzzy"
)

// rank orders the association classes; a message claimed by a lower rank is
// never considered by a higher one for the same bundle.
var rank = map[Kind]int{KindThread: 0, KindDirect: 1, KindFuzzy: 2}

// MatchFunc decides whether msg belongs to the bundle.
type MatchFunc func(ctx context.Context, b *models.Bundle, msg models.Message, corpus *Corpus) (bool, error)

// Strategy is one association rule. Strategies run in priority order and the
// first match classifies the message.
type Strategy struct {
	Kind  Kind
	Match MatchFunc
}

// ParentLookup resolves a thread root that lies outside the loaded window.
type ParentLookup interface {
	GetParent(ctx context.Context, channelID, threadTS string) (*models.Message, error)
}

// Corpus is one channel's window of messages plus the thread roots fetched
// from outside the window.
type Corpus struct {
	Messages []models.Message
	Parents  []models.Message

	byKey map[string]models.Message
}

// NewCorpus sorts messages chronologically and indexes them.
func NewCorpus(messages []models.Message) *Corpus {
	sorted := make([]models.Message, len(messages))
	copy(sorted, messages)
	SortChronological(sorted)

	c := &Corpus{Messages: sorted, byKey: make(map[string]models.Message, len(sorted))}
	for _, m := range sorted {
		c.byKey[m.Key()] = m
	}
	return c
}

// Lookup finds a message by channel and timestamp, including fetched parents.
func (c *Corpus) Lookup(channelID, ts string) (models.Message, bool) {
	m, ok := c.byKey[models.MessageKey(channelID, ts)]
	return m, ok
}

// AddParent records a root fetched from outside the window.
func (c *Corpus) AddParent(m models.Message) {
	if _, ok := c.byKey[m.Key()]; ok {
		return
	}
	c.byKey[m.Key()] = m
	c.Parents = append(c.Parents, m)
	SortChronological(c.Parents)
}

// All returns parents and window messages merged chronologically.
func (c *Corpus) All() []models.Message {
	all := make([]models.Message, 0, len(c.Parents)+len(c.Messages))
	all = append(all, c.Parents...)
	all = append(all, c.Messages...)
	SortChronological(all)
	return all
}

// MissingRoots lists the thread roots referenced by replies in the window but
// absent from it.
func (c *Corpus) MissingRoots() []models.Message {
	seen := make(map[string]bool)
	var out []models.Message
	for _, m := range c.Messages {
		if !m.IsReply() {
			continue
		}
		key := models.MessageKey(m.ChannelID, m.ThreadTS)
		if _, ok := c.byKey[key]; ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.Message{ChannelID: m.ChannelID, ChannelName: m.ChannelName, TS: m.ThreadTS})
	}
	return out
}

// SortChronological orders messages by timestamp, then channel, then ts text
// so ties are broken deterministically.
func SortChronological(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].Timestamp(), msgs[j].Timestamp()
		if ti != tj {
			return ti < tj
		}
		if msgs[i].ChannelID != msgs[j].ChannelID {
			return msgs[i].ChannelID < msgs[j].ChannelID
		}
		return msgs[i].TS < msgs[j].TS
	})
}

// ThreadStrategy matches replies whose thread root is one of the bundle's anchors.
func ThreadStrategy() Strategy {
	return Strategy{
		Kind: KindThread,
		Match: func(_ context.Context, b *models.Bundle, msg models.Message, _ *Corpus) (bool, error) {
			if !msg.IsReply() {
				return false, nil
			}
			for _, a := range b.Anchors {
				if a.SourceChannelID == msg.ChannelID && a.SourceTS == msg.ThreadTS {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// DirectMentionStrategy matches messages that contain the profile URL or the
// candidate name, case-insensitively.
func DirectMentionStrategy() Strategy {
	return Strategy{
		Kind: KindDirect,
		Match: func(_ context.Context, b *models.Bundle, msg models.Message, _ *Corpus) (bool, error) {
			text := strings.ToLower(msg.Text)
			if text == "" {
				return false, nil
			}
			url := strings.ToLower(b.ProfileURL)
			if url != "" && (strings.Contains(text, url) || strings.Contains(text, stripScheme(url))) {
				return true, nil
			}
			for _, a := range b.Anchors {
				name := strings.ToLower(strings.TrimSpace(a.Name))
				if name != "" && strings.Contains(text, name) {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// FuzzyStrategy asks judge whether the message concerns the bundle's
// candidate. Judge errors count as no match.
func FuzzyStrategy(judge SimilarityJudge, logger *slog.Logger) Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return Strategy{
		Kind: KindFuzzy,
		Match: func(ctx context.Context, b *models.Bundle, msg models.Message, _ *Corpus) (bool, error) {
			if judge == nil || strings.TrimSpace(msg.Text) == "" {
				return false, nil
			}
			ok, err := judge.Judge(ctx, b.Anchor(), msg)
			if err != nil {
				logger.WarnContext(ctx, "similarity judge failed, treating as unrelated",
					"profile_url", b.ProfileURL,
					"message_id", msg.ID,
					"error", err)
				return false, nil
			}
			return ok, nil
		},
	}
}

func stripScheme(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return strings.TrimPrefix(u, "www.")
}

// Engine associates a channel's messages with the candidates found in it.
type Engine struct {
	extractor  *Extractor
	strategies []Strategy
	parents    ParentLookup
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithParentLookup sets the collaborator used to fetch out-of-window roots.
func WithParentLookup(p ParentLookup) Option {
	return func(e *Engine) { e.parents = p }
}

// WithJudge enables fuzzy association through judge.
func WithJudge(judge SimilarityJudge) Option {
	return func(e *Engine) {
		if judge != nil {
			e.strategies = append(e.strategies, FuzzyStrategy(judge, e.logger))
		}
	}
}

// WithStrategies replaces the strategy list.
func WithStrategies(strategies ...Strategy) Option {
	return func(e *Engine) { e.strategies = strategies }
}

// NewEngine creates an engine running thread then direct mention association.
func NewEngine(extractor *Extractor, logger *slog.Logger, opts ...Option) *Engine {
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		extractor:  extractor,
		strategies: []Strategy{ThreadStrategy(), DirectMentionStrategy()},
		logger:     logger.With("component", "association"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare builds the corpus for messages and fetches thread roots that fall
// outside the window. A failed fetch leaves that root unresolved.
func (e *Engine) Prepare(ctx context.Context, messages []models.Message) *Corpus {
	corpus := NewCorpus(messages)
	if e.parents == nil {
		return corpus
	}
	for _, root := range corpus.MissingRoots() {
		parent, err := e.parents.GetParent(ctx, root.ChannelID, root.TS)
		if err != nil {
			e.logger.WarnContext(ctx, "parent lookup failed",
				"channel_id", root.ChannelID,
				"thread_ts", root.TS,
				"error", err)
			continue
		}
		if parent == nil {
			continue
		}
		if parent.ChannelName == "" {
			parent.ChannelName = root.ChannelName
		}
		corpus.AddParent(*parent)
	}
	return corpus
}

// Build prepares the corpus, extracts candidates from it and runs every
// strategy. Bundles are returned in order of first submission.
func (e *Engine) Build(ctx context.Context, channelName string, messages []models.Message) ([]*models.Bundle, *Corpus, error) {
	corpus := e.Prepare(ctx, messages)
	bundles := NewBundles(e.extractor.Extract(corpus.All(), channelName))
	if err := e.Associate(ctx, bundles, corpus); err != nil {
		return nil, nil, err
	}
	return bundles, corpus, nil
}

// NewBundles groups candidates by profile URL, accumulating anchors.
func NewBundles(cands []models.Candidate) []*models.Bundle {
	order, groups := GroupByURL(cands)
	bundles := make([]*models.Bundle, 0, len(order))
	for _, url := range order {
		bundles = append(bundles, &models.Bundle{ProfileURL: url, Anchors: groups[url]})
	}
	return bundles
}

// Associate recomputes every association list of every bundle. Each
// message is classified by the first strategy that matches it.
func (e *Engine) Associate(ctx context.Context, bundles []*models.Bundle, corpus *Corpus) error {
	for _, b := range bundles {
		b.ThreadReplies, b.DirectMentions, b.FuzzyMatches = nil, nil, nil
		for _, msg := range corpus.Messages {
			if err := ctx.Err(); err != nil {
				return err
			}
			if b.IsAnchor(msg) {
				continue
			}
			for _, s := range e.strategies {
				ok, err := s.Match(ctx, b, msg, corpus)
				if err != nil {
					return err
				}
				if ok {
					appendTo(b, s.Kind, msg)
					break
				}
			}
		}
	}
	return nil
}

// AssociateThreads recomputes thread replies from scratch.
func (e *Engine) AssociateThreads(ctx context.Context, bundles []*models.Bundle, corpus *Corpus) error {
	return e.runStage(ctx, bundles, corpus, ThreadStrategy())
}

// AssociateDirectMentions recomputes direct mentions, skipping thread replies.
func (e *Engine) AssociateDirectMentions(ctx context.Context, bundles []*models.Bundle, corpus *Corpus) error {
	return e.runStage(ctx, bundles, corpus, DirectMentionStrategy())
}

// AssociateFuzzy recomputes fuzzy matches, skipping messages already claimed
// as thread replies or direct mentions.
func (e *Engine) AssociateFuzzy(ctx context.Context, bundles []*models.Bundle, corpus *Corpus, judge SimilarityJudge) error {
	return e.runStage(ctx, bundles, corpus, FuzzyStrategy(judge, e.logger))
}

func (e *Engine) runStage(ctx context.Context, bundles []*models.Bundle, corpus *Corpus, s Strategy) error {
	for _, b := range bundles {
		*listFor(b, s.Kind) = nil
		claimed := claimedBefore(b, s.Kind)
		for _, msg := range corpus.Messages {
			if err := ctx.Err(); err != nil {
				return err
			}
			if b.IsAnchor(msg) || claimed[msg.Key()] {
				continue
			}
			ok, err := s.Match(ctx, b, msg, corpus)
			if err != nil {
				return err
			}
			if ok {
				appendTo(b, s.Kind, msg)
			}
		}
	}
	return nil
}

func claimedBefore(b *models.Bundle, kind Kind) map[string]bool {
	claimed := make(map[string]bool)
	for k, r := range rank {
		if r >= rank[kind] {
			continue
		}
		for _, m := range *listFor(b, k) {
			claimed[m.Key()] = true
		}
	}
	return claimed
}

func listFor(b *models.Bundle, kind Kind) *[]models.Message {
	switch kind {
	case KindThread:
		return &b.ThreadReplies
	case KindDirect:
		return &b.DirectMentions
	default:
		return &b.FuzzyMatches
	}
}

func appendTo(b *models.Bundle, kind Kind, msg models.Message) {
	l := listFor(b, kind)
	*l = append(*l, msg)
}
