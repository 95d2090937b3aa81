// Package chat renders Slack message windows into language model context and
// answers questions over them.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

// Separator delimits the sections of a rendered context.
const Separator = "---"

// NoFeedbackLine is rendered for a candidate submission without replies.
const NoFeedbackLine = "no feedback from client"

const (
	followUpLine     = "status: Follow up with client to see if they're interested."
	inferStatusLine  = "status: (please infer the status from the feedback above)"
	submissionLayout = "Jan 2, 2006"
	timestampLayout  = "2006-01-02 15:04:05"
)

// ContextBuilder renders messages for a completion call. Output depends only
// on its inputs and on what the parent lookup returns.
type ContextBuilder struct {
	engine   *candidates.Engine
	parents  candidates.ParentLookup
	searcher Searcher
	rewriter *QueryOptimizer
	loc      *time.Location
	logger   *slog.Logger
}

// BuilderOption configures a ContextBuilder.
type BuilderOption func(*ContextBuilder)

// WithParentLookup resolves thread roots outside the rendered window.
func WithParentLookup(p candidates.ParentLookup) BuilderOption {
	return func(b *ContextBuilder) { b.parents = p }
}

// WithSearcher enables the full-context mode.
func WithSearcher(s Searcher) BuilderOption {
	return func(b *ContextBuilder) { b.searcher = s }
}

// WithQueryOptimizer rewrites queries before semantic search.
func WithQueryOptimizer(o *QueryOptimizer) BuilderOption {
	return func(b *ContextBuilder) { b.rewriter = o }
}

// WithLocation sets the zone dates are rendered in. UTC by default.
func WithLocation(loc *time.Location) BuilderOption {
	return func(b *ContextBuilder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// NewContextBuilder creates a builder around the association engine.
func NewContextBuilder(engine *candidates.Engine, logger *slog.Logger, opts ...BuilderOption) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = candidates.NewEngine(nil, logger)
	}
	b := &ContextBuilder{
		engine: engine,
		loc:    time.UTC,
		logger: logger.With("component", "context_builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// channelGroup is one channel's slice of the input.
type channelGroup struct {
	id       string
	name     string
	messages []models.Message
}

// groupByChannel splits messages per channel, ordered by channel name.
func groupByChannel(msgs []models.Message) []channelGroup {
	index := make(map[string]int)
	var groups []channelGroup
	for _, m := range msgs {
		i, ok := index[m.ChannelID]
		if !ok {
			i = len(groups)
			index[m.ChannelID] = i
			groups = append(groups, channelGroup{id: m.ChannelID, name: m.ChannelName})
		}
		if groups[i].name == "" {
			groups[i].name = m.ChannelName
		}
		groups[i].messages = append(groups[i].messages, m)
	}
	for i := range groups {
		if groups[i].name == "" {
			groups[i].name = groups[i].id
		}
		candidates.SortChronological(groups[i].messages)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].name != groups[j].name {
			return groups[i].name < groups[j].name
		}
		return groups[i].id < groups[j].id
	})
	return groups
}

// ChannelActivity renders every top level message of each channel followed
// by its thread replies. Replies whose root lies outside msgs are rendered
// under a "Parent Message" line resolved through the parent lookup.
func (b *ContextBuilder) ChannelActivity(ctx context.Context, msgs []models.Message) (string, error) {
	var sections []string
	for _, g := range groupByChannel(msgs) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sections = append(sections, b.renderChannelActivity(ctx, g))
	}
	return joinSections(sections), nil
}

type threadUnit struct {
	root     models.Message
	inWindow bool
	replies  []models.Message
}

func (b *ContextBuilder) renderChannelActivity(ctx context.Context, g channelGroup) string {
	units := make(map[string]*threadUnit)
	var order []string

	for _, m := range g.messages {
		if m.IsReply() {
			continue
		}
		units[m.TS] = &threadUnit{root: m, inWindow: true}
		order = append(order, m.TS)
	}
	for _, m := range g.messages {
		if !m.IsReply() {
			continue
		}
		u, ok := units[m.ThreadTS]
		if !ok {
			u = &threadUnit{root: b.lookupParent(ctx, m)}
			units[m.ThreadTS] = u
			order = append(order, m.ThreadTS)
		}
		u.replies = append(u.replies, m)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return models.ParseTS(order[i]) < models.ParseTS(order[j])
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Channel: %s", g.name)
	for _, ts := range order {
		u := units[ts]
		switch {
		case u.inWindow:
			fmt.Fprintf(&sb, "\nMessage: %s", u.root.Text)
		case u.root.Text != "":
			fmt.Fprintf(&sb, "\nParent Message: %s", u.root.Text)
		}
		if len(u.replies) == 0 {
			continue
		}
		candidates.SortChronological(u.replies)
		sb.WriteString("\n  Thread Replies:")
		for _, r := range u.replies {
			fmt.Fprintf(&sb, "\n  - %s: %s", r.Author(), r.Text)
		}
	}
	return sb.String()
}

// lookupParent resolves the root of reply; an unresolved root has empty text.
func (b *ContextBuilder) lookupParent(ctx context.Context, reply models.Message) models.Message {
	root := models.Message{ChannelID: reply.ChannelID, ChannelName: reply.ChannelName, TS: reply.ThreadTS}
	if b.parents == nil {
		return root
	}
	parent, err := b.parents.GetParent(ctx, reply.ChannelID, reply.ThreadTS)
	if err != nil {
		b.logger.WarnContext(ctx, "parent lookup failed",
			"channel_id", reply.ChannelID,
			"thread_ts", reply.ThreadTS,
			"error", err)
		return root
	}
	if parent == nil {
		return root
	}
	return *parent
}

// CandidatePipeline renders one block per candidate anchor, grouped by
// channel. Repeat submissions of the same profile each get their own block.
func (b *ContextBuilder) CandidatePipeline(ctx context.Context, msgs []models.Message) (string, error) {
	var sections []string
	for _, g := range groupByChannel(msgs) {
		bundles, _, err := b.engine.Build(ctx, g.name, g.messages)
		if err != nil {
			return "", fmt.Errorf("associate %s: %w", g.name, err)
		}
		if block := b.renderPipeline(g.name, bundles); block != "" {
			sections = append(sections, block)
		}
	}
	return joinSections(sections), nil
}

// RenderCandidates renders the pipeline block of one channel from bundles
// already built by the caller.
func (b *ContextBuilder) RenderCandidates(channelName string, bundles []*models.Bundle) string {
	return b.renderPipeline(channelName, bundles)
}

type anchorRef struct {
	bundle *models.Bundle
	anchor models.Candidate
	latest bool
}

func (b *ContextBuilder) renderPipeline(channelName string, bundles []*models.Bundle) string {
	var refs []anchorRef
	for _, bundle := range bundles {
		latest := bundle.Latest().AnchorKey()
		for _, a := range bundle.Anchors {
			refs = append(refs, anchorRef{bundle: bundle, anchor: a, latest: a.AnchorKey() == latest})
		}
	}
	if len(refs) == 0 {
		return ""
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return models.ParseTS(refs[i].anchor.SourceTS) < models.ParseTS(refs[j].anchor.SourceTS)
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Channel: %s", channelName)
	for _, ref := range refs {
		a := ref.anchor
		submitted := models.TSTime(a.SourceTS).In(b.loc).Format(submissionLayout)
		fmt.Fprintf(&sb, "\n- %s - submitted %s", a.Name, submitted)

		replies := ref.bundle.RepliesTo(a)
		if len(replies) == 0 {
			sb.WriteString("\n  " + NoFeedbackLine)
		} else {
			fmt.Fprintf(&sb, "\n  feedback: \"%s\" (by %s)", replies[0].Text, replies[0].Author())
			for _, r := range replies[1:] {
				fmt.Fprintf(&sb, "\n  additional feedback: \"%s\" (by %s)", r.Text, r.Author())
			}
		}

		// mentions belong to the profile, so they are listed once under the
		// most recent submission
		if ref.latest {
			for _, m := range ref.bundle.DirectMentions {
				fmt.Fprintf(&sb, "\n  mentioned: \"%s\" (by %s)", m.Text, m.Author())
			}
			for _, m := range ref.bundle.FuzzyMatches {
				fmt.Fprintf(&sb, "\n  possibly related: \"%s\" (by %s)", m.Text, m.Author())
			}
		}

		if len(replies) == 0 {
			sb.WriteString("\n  " + followUpLine)
		} else {
			sb.WriteString("\n  " + inferStatusLine)
		}
	}
	return sb.String()
}

func (b *ContextBuilder) formatTS(ts string) string {
	t := models.TSTime(ts)
	if t.IsZero() {
		return ts
	}
	return t.In(b.loc).Format(timestampLayout)
}

func joinSections(sections []string) string {
	return strings.Join(sections, "\n"+Separator+"\n")
}
