package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

var (
	// ErrEmptyQuery is returned when a question has no text.
	ErrEmptyQuery = errors.New("chat: empty query")
	// ErrUnknownMode is returned for a requested mode that does not exist.
	ErrUnknownMode = errors.New("chat: unknown mode")
)

// Mode is the context rendering mode used to answer a question.
type Mode string

const (
	ModeChannelActivity   Mode = "channel_activity"
	ModeCandidatePipeline Mode = "candidate_pipeline"
	ModeFullContext       Mode = "full_context"
)

// ParseMode validates an explicitly requested mode. Empty selects routing.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeChannelActivity, ModeCandidatePipeline, ModeFullContext:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// pipelineKeywords route a question to the candidate pipeline rendering.
var pipelineKeywords = []string{
	"list candidates",
	"summarize candidates",
	"candidate feedback",
	"candidates posted",
	"client feedback",
	"status of candidates",
}

// activityKeywords route a question to the plain channel activity rendering.
var activityKeywords = []string{
	"channel activity",
	"what happened in",
	"recent activity",
	"activity in",
	"recap of",
}

// RouteQuery picks the rendering mode for query. Pipeline keywords win over
// activity keywords.
func RouteQuery(query string) Mode {
	q := strings.ToLower(query)
	for _, kw := range pipelineKeywords {
		if strings.Contains(q, kw) {
			return ModeCandidatePipeline
		}
	}
	for _, kw := range activityKeywords {
		if strings.Contains(q, kw) {
			return ModeChannelActivity
		}
	}
	return ModeFullContext
}

// MessageSource returns the stored messages of a window.
type MessageSource interface {
	GetMessagesByDateRange(ctx context.Context, start, end time.Time, channelID string) ([]models.Message, error)
}

// Completer submits a prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Question is a free text request over a window of messages.
type Question struct {
	Query     string    `json:"query"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	ChannelID string    `json:"channel_id,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	// Mode overrides keyword routing when set.
	Mode Mode `json:"mode,omitempty"`
}

// Answer is the model response together with what produced it.
type Answer struct {
	Text     string `json:"answer"`
	Mode     Mode   `json:"mode"`
	Messages int    `json:"messages"`
	Context  string `json:"-"`
}

// Service answers questions over stored Slack messages.
type Service struct {
	source  MessageSource
	builder *ContextBuilder
	llm     Completer
	logger  *slog.Logger
}

// NewService creates a question answering service.
func NewService(source MessageSource, builder *ContextBuilder, llm Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = NewContextBuilder(nil, logger)
	}
	return &Service{
		source:  source,
		builder: builder,
		llm:     llm,
		logger:  logger.With("component", "chat_service"),
	}
}

// BuildContext loads the window of q and renders it in the requested mode,
// or the routed one when q.Mode is empty.
func (s *Service) BuildContext(ctx context.Context, q Question) (string, Mode, int, error) {
	if strings.TrimSpace(q.Query) == "" {
		return "", "", 0, ErrEmptyQuery
	}
	mode, err := ParseMode(string(q.Mode))
	if err != nil {
		return "", "", 0, err
	}
	if mode == "" {
		mode = RouteQuery(q.Query)
	}
	msgs, err := s.source.GetMessagesByDateRange(ctx, q.Start, q.End, q.ChannelID)
	if err != nil {
		return "", "", 0, fmt.Errorf("load messages: %w", err)
	}

	var text string
	switch mode {
	case ModeChannelActivity:
		text, err = s.builder.ChannelActivity(ctx, msgs)
	case ModeCandidatePipeline:
		text, err = s.builder.CandidatePipeline(ctx, msgs)
	default:
		req := FullContextRequest{Query: q.Query, Messages: msgs, Limit: q.Limit}
		if q.ChannelID != "" {
			req.Filters = vector.Filters{Channel: channelName(msgs, q.ChannelID)}
		}
		text, err = s.builder.FullContext(ctx, req)
	}
	if err != nil {
		return "", mode, len(msgs), err
	}
	return text, mode, len(msgs), nil
}

// Answer renders the context for q and asks the model.
func (s *Service) Answer(ctx context.Context, q Question) (*Answer, error) {
	text, mode, n, err := s.BuildContext(ctx, q)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "answering question",
		"mode", mode,
		"messages", n,
		"context_chars", len(text))

	out, err := s.llm.Complete(ctx, FinalPrompt(text, q.Query))
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return &Answer{Text: strings.TrimSpace(out), Mode: mode, Messages: n, Context: text}, nil
}

// channelName resolves the index filter for channelID from the window.
func channelName(msgs []models.Message, channelID string) string {
	for _, m := range msgs {
		if m.ChannelID == channelID && m.ChannelName != "" {
			return m.ChannelName
		}
	}
	return channelID
}
