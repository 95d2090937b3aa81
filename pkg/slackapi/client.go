// Package slackapi reads channels, users and message history from the Slack
// Web API under a client side rate limit and the shared retry policy.
package slackapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/testsabirweb/slack_digest/pkg/cache"
	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/retry"
)

const pageSize = 200

// ErrMissingToken is returned when no Slack token is configured.
var ErrMissingToken = errors.New("slack token is required")

// droppedSubtypes are message subtypes that carry no conversation.
var droppedSubtypes = map[string]bool{
	slack.MsgSubTypeBotMessage:   true,
	slack.MsgSubTypeChannelJoin:  true,
	slack.MsgSubTypeChannelLeave: true,
}

// Config configures the Slack client.
type Config struct {
	Token           string
	RateLimitCalls  int
	RateLimitPeriod time.Duration
	Retry           retry.Policy
	// APIURL overrides the Slack endpoint, mostly for tests. It must end in "/".
	APIURL   string
	CacheTTL time.Duration
}

// Client wraps the Slack Web API.
type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
	policy  retry.Policy
	cache   cache.Cache
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	users map[string]models.User
}

// Option configures a Client.
type Option func(*Client)

// WithCache caches channel and user listings.
func WithCache(c cache.Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// New creates a client; it fails with ErrMissingToken when cfg.Token is empty.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitCalls <= 0 {
		cfg.RateLimitCalls = 50
	}
	if cfg.RateLimitPeriod <= 0 {
		cfg.RateLimitPeriod = time.Minute
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialInterval == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	every := cfg.RateLimitPeriod / time.Duration(cfg.RateLimitCalls)
	c := &Client{
		limiter: rate.NewLimiter(rate.Every(every), cfg.RateLimitCalls),
		policy:  cfg.Retry,
		ttl:     cfg.CacheTTL,
		logger:  logger.With("component", "slackapi"),
	}
	var apiOpts []slack.Option
	if cfg.APIURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(cfg.APIURL))
	}
	c.api = slack.New(cfg.Token, apiOpts...)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call runs one API request under the limiter and the retry policy.
func call[T any](ctx context.Context, c *Client, name string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, c.policy, c.logger, name, func(ctx context.Context) (T, error) {
		var zero T
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, retry.Permanent(err)
		}
		v, err := op(ctx)
		if err != nil {
			return zero, classify(err)
		}
		return v, nil
	})
}

// classify maps Slack errors onto the retry taxonomy.
func classify(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &retry.RateLimitError{RetryAfter: rl.RetryAfter, Err: err}
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		if se.Err == "ratelimited" {
			return &retry.RateLimitError{Err: err}
		}
		return retry.Permanent(err)
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		if sc.Code == http.StatusTooManyRequests {
			return &retry.RateLimitError{Err: err}
		}
		if sc.Code < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}

// ListChannels returns public and private channels, archived ones excluded.
func (c *Client) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return cache.GetOrLoad(ctx, c.cache, c.logger, "slack:channels", c.ttl, c.listChannels)
}

func (c *Client) listChannels(ctx context.Context) ([]models.Channel, error) {
	var (
		out    []models.Channel
		cursor string
	)
	for {
		type page struct {
			channels []slack.Channel
			next     string
		}
		p, err := call(ctx, c, "conversations.list", func(ctx context.Context) (page, error) {
			chs, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Types:           []string{"public_channel", "private_channel"},
				ExcludeArchived: true,
				Limit:           pageSize,
				Cursor:          cursor,
			})
			return page{channels: chs, next: next}, err
		})
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range p.channels {
			out = append(out, models.Channel{
				ID:         ch.ID,
				Name:       ch.Name,
				IsMember:   ch.IsMember,
				IsArchived: ch.IsArchived,
			})
		}
		if p.next == "" {
			break
		}
		cursor = p.next
	}
	c.logger.DebugContext(ctx, "listed channels", "count", len(out))
	return out, nil
}

// ListUsers returns workspace members keyed by id.
func (c *Client) ListUsers(ctx context.Context) (map[string]models.User, error) {
	return cache.GetOrLoad(ctx, c.cache, c.logger, "slack:users", c.ttl, c.listUsers)
}

func (c *Client) listUsers(ctx context.Context) (map[string]models.User, error) {
	users, err := call(ctx, c, "users.list", func(ctx context.Context) ([]slack.User, error) {
		return c.api.GetUsersContext(ctx, slack.GetUsersOptionLimit(pageSize))
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = convertUser(u)
	}
	return out, nil
}

// LookupUserByEmail finds a member by email address.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := call(ctx, c, "users.lookupByEmail", func(ctx context.Context) (*slack.User, error) {
		return c.api.GetUserByEmailContext(ctx, email)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", email, err)
	}
	user := convertUser(*u)
	return &user, nil
}

func convertUser(u slack.User) models.User {
	name := u.RealName
	if name == "" {
		name = u.Profile.RealName
	}
	if name == "" {
		name = u.Profile.DisplayName
	}
	return models.User{ID: u.ID, Name: name, Username: u.Name, Email: u.Profile.Email}
}

// GetHistory returns the top level messages of a channel between start and
// end inclusive, chronological.
func (c *Client) GetHistory(ctx context.Context, channelID string, start, end time.Time) ([]models.Message, error) {
	var (
		out    []models.Message
		cursor string
	)
	for {
		resp, err := call(ctx, c, "conversations.history", func(ctx context.Context) (*slack.GetConversationHistoryResponse, error) {
			return c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: channelID,
				Oldest:    models.TimeTS(start),
				Latest:    models.TimeTS(end),
				Inclusive: true,
				Limit:     pageSize,
				Cursor:    cursor,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("history of %s: %w", channelID, err)
		}
		out = appendMessages(out, channelID, resp.Messages)
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
	sortChronological(out)
	return out, nil
}

// GetThread returns the root of a thread followed by its replies.
func (c *Client) GetThread(ctx context.Context, channelID, rootTS string) ([]models.Message, error) {
	var (
		out    []models.Message
		cursor string
	)
	for {
		type page struct {
			msgs    []slack.Message
			hasMore bool
			next    string
		}
		p, err := call(ctx, c, "conversations.replies", func(ctx context.Context) (page, error) {
			msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channelID,
				Timestamp: rootTS,
				Limit:     pageSize,
				Cursor:    cursor,
			})
			return page{msgs: msgs, hasMore: hasMore, next: next}, err
		})
		if err != nil {
			return nil, fmt.Errorf("thread %s/%s: %w", channelID, rootTS, err)
		}
		out = appendMessages(out, channelID, p.msgs)
		if !p.hasMore || p.next == "" {
			break
		}
		cursor = p.next
	}

	// the root first, replies chronological
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].TS == rootTS) != (out[j].TS == rootTS) {
			return out[i].TS == rootTS
		}
		return out[i].Timestamp() < out[j].Timestamp()
	})
	return out, nil
}

// GetParent fetches the root message of a thread. It returns nil when the
// root no longer exists.
func (c *Client) GetParent(ctx context.Context, channelID, threadTS string) (*models.Message, error) {
	msgs, err := call(ctx, c, "conversations.replies", func(ctx context.Context) ([]slack.Message, error) {
		msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     1,
			Inclusive: true,
		})
		return msgs, err
	})
	if err != nil {
		return nil, fmt.Errorf("parent %s/%s: %w", channelID, threadTS, err)
	}
	for _, m := range msgs {
		if m.Timestamp == threadTS {
			parent := c.resolveNames(ctx, []models.Message{convertMessage(channelID, m)})[0]
			return &parent, nil
		}
	}
	return nil, nil
}

// Window returns a channel's messages between start and end plus every
// reply to a thread rooted in that range, chronological and with channel and
// user names filled in.
func (c *Client) Window(ctx context.Context, ch models.Channel, start, end time.Time) ([]models.Message, error) {
	history, err := c.GetHistory(ctx, ch.ID, start, end)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(history))
	msgs := make([]models.Message, 0, len(history))
	for _, m := range history {
		seen[m.TS] = true
		msgs = append(msgs, m)
	}

	for _, m := range history {
		if m.ReplyCount == 0 && !m.IsThreadParent {
			continue
		}
		thread, err := c.GetThread(ctx, ch.ID, m.TS)
		if err != nil {
			return nil, err
		}
		for _, r := range thread {
			if seen[r.TS] {
				continue
			}
			seen[r.TS] = true
			msgs = append(msgs, r)
		}
	}

	sortChronological(msgs)
	for i := range msgs {
		msgs[i].ChannelName = ch.Name
	}
	msgs = c.resolveNames(ctx, msgs)
	return msgs, nil
}

// resolveNames fills UserName from the member directory. A directory failure
// leaves names empty.
func (c *Client) resolveNames(ctx context.Context, msgs []models.Message) []models.Message {
	c.mu.Lock()
	users := c.users
	c.mu.Unlock()

	if users == nil {
		loaded, err := c.ListUsers(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "user directory unavailable", "error", err)
			return msgs
		}
		c.mu.Lock()
		c.users = loaded
		c.mu.Unlock()
		users = loaded
	}

	for i := range msgs {
		if u, ok := users[msgs[i].UserID]; ok && msgs[i].UserName == "" {
			msgs[i].UserName = u.DisplayName()
		}
	}
	return msgs
}

func appendMessages(out []models.Message, channelID string, msgs []slack.Message) []models.Message {
	for _, m := range msgs {
		if droppedSubtypes[m.SubType] || m.BotID != "" {
			continue
		}
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, convertMessage(channelID, m))
	}
	return out
}

func convertMessage(channelID string, m slack.Message) models.Message {
	return models.Message{
		ID:             models.MessageID(channelID, m.Timestamp),
		ChannelID:      channelID,
		UserID:         m.User,
		TS:             m.Timestamp,
		ThreadTS:       m.ThreadTimestamp,
		Text:           m.Text,
		IsThreadParent: m.ThreadTimestamp != "" && m.ThreadTimestamp == m.Timestamp,
		ReplyCount:     m.ReplyCount,
	}
}

func sortChronological(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp() < msgs[j].Timestamp()
	})
}
