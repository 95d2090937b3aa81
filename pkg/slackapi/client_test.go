package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/retry"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{
		Token:           "xoxp-test",
		RateLimitCalls:  1000,
		RateLimitPeriod: time.Second,
		Retry:           retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		APIURL:          server.URL + "/",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestListChannelsPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.Form.Get("exclude_archived"))
		if r.Form.Get("cursor") == "" {
			writeJSON(w, map[string]any{
				"ok":                true,
				"channels":          []map[string]any{{"id": "C1", "name": "candidatelabs-acme", "is_member": true}},
				"response_metadata": map[string]any{"next_cursor": "page2"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"ok":                true,
			"channels":          []map[string]any{{"id": "C2", "name": "internal-ops", "is_member": false}},
			"response_metadata": map[string]any{"next_cursor": ""},
		})
	})

	c := newTestClient(t, mux)
	channels, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{
		{ID: "C1", Name: "candidatelabs-acme", IsMember: true},
		{ID: "C2", Name: "internal-ops"},
	}, channels)
}

func TestRateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{
			"ok":       true,
			"has_more": false,
			"messages": []map[string]any{
				{"type": "message", "user": "U1", "text": "second", "ts": "200.000000"},
				{"type": "message", "user": "U1", "text": "first", "ts": "100.000000"},
				{"type": "message", "subtype": "channel_join", "user": "U2", "text": "joined", "ts": "150.000000"},
				{"type": "message", "bot_id": "B1", "text": "beep", "ts": "160.000000"},
			},
		})
	})

	c := newTestClient(t, mux)
	msgs, err := c.GetHistory(context.Background(), "C1", time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "C1_100.000000", msgs[0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSlackErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"ok": false, "error": "channel_not_found"})
	})

	c := newTestClient(t, mux)
	_, err := c.GetHistory(context.Background(), "CX", time.Unix(0, 0), time.Unix(1, 0))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWindowAddsThreadReplies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "user": "U1", "text": "Submitting <https://site.com/in/jdoe|Jane Doe>", "ts": "100.000000", "thread_ts": "100.000000", "reply_count": 2},
				{"type": "message", "user": "U2", "text": "unrelated", "ts": "150.000000"},
			},
		})
	})
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "100.000000", r.Form.Get("ts"))
		writeJSON(w, map[string]any{
			"ok":       true,
			"has_more": false,
			"messages": []map[string]any{
				{"type": "message", "user": "U1", "text": "Submitting <https://site.com/in/jdoe|Jane Doe>", "ts": "100.000000", "thread_ts": "100.000000"},
				{"type": "message", "user": "U2", "text": "Great fit", "ts": "300.000000", "thread_ts": "100.000000"},
				{"type": "message", "user": "U2", "text": "Scheduling", "ts": "120.000000", "thread_ts": "100.000000"},
			},
		})
	})
	mux.HandleFunc("/users.list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok": true,
			"members": []map[string]any{
				{"id": "U1", "name": "sam", "real_name": "Sam Recruiter", "profile": map[string]any{"email": "sam@example.com"}},
				{"id": "U2", "name": "client", "profile": map[string]any{"display_name": "Acme Client"}},
			},
			"response_metadata": map[string]any{"next_cursor": ""},
		})
	})

	c := newTestClient(t, mux)
	msgs, err := c.Window(context.Background(), models.Channel{ID: "C1", Name: "acme"}, time.Unix(0, 0), time.Unix(200, 0))
	require.NoError(t, err)

	var ts []string
	for _, m := range msgs {
		ts = append(ts, m.TS)
		assert.Equal(t, "acme", m.ChannelName)
	}
	assert.Equal(t, []string{"100.000000", "120.000000", "150.000000", "300.000000"}, ts)
	assert.Equal(t, "Sam Recruiter", msgs[0].UserName)
	assert.Equal(t, "Acme Client", msgs[1].UserName)
	assert.True(t, msgs[1].IsReply())
}

func TestGetParent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("ts") == "404.000000" {
			writeJSON(w, map[string]any{"ok": true, "messages": []map[string]any{}})
			return
		}
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "user": "U9", "text": "old root", "ts": "50.000000", "thread_ts": "50.000000"},
			},
		})
	})
	mux.HandleFunc("/users.list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "members": []map[string]any{
			{"id": "U9", "name": "pat", "real_name": "Pat Hiring"},
		}})
	})

	c := newTestClient(t, mux)
	parent, err := c.GetParent(context.Background(), "C1", "50.000000")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "old root", parent.Text)
	assert.Equal(t, "Pat Hiring", parent.UserName)
	assert.Equal(t, "Pat Hiring", parent.Author())
	assert.True(t, parent.IsRoot())

	parent, err = c.GetParent(context.Background(), "C1", "404.000000")
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestLookupUserByEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users.lookupByEmail", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("email") != "sam@example.com" {
			writeJSON(w, map[string]any{"ok": false, "error": "users_not_found"})
			return
		}
		writeJSON(w, map[string]any{
			"ok":   true,
			"user": map[string]any{"id": "U1", "name": "sam", "real_name": "Sam Recruiter", "profile": map[string]any{"email": "sam@example.com"}},
		})
	})

	c := newTestClient(t, mux)
	u, err := c.LookupUserByEmail(context.Background(), "sam@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.User{ID: "U1", Name: "Sam Recruiter", Username: "sam", Email: "sam@example.com"}, *u)

	_, err = c.LookupUserByEmail(context.Background(), "nobody@example.com")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	var rl *retry.RateLimitError
	err := classify(&slack.RateLimitedError{RetryAfter: 3 * time.Second})
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 3*time.Second, rl.RetryAfter)

	assert.True(t, retry.IsPermanent(classify(slack.SlackErrorResponse{Err: "not_in_channel"})))
	assert.True(t, retry.IsPermanent(classify(slack.StatusCodeError{Code: 403, Status: "403 Forbidden"})))
	assert.False(t, retry.IsPermanent(classify(slack.StatusCodeError{Code: 502, Status: "502 Bad Gateway"})))
	assert.False(t, retry.IsPermanent(classify(errors.New("connection reset"))))
}
