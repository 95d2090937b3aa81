package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(ch, ts, thread, user, text string) models.Message {
	return models.Message{ID: models.MessageID(ch, ts), ChannelID: ch, TS: ts, ThreadTS: thread, UserID: user, Text: text}
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.StoreChannels(ctx, []models.Channel{
		{ID: "C1", Name: "candidatelabs-acme", IsMember: true},
		{ID: "C2", Name: "internal-ops", IsMember: true},
	}))
	require.NoError(t, s.StoreUsers(ctx, []models.User{
		{ID: "U1", Name: "Sam Recruiter", Username: "sam", Email: "sam@example.com"},
		{ID: "U2", Username: "client", Email: "client@acme.com"},
	}))
	require.NoError(t, s.StoreMessages(ctx, []models.Message{
		msg("C1", "1000.000000", "1000.000000", "U1", "old root <https://site.com/in/old|Old Timer>"),
		msg("C1", "2000.000000", "1000.000000", "U2", "late reply to old root"),
		msg("C1", "2100.000000", "2100.000000", "U1", "Submitting <https://site.com/in/jdoe|Jane Doe>"),
		msg("C1", "2200.000000", "2100.000000", "U2", "Jane looks great"),
		msg("C1", "9000.000000", "2100.000000", "U2", "reply after window"),
		msg("C2", "2150.000000", "", "U1", "ops chatter"),
	}))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x", nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), DriverSQLite, "", nil)
	assert.Error(t, err)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestGetMessagesByDateRange(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	msgs, err := s.GetMessagesByDateRange(ctx, time.Unix(2000, 0), time.Unix(3000, 0), "")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "2000.000000", msgs[0].TS)
	assert.Equal(t, "2100.000000", msgs[1].TS)
	assert.Equal(t, "2150.000000", msgs[2].TS)
	assert.Equal(t, "client", msgs[0].UserName, "falls back to username")
	assert.Equal(t, "Sam Recruiter", msgs[1].UserName)
	assert.Equal(t, "candidatelabs-acme", msgs[1].ChannelName)

	msgs, err = s.GetMessagesByDateRange(ctx, time.Unix(2000, 0), time.Unix(3000, 0), "C2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ops chatter", msgs[0].Text)
}

func TestStoreMessagesUpserts(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	edited := msg("C1", "2100.000000", "2100.000000", "U1", "Submitting Jane (edited)")
	edited.ReplyCount = 2
	require.NoError(t, s.StoreMessages(ctx, []models.Message{edited}))

	got, err := s.GetMessage(ctx, "C1", "2100.000000")
	require.NoError(t, err)
	assert.Equal(t, "Submitting Jane (edited)", got.Text)
	assert.Equal(t, 2, got.ReplyCount)

	all, err := s.GetMessagesByDateRange(ctx, time.Unix(0, 0), time.Unix(10000, 0), "C1")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGetParent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	parent, err := s.GetParent(ctx, "C1", "1000.000000")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Contains(t, parent.Text, "old root")

	parent, err = s.GetParent(ctx, "C1", "42.000000")
	require.NoError(t, err)
	assert.Nil(t, parent)

	_, err = s.GetMessage(ctx, "C1", "42.000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetThreadRootFirst(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	thread, err := s.GetThread(context.Background(), "C1", "2100.000000")
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "2100.000000", thread[0].TS)
	assert.Equal(t, "2200.000000", thread[1].TS)
	assert.Equal(t, "9000.000000", thread[2].TS)
}

func TestWindowIncludesLateReplies(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	msgs, err := s.Window(context.Background(), models.Channel{ID: "C1", Name: "acme"}, time.Unix(2000, 0), time.Unix(3000, 0))
	require.NoError(t, err)

	var ts []string
	for _, m := range msgs {
		ts = append(ts, m.TS)
		assert.Equal(t, "acme", m.ChannelName)
	}
	assert.Equal(t, []string{"2000.000000", "2100.000000", "2200.000000", "9000.000000"}, ts)
}

func TestDirectoryListings(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	channels, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "candidatelabs-acme", channels[0].Name)
	assert.True(t, channels[0].IsMember)
	assert.False(t, channels[0].IsArchived)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sam", users["U1"].Username)

	u, err := s.UserByEmail(ctx, "SAM@example.com")
	require.NoError(t, err)
	assert.Equal(t, "U1", u.ID)

	_, err = s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchMessages(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	msgs, err := s.SearchMessages(context.Background(), "JANE", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2200.000000", msgs[0].TS, "newest first")

	msgs, err = s.SearchMessages(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProfileLinks(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	cand := models.Candidate{
		Name:            "Jane Doe",
		ProfileURL:      "https://site.com/in/jdoe",
		SourceChannelID: "C1",
		SourceTS:        "2100.000000",
	}
	require.NoError(t, s.StoreProfileLinks(ctx, []models.Candidate{cand, cand}))

	links, err := s.ProfileLinks(ctx, cand.ProfileURL)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "C1_2100.000000", links[0].SourceMessageID)
	assert.Equal(t, "candidatelabs-acme", links[0].SourceChannel)
	assert.Equal(t, "U1", links[0].UserID)
	assert.Contains(t, links[0].RawText, "Submitting")
}

func TestSyncLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start, end := time.Unix(1000, 0), time.Unix(2000, 0)

	ok, err := s.IsSynced(ctx, "sam@example.com", "C1", start, end)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkSynced(ctx, "sam@example.com", "C1", start, end))
	require.NoError(t, s.MarkSynced(ctx, "sam@example.com", "C1", start, end))

	ok, err = s.IsSynced(ctx, "sam@example.com", "C1", start, end)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsSynced(ctx, "sam@example.com", "C1", start, time.Unix(3000, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}
