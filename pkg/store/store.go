package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

// messageRow is the stored form of a message.
type messageRow struct {
	models.Message
	Epoch float64 `db:"timestamp"`
}

type profileLinkRow struct {
	ProfileURL string `db:"profile_url"`
	Name       string `db:"name"`
	MessageID  string `db:"message_id"`
	ChannelID  string `db:"channel_id"`
	TS         string `db:"ts"`
}

const messageColumns = `
	m.id, m.channel_id, COALESCE(c.name, '') AS channel_name, m.user_id,
	COALESCE(NULLIF(u.name, ''), u.username, '') AS user_name,
	m.ts, m.thread_ts, m.text, m.is_thread_parent, m.reply_count`

const messageJoins = `
	FROM messages m
	LEFT JOIN channels c ON c.id = m.channel_id
	LEFT JOIN users u ON u.id = m.user_id`

// StoreChannels upserts channels.
func (s *Store) StoreChannels(ctx context.Context, channels []models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	query := `
		INSERT INTO channels (id, name, is_member, is_archived, updated_at)
		VALUES (:id, :name, :is_member, :is_archived, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			is_member = excluded.is_member,
			is_archived = excluded.is_archived,
			updated_at = CURRENT_TIMESTAMP`
	return s.namedBatch(ctx, "channels", query, len(channels), func(i int) any { return channels[i] })
}

// StoreUsers upserts users.
func (s *Store) StoreUsers(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	query := `
		INSERT INTO users (id, name, username, email, updated_at)
		VALUES (:id, :name, :username, :email, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			email = excluded.email,
			updated_at = CURRENT_TIMESTAMP`
	return s.namedBatch(ctx, "users", query, len(users), func(i int) any { return users[i] })
}

// StoreMessages upserts messages in a single transaction.
func (s *Store) StoreMessages(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	query := `
		INSERT INTO messages (id, channel_id, user_id, ts, timestamp, text, thread_ts, is_thread_parent, reply_count)
		VALUES (:id, :channel_id, :user_id, :ts, :timestamp, :text, :thread_ts, :is_thread_parent, :reply_count)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			text = excluded.text,
			thread_ts = excluded.thread_ts,
			is_thread_parent = excluded.is_thread_parent,
			reply_count = excluded.reply_count`
	return s.namedBatch(ctx, "messages", query, len(messages), func(i int) any {
		m := messages[i]
		if m.ID == "" {
			m.ID = models.MessageID(m.ChannelID, m.TS)
		}
		return messageRow{Message: m, Epoch: m.Timestamp()}
	})
}

// StoreProfileLinks records the anchors of candidates.
func (s *Store) StoreProfileLinks(ctx context.Context, cands []models.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	query := `
		INSERT INTO profile_links (profile_url, name, message_id, channel_id, ts)
		VALUES (:profile_url, :name, :message_id, :channel_id, :ts)
		ON CONFLICT (profile_url, message_id) DO UPDATE SET name = excluded.name`
	return s.namedBatch(ctx, "profile links", query, len(cands), func(i int) any {
		c := cands[i]
		id := c.SourceMessageID
		if id == "" {
			id = models.MessageID(c.SourceChannelID, c.SourceTS)
		}
		return profileLinkRow{ProfileURL: c.ProfileURL, Name: c.Name, MessageID: id, ChannelID: c.SourceChannelID, TS: c.SourceTS}
	})
}

func (s *Store) namedBatch(ctx context.Context, what, query string, n int, row func(i int) any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare %s upsert: %w", what, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)); err != nil {
			return fmt.Errorf("failed to store %s: %w", what, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", what, err)
	}
	s.logger.DebugContext(ctx, "stored rows", "table", what, "count", n)
	return nil
}

// GetMessagesByDateRange returns messages between start and end inclusive,
// chronological. An empty channelID selects every channel.
func (s *Store) GetMessagesByDateRange(ctx context.Context, start, end time.Time, channelID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + messageJoins + `
		WHERE m.timestamp >= ? AND m.timestamp <= ?`
	args := []any{epoch(start), epoch(end)}
	if channelID != "" {
		query += ` AND m.channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY m.timestamp, m.channel_id`

	var msgs []models.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return msgs, nil
}

// GetMessage returns one message or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, channelID, ts string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + messageJoins + ` WHERE m.id = ?`
	var msg models.Message
	err := s.db.GetContext(ctx, &msg, s.db.Rebind(query), models.MessageID(channelID, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s/%s: %w", channelID, ts, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetParent returns the root of a thread. A root that was never stored is
// reported as nil without error.
func (s *Store) GetParent(ctx context.Context, channelID, threadTS string) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, channelID, threadTS)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return msg, err
}

// GetThread returns the root followed by its replies.
func (s *Store) GetThread(ctx context.Context, channelID, rootTS string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + messageJoins + `
		WHERE m.channel_id = ? AND (m.ts = ? OR m.thread_ts = ?)
		ORDER BY CASE WHEN m.ts = ? THEN 0 ELSE 1 END, m.timestamp`
	var msgs []models.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), channelID, rootTS, rootTS, rootTS); err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	return msgs, nil
}

// Window returns the messages of a channel between start and end plus every
// reply to a root in that range, chronological.
func (s *Store) Window(ctx context.Context, ch models.Channel, start, end time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + messageJoins + `
		WHERE m.channel_id = ? AND (
			(m.timestamp >= ? AND m.timestamp <= ?)
			OR m.thread_ts IN (
				SELECT r.ts FROM messages r
				WHERE r.channel_id = ? AND r.timestamp >= ? AND r.timestamp <= ?
			)
		)
		ORDER BY m.timestamp`
	from, to := epoch(start), epoch(end)

	var msgs []models.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), ch.ID, from, to, ch.ID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query window of %s: %w", ch.ID, err)
	}
	for i := range msgs {
		if ch.Name != "" {
			msgs[i].ChannelName = ch.Name
		}
	}
	return msgs, nil
}

// ListChannels returns stored channels ordered by name.
func (s *Store) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.SelectContext(ctx, &channels, `SELECT id, name, is_member, is_archived FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// ListUsers returns stored users keyed by id.
func (s *Store) ListUsers(ctx context.Context) (map[string]models.User, error) {
	var users []models.User
	if err := s.db.SelectContext(ctx, &users, `SELECT id, name, username, email FROM users`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// UserByEmail returns the user with the given email or ErrNotFound.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT id, name, username, email FROM users WHERE LOWER(email) = ?`), strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// SearchMessages returns up to limit messages whose text contains query,
// newest first.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + messageJoins + `
		WHERE LOWER(m.text) LIKE ?
		ORDER BY m.timestamp DESC
		LIMIT ?`
	var msgs []models.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(q), "%"+strings.ToLower(query)+"%", limit); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return msgs, nil
}

// ProfileLinks returns the recorded anchors of a profile URL, oldest first.
func (s *Store) ProfileLinks(ctx context.Context, profileURL string) ([]models.Candidate, error) {
	q := `SELECT p.profile_url, p.name, p.message_id, p.channel_id, p.ts,
			COALESCE(c.name, '') AS channel_name,
			COALESCE(m.user_id, '') AS user_id,
			COALESCE(m.text, '') AS raw_text
		FROM profile_links p
		LEFT JOIN channels c ON c.id = p.channel_id
		LEFT JOIN messages m ON m.id = p.message_id
		WHERE p.profile_url = ?
		ORDER BY p.ts`
	var cands []models.Candidate
	if err := s.db.SelectContext(ctx, &cands, s.db.Rebind(q), profileURL); err != nil {
		return nil, fmt.Errorf("failed to query profile links: %w", err)
	}
	return cands, nil
}

// IsSynced reports whether the channel window was already synced for email.
func (s *Store) IsSynced(ctx context.Context, email, channelID string, start, end time.Time) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM sync_log WHERE email = ? AND channel_id = ? AND start_ts = ? AND end_ts = ?`
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), email, channelID, models.TimeTS(start), models.TimeTS(end)); err != nil {
		return false, fmt.Errorf("failed to check sync log: %w", err)
	}
	return n > 0, nil
}

// MarkSynced records a synced channel window.
func (s *Store) MarkSynced(ctx context.Context, email, channelID string, start, end time.Time) error {
	q := `INSERT INTO sync_log (email, channel_id, start_ts, end_ts, last_synced)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (email, channel_id, start_ts, end_ts) DO UPDATE SET last_synced = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), email, channelID, models.TimeTS(start), models.TimeTS(end)); err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}
	return nil
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
