package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message represents a single Slack message inside a channel.
// A message is identified within its channel by its Slack timestamp.
type Message struct {
	ID             string `json:"id" db:"id"`
	ChannelID      string `json:"channel_id" db:"channel_id"`
	ChannelName    string `json:"channel_name" db:"channel_name"`
	UserID         string `json:"user_id" db:"user_id"`
	UserName       string `json:"user_name,omitempty" db:"user_name"`
	TS             string `json:"ts" db:"ts"`
	ThreadTS       string `json:"thread_ts,omitempty" db:"thread_ts"`
	Text           string `json:"text" db:"text"`
	IsThreadParent bool   `json:"is_thread_parent" db:"is_thread_parent"`
	ReplyCount     int    `json:"reply_count,omitempty" db:"reply_count"`
}

// MessageID builds the storage id of a message.
func MessageID(channelID, ts string) string {
	return channelID + "_" + ts
}

// Timestamp returns the message timestamp as seconds since epoch.
func (m Message) Timestamp() float64 {
	return ParseTS(m.TS)
}

// Time returns the message timestamp as a time.Time in UTC.
func (m Message) Time() time.Time {
	return TSTime(m.TS)
}

// IsReply reports whether the message is a reply inside a thread (not the root).
func (m Message) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// IsRoot reports whether the message starts a thread.
func (m Message) IsRoot() bool {
	return m.IsThreadParent || (m.ThreadTS != "" && m.ThreadTS == m.TS)
}

// RootTS returns the timestamp of the thread root this message belongs to.
// Top-level messages are their own root.
func (m Message) RootTS() string {
	if m.IsReply() {
		return m.ThreadTS
	}
	return m.TS
}

// Key identifies the message across channels.
func (m Message) Key() string {
	return MessageKey(m.ChannelID, m.TS)
}

// Author returns the display name of the author, falling back to the user id.
func (m Message) Author() string {
	if m.UserName != "" {
		return m.UserName
	}
	if m.UserID != "" {
		return m.UserID
	}
	return "unknown"
}

// MessageKey builds the lookup key for a message in a channel.
func MessageKey(channelID, ts string) string {
	return channelID + ":" + ts
}

// Channel represents a Slack conversation.
type Channel struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	IsMember   bool   `json:"is_member" db:"is_member"`
	IsArchived bool   `json:"is_archived" db:"is_archived"`
}

// User represents a workspace member.
type User struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
}

// DisplayName returns the best human readable name for the user.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	default:
		return u.ID
	}
}

// ParseTS converts a Slack timestamp ("1599934232.150700") to seconds.
// Unparseable input yields zero.
func ParseTS(ts string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
	if err != nil {
		return 0
	}
	return f
}

// FormatTS renders seconds since epoch in Slack's timestamp format.
func FormatTS(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 6, 64)
}

// TSTime converts a Slack timestamp to a time.Time in UTC.
func TSTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(strings.TrimSpace(ts), ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*1000).UTC()
}

// TimeTS converts a time.Time to a Slack timestamp.
func TimeTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
