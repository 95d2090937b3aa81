package models

// Candidate is a profile reference found in a message. Every occurrence of a
// profile link produces its own Candidate anchored to the message it came from.
type Candidate struct {
	Name            string `json:"name" db:"name"`
	ProfileURL      string `json:"profile_url" db:"profile_url"`
	SourceMessageID string `json:"source_message_id" db:"message_id"`
	SourceChannel   string `json:"source_channel" db:"channel_name"`
	SourceChannelID string `json:"source_channel_id" db:"channel_id"`
	SourceTS        string `json:"source_ts" db:"ts"`
	UserID          string `json:"user_id,omitempty" db:"user_id"`
	RawText         string `json:"raw_text" db:"raw_text"`
}

// AnchorKey identifies the anchor message of the candidate.
func (c Candidate) AnchorKey() string {
	return MessageKey(c.SourceChannelID, c.SourceTS)
}

// Bundle groups every message associated with one profile URL.
// Anchors accumulate in chronological order; a repeat submission of the same
// profile adds an anchor instead of replacing the previous one.
type Bundle struct {
	ProfileURL     string      `json:"profile_url"`
	Anchors        []Candidate `json:"anchors"`
	ThreadReplies  []Message   `json:"thread_replies"`
	DirectMentions []Message   `json:"direct_mentions"`
	FuzzyMatches   []Message   `json:"fuzzy_matches"`
}

// Anchor returns the first anchor of the bundle.
func (b *Bundle) Anchor() Candidate {
	if len(b.Anchors) == 0 {
		return Candidate{ProfileURL: b.ProfileURL}
	}
	return b.Anchors[0]
}

// Latest returns the most recent anchor of the bundle.
func (b *Bundle) Latest() Candidate {
	if len(b.Anchors) == 0 {
		return Candidate{ProfileURL: b.ProfileURL}
	}
	return b.Anchors[len(b.Anchors)-1]
}

// IsAnchor reports whether msg is one of the bundle's anchor messages.
func (b *Bundle) IsAnchor(msg Message) bool {
	key := msg.Key()
	for _, a := range b.Anchors {
		if a.AnchorKey() == key {
			return true
		}
	}
	return false
}

// RepliesTo returns the thread replies of one anchor, chronological.
func (b *Bundle) RepliesTo(anchor Candidate) []Message {
	var out []Message
	for _, r := range b.ThreadReplies {
		if r.ChannelID == anchor.SourceChannelID && r.ThreadTS == anchor.SourceTS {
			out = append(out, r)
		}
	}
	return out
}
