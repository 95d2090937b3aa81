// Package candidates finds profile references in Slack messages and
// associates the surrounding conversation with each referenced person.
package candidates

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

// profileURLPattern matches a profile link of the form host/in/slug, with or
// without scheme. Slack API payloads wrap links as <url|label>; channel
// exports render them bare, sometimes followed by |label.
const profileURLPattern = `(?:https?://)?(?:www\.)?[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}/in/[^\s|<>]+`

// DefaultLinkPattern recognises both renderings. Groups 1-2 capture the
// bracketed form, groups 3-4 the bare form.
var DefaultLinkPattern = regexp.MustCompile(
	`<(` + profileURLPattern + `)(?:\|([^>]*))?>` +
		`|(` + profileURLPattern + `)(?:\|([^\n<>|]+))?`,
)

// maxLabelWords caps a bare label taken from free text.
const maxLabelWords = 4

// labelStop ends a bare label at clause punctuation, a sentence end or a run
// of spaces.
var labelStop = regexp.MustCompile(`[,;:!?()\t]|\.(?:\s|$)|\s{2}`)

// bareLabel reduces the text after a bare "url|" to the name it starts with:
// the leading capitalised words, or the first two words of a lower case label.
func bareLabel(tail string) string {
	for _, loc := range labelStop.FindAllStringIndex(tail, -1) {
		// "J. Doe" keeps its initial
		if tail[loc[0]] == '.' && loc[0] >= 1 && (loc[0] == 1 || tail[loc[0]-2] == ' ') {
			continue
		}
		tail = tail[:loc[0]]
		break
	}

	words := strings.Fields(tail)
	var name []string
	for _, w := range words {
		if len(name) == maxLabelWords || !unicode.IsUpper([]rune(w)[0]) {
			break
		}
		name = append(name, w)
	}
	if len(name) == 0 {
		name = words[:min(2, len(words))]
	}
	return strings.Join(name, " ")
}

// Extractor turns message text into candidate records.
type Extractor struct {
	pattern *regexp.Regexp
}

// NewExtractor returns an extractor using pattern, or DefaultLinkPattern when
// pattern is nil. A custom pattern must keep the four capture groups.
func NewExtractor(pattern *regexp.Regexp) *Extractor {
	if pattern == nil {
		pattern = DefaultLinkPattern
	}
	return &Extractor{pattern: pattern}
}

// Extract returns one candidate per profile link, in message order.
// channelName is attached to every candidate; when empty the message's own
// channel name is used.
func (e *Extractor) Extract(messages []models.Message, channelName string) []models.Candidate {
	var out []models.Candidate
	for _, msg := range messages {
		out = append(out, e.ExtractMessage(msg, channelName)...)
	}
	return out
}

// ExtractMessage returns the candidates referenced by a single message.
func (e *Extractor) ExtractMessage(msg models.Message, channelName string) []models.Candidate {
	if msg.Text == "" {
		return nil
	}
	if channelName == "" {
		channelName = msg.ChannelName
	}

	var out []models.Candidate
	for _, m := range e.pattern.FindAllStringSubmatch(msg.Text, -1) {
		rawURL, label := m[1], m[2]
		if rawURL == "" {
			rawURL, label = m[3], bareLabel(m[4])
		}

		profileURL, slug := canonicalURL(rawURL)
		if profileURL == "" || slug == "" {
			continue
		}

		name := strings.TrimSpace(label)
		if name == "" {
			name = slug
		}

		out = append(out, models.Candidate{
			Name:            name,
			ProfileURL:      profileURL,
			SourceMessageID: msg.ID,
			SourceChannel:   channelName,
			SourceChannelID: msg.ChannelID,
			SourceTS:        msg.TS,
			UserID:          msg.UserID,
			RawText:         msg.Text,
		})
	}
	return out
}

// CanonicalURL normalises a profile link the way extracted candidates store
// it. Input without a /in/ path yields "".
func CanonicalURL(raw string) string {
	u, _ := canonicalURL(strings.TrimSpace(raw))
	return u
}

// canonicalURL strips query, fragment and trailing punctuation, adds a scheme
// when missing and returns the profile slug.
func canonicalURL(raw string) (string, string) {
	u := raw
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/.,;:!)]")
	if u == "" {
		return "", ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}

	idx := strings.Index(u, "/in/")
	if idx < 0 {
		return "", ""
	}
	slug := strings.Trim(u[idx+len("/in/"):], "/")
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}
	return u, slug
}

// GroupByURL accumulates candidates per profile URL, keeping every anchor.
// The returned order follows the first appearance of each URL.
func GroupByURL(cands []models.Candidate) ([]string, map[string][]models.Candidate) {
	var order []string
	groups := make(map[string][]models.Candidate)
	for _, c := range cands {
		if _, ok := groups[c.ProfileURL]; !ok {
			order = append(order, c.ProfileURL)
		}
		groups[c.ProfileURL] = append(groups[c.ProfileURL], c)
	}
	return order, groups
}

// LatestByURL collapses repeat submissions so only the last anchor of each
// profile URL remains.
func LatestByURL(cands []models.Candidate) map[string]models.Candidate {
	latest := make(map[string]models.Candidate, len(cands))
	for _, c := range cands {
		latest[c.ProfileURL] = c
	}
	return latest
}
