package digest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

// DefaultExcludePatterns keeps internal channels out of client digests.
var DefaultExcludePatterns = []string{`^internal-`}

var clientNamePattern = regexp.MustCompile(`(?i)(?:candidate-labs|candidatelabs)[-\s]+([^-\s]+)`)

// ClientName derives the client from a channel name such as
// "candidatelabs-acme". It returns "" when the name does not follow that form.
func ClientName(channelName string) string {
	m := clientNamePattern.FindStringSubmatch(channelName)
	if m == nil {
		return ""
	}
	return m[1]
}

// ChannelPolicy decides which channels take part in a digest.
type ChannelPolicy struct {
	exclude []*regexp.Regexp
	include []*regexp.Regexp
}

// NewChannelPolicy compiles the exclusion and inclusion patterns. When
// include is empty every channel not excluded is allowed.
func NewChannelPolicy(exclude, include []string) (*ChannelPolicy, error) {
	p := &ChannelPolicy{}
	var err error
	if p.exclude, err = compileAll(exclude); err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}
	if p.include, err = compileAll(include); err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	return p, nil
}

// DefaultChannelPolicy excludes DefaultExcludePatterns.
func DefaultChannelPolicy() *ChannelPolicy {
	p, _ := NewChannelPolicy(DefaultExcludePatterns, nil)
	return p
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, s := range patterns {
		if strings.TrimSpace(s) == "" {
			continue
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Allow reports whether ch is processed, and why not when it is skipped.
func (p *ChannelPolicy) Allow(ch models.Channel) (bool, string) {
	if !ch.IsMember {
		return false, "not a member"
	}
	if ch.IsArchived {
		return false, "archived"
	}
	if p == nil {
		return true, ""
	}
	for _, re := range p.exclude {
		if re.MatchString(ch.Name) {
			return false, "excluded by " + re.String()
		}
	}
	if len(p.include) == 0 {
		return true, ""
	}
	for _, re := range p.include {
		if re.MatchString(ch.Name) {
			return true, ""
		}
	}
	return false, "not included"
}

// Filter splits channels into allowed and skipped, keeping input order.
func (p *ChannelPolicy) Filter(channels []models.Channel) (allowed []models.Channel, skipped map[string]string) {
	skipped = make(map[string]string)
	for _, ch := range channels {
		if ok, reason := p.Allow(ch); ok {
			allowed = append(allowed, ch)
		} else {
			skipped[ch.Name] = reason
		}
	}
	return allowed, skipped
}
