package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

// DefaultDigestPrompt is the per-channel pipeline report template. It is
// rendered with {channel_name}, {candidate_info} and {messages_text}.
const DefaultDigestPrompt = `Please act as a virtual recruiting assistant. Analyze the Slack channel "{channel_name}" and prepare a comprehensive candidate pipeline report based on the messages below.

Your primary tasks are to:
1. Track ALL candidates in the pipeline for this company, regardless of when they were initially submitted
2. Distinguish between new submissions and ongoing candidates
3. Identify each candidate's current position in the hiring pipeline
4. Flag candidates requiring follow-up, especially those with no recent updates

For each candidate:
- Note when they were initially submitted (if mentioned)
- Track their current status in the hiring process
- Highlight any recent feedback or updates from this reporting period
- Flag candidates with no recent activity who require follow-up (over 1 week of no activity, mention)

Create separate sections for:
1. NEW SUBMISSIONS: Candidates newly submitted during this reporting period only
2. ACTIVE PIPELINE: ALL candidates in process (including those submitted before this reporting period)
   - With updates this week (highlight the new information)
   - Without updates this week (note last known status and time since last update)
3. FOLLOW-UP NEEDED: Candidates requiring immediate attention (no response, unclear status, etc.)
4. ACTION ITEMS: Specific tasks that need attention with deadlines if applicable

{candidate_info}

Channel messages:
{messages_text}

Format your response as a structured markdown table with two columns:

LEFT COLUMN: Company name ("{channel_name}")

RIGHT COLUMN: Pipeline information organized as follows:
1. PIPELINE SUMMARY (one-line overview with counts)
   - Total candidates in pipeline
   - New submissions this reporting period
   - Candidates with updates this reporting period
   - Candidates needing follow-up

2. DETAILED SECTIONS (with clear headers):
   - NEW SUBMISSIONS
   - ACTIVE PIPELINE
   - FOLLOW-UP NEEDED
   - ACTION ITEMS

This report will help the recruiting team quickly understand the current candidate pipeline for each company and prioritize follow-up actions.`

// RenderPrompt fills the placeholders of a digest template.
func RenderPrompt(template, channelName, candidateInfo, messagesText string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultDigestPrompt
	}
	r := strings.NewReplacer(
		"{channel_name}", channelName,
		"{candidate_info}", candidateInfo,
		"{messages_text}", messagesText,
	)
	return r.Replace(template)
}

// FinalPrompt wraps a rendered context and the user's request.
func FinalPrompt(contextText, query string) string {
	return fmt.Sprintf("Here is the context from Slack messages and threads:\n\n%s\n\nNow, please respond to this query:\n%s", contextText, query)
}

// FormatMessages renders a window as "user (time): text" lines with thread
// replies nested under their root.
func FormatMessages(msgs []models.Message, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	candidates.SortChronological(sorted)

	replies := make(map[string][]models.Message)
	present := make(map[string]bool)
	for _, m := range sorted {
		if m.IsReply() {
			key := models.MessageKey(m.ChannelID, m.ThreadTS)
			replies[key] = append(replies[key], m)
		} else {
			present[m.Key()] = true
		}
	}

	line := func(m models.Message) string {
		return fmt.Sprintf("%s (%s): %s", m.Author(), m.Time().In(loc).Format(timestampLayout), m.Text)
	}

	var lines []string
	for _, m := range sorted {
		if m.IsReply() {
			// orphans are kept where they fall
			if !present[models.MessageKey(m.ChannelID, m.ThreadTS)] {
				lines = append(lines, "    └─ "+line(m))
			}
			continue
		}
		lines = append(lines, line(m))
		for _, r := range replies[m.Key()] {
			lines = append(lines, "    └─ "+line(r))
		}
	}
	return strings.Join(lines, "\n")
}

// CandidateInfo lists the profiles referenced in bundles.
func CandidateInfo(bundles []*models.Bundle) string {
	if len(bundles) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Candidate profiles mentioned:")
	for _, b := range bundles {
		fmt.Fprintf(&sb, "\n- %s: %s", b.Latest().Name, b.ProfileURL)
		if n := len(b.Anchors); n > 1 {
			fmt.Fprintf(&sb, " (submitted %d times)", n)
		}
	}
	return sb.String()
}
