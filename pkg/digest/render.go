package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown formats a digest result as a markdown document. Channels are
// listed by name; failures follow in their own section.
func RenderMarkdown(r *Result, loc *time.Location, generatedFor string) string {
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Client Activity Digest (%s to %s)\n\n",
		r.Start.In(loc).Format(DateLayout), r.End.In(loc).Format(DateLayout))
	if generatedFor != "" {
		fmt.Fprintf(&sb, "Generated for: %s\n\n", generatedFor)
	}

	if len(r.Summaries) == 0 {
		sb.WriteString("No activity found in any channels for this date range.\n\n")
	}
	for _, name := range sortedKeys(r.Summaries) {
		fmt.Fprintf(&sb, "## %s\n\n", name)
		if client := ClientName(name); client != "" {
			fmt.Fprintf(&sb, "Client: %s\n\n", client)
		}
		fmt.Fprintf(&sb, "%s\n\n---\n\n", r.Summaries[name])
	}

	if len(r.Failures) > 0 {
		sb.WriteString("## Failed channels\n\n")
		for _, name := range sortedKeys(r.Failures) {
			fmt.Fprintf(&sb, "- %s: %s\n", name, r.Failures[name])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FileName is the conventional output name for a digest window.
func FileName(start, end time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("client_digest_%s_to_%s.md", start.In(loc).Format(DateLayout), end.In(loc).Format(DateLayout))
}

// WriteMarkdown renders r into dir and returns the file path.
func WriteMarkdown(dir string, r *Result, loc *time.Location, generatedFor string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(r.Start, r.End, loc))
	if err := os.WriteFile(path, []byte(RenderMarkdown(r, loc, generatedFor)), 0o644); err != nil {
		return "", fmt.Errorf("write digest: %w", err)
	}
	return path, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
