package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	res := &Result{
		Start: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC),
		Summaries: map[string]string{
			"zeta":               "Z report",
			"candidatelabs-acme": "A report",
		},
		Failures: map[string]string{"candidatelabs-broken": "summarize: overloaded"},
	}

	want := "# Client Activity Digest (2024-03-04 to 2024-03-10)\n\n" +
		"## candidatelabs-acme\n\nClient: acme\n\nA report\n\n---\n\n" +
		"## zeta\n\nZ report\n\n---\n\n" +
		"## Failed channels\n\n- candidatelabs-broken: summarize: overloaded\n\n"
	assert.Equal(t, want, RenderMarkdown(res, time.UTC, ""))
}

func TestRenderMarkdownEmpty(t *testing.T) {
	res := &Result{Start: time.Unix(0, 0), End: time.Unix(86399, 0)}
	out := RenderMarkdown(res, time.UTC, "")
	assert.Contains(t, out, "No activity found")
	assert.NotContains(t, out, "Failed channels")
}
