package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	channels []models.Channel
	listErr  error
	windows  map[string][]models.Message
	errs     map[string]error
	block    map[string]bool
	panics   map[string]bool
	parents  map[string]models.Message

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeSource) ListChannels(context.Context) ([]models.Channel, error) {
	return f.channels, f.listErr
}

func (f *fakeSource) Window(ctx context.Context, ch models.Channel, _, _ time.Time) ([]models.Message, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if f.panics[ch.ID] {
		panic("nil map in client")
	}
	if f.block[ch.ID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[ch.ID]; err != nil {
		return nil, err
	}
	return f.windows[ch.ID], nil
}

func (f *fakeSource) GetParent(_ context.Context, channelID, threadTS string) (*models.Message, error) {
	m, ok := f.parents[models.MessageKey(channelID, threadTS)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type recordingLLM struct {
	mu      sync.Mutex
	prompts map[string]string
	fail    string
}

func (r *recordingLLM) Complete(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts == nil {
		r.prompts = make(map[string]string)
	}
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "channel=") {
			name := strings.TrimPrefix(line, "channel=")
			r.prompts[name] = prompt
			if name == r.fail {
				return "", errors.New("overloaded")
			}
			return "summary of " + name, nil
		}
	}
	return "", errors.New("no channel in prompt")
}

// testPrompt keeps prompts short and easy to attribute.
const testPrompt = "channel={channel_name}\n{candidate_info}\n===\n{messages_text}"

func msgIn(ch models.Channel, ts, threadTS, user, text string) models.Message {
	return models.Message{
		ID: models.MessageID(ch.ID, ts), ChannelID: ch.ID, ChannelName: ch.Name,
		UserID: user, UserName: user, TS: ts, ThreadTS: threadTS, Text: text,
	}
}

var (
	acme     = models.Channel{ID: "C1", Name: "candidatelabs-acme", IsMember: true}
	beta     = models.Channel{ID: "C2", Name: "candidatelabs-beta", IsMember: true}
	internal = models.Channel{ID: "C3", Name: "internal-ops", IsMember: true}
	quiet    = models.Channel{ID: "C4", Name: "candidatelabs-quiet", IsMember: true}
	broken   = models.Channel{ID: "C5", Name: "candidatelabs-broken", IsMember: true}
	archived = models.Channel{ID: "C6", Name: "candidatelabs-old", IsMember: true, IsArchived: true}
)

func newOrchestrator(src Source, llm Completer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Prompt == "" {
		cfg.Prompt = testPrompt
	}
	opts = append([]Option{WithConfig(cfg)}, opts...)
	return NewOrchestrator(src, llm, nil, discardLogger(), opts...)
}

func TestGenerateDigest(t *testing.T) {
	src := &fakeSource{
		channels: []models.Channel{acme, beta, internal, quiet, broken, archived},
		windows: map[string][]models.Message{
			"C1": {
				msgIn(acme, "100.000000", "100.000000", "sam", "Submitting <https://site.com/in/jdoe|Jane Doe>"),
				msgIn(acme, "110.000000", "100.000000", "client", "Great fit"),
			},
			"C2": {msgIn(beta, "200.000000", "", "sam", "Any updates?")},
			"C3": {msgIn(internal, "300.000000", "", "sam", "internal only")},
		},
		errs: map[string]error{"C5": errors.New("channel_not_found")},
	}
	llm := &recordingLLM{}
	var events []Event
	var mu sync.Mutex
	obs := ObserverFunc(func(_ context.Context, e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	orch := newOrchestrator(src, llm, Config{}, WithObserver(obs))
	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"candidatelabs-acme": "summary of candidatelabs-acme",
		"candidatelabs-beta": "summary of candidatelabs-beta",
	}, res.Summaries)
	assert.NotContains(t, res.Summaries, "candidatelabs-quiet", "empty channels have no entry")
	assert.NotContains(t, res.Summaries, "internal-ops")
	assert.Contains(t, res.Failures["candidatelabs-broken"], "channel_not_found")
	assert.Equal(t, "excluded by ^internal-", res.Skipped["internal-ops"])
	assert.Equal(t, "archived", res.Skipped["candidatelabs-old"])
	assert.False(t, res.Empty())
	assert.NotEmpty(t, res.RunID)

	acmePrompt := llm.prompts["candidatelabs-acme"]
	assert.Contains(t, acmePrompt, "- Jane Doe: https://site.com/in/jdoe")
	assert.Contains(t, acmePrompt, `feedback: "Great fit" (by client)`)
	assert.Contains(t, acmePrompt, "    └─ client (1970-01-01 00:01:50): Great fit")
	assert.NotContains(t, llm.prompts, "internal-ops")

	counts := map[EventType]int{}
	for _, e := range events {
		counts[e.Type]++
		assert.Equal(t, res.RunID, e.RunID)
	}
	assert.Equal(t, 1, counts[EventChannelsListed])
	assert.Equal(t, 2, counts[EventChannelSkipped])
	assert.Equal(t, 4, counts[EventChannelStarted])
	assert.Equal(t, 2, counts[EventChannelCompleted])
	assert.Equal(t, 1, counts[EventChannelEmpty])
	assert.Equal(t, 1, counts[EventChannelFailed])
	assert.Equal(t, EventDigestCompleted, events[len(events)-1].Type)
}

func TestGenerateDigestEmptyWindow(t *testing.T) {
	src := &fakeSource{channels: []models.Channel{acme, beta}}
	orch := newOrchestrator(src, &recordingLLM{}, Config{})

	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Summaries)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Empty())
}

func TestGenerateDigestListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("invalid_auth")}
	orch := newOrchestrator(src, &recordingLLM{}, Config{})

	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	assert.ErrorContains(t, err, "invalid_auth")
	assert.Nil(t, res)
}

func TestGenerateDigestIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		channels: []models.Channel{acme, beta, quiet},
		windows: map[string][]models.Message{
			"C1": {msgIn(acme, "100.000000", "", "sam", "hello")},
			"C2": {msgIn(beta, "200.000000", "", "sam", "hello")},
		},
		block: map[string]bool{"C4": true},
	}
	llm := &recordingLLM{fail: "candidatelabs-beta"}
	orch := newOrchestrator(src, llm, Config{ChannelTimeout: 50 * time.Millisecond})

	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"candidatelabs-acme": "summary of candidatelabs-acme"}, res.Summaries)
	assert.Contains(t, res.Failures["candidatelabs-beta"], "overloaded")
	assert.Contains(t, res.Failures["candidatelabs-quiet"], "timed out")
}

func TestGenerateDigestRecoversWorkerPanic(t *testing.T) {
	src := &fakeSource{
		channels: []models.Channel{acme, beta},
		windows: map[string][]models.Message{
			"C1": {msgIn(acme, "100.000000", "", "sam", "hello")},
		},
		panics: map[string]bool{"C2": true},
	}
	var (
		mu     sync.Mutex
		failed []Event
	)
	obs := ObserverFunc(func(_ context.Context, e Event) {
		if e.Type == EventChannelFailed {
			mu.Lock()
			failed = append(failed, e)
			mu.Unlock()
		}
	})
	orch := newOrchestrator(src, &recordingLLM{}, Config{}, WithObserver(obs))

	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, "summary of candidatelabs-acme", res.Summaries["candidatelabs-acme"])
	assert.Equal(t, "panic: nil map in client", res.Failures["candidatelabs-beta"])
	require.Len(t, failed, 1)
	assert.Equal(t, "candidatelabs-beta", failed[0].Channel)
}

func TestGenerateDigestBoundsConcurrency(t *testing.T) {
	var channels []models.Channel
	windows := map[string][]models.Message{}
	for i := 0; i < 12; i++ {
		ch := models.Channel{ID: "C" + string(rune('a'+i)), Name: "candidatelabs-" + string(rune('a'+i)), IsMember: true}
		channels = append(channels, ch)
		windows[ch.ID] = []models.Message{msgIn(ch, "100.000000", "", "sam", "hi")}
	}
	src := &fakeSource{channels: channels, windows: windows}
	orch := newOrchestrator(src, &recordingLLM{}, Config{Workers: 3})

	res, err := orch.GenerateDigest(context.Background(), time.Unix(0, 0), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Len(t, res.Summaries, 12)
	assert.LessOrEqual(t, src.maxActive.Load(), int32(3))
}

func TestGenerateDigestResolvesParentsOutsideWindow(t *testing.T) {
	src := &fakeSource{
		channels: []models.Channel{acme},
		windows: map[string][]models.Message{
			"C1": {msgIn(acme, "500.000000", "50.000000", "client", "We'd like to interview")},
		},
		parents: map[string]models.Message{
			models.MessageKey("C1", "50.000000"): msgIn(acme, "50.000000", "50.000000", "sam", "Submitting <https://site.com/in/jdoe|Jane Doe>"),
		},
	}
	llm := &recordingLLM{}
	orch := newOrchestrator(src, llm, Config{})

	_, err := orch.GenerateDigest(context.Background(), time.Unix(100, 0), time.Unix(1000, 0))
	require.NoError(t, err)

	prompt := llm.prompts["candidatelabs-acme"]
	assert.Contains(t, prompt, "- Jane Doe: https://site.com/in/jdoe")
	assert.Contains(t, prompt, `feedback: "We'd like to interview" (by client)`)
}

func TestSchedulerRunOnce(t *testing.T) {
	src := &fakeSource{
		channels: []models.Channel{acme},
		windows:  map[string][]models.Message{"C1": {msgIn(acme, "100.000000", "", "sam", "hi")}},
	}
	orch := newOrchestrator(src, &recordingLLM{}, Config{})

	dir := t.TempDir()
	sc, err := NewScheduler(orch, SchedulerConfig{OutputDir: dir, GeneratedFor: "Sam (sam@example.com)"}, discardLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, sc.Stop()) }()
	sc.now = func() time.Time { return time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC) }

	path, err := sc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "client_digest_2024-03-04_to_2024-03-10.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Client Activity Digest (2024-03-04 to 2024-03-10)\n\nGenerated for: Sam (sam@example.com)"))
	assert.Contains(t, string(data), "## candidatelabs-acme\n\nClient: acme\n\nsummary of candidatelabs-acme")
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	orch := newOrchestrator(&fakeSource{}, &recordingLLM{}, Config{})
	_, err := NewScheduler(orch, SchedulerConfig{Cron: "not a cron"}, discardLogger())
	assert.Error(t, err)
}
