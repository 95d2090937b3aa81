// Package digest generates per-channel candidate pipeline summaries for a
// reporting window.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/chat"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

const (
	DefaultWorkers        = 10
	DefaultChannelTimeout = 5 * time.Minute
)

// Source provides channels and their message windows.
type Source interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	Window(ctx context.Context, ch models.Channel, start, end time.Time) ([]models.Message, error)
	GetParent(ctx context.Context, channelID, threadTS string) (*models.Message, error)
}

// Completer submits a prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config tunes an Orchestrator.
type Config struct {
	Workers        int
	ChannelTimeout time.Duration
	// Prompt overrides chat.DefaultDigestPrompt.
	Prompt   string
	Location *time.Location
}

// Result is the outcome of one digest run. A channel without messages has no
// entry in Summaries; a failed channel has an entry in Failures instead.
type Result struct {
	RunID     string            `json:"run_id"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Summaries map[string]string `json:"summaries"`
	Failures  map[string]string `json:"failures,omitempty"`
	Skipped   map[string]string `json:"skipped,omitempty"`
}

// Empty reports whether no channel had activity and none failed.
func (r *Result) Empty() bool {
	return len(r.Summaries) == 0 && len(r.Failures) == 0
}

// Orchestrator runs the per-channel pipeline across all channels.
type Orchestrator struct {
	source   Source
	llm      Completer
	policy   *ChannelPolicy
	engine   *candidates.Engine
	builder  *chat.ContextBuilder
	observer Observer
	cfg      Config
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver receives progress events.
func WithObserver(o Observer) Option {
	return func(orch *Orchestrator) { orch.observer = o }
}

// WithEngine replaces the default association engine, e.g. to add a judge.
func WithEngine(e *candidates.Engine) Option {
	return func(orch *Orchestrator) { orch.engine = e }
}

// WithConfig sets worker count, timeouts, prompt and location.
func WithConfig(cfg Config) Option {
	return func(orch *Orchestrator) { orch.cfg = cfg }
}

// NewOrchestrator creates an orchestrator reading from source.
func NewOrchestrator(source Source, llm Completer, policy *ChannelPolicy, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = DefaultChannelPolicy()
	}
	o := &Orchestrator{
		source: source,
		llm:    llm,
		policy: policy,
		logger: logger.With("component", "digest"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Workers <= 0 {
		o.cfg.Workers = DefaultWorkers
	}
	if o.cfg.ChannelTimeout <= 0 {
		o.cfg.ChannelTimeout = DefaultChannelTimeout
	}
	if o.cfg.Location == nil {
		o.cfg.Location = time.UTC
	}
	if o.engine == nil {
		o.engine = candidates.NewEngine(nil, logger, candidates.WithParentLookup(source))
	}
	if o.observer == nil {
		o.observer = NewLogObserver(logger)
	}
	o.builder = chat.NewContextBuilder(o.engine, logger,
		chat.WithParentLookup(source),
		chat.WithLocation(o.cfg.Location))
	return o
}

// Location is the zone the orchestrator renders dates in.
func (o *Orchestrator) Location() *time.Location {
	return o.cfg.Location
}

type outcome struct {
	channel string
	summary string
	empty   bool
	err     error
}

// GenerateDigest summarizes every allowed channel with activity between start
// and end. Channel failures are recorded in the result and never abort
// sibling channels; only a failure to list channels fails the run.
func (o *Orchestrator) GenerateDigest(ctx context.Context, start, end time.Time) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Start:     start,
		End:       end,
		Summaries: make(map[string]string),
		Failures:  make(map[string]string),
	}
	began := time.Now()

	channels, err := o.source.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	allowed, skipped := o.policy.Filter(channels)
	res.Skipped = skipped
	o.emit(ctx, Event{Type: EventChannelsListed, RunID: res.RunID, Count: len(allowed),
		Detail: fmt.Sprintf("%d channels, %d skipped", len(channels), len(skipped))})
	for name, reason := range skipped {
		o.emit(ctx, Event{Type: EventChannelSkipped, RunID: res.RunID, Channel: name, Detail: reason})
	}

	// each worker owns one slot; no shared map is written concurrently
	outcomes := make([]outcome, len(allowed))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for i, ch := range allowed {
		g.Go(func() error {
			outcomes[i] = o.runChannel(ctx, res.RunID, ch, start, end)
			return nil
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			res.Failures[oc.channel] = oc.err.Error()
		case oc.empty:
		default:
			res.Summaries[oc.channel] = oc.summary
		}
	}

	o.emit(ctx, Event{Type: EventDigestCompleted, RunID: res.RunID, Count: len(res.Summaries),
		Detail:   fmt.Sprintf("%d summaries, %d failures", len(res.Summaries), len(res.Failures)),
		Duration: time.Since(began).Round(time.Millisecond).String()})

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) runChannel(ctx context.Context, runID string, ch models.Channel, start, end time.Time) outcome {
	began := time.Now()
	o.emit(ctx, Event{Type: EventChannelStarted, RunID: runID, Channel: ch.Name})

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ChannelTimeout)
	defer cancel()

	summary, n, err := o.processChannel(cctx, ch, start, end)
	elapsed := time.Since(began).Round(time.Millisecond).String()
	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", o.cfg.ChannelTimeout, err)
		}
		o.emit(ctx, Event{Type: EventChannelFailed, RunID: runID, Channel: ch.Name, Detail: err.Error(), Duration: elapsed})
		return outcome{channel: ch.Name, err: err}
	case n == 0:
		o.emit(ctx, Event{Type: EventChannelEmpty, RunID: runID, Channel: ch.Name, Duration: elapsed})
		return outcome{channel: ch.Name, empty: true}
	default:
		o.emit(ctx, Event{Type: EventChannelCompleted, RunID: runID, Channel: ch.Name, Count: n, Duration: elapsed})
		return outcome{channel: ch.Name, summary: summary}
	}
}

// processChannel runs ProcessChannel and turns a panic into the channel's
// failure.
func (o *Orchestrator) processChannel(ctx context.Context, ch models.Channel, start, end time.Time) (summary string, n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "channel worker panicked",
				"channel", ch.Name,
				"panic", r,
				"stack", string(debug.Stack()))
			summary, n, err = "", 0, fmt.Errorf("panic: %v", r)
		}
	}()
	return o.ProcessChannel(ctx, ch, start, end)
}

// ProcessChannel fetches the window of one channel, associates its
// candidates and asks the model for the pipeline report. It returns the
// number of messages in the window; zero means no summary was produced.
func (o *Orchestrator) ProcessChannel(ctx context.Context, ch models.Channel, start, end time.Time) (string, int, error) {
	msgs, err := o.source.Window(ctx, ch, start, end)
	if err != nil {
		return "", 0, fmt.Errorf("fetch window: %w", err)
	}
	if len(msgs) == 0 {
		return "", 0, nil
	}
	for i := range msgs {
		if msgs[i].ChannelName == "" {
			msgs[i].ChannelName = ch.Name
		}
	}

	bundles, corpus, err := o.engine.Build(ctx, ch.Name, msgs)
	if err != nil {
		return "", len(msgs), fmt.Errorf("associate candidates: %w", err)
	}

	prompt := chat.RenderPrompt(o.cfg.Prompt, ch.Name,
		o.candidateInfo(ch.Name, bundles),
		chat.FormatMessages(corpus.All(), o.cfg.Location))

	summary, err := o.llm.Complete(ctx, prompt)
	if err != nil {
		return "", len(msgs), fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(summary), len(msgs), nil
}

func (o *Orchestrator) candidateInfo(channelName string, bundles []*models.Bundle) string {
	if len(bundles) == 0 {
		return ""
	}
	return chat.CandidateInfo(bundles) + "\n\nCandidate activity:\n" + o.builder.RenderCandidates(channelName, bundles)
}

func (o *Orchestrator) emit(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	o.observer.OnEvent(ctx, e)
}
