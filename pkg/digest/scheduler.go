package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultSchedule runs the weekly digest on Monday mornings.
const DefaultSchedule = "0 8 * * 1"

// SchedulerConfig configures the recurring digest job.
type SchedulerConfig struct {
	Cron         string
	OutputDir    string
	GeneratedFor string
}

// Scheduler runs the previous week's digest on a cron schedule and writes
// it as markdown.
type Scheduler struct {
	scheduler gocron.Scheduler
	orch      *Orchestrator
	cfg       SchedulerConfig
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the digest job; call Start to begin running it.
func NewScheduler(orch *Orchestrator, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultSchedule
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(orch.Location()))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &Scheduler{
		scheduler: s,
		orch:      orch,
		cfg:       cfg,
		logger:    logger.With("component", "digest_scheduler"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	job, err := s.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(sc.run),
		gocron.WithName("weekly-digest"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule digest %q: %w", cfg.Cron, err)
	}

	attrs := []any{"cron", cfg.Cron}
	if next, err := job.NextRun(); err == nil {
		attrs = append(attrs, "next_run", next.Format(time.RFC3339))
	}
	sc.logger.Info("digest scheduled", attrs...)
	return sc, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop cancels a running digest and waits for the scheduler to shut down.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) run() {
	path, err := s.RunOnce(s.ctx)
	if err != nil {
		s.logger.Error("scheduled digest failed", "error", err)
		return
	}
	s.logger.Info("scheduled digest written", "path", path)
}

// RunOnce generates the default window's digest and writes it to the output
// directory. An empty digest is still written.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	loc := s.orch.Location()
	start, end, err := ResolveRange(s.now(), loc, "", "")
	if err != nil {
		return "", err
	}
	res, err := s.orch.GenerateDigest(ctx, start, end)
	if err != nil && res == nil {
		return "", err
	}
	path, werr := WriteMarkdown(s.cfg.OutputDir, res, loc, s.cfg.GeneratedFor)
	return path, errors.Join(err, werr)
}
