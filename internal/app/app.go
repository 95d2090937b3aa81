// Package app assembles the services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/testsabirweb/slack_digest/internal/config"
	"github.com/testsabirweb/slack_digest/pkg/api"
	"github.com/testsabirweb/slack_digest/pkg/cache"
	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/chat"
	"github.com/testsabirweb/slack_digest/pkg/digest"
	"github.com/testsabirweb/slack_digest/pkg/embeddings"
	"github.com/testsabirweb/slack_digest/pkg/events"
	"github.com/testsabirweb/slack_digest/pkg/ingestion"
	"github.com/testsabirweb/slack_digest/pkg/llm"
	"github.com/testsabirweb/slack_digest/pkg/processing"
	"github.com/testsabirweb/slack_digest/pkg/retry"
	"github.com/testsabirweb/slack_digest/pkg/slackapi"
	"github.com/testsabirweb/slack_digest/pkg/store"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

// searchJudgeK is how many neighbours the search judge inspects.
const searchJudgeK = 3

// Options select which services must be available.
type Options struct {
	// Offline reads digests from the local store instead of Slack.
	Offline bool
	// RequireSlack fails Build when no Slack token is configured.
	RequireSlack bool
	// RequireLLM fails Build when the model provider has no credentials.
	RequireLLM bool
}

// App holds the assembled services. Optional services are nil when their
// configuration is absent.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store    *store.Store
	Slack    *slackapi.Client
	LLM      llm.Client
	Embedder embeddings.Embedder
	Vectors  *vector.WeaviateClient
	Index    *vector.SemanticIndex
	Events   *events.Publisher

	Policy       *digest.ChannelPolicy
	Engine       *candidates.Engine
	Orchestrator *digest.Orchestrator
	Chat         *chat.Service
	Ingestion    *ingestion.Service
	Hub          *api.Hub

	closers []func() error
}

// Build opens every configured backend and wires the services together.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	policy, err := digest.NewChannelPolicy(cfg.Digest.ExcludePatterns, cfg.Digest.IncludePatterns)
	if err != nil {
		return nil, err
	}
	a.Policy = policy

	a.Store, err = store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if err := a.openSlack(ctx, opts); err != nil {
		return nil, err
	}
	if err := a.openLLM(ctx, opts); err != nil {
		return nil, err
	}
	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}
	if cfg.NATS.URL != "" {
		a.Events, err = events.Connect(ctx, cfg.NATS.URL, cfg.NATS.Token, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.Events.Close(); return nil })
	}

	judge, err := a.judge()
	if err != nil {
		return nil, err
	}

	source := a.digestSource(opts.Offline)
	engineOpts := []candidates.Option{candidates.WithParentLookup(source)}
	if judge != nil {
		engineOpts = append(engineOpts, candidates.WithJudge(judge))
	}
	a.Engine = candidates.NewEngine(nil, logger, engineOpts...)

	a.Hub = api.NewHub(logger)
	a.wireDigest(source)
	a.wireChat()
	a.wireIngestion()

	return a, nil
}

func (a *App) openSlack(ctx context.Context, opts Options) error {
	cfg := a.Config
	if cfg.Slack.Token == "" {
		if opts.RequireSlack && !opts.Offline {
			return cfg.RequireSlack()
		}
		return nil
	}

	var clientOpts []slackapi.Option
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.URL, "slack_digest")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rc.Close)
		clientOpts = append(clientOpts, slackapi.WithCache(rc))
	}

	client, err := slackapi.New(slackapi.Config{
		Token:           cfg.Slack.Token,
		RateLimitCalls:  cfg.Slack.RateLimitCalls,
		RateLimitPeriod: cfg.Slack.RateLimitPeriod,
		Retry:           retryPolicy(cfg.Slack.MaxRetries, cfg.Slack.RetryDelay),
		CacheTTL:        cfg.Cache.TTL,
	}, a.Logger, clientOpts...)
	if err != nil {
		return err
	}
	a.Slack = client
	return nil
}

func (a *App) openLLM(ctx context.Context, opts Options) error {
	cfg := a.Config
	if err := cfg.RequireLLM(); err != nil {
		if opts.RequireLLM {
			return err
		}
		a.Logger.Warn("language model disabled", "reason", err)
		return nil
	}
	client, err := llm.New(ctx, llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   llmBaseURL(cfg),
		MaxTokens: cfg.LLM.MaxTokens,
		Retry:     retryPolicy(cfg.LLM.MaxRetries, 0),
	}, a.Logger)
	if err != nil {
		return err
	}
	a.LLM = client
	return nil
}

// openIndex connects the embedder and, when a Weaviate host is set, the
// semantic index.
func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	if cfg.Weaviate.Host == "" && cfg.Association.Judge != "embedding" {
		return nil
	}

	baseURL := cfg.Embeddings.BaseURL
	if baseURL == "" && cfg.Embeddings.Provider == "ollama" {
		baseURL = cfg.Ollama.URL
	}
	embedder, err := embeddings.New(ctx, embeddings.Config{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		APIKey:   cfg.Embeddings.APIKey,
		BaseURL:  baseURL,
	})
	if err != nil {
		return err
	}
	a.Embedder = embedder

	if cfg.Weaviate.Host == "" {
		return nil
	}
	vc, err := vector.NewWeaviateClient(cfg.Weaviate.Scheme, cfg.Weaviate.Host, cfg.Weaviate.APIKey, cfg.Weaviate.Class)
	if err != nil {
		return err
	}
	if err := vc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize weaviate schema: %w", err)
	}
	a.Vectors = vc
	a.Index = vector.NewSemanticIndex(vc, embedder, a.Logger)
	return nil
}

// judge returns the fuzzy association judge named by the configuration, or
// nil when fuzzy association is off.
func (a *App) judge() (candidates.SimilarityJudge, error) {
	switch a.Config.Association.Judge {
	case "", "none":
		return nil, nil
	case "embedding":
		return candidates.NewEmbeddingJudge(a.Embedder, a.Config.Association.Threshold), nil
	case "llm":
		if a.LLM == nil {
			return nil, errors.New("association judge llm needs a configured language model")
		}
		return candidates.NewLLMJudge(a.LLM), nil
	case "search":
		if a.Index == nil {
			return nil, errors.New("association judge search needs weaviate.host")
		}
		return candidates.NewSearchJudge(a.Index, searchJudgeK), nil
	}
	return nil, fmt.Errorf("unknown association judge %q", a.Config.Association.Judge)
}

// digestSource is Slack, or the local store when offline or no token is set.
func (a *App) digestSource(offline bool) digest.Source {
	if offline || a.Slack == nil {
		return a.Store
	}
	return a.Slack
}

func (a *App) wireDigest(source digest.Source) {
	if a.LLM == nil {
		return
	}
	observers := digest.MultiObserver{digest.NewLogObserver(a.Logger), a.Hub}
	if a.Events != nil {
		observers = append(observers, a.Events)
	}
	a.Orchestrator = digest.NewOrchestrator(source, a.LLM, a.Policy, a.Logger,
		digest.WithEngine(a.Engine),
		digest.WithObserver(observers),
		digest.WithConfig(digest.Config{
			Workers:        a.Config.Digest.Workers,
			ChannelTimeout: a.Config.Digest.ChannelTimeout,
			Prompt:         a.Config.Digest.Prompt,
			Location:       a.Config.Location(),
		}))
}

func (a *App) wireChat() {
	if a.LLM == nil {
		return
	}
	builderOpts := []chat.BuilderOption{
		chat.WithParentLookup(a.Store),
		chat.WithLocation(a.Config.Location()),
		chat.WithQueryOptimizer(chat.NewQueryOptimizer(a.LLM, a.Logger)),
	}
	if a.Index != nil {
		builderOpts = append(builderOpts, chat.WithSearcher(a.Index))
	}
	builder := chat.NewContextBuilder(a.Engine, a.Logger, builderOpts...)
	a.Chat = chat.NewService(a.Store, builder, a.LLM, a.Logger)
	a.Hub.SetAsker(a.Chat, a.Config.Location())
}

func (a *App) wireIngestion() {
	var source ingestion.Source
	if a.Slack != nil {
		source = a.Slack
	}
	var index ingestion.Indexer
	if a.Index != nil {
		index = a.Index
	}
	a.Ingestion = ingestion.NewService(source, a.Store, index, a.Logger, ingestion.ServiceConfig{
		BatchSize:      ingestion.DefaultServiceConfig().BatchSize,
		MaxConcurrency: ingestion.DefaultServiceConfig().MaxConcurrency,
		UserEmail:      a.Config.Slack.UserEmail,
		Policy:         a.Policy,
		Engine:         a.Engine,
		Chunking:       processing.DefaultChunkingConfig(),
		Location:       a.Config.Location(),
	})
}

// ServerDeps returns the HTTP dependencies, leaving absent services nil so
// their routes answer 503.
func (a *App) ServerDeps() api.Deps {
	deps := api.Deps{
		Policy:       a.Policy,
		Hub:          a.Hub,
		Location:     a.Config.Location(),
		APIToken:     a.Config.Server.APIToken,
		GeneratedFor: a.Config.Digest.GeneratedFor,
		Logger:       a.Logger,
	}
	if a.Orchestrator != nil {
		deps.Digest = a.Orchestrator
	}
	if a.Chat != nil {
		deps.Chat = a.Chat
	}
	if a.Index != nil {
		deps.Search = a.Index
	} else {
		deps.Search = api.NewKeywordSearcher(a.Store)
	}
	deps.Profiles = a.Store
	if a.Slack != nil {
		deps.Channels = a.Slack
	} else {
		deps.Channels = a.Store
	}
	return deps
}

// Scheduler builds the recurring digest job.
func (a *App) Scheduler(outputDir string) (*digest.Scheduler, error) {
	if a.Orchestrator == nil {
		return nil, a.Config.RequireLLM()
	}
	if outputDir == "" {
		outputDir = a.Config.Digest.OutputDir
	}
	return digest.NewScheduler(a.Orchestrator, digest.SchedulerConfig{
		Cron:         a.Config.Digest.Schedule,
		OutputDir:    outputDir,
		GeneratedFor: a.Config.Digest.GeneratedFor,
	}, a.Logger)
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func retryPolicy(maxRetries int, initial time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	if initial > 0 {
		p.InitialInterval = initial
	}
	return p
}

// llmBaseURL points the ollama provider at the shared Ollama URL unless an
// explicit base URL is set.
func llmBaseURL(cfg *config.Config) string {
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		return cfg.Ollama.URL
	}
	return cfg.LLM.BaseURL
}
