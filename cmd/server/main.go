package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/testsabirweb/slack_digest/internal/app"
	"github.com/testsabirweb/slack_digest/internal/config"
	"github.com/testsabirweb/slack_digest/internal/logging"
	"github.com/testsabirweb/slack_digest/pkg/api"
)

func main() {
	schedule := flag.Bool("schedule", false, "also run the weekly digest on digest.schedule")
	offline := flag.Bool("offline", false, "serve digests from the local store instead of Slack")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *schedule, *offline); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger, schedule, offline bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting slack digest server")
	a, err := app.Build(ctx, cfg, logger, app.Options{Offline: offline, RequireSlack: !offline})
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.ServerDeps())

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		// digests and answers wait on the model
		WriteTimeout: cfg.Digest.ChannelTimeout + time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Hub.Run(gctx)
		return nil
	})

	if schedule {
		s, err := a.Scheduler("")
		if err != nil {
			return err
		}
		s.Start()
		g.Go(func() error {
			<-gctx.Done()
			return s.Stop()
		})
	}

	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown with timeout
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
