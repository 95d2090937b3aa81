// Command digest generates weekly Slack channel digests, answers questions
// over synced messages and keeps the local message store up to date.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/testsabirweb/slack_digest/internal/app"
	"github.com/testsabirweb/slack_digest/internal/config"
	"github.com/testsabirweb/slack_digest/internal/logging"
	"github.com/testsabirweb/slack_digest/pkg/digest"
)

// cli carries state shared by the subcommands.
type cli struct {
	verbose bool
	out     io.Writer
	errOut  io.Writer
	now     func() time.Time

	// load and build are replaced in tests.
	load  func() (*config.Config, error)
	build func(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts app.Options) (*app.App, error)

	cfg    *config.Config
	logger *slog.Logger
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{
		out:    out,
		errOut: errOut,
		now:    time.Now,
		load:   config.Load,
		build:  app.Build,
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "digest",
		Short: "Weekly Slack channel digests for recruiting pipelines",
		Long: `digest summarizes last week's activity in every client channel you belong to,
tracking candidates by their profile links and the feedback on them.

Configuration comes from config.yaml (or CONFIG_FILE), .env and the environment,
e.g. SLACK_TOKEN, LLM_PROVIDER, LLM_API_KEY, DIGEST_TIMEZONE.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if c.verbose {
				level = "debug"
			}
			logger, err := logging.New(c.errOut, level, cfg.Log.Format)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.runCmd(),
		c.askCmd(),
		c.syncCmd(),
		c.scheduleCmd(),
		c.channelsCmd(),
		c.inspectCmd(),
	)
	return root
}

// open builds the application for one command.
func (c *cli) open(ctx context.Context, opts app.Options) (*app.App, error) {
	return c.build(ctx, c.cfg, c.logger, opts)
}

func (c *cli) window(start, end string) (time.Time, time.Time, error) {
	return digest.ResolveRange(c.now(), c.cfg.Location(), start, end)
}

func addRangeFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", "first day of the window, YYYY-MM-DD (default: last Monday)")
	cmd.Flags().StringVar(end, "end", "", "last day of the window, YYYY-MM-DD (default: last Sunday)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout, os.Stderr).rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
