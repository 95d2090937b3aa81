package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/testsabirweb/slack_digest/internal/app"
	"github.com/testsabirweb/slack_digest/pkg/chat"
	"github.com/testsabirweb/slack_digest/pkg/digest"
	"github.com/testsabirweb/slack_digest/pkg/ingestion"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		start, end string
		offline    bool
		output     string
		stdout     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate the digest for a date range",
		Long: `Generates one summary per active client channel and writes them as a markdown
file named digest_<start>_to_<end>.md. Without --start/--end the previous
Monday through Sunday is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			from, to, err := c.window(start, end)
			if err != nil {
				return err
			}
			a, err := c.open(ctx, app.Options{Offline: offline, RequireSlack: true, RequireLLM: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Orchestrator.GenerateDigest(ctx, from, to)
			if err != nil && res == nil {
				return err
			}
			if a.Events != nil {
				if perr := a.Events.PublishResult(res); perr != nil {
					c.logger.Warn("failed to publish digest result", "error", perr)
				}
			}

			loc := c.cfg.Location()
			if stdout {
				fmt.Fprint(c.out, digest.RenderMarkdown(res, loc, c.cfg.Digest.GeneratedFor))
				return err
			}
			if output == "" {
				output = c.cfg.Digest.OutputDir
			}
			path, werr := digest.WriteMarkdown(output, res, loc, c.cfg.Digest.GeneratedFor)
			if werr == nil {
				fmt.Fprintf(c.out, "Digest written to %s (%d channels, %d failed)\n", path, len(res.Summaries), len(res.Failures))
			}
			return errors.Join(err, werr)
		},
	}
	addRangeFlags(cmd, &start, &end)
	cmd.Flags().BoolVar(&offline, "offline", false, "read messages from the local store instead of Slack")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for the markdown file (default: digest.output_dir)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the digest instead of writing a file")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	var (
		start, end string
		channelID  string
		mode       string
		limit      int
		sync       bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question over synced messages",
		Long: `Answers a free text question using the messages stored for the window.
Questions about candidates or client feedback get the candidate pipeline
context, questions about what happened in a channel get the channel activity
context, and everything else gets semantic search plus every thread in the
window. --mode forces one of channel_activity, candidate_pipeline or
full_context.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, to, err := c.window(start, end)
			if err != nil {
				return err
			}
			m, err := chat.ParseMode(mode)
			if err != nil {
				return err
			}
			a, err := c.open(ctx, app.Options{RequireSlack: sync, RequireLLM: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if sync {
				if _, err := a.Ingestion.Sync(ctx, from, to, ingestion.SyncOptions{}); err != nil {
					return err
				}
			}

			ans, err := a.Chat.Answer(ctx, chat.Question{
				Query:     strings.Join(args, " "),
				Start:     from,
				End:       to,
				ChannelID: channelID,
				Limit:     limit,
				Mode:      m,
			})
			if err != nil {
				return err
			}
			c.logger.Debug("answered", "mode", ans.Mode, "messages", ans.Messages)
			fmt.Fprintln(c.out, ans.Text)
			return nil
		},
	}
	addRangeFlags(cmd, &start, &end)
	cmd.Flags().StringVar(&channelID, "channel", "", "restrict to one channel ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "semantic hits to include (default 50)")
	cmd.Flags().BoolVar(&sync, "sync", false, "sync the window from Slack before answering")
	cmd.Flags().StringVar(&mode, "mode", "", "context mode: channel_activity, candidate_pipeline or full_context")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var (
		start, end  string
		force, mine bool
		importPath  string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy channel history into the local store and index",
		Long: `Fetches every allowed channel's messages for the window, stores them with
their candidate links and indexes them for semantic search. Windows already
synced are skipped unless --force is given. --import loads a CSV export
(file or directory) instead of calling Slack.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx, app.Options{RequireSlack: importPath == ""})
			if err != nil {
				return err
			}
			defer a.Close()

			var stats *ingestion.IngestionStats
			if importPath != "" {
				stats, err = importCSV(cmd, a, importPath)
			} else {
				if mine {
					if err := c.cfg.RequireUserEmail(); err != nil {
						return err
					}
				}
				from, to, rerr := c.window(start, end)
				if rerr != nil {
					return rerr
				}
				stats, err = a.Ingestion.Sync(ctx, from, to, ingestion.SyncOptions{Force: force, Mine: mine})
			}
			if stats != nil {
				printStats(c, stats)
			}
			return err
		},
	}
	addRangeFlags(cmd, &start, &end)
	cmd.Flags().BoolVar(&force, "force", false, "re-sync windows already in the sync log")
	cmd.Flags().BoolVar(&mine, "mine", false, "keep only threads the configured user took part in")
	cmd.Flags().StringVar(&importPath, "import", "", "CSV export file or directory to load instead of Slack")
	return cmd
}

func importCSV(cmd *cobra.Command, a *app.App, path string) (*ingestion.IngestionStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return a.Ingestion.IngestDirectory(cmd.Context(), path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("%s is not a CSV file", path)
	}
	return a.Ingestion.IngestFile(cmd.Context(), path)
}

func printStats(c *cli, stats *ingestion.IngestionStats) {
	s := stats.GetSummary()
	fmt.Fprintf(c.out, "Channels synced: %v (already synced %v, skipped %v, failed %v)\n",
		s["channels"], s["already_synced"], s["skipped_channels"], s["failed_channels"])
	fmt.Fprintf(c.out, "Messages: %v processed, %v skipped, %v failed\n",
		s["processed_messages"], s["skipped_messages"], s["failed_messages"])
	fmt.Fprintf(c.out, "Candidates: %v, documents stored: %v\n", s["candidates"], s["stored_documents"])
	for name, reason := range stats.Failures {
		fmt.Fprintf(c.out, "  failed %s: %s\n", name, reason)
	}
}

func (c *cli) scheduleCmd() *cobra.Command {
	var (
		output string
		now    bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the digest on the configured cron schedule",
		Long: `Runs in the foreground, generating the previous week's digest on
digest.schedule (default "0 8 * * 1", Monday 08:00 in digest.timezone) until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx, app.Options{RequireSlack: true, RequireLLM: true})
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Scheduler(output)
			if err != nil {
				return err
			}
			if now {
				path, err := s.RunOnce(ctx)
				if err != nil {
					c.logger.Error("initial digest failed", "error", err)
				} else {
					fmt.Fprintf(c.out, "Digest written to %s\n", path)
				}
			}
			s.Start()
			<-ctx.Done()
			return s.Stop()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for markdown files (default: digest.output_dir)")
	cmd.Flags().BoolVar(&now, "now", false, "also run once immediately")
	return cmd
}

func (c *cli) channelsCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels and whether the digest covers them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx, app.Options{Offline: offline, RequireSlack: !offline})
			if err != nil {
				return err
			}
			defer a.Close()

			channels, err := a.ServerDeps().Channels.ListChannels(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tCLIENT\tINCLUDED\tREASON")
			for _, ch := range channels {
				ok, reason := a.Policy.Allow(ch)
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", ch.Name, digest.ClientName(ch.Name), ok, reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "list channels from the local store")
	return cmd
}
