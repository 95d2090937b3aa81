package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/ingestion"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

// inspectCmd parses a CSV export without storing it and previews what an
// import would load.
func (c *cli) inspectCmd() *cobra.Command {
	var (
		batchSize  int
		limit      int
		skipErrors bool
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Preview a CSV export and the candidate links in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := ingestion.NewCSVParser(ingestion.ParserConfig{
				BatchSize:       batchSize,
				SkipErrors:      skipErrors,
				ValidateRecords: true,
			})
			extractor := candidates.NewExtractor(nil)

			var (
				sample []models.Message
				links  []models.Candidate
			)
			err := parser.ParseFile(args[0], func(messages []models.Message, batchNum int) error {
				c.logger.Debug("batch parsed", "batch", batchNum, "messages", len(messages))
				for _, m := range messages {
					if len(sample) < limit {
						sample = append(sample, m)
					}
				}
				links = append(links, extractor.Extract(messages, "")...)
				return nil
			}, nil)
			if err != nil {
				return fmt.Errorf("error parsing file: %w", err)
			}

			total, processed, dropped, errorCount := parser.GetStats()
			fmt.Fprintf(c.out, "=== Parsing Complete ===\n")
			fmt.Fprintf(c.out, "Total records: %d\n", total)
			fmt.Fprintf(c.out, "Processed successfully: %d\n", processed)
			fmt.Fprintf(c.out, "Dropped (joins, leaves, bots): %d\n", dropped)
			fmt.Fprintf(c.out, "Errors: %d\n", errorCount)

			fmt.Fprintf(c.out, "\n=== Sample Messages (first %d) ===\n", len(sample))
			for _, m := range sample {
				printMessage(c, m)
			}

			urls, byURL := candidates.GroupByURL(links)
			fmt.Fprintf(c.out, "\n=== Candidate Links (%d) ===\n", len(urls))
			for _, u := range urls {
				first := byURL[u][0]
				fmt.Fprintf(c.out, "%s  %s  (%s, %d mentions)\n", first.Name, u, first.SourceChannel, len(byURL[u]))
			}

			if errorCount > 0 {
				fmt.Fprintf(c.out, "\n=== First 10 Errors ===\n")
				for i, err := range parser.GetErrors() {
					if i >= 10 {
						break
					}
					fmt.Fprintf(c.out, "%d. %v\n", i+1, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 100, "batch size for parsing")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of messages to display")
	cmd.Flags().BoolVar(&skipErrors, "skip-errors", true, "skip records with errors")
	return cmd
}

func printMessage(c *cli, m models.Message) {
	fmt.Fprintf(c.out, "\n--- %s ---\n", m.ID)
	fmt.Fprintf(c.out, "Time: %s\n", m.Time().In(c.cfg.Location()).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "Channel: %s\n", m.ChannelName)
	fmt.Fprintf(c.out, "User: %s\n", m.UserID)
	if m.ThreadTS != "" && m.ThreadTS != m.TS {
		fmt.Fprintf(c.out, "Thread: %s\n", m.ThreadTS)
	}
	if m.ReplyCount > 0 {
		fmt.Fprintf(c.out, "Replies: %d\n", m.ReplyCount)
	}
	fmt.Fprintf(c.out, "Content: %s\n", truncateString(m.Text, 100))
}

func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) > maxLength {
		return string(r[:maxLength]) + "..."
	}
	return s
}
