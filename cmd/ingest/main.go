package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/testsabirweb/slack_digest/internal/app"
	"github.com/testsabirweb/slack_digest/internal/config"
	"github.com/testsabirweb/slack_digest/internal/logging"
	"github.com/testsabirweb/slack_digest/pkg/ingestion"
)

func main() {
	// Define command-line flags
	var (
		inputPath = flag.String("input", "", "Path to CSV file or directory to ingest (required)")
		inputType = flag.String("type", "auto", "Input type: 'file', 'directory', or 'auto' (default: auto)")
		help      = flag.Bool("help", false, "Show help message")
	)

	flag.Parse()

	if *help || *inputPath == "" {
		printUsage()
		os.Exit(0)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{Offline: true})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	if a.Index == nil {
		logger.Warn("weaviate.host not set, messages are stored but not indexed")
	}

	// Determine input type
	if *inputType == "auto" {
		fileInfo, err := os.Stat(*inputPath)
		if err != nil {
			logger.Error("failed to stat input path", "error", err)
			os.Exit(1)
		}
		if fileInfo.IsDir() {
			*inputType = "directory"
		} else {
			*inputType = "file"
		}
	}

	// Perform ingestion
	startTime := time.Now()
	var stats *ingestion.IngestionStats

	switch *inputType {
	case "file":
		logger.Info("ingesting file", "path", *inputPath)
		stats, err = a.Ingestion.IngestFile(ctx, *inputPath)
	case "directory":
		logger.Info("ingesting directory", "path", *inputPath)
		stats, err = a.Ingestion.IngestDirectory(ctx, *inputPath)
	default:
		logger.Error("invalid input type", "type", *inputType)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("ingestion failed", "error", err)
		os.Exit(1)
	}

	// Print results
	duration := time.Since(startTime)
	fmt.Println("\n=== Ingestion Complete ===")
	fmt.Printf("Duration: %s\n", duration.Round(time.Second))
	fmt.Printf("Total messages: %d\n", stats.TotalMessages)
	fmt.Printf("Processed messages: %d\n", stats.ProcessedMessages)
	fmt.Printf("Skipped messages: %d\n", stats.SkippedMessages)
	fmt.Printf("Failed messages: %d\n", stats.FailedMessages)
	fmt.Printf("Candidate links: %d\n", stats.Candidates)
	fmt.Printf("Total documents created: %d\n", stats.TotalDocuments)
	fmt.Printf("Documents stored: %d\n", stats.StoredDocuments)
	fmt.Printf("Documents failed: %d\n", stats.FailedDocuments)

	if len(stats.Errors) > 0 {
		fmt.Printf("\nErrors encountered: %d\n", len(stats.Errors))
		// Show first 10 errors
		for i, err := range stats.Errors {
			if i >= 10 {
				fmt.Printf("... and %d more errors\n", len(stats.Errors)-10)
				break
			}
			fmt.Printf("  - %v\n", err)
		}
	}

	if stats.ProcessedMessages > 0 {
		fmt.Printf("\nProcessing rate: %.2f messages/second\n", float64(stats.ProcessedMessages)/duration.Seconds())
	}
}

func printUsage() {
	fmt.Println("Slack Digest Export Import Tool")
	fmt.Println("\nLoads Slack CSV exports into the local store and the semantic index.")
	fmt.Println("\nUsage:")
	fmt.Println("  ingest -input <path> [options]")
	fmt.Println("\nRequired:")
	fmt.Println("  -input string")
	fmt.Println("        Path to CSV file or directory to ingest")
	fmt.Println("\nOptions:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  # Ingest a single CSV file")
	fmt.Println("  ingest -input slack/candidatelabs-acme.csv")
	fmt.Println("\n  # Ingest all CSV files in a directory")
	fmt.Println("  ingest -input slack/")
}
