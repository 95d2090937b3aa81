// Package ingestion copies Slack conversations into local storage and the
// semantic index, either live from the workspace or from CSV exports.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/digest"
	"github.com/testsabirweb/slack_digest/pkg/models"
	"github.com/testsabirweb/slack_digest/pkg/processing"
	"github.com/testsabirweb/slack_digest/pkg/vector"
)

var (
	// ErrNoSource is returned by Sync on a service built without a workspace.
	ErrNoSource = errors.New("ingestion: no chat source configured")
	// ErrNoUserEmail is returned when participation filtering has no user.
	ErrNoUserEmail = errors.New("ingestion: user email required to filter own threads")
)

// Source is the chat workspace messages are synced from.
type Source interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListUsers(ctx context.Context) (map[string]models.User, error)
	Window(ctx context.Context, ch models.Channel, start, end time.Time) ([]models.Message, error)
	LookupUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Store persists synced data.
type Store interface {
	StoreChannels(ctx context.Context, channels []models.Channel) error
	StoreUsers(ctx context.Context, users []models.User) error
	StoreMessages(ctx context.Context, messages []models.Message) error
	StoreProfileLinks(ctx context.Context, cands []models.Candidate) error
	IsSynced(ctx context.Context, email, channelID string, start, end time.Time) (bool, error)
	MarkSynced(ctx context.Context, email, channelID string, start, end time.Time) error
}

// UserDirectory is implemented by stores that keep the synced member list.
// Sync consults it before asking the workspace.
type UserDirectory interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Indexer embeds and stores documents.
type Indexer interface {
	Index(ctx context.Context, docs []vector.Document) (int, error)
}

// Service handles the complete ingestion pipeline
type Service struct {
	source    Source
	store     Store
	index     Indexer
	parser    *CSVParser
	processor *processing.DocumentProcessor
	engine    *candidates.Engine
	policy    *digest.ChannelPolicy
	userEmail string
	logger    *slog.Logger

	batchSize      int
	maxConcurrency int
}

// ServiceConfig contains configuration for the ingestion service
type ServiceConfig struct {
	BatchSize      int
	MaxConcurrency int
	UserEmail      string
	Policy         *digest.ChannelPolicy
	Engine         *candidates.Engine
	Chunking       processing.ChunkingConfig
	Location       *time.Location
}

// DefaultServiceConfig returns default service configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BatchSize:      100,
		MaxConcurrency: 5,
		Chunking:       processing.DefaultChunkingConfig(),
	}
}

// NewService creates a new ingestion service. source may be nil for
// CSV-only use; index may be nil to skip semantic indexing.
func NewService(source Source, store Store, index Indexer, logger *slog.Logger, config ...ServiceConfig) *Service {
	cfg := DefaultServiceConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultServiceConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultServiceConfig().MaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = digest.DefaultChannelPolicy()
	}
	if cfg.Engine == nil {
		cfg.Engine = candidates.NewEngine(nil, logger)
	}

	parser := NewCSVParser(ParserConfig{
		BatchSize:       cfg.BatchSize,
		SkipErrors:      true,
		ValidateRecords: true,
	})

	return &Service{
		source:         source,
		store:          store,
		index:          index,
		parser:         parser,
		processor:      processing.NewDocumentProcessor(cfg.Chunking, cfg.Location),
		engine:         cfg.Engine,
		policy:         cfg.Policy,
		userEmail:      cfg.UserEmail,
		logger:         logger.With("component", "ingestion"),
		batchSize:      cfg.BatchSize,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// IngestionStats tracks ingestion progress and statistics
type IngestionStats struct {
	TotalMessages     int
	ProcessedMessages int
	SkippedMessages   int
	FailedMessages    int
	Candidates        int
	TotalDocuments    int
	StoredDocuments   int
	FailedDocuments   int
	Channels          int
	SkippedChannels   int
	SyncedChannels    int
	Failures          map[string]string
	Errors            []error
	StartTime         time.Time
	EndTime           time.Time
	mu                sync.Mutex
}

func newStats() *IngestionStats {
	return &IngestionStats{StartTime: time.Now(), Failures: make(map[string]string)}
}

// UpdateStats safely updates ingestion statistics
func (s *IngestionStats) UpdateStats(processed, skipped, failed, documents, storedDocs, failedDocs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessedMessages += processed
	s.SkippedMessages += skipped
	s.FailedMessages += failed
	s.TotalDocuments += documents
	s.StoredDocuments += storedDocs
	s.FailedDocuments += failedDocs
}

// AddError adds an error to the stats
func (s *IngestionStats) AddError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, err)
}

func (s *IngestionStats) addCandidates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Candidates += n
}

func (s *IngestionStats) channelDone(synced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if synced {
		s.SyncedChannels++
	} else {
		s.Channels++
	}
}

func (s *IngestionStats) channelFailed(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failures == nil {
		s.Failures = make(map[string]string)
	}
	s.Failures[name] = err.Error()
	s.Errors = append(s.Errors, fmt.Errorf("channel %s: %w", name, err))
}

// GetSummary returns a summary of the ingestion stats
func (s *IngestionStats) GetSummary() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.EndTime.Sub(s.StartTime)
	if s.EndTime.IsZero() {
		duration = time.Since(s.StartTime)
	}
	rate := 0.0
	if duration > 0 {
		rate = float64(s.ProcessedMessages) / duration.Seconds()
	}

	return map[string]interface{}{
		"total_messages":      s.TotalMessages,
		"processed_messages":  s.ProcessedMessages,
		"skipped_messages":    s.SkippedMessages,
		"failed_messages":     s.FailedMessages,
		"candidates":          s.Candidates,
		"total_documents":     s.TotalDocuments,
		"stored_documents":    s.StoredDocuments,
		"failed_documents":    s.FailedDocuments,
		"channels":            s.Channels,
		"skipped_channels":    s.SkippedChannels,
		"already_synced":      s.SyncedChannels,
		"failed_channels":     len(s.Failures),
		"error_count":         len(s.Errors),
		"duration_seconds":    duration.Seconds(),
		"messages_per_second": rate,
	}
}

// SyncOptions control a workspace sync.
type SyncOptions struct {
	// Force re-syncs windows already recorded in the sync log.
	Force bool
	// Mine keeps only threads the configured user took part in.
	Mine bool
}

// Sync copies every allowed channel's window into the store and index.
// Channels are processed concurrently; a failing channel is recorded in the
// stats and does not stop the others.
func (s *Service) Sync(ctx context.Context, start, end time.Time, opts SyncOptions) (*IngestionStats, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	stats := newStats()

	var userID string
	if opts.Mine {
		if s.userEmail == "" {
			return nil, ErrNoUserEmail
		}
		u, err := s.lookupUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", s.userEmail, err)
		}
		userID = u.ID
	}

	channels, err := s.source.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	if err := s.store.StoreChannels(ctx, channels); err != nil {
		return nil, err
	}

	users, err := s.source.ListUsers(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "user directory unavailable", "error", err)
	} else if err := s.store.StoreUsers(ctx, userList(users)); err != nil {
		return nil, err
	}

	allowed, skipped := s.policy.Filter(channels)
	stats.SkippedChannels = len(skipped)
	s.logger.InfoContext(ctx, "syncing channels",
		"channels", len(allowed),
		"skipped", len(skipped),
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339))

	g := new(errgroup.Group)
	g.SetLimit(s.maxConcurrency)
	for _, ch := range allowed {
		g.Go(func() error {
			if err := s.syncChannel(ctx, ch, start, end, opts.Force, userID, stats); err != nil {
				s.logger.WarnContext(ctx, "channel sync failed", "channel", ch.Name, "error", err)
				stats.channelFailed(ch.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.EndTime = time.Now()
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	s.logger.InfoContext(ctx, "sync complete", "summary", stats.GetSummary())
	return stats, nil
}

func (s *Service) syncChannel(ctx context.Context, ch models.Channel, start, end time.Time, force bool, userID string, stats *IngestionStats) error {
	if !force {
		synced, err := s.store.IsSynced(ctx, s.userEmail, ch.ID, start, end)
		if err != nil {
			return err
		}
		if synced {
			stats.channelDone(true)
			return nil
		}
	}

	msgs, err := s.source.Window(ctx, ch, start, end)
	if err != nil {
		return fmt.Errorf("fetch window: %w", err)
	}
	if userID != "" {
		msgs = FilterParticipated(msgs, userID)
	}
	for i := range msgs {
		if msgs[i].ChannelName == "" {
			msgs[i].ChannelName = ch.Name
		}
	}

	stats.mu.Lock()
	stats.TotalMessages += len(msgs)
	stats.mu.Unlock()

	if len(msgs) > 0 {
		if err := s.store.StoreMessages(ctx, msgs); err != nil {
			return err
		}
		if err := s.indexChannel(ctx, ch.Name, msgs, stats); err != nil {
			return err
		}
	}

	if err := s.store.MarkSynced(ctx, s.userEmail, ch.ID, start, end); err != nil {
		return err
	}
	stats.channelDone(false)
	return nil
}

// indexChannel records profile links and indexes one channel's messages.
func (s *Service) indexChannel(ctx context.Context, channelName string, msgs []models.Message, stats *IngestionStats) error {
	bundles, _, err := s.engine.Build(ctx, channelName, msgs)
	if err != nil {
		return fmt.Errorf("associate candidates: %w", err)
	}

	var anchors []models.Candidate
	for _, b := range bundles {
		anchors = append(anchors, b.Anchors...)
	}
	if len(anchors) > 0 {
		if err := s.store.StoreProfileLinks(ctx, anchors); err != nil {
			return err
		}
	}
	stats.addCandidates(len(anchors))

	docs := s.processor.Process(msgs, bundles)
	stored := 0
	if s.index != nil && len(docs) > 0 {
		stored, err = s.index.Index(ctx, docs)
		if err != nil {
			stats.UpdateStats(0, 0, 0, len(docs), stored, len(docs)-stored)
			return fmt.Errorf("index documents: %w", err)
		}
	}
	stats.UpdateStats(len(msgs), 0, 0, len(docs), stored, 0)
	return nil
}

// lookupUser resolves the configured email from stored members, then from
// the workspace.
func (s *Service) lookupUser(ctx context.Context) (*models.User, error) {
	if dir, ok := s.store.(UserDirectory); ok {
		u, err := dir.UserByEmail(ctx, s.userEmail)
		if err == nil {
			return u, nil
		}
		s.logger.DebugContext(ctx, "user not in local directory", "email", s.userEmail, "error", err)
	}
	return s.source.LookupUserByEmail(ctx, s.userEmail)
}

// FilterParticipated keeps the threads userID posted in. A top-level
// message without replies counts as its own thread.
func FilterParticipated(msgs []models.Message, userID string) []models.Message {
	threads := make(map[string]bool)
	for _, m := range msgs {
		if m.UserID == userID {
			threads[models.MessageKey(m.ChannelID, m.RootTS())] = true
		}
	}
	var out []models.Message
	for _, m := range msgs {
		if threads[models.MessageKey(m.ChannelID, m.RootTS())] {
			out = append(out, m)
		}
	}
	return out
}

func userList(users map[string]models.User) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IngestFile imports a single CSV export. Batches are stored and indexed
// by a pool of workers.
func (s *Service) IngestFile(ctx context.Context, path string) (*IngestionStats, error) {
	stats := newStats()

	// The parser keeps per-run counters.
	parser := NewCSVParser(s.parser.config)

	workerCount := s.maxConcurrency
	messageChan := make(chan []models.Message, workerCount)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for messages := range messageChan {
				if err := s.processBatch(ctx, messages, stats); err != nil {
					stats.AddError(err)
				}
			}
		}()
	}

	err := parser.ParseFile(path, func(messages []models.Message, batchNum int) error {
		select {
		case messageChan <- messages:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, func(processed, total, errs int) {
		if processed > 0 && processed%1000 == 0 {
			s.logger.InfoContext(ctx, "import progress", "processed", processed, "total", total, "errors", errs)
		}
	})

	close(messageChan)
	wg.Wait()

	total, _, dropped, _ := parser.GetStats()
	stats.mu.Lock()
	stats.TotalMessages = total
	stats.SkippedMessages += dropped
	stats.Errors = append(stats.Errors, parser.GetErrors()...)
	stats.mu.Unlock()
	stats.EndTime = time.Now()

	if err != nil {
		return stats, fmt.Errorf("failed to parse file: %w", err)
	}

	return stats, nil
}

// IngestDirectory ingests all CSV files in a directory
func (s *Service) IngestDirectory(ctx context.Context, dirPath string) (*IngestionStats, error) {
	totalStats := newStats()

	files, err := filepath.Glob(filepath.Join(dirPath, "*.csv"))
	if err != nil {
		return totalStats, fmt.Errorf("failed to list CSV files: %w", err)
	}

	if len(files) == 0 {
		return totalStats, fmt.Errorf("no CSV files found in %s", dirPath)
	}

	s.logger.InfoContext(ctx, "found CSV files", "count", len(files), "dir", dirPath)

	for i, file := range files {
		s.logger.InfoContext(ctx, "processing file", "index", i+1, "total", len(files), "file", filepath.Base(file))

		fileStats, err := s.IngestFile(ctx, file)
		if err != nil {
			totalStats.AddError(fmt.Errorf("failed to ingest %s: %w", file, err))
			continue
		}

		totalStats.UpdateStats(
			fileStats.ProcessedMessages,
			fileStats.SkippedMessages,
			fileStats.FailedMessages,
			fileStats.TotalDocuments,
			fileStats.StoredDocuments,
			fileStats.FailedDocuments,
		)
		totalStats.mu.Lock()
		totalStats.TotalMessages += fileStats.TotalMessages
		totalStats.Candidates += fileStats.Candidates
		totalStats.Errors = append(totalStats.Errors, fileStats.Errors...)
		totalStats.mu.Unlock()
	}

	totalStats.EndTime = time.Now()
	return totalStats, nil
}

// processBatch stores one parsed batch and indexes it channel by channel.
func (s *Service) processBatch(ctx context.Context, messages []models.Message, stats *IngestionStats) error {
	if len(messages) == 0 {
		return nil
	}
	if err := s.store.StoreChannels(ctx, exportChannels(messages)); err != nil {
		stats.UpdateStats(0, 0, len(messages), 0, 0, 0)
		return err
	}
	if err := s.store.StoreMessages(ctx, messages); err != nil {
		stats.UpdateStats(0, 0, len(messages), 0, 0, 0)
		return err
	}

	byChannel := make(map[string][]models.Message)
	var order []string
	for _, m := range messages {
		if _, ok := byChannel[m.ChannelID]; !ok {
			order = append(order, m.ChannelID)
		}
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], m)
	}

	var errs []error
	for _, id := range order {
		msgs := byChannel[id]
		if err := s.indexChannel(ctx, msgs[0].ChannelName, msgs, stats); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// exportChannels derives channel rows from exported messages. Exports only
// contain channels the exporting user could read.
func exportChannels(messages []models.Message) []models.Channel {
	seen := make(map[string]bool)
	var out []models.Channel
	for _, m := range messages {
		if seen[m.ChannelID] {
			continue
		}
		seen[m.ChannelID] = true
		name := m.ChannelName
		if name == "" {
			name = m.ChannelID
		}
		out = append(out, models.Channel{ID: m.ChannelID, Name: name, IsMember: true})
	}
	return out
}

// IngestRequest represents a request to ingest data
type IngestRequest struct {
	Type      string `json:"type"` // "file" or "directory"
	Path      string `json:"path"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// IngestResponse represents the response from an ingestion operation
type IngestResponse struct {
	Success bool                   `json:"success"`
	Stats   map[string]interface{} `json:"stats"`
	Errors  []string               `json:"errors,omitempty"`
}
