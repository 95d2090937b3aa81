package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

// ParserConfig contains configuration for the CSV parser
type ParserConfig struct {
	BatchSize       int  // Number of records to process in a batch
	SkipErrors      bool // Whether to skip records with errors
	ValidateRecords bool // Whether to validate records
}

// DefaultParserConfig returns default parser configuration
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		BatchSize:       100,
		SkipErrors:      true,
		ValidateRecords: true,
	}
}

// droppedSubtypes are system messages that never carry conversation.
var droppedSubtypes = map[string]bool{
	"channel_join":  true,
	"channel_leave": true,
	"bot_message":   true,
}

// CSVParser handles parsing of Slack CSV export files
type CSVParser struct {
	config           ParserConfig
	totalRecords     int
	processedRecords int
	droppedRecords   int
	errorCount       int
	errors           []error
}

// NewCSVParser creates a new CSV parser instance
func NewCSVParser(config ...ParserConfig) *CSVParser {
	cfg := DefaultParserConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultParserConfig().BatchSize
	}

	return &CSVParser{
		config: cfg,
		errors: make([]error, 0),
	}
}

// BatchCallback is called for each batch of messages
type BatchCallback func(messages []models.Message, batchNum int) error

// ProgressCallback is called to report progress
type ProgressCallback func(processed, total int, errors int)

// exportRecord is a CSV row before it becomes a message.
type exportRecord struct {
	msg     models.Message
	subtype string
	botID   string
}

// ParseFile parses a CSV file with batch processing and progress tracking
func (p *CSVParser) ParseFile(filename string, batchCallback BatchCallback, progressCallback ProgressCallback) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.ParseWithCallbacks(file, batchCallback, progressCallback)
}

// ParseWithCallbacks parses CSV data with batch processing. Bot messages
// and join/leave notices are counted as dropped, not as errors.
func (p *CSVParser) ParseWithCallbacks(r io.Reader, batchCallback BatchCallback, progressCallback ProgressCallback) error {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	columnMap := make(map[string]int)
	for i, col := range header {
		columnMap[strings.TrimSpace(col)] = i
	}

	requiredColumns := []string{"text", "user", "channel_id", "ts"}
	for _, col := range requiredColumns {
		if _, ok := columnMap[col]; !ok {
			return fmt.Errorf("required column %s not found in CSV", col)
		}
	}

	batch := make([]models.Message, 0, p.config.BatchSize)
	batchNum := 0
	p.totalRecords = 0
	p.processedRecords = 0
	p.droppedRecords = 0
	p.errorCount = 0
	p.errors = p.errors[:0]

	for {
		record, err := reader.Read()
		if err == io.EOF {
			if len(batch) > 0 {
				if err := batchCallback(batch, batchNum); err != nil {
					return fmt.Errorf("batch callback error: %w", err)
				}
			}
			break
		}
		if err != nil {
			if p.config.SkipErrors {
				p.recordError(fmt.Errorf("failed to read record %d: %w", p.totalRecords+1, err))
				p.totalRecords++
				continue
			}
			return fmt.Errorf("failed to read record: %w", err)
		}

		p.totalRecords++

		rec, err := p.parseRecord(record, columnMap)
		if err != nil {
			if p.config.SkipErrors {
				p.recordError(fmt.Errorf("failed to parse record %d: %w", p.totalRecords, err))
				continue
			}
			return fmt.Errorf("failed to parse record %d: %w", p.totalRecords, err)
		}

		if droppedSubtypes[rec.subtype] || rec.botID != "" {
			p.droppedRecords++
			continue
		}

		if p.config.ValidateRecords {
			if err := p.validateMessage(rec.msg); err != nil {
				if p.config.SkipErrors {
					p.recordError(fmt.Errorf("invalid record %d: %w", p.totalRecords, err))
					continue
				}
				return fmt.Errorf("invalid record %d: %w", p.totalRecords, err)
			}
		}

		batch = append(batch, rec.msg)
		p.processedRecords++

		if len(batch) >= p.config.BatchSize {
			if err := batchCallback(batch, batchNum); err != nil {
				return fmt.Errorf("batch callback error: %w", err)
			}
			batchNum++
			batch = make([]models.Message, 0, p.config.BatchSize)
		}

		if progressCallback != nil && p.totalRecords%100 == 0 {
			progressCallback(p.processedRecords, p.totalRecords, p.errorCount)
		}
	}

	if progressCallback != nil {
		progressCallback(p.processedRecords, p.totalRecords, p.errorCount)
	}

	return nil
}

// Parse parses all messages at once (for smaller files)
func (p *CSVParser) Parse(r io.Reader) ([]models.Message, error) {
	var allMessages []models.Message

	err := p.ParseWithCallbacks(r, func(messages []models.Message, batchNum int) error {
		allMessages = append(allMessages, messages...)
		return nil
	}, nil)

	if err != nil {
		return nil, err
	}

	return allMessages, nil
}

// parseRecord converts a CSV row to a message. Timestamps are normalised to
// Slack's "seconds.micros" form so ids match messages fetched from the API.
func (p *CSVParser) parseRecord(record []string, columnMap map[string]int) (exportRecord, error) {
	getField := func(fieldName string) string {
		if idx, ok := columnMap[fieldName]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	rec := exportRecord{
		subtype: getField("subtype"),
		botID:   getField("bot_id"),
	}
	msg := models.Message{
		ChannelID:   getField("channel_id"),
		ChannelName: getField("channel_name"),
		UserID:      getField("user"),
		UserName:    getField("user_name"),
		Text:        getField("text"),
	}

	if tsStr := getField("ts"); tsStr != "" {
		ts, err := parseSlackTimestamp(tsStr)
		if err != nil {
			return rec, fmt.Errorf("failed to parse timestamp %s: %w", tsStr, err)
		}
		msg.TS = models.TimeTS(ts)
	}
	if threadStr := getField("thread_ts"); threadStr != "" {
		ts, err := parseSlackTimestamp(threadStr)
		if err != nil {
			return rec, fmt.Errorf("failed to parse thread_ts %s: %w", threadStr, err)
		}
		msg.ThreadTS = models.TimeTS(ts)
	}

	if replyCountStr := getField("reply_count"); replyCountStr != "" {
		if count, err := strconv.Atoi(replyCountStr); err == nil {
			msg.ReplyCount = count
		}
	}
	if len(parseJSONArrayString(getField("reply_users"))) > 0 {
		msg.IsThreadParent = true
	}
	if msg.ReplyCount > 0 && (msg.ThreadTS == "" || msg.ThreadTS == msg.TS) {
		msg.IsThreadParent = true
	}
	if msg.IsThreadParent && msg.ThreadTS == "" {
		msg.ThreadTS = msg.TS
	}
	if msg.TS != "" {
		msg.ID = models.MessageID(msg.ChannelID, msg.TS)
	}

	rec.msg = msg
	return rec, nil
}

// parseSlackTimestamp parses Slack's timestamp format
func parseSlackTimestamp(ts string) (time.Time, error) {
	// Unix timestamp with microseconds (e.g., "1599934232.150700")
	if strings.Contains(ts, ".") {
		parts := strings.Split(ts, ".")
		if len(parts) == 2 {
			seconds, err := strconv.ParseInt(parts[0], 10, 64)
			if err == nil {
				frac := parts[1]
				if len(frac) > 6 {
					frac = frac[:6]
				}
				frac += strings.Repeat("0", 6-len(frac))
				microseconds, err := strconv.ParseInt(frac, 10, 64)
				if err == nil {
					return time.Unix(seconds, microseconds*1000).UTC(), nil
				}
			}
		}
	} else if seconds, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-07:00",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid timestamp format: %s", ts)
}

// parseJSONArrayString parses a JSON array string like ["user1", "user2"]
func parseJSONArrayString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" || s == "null" {
		return nil
	}

	s = strings.Trim(s, "[]")
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, `'`, "")

	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}

	return result
}

// validateMessage validates a parsed message. Empty text is allowed; file
// only posts export that way.
func (p *CSVParser) validateMessage(msg models.Message) error {
	if msg.UserID == "" {
		return fmt.Errorf("no user ID")
	}

	if msg.ChannelID == "" {
		return fmt.Errorf("no channel ID")
	}

	if msg.TS == "" || msg.Timestamp() == 0 {
		return fmt.Errorf("invalid timestamp")
	}

	return nil
}

// recordError records a parsing error
func (p *CSVParser) recordError(err error) {
	p.errorCount++
	p.errors = append(p.errors, err)
}

// GetErrors returns all parsing errors
func (p *CSVParser) GetErrors() []error {
	return p.errors
}

// GetStats returns parsing statistics
func (p *CSVParser) GetStats() (total, processed, dropped, errors int) {
	return p.totalRecords, p.processedRecords, p.droppedRecords, p.errorCount
}
