package ingestion

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testsabirweb/slack_digest/pkg/models"
)

const exportHeader = "blocks,bot_id,channel_id,channel_name,text,ts,type,user,thread_ts,subtype,reply_count,reply_users\n"

func TestNewCSVParser(t *testing.T) {
	parser := NewCSVParser()
	assert.Equal(t, 100, parser.config.BatchSize)
	assert.True(t, parser.config.SkipErrors)
	assert.True(t, parser.config.ValidateRecords)

	parser2 := NewCSVParser(ParserConfig{BatchSize: 50})
	assert.Equal(t, 50, parser2.config.BatchSize)

	parser3 := NewCSVParser(ParserConfig{BatchSize: 0})
	assert.Equal(t, 100, parser3.config.BatchSize)
}

func TestParseSlackTimestamp(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
		want      string
		wantErr   bool
	}{
		{"Valid timestamp with microseconds", "1599934232.150700", "1599934232.150700", false},
		{"Short fraction", "1599934232.15", "1599934232.150000", false},
		{"Valid Unix timestamp without microseconds", "1599934232", "1599934232.000000", false},
		{"Valid datetime format", "2020-09-12 18:10:32", "1599934232.000000", false},
		{"Invalid format - not numeric", "abc.def", "", true},
		{"Invalid format - empty string", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := parseSlackTimestamp(tt.timestamp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, models.TimeTS(ts))
		})
	}
}

func TestParseJSONArrayString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"Valid array", `["user1", "user2", "user3"]`, []string{"user1", "user2", "user3"}},
		{"Empty array", "[]", nil},
		{"Null string", "null", nil},
		{"Array with single quotes", `['user1', 'user2']`, []string{"user1", "user2"}},
		{"Array with spaces", `[ "user1" , "user2" ]`, []string{"user1", "user2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseJSONArrayString(tt.input))
		})
	}
}

func TestCSVParser_Parse(t *testing.T) {
	validCSV := exportHeader +
		`null,,C01234567,candidatelabs-acme,Hello world,1599934232.150700,message,U01234567,,,1,"[""U87654321""]"
null,,C01234567,candidatelabs-acme,This is a reply,1599934240.150700,message,U87654321,1599934232.150700,,0,[]
null,,C01234567,candidatelabs-acme,<@U01234567> has joined the channel,1599934250.150700,message,U01234567,,channel_join,0,[]
null,B999,C01234567,candidatelabs-acme,Deploy finished,1599934260.150700,message,,,bot_message,0,[]`

	parser := NewCSVParser()
	messages, err := parser.Parse(strings.NewReader(validCSV))
	require.NoError(t, err)
	require.Len(t, messages, 2)

	root := messages[0]
	assert.Equal(t, "C01234567_1599934232.150700", root.ID)
	assert.Equal(t, "Hello world", root.Text)
	assert.Equal(t, "U01234567", root.UserID)
	assert.Equal(t, "C01234567", root.ChannelID)
	assert.Equal(t, "candidatelabs-acme", root.ChannelName)
	assert.True(t, root.IsThreadParent)
	assert.True(t, root.IsRoot())
	assert.Equal(t, 1, root.ReplyCount)

	reply := messages[1]
	assert.Equal(t, "1599934232.150700", reply.ThreadTS)
	assert.True(t, reply.IsReply())

	total, processed, dropped, errs := parser.GetStats()
	assert.Equal(t, 4, total)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, dropped)
	assert.Zero(t, errs)
}

func TestCSVParser_ParseWithErrors(t *testing.T) {
	invalidCSV := `channel_id,text,ts,type,user
C01234567,Hello,1599934232.150700,message,U01234567
,No channel,1599934240.150700,message,U87654321
C01234567,Invalid timestamp,invalid_timestamp,message,U11111111
C01234567,No user,1599934250.150700,message,`

	parser := NewCSVParser(ParserConfig{
		BatchSize:       100,
		SkipErrors:      true,
		ValidateRecords: true,
	})

	messages, err := parser.Parse(strings.NewReader(invalidCSV))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello", messages[0].Text)

	_, _, _, errorCount := parser.GetStats()
	assert.Equal(t, 3, errorCount)
	assert.Len(t, parser.GetErrors(), 3)
}

func TestCSVParser_StopsOnErrorWhenNotSkipping(t *testing.T) {
	csv := `channel_id,text,ts,user
C1,Hello,not-a-ts,U1`
	parser := NewCSVParser(ParserConfig{BatchSize: 10, ValidateRecords: true})
	_, err := parser.Parse(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestCSVParser_BatchProcessing(t *testing.T) {
	var csvBuilder strings.Builder
	csvBuilder.WriteString(exportHeader)
	for i := 0; i < 250; i++ {
		csvBuilder.WriteString(fmt.Sprintf("null,,C01234567,acme,Message %d,1599934232.%06d,message,U%08d,,,0,[]\n", i, i, i))
	}

	parser := NewCSVParser(ParserConfig{BatchSize: 100})

	var sizes []int
	totalMessages := 0
	err := parser.ParseWithCallbacks(
		strings.NewReader(csvBuilder.String()),
		func(messages []models.Message, batchNum int) error {
			sizes = append(sizes, len(messages))
			totalMessages += len(messages)
			return nil
		},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, 250, totalMessages)
}

func TestCSVParser_BatchCallbackError(t *testing.T) {
	csv := exportHeader + "null,,C1,acme,Hi,1599934232.000001,message,U1,,,0,[]\n"
	parser := NewCSVParser()
	err := parser.ParseWithCallbacks(strings.NewReader(csv), func([]models.Message, int) error {
		return fmt.Errorf("store down")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestCSVParser_ProgressTracking(t *testing.T) {
	var csvBuilder strings.Builder
	csvBuilder.WriteString(exportHeader)
	for i := 0; i < 150; i++ {
		csvBuilder.WriteString(fmt.Sprintf("null,,C01234567,acme,Message %d,1599934232.%06d,message,U%08d,,,0,[]\n", i, i, i))
	}

	parser := NewCSVParser()
	progressCalls := 0
	lastProcessed := 0

	err := parser.ParseWithCallbacks(
		strings.NewReader(csvBuilder.String()),
		func(messages []models.Message, batchNum int) error { return nil },
		func(processed, total, errors int) {
			progressCalls++
			assert.GreaterOrEqual(t, processed, lastProcessed, "progress went backwards")
			lastProcessed = processed
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, progressCalls)
	assert.Equal(t, 150, lastProcessed)
}

func TestCSVParser_ValidateMessage(t *testing.T) {
	parser := NewCSVParser()

	tests := []struct {
		name    string
		message models.Message
		wantErr bool
	}{
		{"Valid message", models.Message{Text: "Hello", UserID: "U123", ChannelID: "C123", TS: "1599934232.000000"}, false},
		{"Missing user", models.Message{Text: "Hello", ChannelID: "C123", TS: "1599934232.000000"}, true},
		{"Missing channel", models.Message{Text: "Hello", UserID: "U123", TS: "1599934232.000000"}, true},
		{"Missing timestamp", models.Message{Text: "Hello", UserID: "U123", ChannelID: "C123"}, true},
		{"Empty content is allowed", models.Message{UserID: "U123", ChannelID: "C123", TS: "1599934232.000000"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parser.validateMessage(tt.message)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCSVParser_MissingRequiredColumns(t *testing.T) {
	invalidCSV := `channel,message,timestamp
C123,Hello,2021-01-01`

	_, err := NewCSVParser().Parse(strings.NewReader(invalidCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required column")
}
