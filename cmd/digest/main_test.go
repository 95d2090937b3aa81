package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testsabirweb/slack_digest/internal/config"
)

const exportCSV = `blocks,bot_id,channel_id,channel_name,text,ts,type,user,thread_ts,subtype,reply_count,reply_users
null,,C01,candidatelabs-acme,Submitted Jane https://www.site.com/in/janedoe,1710172800.000100,message,U01,,,1,"[""U02""]"
null,,C01,candidatelabs-acme,Client liked her,1710176400.000200,message,U02,1710172800.000100,,0,[]
null,,C02,internal-ops,Lunch?,1710180000.000300,message,U03,,,0,[]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:      config.ServerConfig{Port: 8080},
		Slack:       config.SlackConfig{RateLimitCalls: 50, RateLimitPeriod: time.Minute},
		Storage:     config.StorageConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "digest.db")},
		Weaviate:    config.WeaviateConfig{Scheme: "http", Class: "SlackMessage"},
		LLM:         config.LLMConfig{Provider: "anthropic", MaxTokens: 4000},
		Embeddings:  config.EmbeddingsConfig{Provider: "ollama"},
		Ollama:      config.OllamaConfig{URL: "http://localhost:11434"},
		Digest:      config.DigestConfig{Timezone: "America/Chicago", Workers: 2, ChannelTimeout: time.Minute, Schedule: "0 8 * * 1", ExcludePatterns: []string{"^internal-"}},
		Association: config.AssociationConfig{Judge: "none", Threshold: 0.75},
		Log:         config.LogConfig{Level: "error", Format: "text"},
	}
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := newCLI(&out, &errOut)
	c.load = func() (*config.Config, error) { return cfg, nil }
	c.now = func() time.Time { return time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC) }

	root := c.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportThenListChannels(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(exportCSV), 0o600))

	out, err := execute(t, cfg, "sync", "--import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Messages: 3 processed")

	out, err = execute(t, cfg, "channels", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "candidatelabs-acme")
	assert.Contains(t, out, "excluded by ^internal-")
}

func TestImportRejectsNonCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	_, err := execute(t, testConfig(t), "sync", "--import", path)
	assert.ErrorContains(t, err, "not a CSV file")
}

func TestCommandsNeedCredentials(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"run needs slack", []string{"run"}},
		{"run offline needs llm", []string{"run", "--offline"}},
		{"ask needs llm", []string{"ask", "who", "was", "submitted"}},
		{"sync needs slack", []string{"sync"}},
		{"schedule needs slack", []string{"schedule"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, testConfig(t), tt.args...)
			assert.ErrorIs(t, err, config.ErrMissingCredential)
		})
	}
}

func TestRangeValidation(t *testing.T) {
	_, err := execute(t, testConfig(t), "run", "--start", "2024-03-10", "--end", "2024-03-01")
	assert.Error(t, err)

	_, err = execute(t, testConfig(t), "ask")
	assert.Error(t, err, "question is required")
}

func TestSyncMineNeedsEmail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Slack.Token = "xoxp-test"
	_, err := execute(t, cfg, "sync", "--mine")
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(exportCSV), 0o600))

	out, err := execute(t, testConfig(t), "inspect", path, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Total records: 3")
	assert.Contains(t, out, "Sample Messages (first 1)")
	assert.Contains(t, out, "Candidate Links (1)")
	assert.Contains(t, out, "site.com/in/janedoe")
}
