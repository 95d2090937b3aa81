package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs Load from an empty directory so no stray .env or
// config.yaml is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "America/Chicago", cfg.Digest.Timezone)
	assert.Equal(t, 10, cfg.Digest.Workers)
	assert.Equal(t, []string{"^internal-"}, cfg.Digest.ExcludePatterns)
	assert.Equal(t, 5*time.Minute, cfg.Digest.ChannelTimeout)
	assert.Equal(t, "0 8 * * 1", cfg.Digest.Schedule)
	assert.Equal(t, 50, cfg.Slack.RateLimitCalls)
	assert.Equal(t, time.Minute, cfg.Slack.RateLimitPeriod)
	assert.Equal(t, "none", cfg.Association.Judge)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "America/Chicago", cfg.Location().String())
}

func TestLoadFromEnv(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SLACK_TOKEN", "xoxp-test")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("DIGEST_WORKERS", "4")
	t.Setenv("DIGEST_CHANNEL_TIMEOUT", "90s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "xoxp-test", cfg.Slack.Token)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Digest.Workers)
	assert.Equal(t, 90*time.Second, cfg.Digest.ChannelTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
digest:
  timezone: UTC
  include_patterns:
    - "^candidatelabs-"
association:
  judge: embedding
  threshold: 0.8
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DIGEST_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Digest.Timezone)
	assert.Equal(t, []string{"^candidatelabs-"}, cfg.Digest.IncludePatterns)
	assert.Equal(t, "embedding", cfg.Association.Judge)
	assert.InDelta(t, 0.8, cfg.Association.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Digest.Workers, "environment wins over file")
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	t.Setenv("CONFIG_FILE", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SLACK_USER_EMAIL=recruiter@example.com\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SLACK_USER_EMAIL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "recruiter@example.com", cfg.Slack.UserEmail)
	assert.NoError(t, cfg.RequireUserEmail())
}

func TestLoadMissingConfigFile(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_FILE", "/does/not/exist.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server:      ServerConfig{Port: 8080},
		Slack:       SlackConfig{RateLimitCalls: 50, RateLimitPeriod: time.Minute},
		Storage:     StorageConfig{Driver: "sqlite", DSN: "x.db"},
		Weaviate:    WeaviateConfig{Scheme: "http", Class: "SlackMessage"},
		LLM:         LLMConfig{Provider: "anthropic", MaxTokens: 4000},
		Embeddings:  EmbeddingsConfig{Provider: "ollama"},
		Ollama:      OllamaConfig{URL: "http://localhost:11434"},
		Digest:      DigestConfig{Timezone: "UTC", Workers: 10, ChannelTimeout: time.Minute, Schedule: "0 8 * * 1"},
		Association: AssociationConfig{Judge: "none", Threshold: 0.75},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"bad provider", func(c *Config) { c.LLM.Provider = "cohere" }, true},
		{"bad timezone", func(c *Config) { c.Digest.Timezone = "Mars/Olympus" }, true},
		{"bad pattern", func(c *Config) { c.Digest.ExcludePatterns = []string{"("} }, true},
		{"too many workers", func(c *Config) { c.Digest.Workers = 1000 }, true},
		{"bad judge", func(c *Config) { c.Association.Judge = "magic" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"bad email", func(c *Config) { c.Slack.UserEmail = "not-an-email" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := validConfig()
	assert.ErrorIs(t, cfg.RequireSlack(), ErrMissingCredential)
	assert.ErrorIs(t, cfg.RequireLLM(), ErrMissingCredential)
	assert.ErrorIs(t, cfg.RequireUserEmail(), ErrMissingCredential)

	cfg.Slack.Token = "xoxp-1"
	cfg.LLM.APIKey = "sk-1"
	assert.NoError(t, cfg.RequireSlack())
	assert.NoError(t, cfg.RequireLLM())

	cfg.LLM = LLMConfig{Provider: "ollama", MaxTokens: 100}
	assert.NoError(t, cfg.RequireLLM(), "local models need no key")
}
