// Package config loads application settings from defaults, an optional
// config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingCredential is returned when a required secret is not configured.
var ErrMissingCredential = errors.New("missing credential")

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Slack       SlackConfig       `mapstructure:"slack"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Weaviate    WeaviateConfig    `mapstructure:"weaviate"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Ollama      OllamaConfig      `mapstructure:"ollama"`
	Digest      DigestConfig      `mapstructure:"digest"`
	Association AssociationConfig `mapstructure:"association"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	APIToken string `mapstructure:"api_token"`
}

// SlackConfig holds workspace access settings.
type SlackConfig struct {
	Token           string        `mapstructure:"token"`
	UserEmail       string        `mapstructure:"user_email" validate:"omitempty,email"`
	RateLimitCalls  int           `mapstructure:"rate_limit_calls" validate:"min=1"`
	RateLimitPeriod time.Duration `mapstructure:"rate_limit_period" validate:"min=1s"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// StorageConfig selects the relational store.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// WeaviateConfig holds Weaviate-specific configuration. An empty host
// disables semantic indexing.
type WeaviateConfig struct {
	Scheme string `mapstructure:"scheme" validate:"oneof=http https"`
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"api_key"`
	Class  string `mapstructure:"class" validate:"required"`
}

// LLMConfig selects the completion model.
type LLMConfig struct {
	Provider   string `mapstructure:"provider" validate:"oneof=anthropic openai gemini ollama"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url" validate:"omitempty,url"`
	MaxTokens  int    `mapstructure:"max_tokens" validate:"min=1"`
	MaxRetries int    `mapstructure:"max_retries" validate:"min=0,max=10"`
}

// EmbeddingsConfig selects the embedding model.
type EmbeddingsConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=ollama openai gemini"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// DigestConfig tunes digest generation.
type DigestConfig struct {
	Timezone        string        `mapstructure:"timezone" validate:"required"`
	Workers         int           `mapstructure:"workers" validate:"min=1,max=100"`
	ExcludePatterns []string      `mapstructure:"exclude_patterns"`
	IncludePatterns []string      `mapstructure:"include_patterns"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout" validate:"min=1s"`
	Prompt          string        `mapstructure:"prompt"`
	Schedule        string        `mapstructure:"schedule" validate:"required"`
	OutputDir       string        `mapstructure:"output_dir"`
	GeneratedFor    string        `mapstructure:"generated_for"`
}

// AssociationConfig selects the fuzzy association judge.
type AssociationConfig struct {
	Judge     string  `mapstructure:"judge" validate:"oneof=none embedding llm search"`
	Threshold float64 `mapstructure:"threshold" validate:"min=0,max=1"`
}

// RedisConfig locates the directory cache. An empty URL disables caching.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig tunes cached directory listings.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// NATSConfig locates the event bus. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_token", "")

	v.SetDefault("slack.token", "")
	v.SetDefault("slack.user_email", "")
	v.SetDefault("slack.rate_limit_calls", 50)
	v.SetDefault("slack.rate_limit_period", 60*time.Second)
	v.SetDefault("slack.max_retries", 3)
	v.SetDefault("slack.retry_delay", time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "slack_digest.db")

	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.host", "")
	v.SetDefault("weaviate.api_key", "")
	v.SetDefault("weaviate.class", "SlackMessage")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("embeddings.provider", "ollama")
	v.SetDefault("embeddings.model", "")
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")

	v.SetDefault("ollama.url", "http://localhost:11434")

	v.SetDefault("digest.timezone", "America/Chicago")
	v.SetDefault("digest.workers", 10)
	v.SetDefault("digest.exclude_patterns", []string{"^internal-"})
	v.SetDefault("digest.include_patterns", []string{})
	v.SetDefault("digest.channel_timeout", 5*time.Minute)
	v.SetDefault("digest.prompt", "")
	v.SetDefault("digest.schedule", "0 8 * * 1")
	v.SetDefault("digest.output_dir", ".")
	v.SetDefault("digest.generated_for", "")

	v.SetDefault("association.judge", "none")
	v.SetDefault("association.threshold", 0.75)

	v.SetDefault("redis.url", "")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.subject_prefix", "slack_digest")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load loads configuration from defaults, CONFIG_FILE (or ./config.yaml
// when present), .env and environment variables, in increasing priority.
// Environment keys are the upper-cased config keys with "." replaced by
// "_", e.g. SLACK_TOKEN.
func Load() (*Config, error) {
	// .env never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return fmt.Errorf("invalid digest.timezone %q: %w", c.Digest.Timezone, err)
	}

	for _, p := range append(append([]string{}, c.Digest.ExcludePatterns...), c.Digest.IncludePatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid channel pattern %q: %w", p, err)
		}
	}

	return nil
}

// Location returns the digest timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RequireSlack fails unless a Slack token is configured.
func (c *Config) RequireSlack() error {
	if c.Slack.Token == "" {
		return fmt.Errorf("%w: SLACK_TOKEN is not set", ErrMissingCredential)
	}
	return nil
}

// RequireLLM fails unless the configured provider has its API key. Ollama
// runs locally and needs none.
func (c *Config) RequireLLM() error {
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("%w: LLM_API_KEY is not set for provider %s", ErrMissingCredential, c.LLM.Provider)
	}
	return nil
}

// RequireUserEmail fails unless the syncing user's email is configured.
func (c *Config) RequireUserEmail() error {
	if c.Slack.UserEmail == "" {
		return fmt.Errorf("%w: SLACK_USER_EMAIL is not set", ErrMissingCredential)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
