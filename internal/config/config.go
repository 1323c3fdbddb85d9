// Package config loads Wrangler configuration from environment variables
// and an optional wrangler.yaml file via viper.
//
// Everything is read once at startup; components receive the resolved
// Config by value and never consult the environment afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full Wrangler configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	ProjectRoot string `mapstructure:"project_root"`

	// AdminToken authorizes admin-only operations and bypasses
	// per-agent checks. Required.
	AdminToken string `mapstructure:"admin_token"`

	// TokenSecret signs agent bearer tokens (HMAC).
	TokenSecret string `mapstructure:"token_secret"`

	Provider ProviderConfig `mapstructure:"provider"`
	Index    IndexConfig    `mapstructure:"index"`
	Ask      AskConfig      `mapstructure:"ask"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ProviderConfig points at the external embedding/completion capability.
type ProviderConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	CompletionModel string `mapstructure:"completion_model"`
	EmbeddingDim    int    `mapstructure:"embedding_dim"`
}

// IndexConfig tunes the background indexing pipeline.
type IndexConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	GroupPause     time.Duration `mapstructure:"group_pause"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxInterval    time.Duration `mapstructure:"max_interval"`
	MaxChunkRunes  int           `mapstructure:"max_chunk_runes"`
	OverlapLines   int           `mapstructure:"overlap_lines"`
	WatchProject   bool          `mapstructure:"watch_project"`
	MaxFileBytes   int64         `mapstructure:"max_file_bytes"`
}

// AskConfig tunes hybrid retrieval.
type AskConfig struct {
	TokenBudget int `mapstructure:"token_budget"`
	KNearest    int `mapstructure:"k_nearest"`
	FreshLimit  int `mapstructure:"fresh_limit"`
}

// EventsConfig configures the observer event stream.
type EventsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from wrangler.yaml (if present in the working
// directory or data dir) and WRANGLER_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("wrangler")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".wrangler"))
	}

	v.SetEnvPrefix("WRANGLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env-only setups are fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading wrangler.yaml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".wrangler")
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot, _ = os.Getwd()
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Provider.CompletionModel == "" {
		cfg.Provider.CompletionModel = "gpt-4o-mini"
	}
	if cfg.Provider.EmbeddingDim <= 0 {
		cfg.Provider.EmbeddingDim = 1536
	}
	if cfg.Index.BatchSize <= 0 {
		cfg.Index.BatchSize = 32
	}
	if cfg.Index.Concurrency <= 0 {
		cfg.Index.Concurrency = 4
	}
	if cfg.Index.GroupPause <= 0 {
		cfg.Index.GroupPause = 200 * time.Millisecond
	}
	if cfg.Index.MinInterval <= 0 {
		cfg.Index.MinInterval = 30 * time.Second
	}
	if cfg.Index.MaxInterval <= 0 {
		cfg.Index.MaxInterval = 5 * time.Minute
	}
	if cfg.Index.MaxInterval < cfg.Index.MinInterval {
		cfg.Index.MaxInterval = cfg.Index.MinInterval
	}
	if cfg.Index.MaxChunkRunes <= 0 {
		cfg.Index.MaxChunkRunes = 1600
	}
	if cfg.Index.OverlapLines <= 0 {
		cfg.Index.OverlapLines = 2
	}
	if cfg.Index.MaxFileBytes <= 0 {
		cfg.Index.MaxFileBytes = 512 * 1024
	}
	if cfg.Ask.TokenBudget <= 0 {
		cfg.Ask.TokenBudget = 3000
	}
	if cfg.Ask.KNearest <= 0 {
		cfg.Ask.KNearest = 8
	}
	if cfg.Ask.FreshLimit <= 0 {
		cfg.Ask.FreshLimit = 10
	}
	if cfg.Events.ListenAddr == "" {
		cfg.Events.ListenAddr = "127.0.0.1:8417"
	}
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.AdminToken == "" {
		return fmt.Errorf("config: admin_token is required (WRANGLER_ADMIN_TOKEN)")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("config: token_secret is required (WRANGLER_TOKEN_SECRET)")
	}
	return nil
}
