package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.DataDir == "" {
		t.Error("DataDir default missing")
	}
	if cfg.ProjectRoot == "" {
		t.Error("ProjectRoot default missing")
	}
	if cfg.Provider.EmbeddingDim != 1536 {
		t.Errorf("EmbeddingDim = %d, want 1536", cfg.Provider.EmbeddingDim)
	}
	if cfg.Index.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want 32", cfg.Index.BatchSize)
	}
	if cfg.Index.MinInterval != 30*time.Second {
		t.Errorf("MinInterval = %v", cfg.Index.MinInterval)
	}
	if cfg.Ask.TokenBudget != 3000 {
		t.Errorf("TokenBudget = %d", cfg.Ask.TokenBudget)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Index.BatchSize = 8
	cfg.Ask.KNearest = 3
	applyDefaults(cfg)

	if cfg.Index.BatchSize != 8 {
		t.Errorf("explicit BatchSize overwritten: %d", cfg.Index.BatchSize)
	}
	if cfg.Ask.KNearest != 3 {
		t.Errorf("explicit KNearest overwritten: %d", cfg.Ask.KNearest)
	}
}

func TestApplyDefaults_IntervalOrdering(t *testing.T) {
	cfg := &Config{}
	cfg.Index.MinInterval = 10 * time.Minute
	cfg.Index.MaxInterval = time.Minute
	applyDefaults(cfg)

	if cfg.Index.MaxInterval < cfg.Index.MinInterval {
		t.Errorf("MaxInterval %v below MinInterval %v", cfg.Index.MaxInterval, cfg.Index.MinInterval)
	}
}

func TestValidate_RequiresTokens(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with no admin token")
	}

	cfg.AdminToken = "a"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with no token secret")
	}

	cfg.TokenSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
