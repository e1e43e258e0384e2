package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidBudgetAction(t *testing.T) {
	cfg := validConfig()
	cfg.Budget = BudgetConfig{DailyTokenLimit: 1000000, Action: "invalid_action"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}

	expected := `budget.action must be "warn" or "reject", got "invalid_action"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidBudgetActions(t *testing.T) {
	validActions := []string{"", "warn", "reject"}

	for _, action := range validActions {
		t.Run("action="+action, func(t *testing.T) {
			cfg := validConfig()
			cfg.Budget.Action = action

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid action %q: %v", action, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }, "index.backend"},
		{"unknown fallback", func(c *Config) { c.Index.Fallback = "chroma" }, "index.fallback"},
		{"fallback equals backend", func(c *Config) { c.Index.Fallback = "sqlite" }, "index.fallback"},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = -1 }, "retrieval.top_k"},
		{"threshold above one", func(c *Config) { v := 1.2; c.Retrieval.Threshold = &v }, "retrieval.threshold"},
		{"negative threshold", func(c *Config) { v := -0.1; c.Retrieval.Threshold = &v }, "retrieval.threshold"},
		{"temperature", func(c *Config) { c.Generation.Temperature = 3 }, "generation.temperature"},
		{"log format", func(c *Config) { c.Logging.Format = "logfmt" }, "logging.format"},
		{"cache driver", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"negative ttl", func(c *Config) { c.Cache.TTLSec = -5 }, "cache.ttl_sec"},
		{"negative dimensions", func(c *Config) { c.Embedding.Dimensions = -1 }, "embedding.dimensions"},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerMinute = -1 }, "ratelimit.requests_per_minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tt.field) {
				t.Errorf("expected error about %s, got %q", tt.field, err.Error())
			}
		})
	}
}

func TestValidate_MissingAPIKeyIsNotAnError(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAI.APIKey = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("credentials must be checked at first use, not at startup: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Embedding.Model != DefaultEmbeddingModel {
		t.Errorf("expected embedding model %q, got %q", DefaultEmbeddingModel, cfg.Embedding.Model)
	}
	if cfg.Embedding.MaxBatchSize != 256 {
		t.Errorf("expected MaxBatchSize=256, got %d", cfg.Embedding.MaxBatchSize)
	}
	if cfg.Index.Backend != "sqlite" || cfg.Index.Fallback != "flat" {
		t.Errorf("expected sqlite with flat fallback, got %q/%q", cfg.Index.Backend, cfg.Index.Fallback)
	}
	if cfg.Retrieval.TopK != DefaultTopK {
		t.Errorf("expected TopK=%d, got %d", DefaultTopK, cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Threshold == nil || *cfg.Retrieval.Threshold != DefaultThreshold {
		t.Errorf("expected threshold %v, got %v", DefaultThreshold, cfg.Retrieval.Threshold)
	}
	if cfg.KnowledgeBase.SourceColumn != "Answer" {
		t.Errorf("expected source column Answer, got %q", cfg.KnowledgeBase.SourceColumn)
	}
	if cfg.Cache.Driver != "valkey" {
		t.Errorf("expected Driver=valkey, got %q", cfg.Cache.Driver)
	}
	if cfg.RateLimit.Burst != 0 {
		t.Errorf("expected no burst without a rate, got %d", cfg.RateLimit.Burst)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	zero := 0.0
	cfg := Config{
		HTTP:      HTTPConfig{Port: 9090, ReadTimeoutSec: 30},
		Index:     IndexConfig{Backend: "flat"},
		Retrieval: RetrievalConfig{TopK: 8, Threshold: &zero},
		Cache:     CacheConfig{Driver: "redis"},
		RateLimit: RateLimitConfig{RequestsPerMinute: 30, Burst: 2},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 9090 || cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("http settings overridden: %+v", cfg.HTTP)
	}
	if cfg.Index.Fallback != "" {
		t.Errorf("flat primary must not get a fallback, got %q", cfg.Index.Fallback)
	}
	if cfg.Retrieval.TopK != 8 || *cfg.Retrieval.Threshold != 0 {
		t.Errorf("retrieval settings overridden: top_k=%d threshold=%v", cfg.Retrieval.TopK, *cfg.Retrieval.Threshold)
	}
	if cfg.Cache.Driver != "redis" {
		t.Errorf("expected Driver=redis, got %q", cfg.Cache.Driver)
	}
	if cfg.RateLimit.Burst != 2 {
		t.Errorf("expected Burst=2, got %d", cfg.RateLimit.Burst)
	}
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PQA_TEST_KEY", "sk-test")
	t.Setenv("PQA_TEST_MODEL", "")

	cfg, err := Parse([]byte(`
openai:
  api_key: ${PQA_TEST_KEY}
embedding:
  model: ${PQA_TEST_MODEL:-text-embedding-3-large}
retrieval:
  threshold: ${PQA_TEST_THRESHOLD:-0.55}
index:
  fallback: none
cache:
  addrs: ["localhost:6379"]
  ttl_sec: 3600
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("expected default from expression, got %q", cfg.Embedding.Model)
	}
	if *cfg.Retrieval.Threshold != 0.55 {
		t.Errorf("expected threshold 0.55, got %v", *cfg.Retrieval.Threshold)
	}
	if cfg.IndexFallback() != "" {
		t.Errorf("expected fallback disabled, got %q", cfg.IndexFallback())
	}
	if !cfg.CacheEnabled() || cfg.CacheTTL() != time.Hour {
		t.Errorf("unexpected cache settings: %+v", cfg.Cache)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("http: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Parse([]byte("index:\n  backend: faiss\n")); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PQA_DOTENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PQA_DOTENV_VALUE", "")
	os.Unsetenv("PQA_DOTENV_VALUE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("PQA_DOTENV_VALUE"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env must be ignored, got %v", err)
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("local config must load: %v", err)
	}
	if cfg.KnowledgeBase.Path == "" || cfg.Index.Path == "" {
		t.Errorf("expected paths in local config: %+v", cfg)
	}
}
