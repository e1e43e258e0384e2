package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the portfolioqa configuration.
// Credentials are not validated here: the providers check them at first use.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Generation    GenerationConfig    `yaml:"generation"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	Index         IndexConfig         `yaml:"index"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Prompt        PromptConfig        `yaml:"prompt"`
	Cache         CacheConfig         `yaml:"cache"`
	Budget        BudgetConfig        `yaml:"budget"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: determined by env)
	Format string `yaml:"format"` // json or console (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// OpenAIConfig holds the credentials shared by embedding and generation.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Model        string `yaml:"model"`
	Dimensions   int    `yaml:"dimensions"` // 0 = model default
	TimeoutSec   int    `yaml:"timeout_sec"`
	MaxBatchSize int    `yaml:"max_batch_size"`
}

// GenerationConfig holds chat completion settings.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// KnowledgeBaseConfig locates the knowledge base file.
type KnowledgeBaseConfig struct {
	Path         string `yaml:"path"`
	SourceColumn string `yaml:"source_column"` // legacy single-column header (default: Answer)
}

// IndexConfig holds vector index storage settings.
type IndexConfig struct {
	Path       string `yaml:"path"`
	Backend    string `yaml:"backend"`  // sqlite, flat (default: sqlite)
	Fallback   string `yaml:"fallback"` // default: flat; "none" disables
	PinBackend bool   `yaml:"pin_backend"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	TopK      int      `yaml:"top_k"`
	Threshold *float64 `yaml:"threshold"` // nil = default 0.7; 0 is a valid value
}

// PromptConfig holds prompt template settings.
type PromptConfig struct {
	Subject     string `yaml:"subject"`
	ContactLine string `yaml:"contact_line"`
	// ContactURL is looked up in answers to flag contact-link inclusions for analytics.
	ContactURL string `yaml:"contact_url"`
}

// CacheConfig holds the embedding cache and budget counter store settings.
// Empty Addrs disables the cache.
type CacheConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	TTLSec           int      `yaml:"ttl_sec"` // 0 = no expiry
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// BudgetConfig holds token budget settings, shared by embedding and generation.
type BudgetConfig struct {
	DailyTokenLimit      int64   `yaml:"daily_token_limit"`       // 0 = unlimited
	MonthlyTokenLimit    int64   `yaml:"monthly_token_limit"`     // 0 = unlimited
	CostPerMillionTokens float64 `yaml:"cost_per_million_tokens"` // для дашборда
	Action               string  `yaml:"action"`                  // "reject" | "warn" (default)
}

// AnalyticsConfig holds the analytics store settings.
type AnalyticsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
}

// RateLimitConfig holds the per-session chat rate limit. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Defaults used by ApplyDefaults.
const (
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultGenerationModel = "gpt-4o-mini"
	DefaultTopK            = 4
	DefaultThreshold       = 0.7
	fallbackNone           = "none"
)

// Load reads .env (if present) and the YAML file of the environment (local, dev, prod).
func Load(env string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.MaxBatchSize <= 0 {
		c.Embedding.MaxBatchSize = 256
	}
	if c.Generation.Model == "" {
		c.Generation.Model = DefaultGenerationModel
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 500
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.KnowledgeBase.Path == "" {
		c.KnowledgeBase.Path = "data/knowledge_base.csv"
	}
	if c.KnowledgeBase.SourceColumn == "" {
		c.KnowledgeBase.SourceColumn = "Answer"
	}
	if c.Index.Path == "" {
		c.Index.Path = "data/index"
	}
	if c.Index.Backend == "" {
		c.Index.Backend = "sqlite"
	}
	if c.Index.Fallback == "" && c.Index.Backend != "flat" {
		c.Index.Fallback = "flat"
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Retrieval.Threshold == nil {
		t := DefaultThreshold
		c.Retrieval.Threshold = &t
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "valkey"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Analytics.Path == "" {
		c.Analytics.Path = "data/analytics.db"
	}
	if c.Analytics.WriteTimeoutSec <= 0 {
		c.Analytics.WriteTimeoutSec = 2
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
}

// Validate checks structural values. Missing credentials are not an error here.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !validBackend(c.Index.Backend) {
		return fmt.Errorf("index.backend must be \"sqlite\" or \"flat\", got %q", c.Index.Backend)
	}
	if c.Index.Fallback != "" && c.Index.Fallback != fallbackNone && !validBackend(c.Index.Fallback) {
		return fmt.Errorf("index.fallback must be \"sqlite\", \"flat\" or \"none\", got %q", c.Index.Fallback)
	}
	if c.Index.Fallback == c.Index.Backend {
		return fmt.Errorf("index.fallback must differ from index.backend %q", c.Index.Backend)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if t := *c.Retrieval.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("retrieval.threshold must be between 0 and 1, got %v", t)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %v", c.Generation.Temperature)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	switch c.Cache.Driver {
	case "valkey", "redis":
		// ok
	default:
		return fmt.Errorf("cache.driver must be \"valkey\" or \"redis\", got %q", c.Cache.Driver)
	}
	if c.Cache.TTLSec < 0 {
		return fmt.Errorf("cache.ttl_sec must not be negative, got %d", c.Cache.TTLSec)
	}
	switch c.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf("budget.action must be \"warn\" or \"reject\", got %q", c.Budget.Action)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must not be negative, got %d", c.RateLimit.RequestsPerMinute)
	}
	return nil
}

// IndexFallback returns the fallback backend name, or "" when disabled.
func (c *Config) IndexFallback() string {
	if c.Index.Fallback == fallbackNone {
		return ""
	}
	return c.Index.Fallback
}

// CacheEnabled reports whether a redis/valkey store is configured.
func (c *Config) CacheEnabled() bool {
	return len(c.Cache.Addrs) > 0
}

// CacheTTL returns the embedding cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

func validBackend(name string) bool {
	return name == "sqlite" || name == "flat"
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
