// Package config loads athena settings from the environment.
//
// Values come from ATHENA_* variables, optionally seeded from a .env file in
// the working directory. Command-line flags override them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/retry"
)

// Prefix is prepended to every environment variable name.
const Prefix = "athena"

// Concept extraction modes.
const (
	ExtractorWikilink = "wikilink"
	ExtractorLLM      = "llm"
)

// Search providers.
const (
	ProviderExa   = "exa"
	ProviderArxiv = "arxiv"
)

// Config holds every setting the CLI wires components from.
type Config struct {
	DBPath string `envconfig:"DB_PATH" default:"athena.db"`

	// AI services
	EmbeddingHost      string  `envconfig:"EMBEDDING_HOST" default:"http://localhost:11434/v1"`
	ChatHost           string  `envconfig:"CHAT_HOST" default:"https://api.openai.com/v1"`
	APIKey             string  `envconfig:"API_KEY"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL" default:"all-minilm"`
	EmbeddingDimension int     `envconfig:"EMBEDDING_DIMENSION" default:"384"`
	SummaryModel       string  `envconfig:"SUMMARY_MODEL" default:"gpt-4.1-mini"`
	ConceptModel       string  `envconfig:"CONCEPT_MODEL"`
	Temperature        float64 `envconfig:"TEMPERATURE" default:"0.3"`
	MaxTokens          int     `envconfig:"MAX_TOKENS" default:"32000"`
	MinConfidence      float32 `envconfig:"MIN_CONFIDENCE" default:"0.5"`
	ConceptExtractor   string  `envconfig:"CONCEPT_EXTRACTOR" default:"wikilink"`
	LinkThreshold      float32 `envconfig:"LINK_THRESHOLD" default:"0.92"`

	// Pipeline
	BatchSize          int           `envconfig:"BATCH_SIZE" default:"10"`
	PoolSize           int           `envconfig:"POOL_SIZE"`
	MaxConcurrentCalls int           `envconfig:"MAX_CONCURRENT_CALLS" default:"8"`
	RetryAttempts      int           `envconfig:"RETRY_ATTEMPTS" default:"4"`
	RetryBaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
	AttemptTimeout     time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"30s"`
	ExportTimeout      time.Duration `envconfig:"EXPORT_TIMEOUT" default:"30s"`

	// Search providers
	SearchProvider string   `envconfig:"SEARCH_PROVIDER" default:"exa"`
	ExaAPIKey      string   `envconfig:"EXA_API_KEY"`
	ExaDomains     []string `envconfig:"EXA_DOMAINS" default:"arxiv.org"`
	StartYear      int      `envconfig:"START_YEAR"`
	EndYear        int      `envconfig:"END_YEAR"`
	TikaURL        string   `envconfig:"TIKA_URL"`

	// PDF archive
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string `envconfig:"MINIO_BUCKET" default:"athena-papers"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL"`

	// Shared cache
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"720h"`

	// Exporters
	VaultPath    string   `envconfig:"VAULT_PATH"`
	CatalogPath  string   `envconfig:"CATALOG_PATH"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"athena.papers"`

	// Watch mode
	WatchSchedule string   `envconfig:"WATCH_SCHEDULE" default:"0 */6 * * *"`
	WatchQueries  []string `envconfig:"WATCH_QUERIES"`
	MetricsAddr   string   `envconfig:"METRICS_ADDR" default:":9090"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env when present, then the ATHENA_* environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return &c, nil
}

// Validate checks ranges and enumerations. Credentials are checked when the
// component needing them is built.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.EmbeddingDimension <= 0 {
		errs = append(errs, errors.New("embedding dimension must be positive"))
	}
	if c.LinkThreshold <= 0 || c.LinkThreshold > 1 {
		errs = append(errs, fmt.Errorf("link threshold %v outside (0, 1]", c.LinkThreshold))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if c.PoolSize < 0 {
		errs = append(errs, errors.New("pool size must not be negative"))
	}
	if c.MaxConcurrentCalls < 1 {
		errs = append(errs, errors.New("max concurrent calls must be at least 1"))
	}
	switch strings.ToLower(c.ConceptExtractor) {
	case ExtractorWikilink, ExtractorLLM:
	default:
		errs = append(errs, fmt.Errorf("unknown concept extractor %q", c.ConceptExtractor))
	}
	switch strings.ToLower(c.SearchProvider) {
	case ProviderExa, ProviderArxiv:
	default:
		errs = append(errs, fmt.Errorf("unknown search provider %q", c.SearchProvider))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: config: %w", core.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// AIConfig returns the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithChatHost(c.ChatHost),
		ai.WithAPIKey(c.APIKey),
		ai.WithEmbeddingModel(c.EmbeddingModel, c.EmbeddingDimension),
		ai.WithSummaryModel(c.SummaryModel),
		ai.WithConceptModel(c.ConceptModel),
		ai.WithTemperature(c.Temperature),
		ai.WithMaxTokens(c.MaxTokens),
		ai.WithMinConfidence(c.MinConfidence),
	)
}

// RetryPolicy returns the policy applied to every external call.
func (c *Config) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = c.RetryAttempts
	policy.BaseDelay = c.RetryBaseDelay
	policy.MaxDelay = c.RetryMaxDelay
	policy.AttemptTimeout = c.AttemptTimeout
	return policy
}

// SummaryOptions returns the generation settings for summaries.
func (c *Config) SummaryOptions() ai.SummaryOptions {
	return c.AIConfig().SummaryOptions()
}
