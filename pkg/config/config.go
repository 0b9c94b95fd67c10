// Package config loads and validates pipeline configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every stage (Corpus, Tokenizer, Embedding, Similarity) and for the optional
// sinks (Postgres, Kafka, Redis, Metrics).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// Provider names accepted by EmbeddingConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderDashScope = "dashscope"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Corpus      CorpusConfig      `yaml:"corpus" env-prefix:"VOCAB_CORPUS_"`
	Tokenizer   TokenizerConfig   `yaml:"tokenizer" env-prefix:"VOCAB_TOKENIZER_"`
	Embedding   EmbeddingConfig   `yaml:"embedding" env-prefix:"VOCAB_EMBEDDING_"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Similarity  SimilarityConfig  `yaml:"similarity" env-prefix:"VOCAB_SIMILARITY_"`
	Postgres    PostgresConfig    `yaml:"postgres" env-prefix:"VOCAB_POSTGRES_"`
	Kafka       KafkaConfig       `yaml:"kafka" env-prefix:"VOCAB_KAFKA_"`
	Redis       RedisConfig       `yaml:"redis" env-prefix:"VOCAB_REDIS_"`
	Logging     LoggingConfig     `yaml:"logging" env-prefix:"VOCAB_LOGGING_"`
	Metrics     MetricsConfig     `yaml:"metrics" env-prefix:"VOCAB_METRICS_"`
}

// CorpusConfig lists the raw word-list files and the merged corpus path.
type CorpusConfig struct {
	Sources []string `yaml:"sources" env:"SOURCES"`
	Output  string   `yaml:"output" env:"OUTPUT"`
}

// TokenizerConfig selects the BPE encoding used for dry-run estimates.
type TokenizerConfig struct {
	Encoding        string  `yaml:"encoding" env:"ENCODING"`
	PricePerMillion float64 `yaml:"pricePerMillion" env:"PRICE_PER_MILLION"`
}

// EmbeddingConfig controls the provider, batching, pauses and the on-disk
// artefacts of the embedding stage.
type EmbeddingConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"`
	Model            string        `yaml:"model" env:"MODEL"`
	Dimension        int           `yaml:"dimension" env:"DIMENSION"`
	BatchSize        int           `yaml:"batchSize" env:"BATCH_SIZE"`
	BaseURL          string        `yaml:"baseUrl" env:"BASE_URL"`
	RequestTimeout   time.Duration `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
	BatchDelay       time.Duration `yaml:"batchDelay" env:"BATCH_DELAY"`
	TransportBackoff time.Duration `yaml:"transportBackoff" env:"TRANSPORT_BACKOFF"`
	APIErrorBackoff  time.Duration `yaml:"apiErrorBackoff" env:"API_ERROR_BACKOFF"`
	BreakerThreshold int           `yaml:"breakerThreshold" env:"BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `yaml:"breakerReset" env:"BREAKER_RESET"`
	PricePer1K       float64       `yaml:"pricePer1K" env:"PRICE_PER_1K"`
	Currency         string        `yaml:"currency" env:"CURRENCY"`
	FreeQuota        int           `yaml:"freeQuota" env:"FREE_QUOTA"`
	ExchangeRate     float64       `yaml:"exchangeRate" env:"EXCHANGE_RATE"`
	Input            string        `yaml:"input" env:"INPUT"`
	Output           string        `yaml:"output" env:"OUTPUT"`
	Checkpoint       string        `yaml:"checkpoint" env:"CHECKPOINT"`
	DeadLetter       string        `yaml:"deadLetter" env:"DEAD_LETTER"`
	Summary          string        `yaml:"summary" env:"SUMMARY"`
}

// CredentialsConfig holds provider API keys. They are read only from the
// provider-native environment variables, never from YAML.
type CredentialsConfig struct {
	OpenAIKey    string `yaml:"-" env:"OPENAI_API_KEY"`
	DashScopeKey string `yaml:"-" env:"DASHSCOPE_API_KEY"`
}

// SimilarityConfig controls the neighbour index build and lookups.
type SimilarityConfig struct {
	TopK      int           `yaml:"topK" env:"TOP_K"`
	BlockSize int           `yaml:"blockSize" env:"BLOCK_SIZE"`
	Output    string        `yaml:"output" env:"OUTPUT"`
	CacheSize int           `yaml:"cacheSize" env:"CACHE_SIZE"`
	CacheTTL  time.Duration `yaml:"cacheTTL" env:"CACHE_TTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for run history.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	Database        string        `yaml:"database" env:"DATABASE"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	SSLMode         string        `yaml:"sslMode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"maxOpenConns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"maxIdleConns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for batch progress events.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"BROKERS"`
	Topic         string        `yaml:"topic" env:"TOPIC"`
	ConsumerGroup string        `yaml:"consumerGroup" env:"CONSUMER_GROUP"`
	FlushSize     int           `yaml:"flushSize" env:"FLUSH_SIZE"`
	FlushInterval time.Duration `yaml:"flushInterval" env:"FLUSH_INTERVAL"`
}

// RedisConfig holds Redis connection parameters for the shared neighbour
// cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"poolSize" env:"POOL_SIZE"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Port    int  `yaml:"port" env:"PORT"`
}

// Load reads a YAML config file (if provided), loads a .env file from the
// working directory (if present) and applies environment-variable overrides.
// Priority: ENV > .env > YAML > defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.applyProviderDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config matching the DashScope text-embedding-v4
// setup the pipeline was first run with.
func defaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Output: "data/all_words_merged.json",
		},
		Tokenizer: TokenizerConfig{
			Encoding:        "cl100k_base",
			PricePerMillion: 0.02,
		},
		Embedding: EmbeddingConfig{
			Provider:         ProviderDashScope,
			BatchSize:        10,
			RequestTimeout:   60 * time.Second,
			BatchDelay:       150 * time.Millisecond,
			TransportBackoff: 2 * time.Second,
			APIErrorBackoff:  3 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			Input:            "data/all_words_merged.json",
			Output:           "data/word_embeddings.jsonl",
			Checkpoint:       "data/processed_words.txt",
			DeadLetter:       "data/dead_letter_words.txt",
			Summary:          "data/embedding_summary.txt",
		},
		Similarity: SimilarityConfig{
			TopK:      50,
			BlockSize: 512,
			Output:    "data/word_top_similar.json",
			CacheSize: 4096,
			CacheTTL:  24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "vocab",
			User:            "vocab",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "embedding-batches",
			ConsumerGroup: "vocabctl-tail",
			FlushSize:     50,
			FlushInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

type providerDefaults struct {
	model        string
	dimension    int
	maxBatch     int
	pricePer1K   float64
	currency     string
	freeQuota    int
	exchangeRate float64
}

var knownProviders = map[string]providerDefaults{
	ProviderDashScope: {
		model:        "text-embedding-v4",
		dimension:    1024,
		maxBatch:     10,
		pricePer1K:   0.0005,
		currency:     "CNY",
		freeQuota:    1_000_000,
		exchangeRate: 7.2,
	},
	ProviderOpenAI: {
		model:        "text-embedding-3-small",
		dimension:    1536,
		maxBatch:     2048,
		pricePer1K:   0.00002,
		currency:     "USD",
		exchangeRate: 1,
	},
}

// applyProviderDefaults fills model and pricing fields left unset for the
// selected provider.
func (c *Config) applyProviderDefaults() {
	d, ok := knownProviders[c.Embedding.Provider]
	if !ok {
		return
	}
	e := &c.Embedding
	if e.Model == "" {
		e.Model = d.model
	}
	if e.Dimension == 0 {
		e.Dimension = d.dimension
	}
	if e.PricePer1K == 0 {
		e.PricePer1K = d.pricePer1K
	}
	if e.Currency == "" {
		e.Currency = d.currency
	}
	if e.FreeQuota == 0 {
		e.FreeQuota = d.freeQuota
	}
	if e.ExchangeRate == 0 {
		e.ExchangeRate = d.exchangeRate
	}
}

// MaxBatchSize returns the provider's per-request input limit, or 0 when the
// provider is unknown.
func (e EmbeddingConfig) MaxBatchSize() int {
	return knownProviders[e.Provider].maxBatch
}

// Validate checks value ranges. It does not check credentials, which only
// the commands that call the API require.
func (c *Config) Validate() error {
	e := c.Embedding
	if _, ok := knownProviders[e.Provider]; !ok {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "unknown embedding provider %q", e.Provider)
	}
	if e.BatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "embedding batch size must be positive, got %d", e.BatchSize)
	}
	if limit := e.MaxBatchSize(); e.BatchSize > limit {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "embedding batch size %d exceeds %s limit %d", e.BatchSize, e.Provider, limit)
	}
	if e.Dimension < 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "embedding dimension must not be negative, got %d", e.Dimension)
	}
	if e.BatchDelay < 0 || e.TransportBackoff < 0 || e.APIErrorBackoff < 0 {
		return apperrors.New(apperrors.ErrInvalidConfig, "embedding pauses must not be negative")
	}
	if c.Similarity.TopK <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "similarity topK must be positive, got %d", c.Similarity.TopK)
	}
	if c.Similarity.BlockSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "similarity blockSize must be positive, got %d", c.Similarity.BlockSize)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return apperrors.New(apperrors.ErrInvalidConfig, "kafka enabled without brokers or topic")
	}
	return nil
}

// APIKeyEnv returns the environment variable that holds the credential of
// the selected provider.
func (c *Config) APIKeyEnv() string {
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderDashScope:
		return "DASHSCOPE_API_KEY"
	default:
		return ""
	}
}

// APIKey returns the credential of the selected provider. A missing key is a
// fatal configuration error.
func (c *Config) APIKey() (string, error) {
	var key string
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		key = c.Credentials.OpenAIKey
	case ProviderDashScope:
		key = c.Credentials.DashScopeKey
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidConfig, "unknown embedding provider %q", c.Embedding.Provider)
	}
	if key == "" {
		return "", apperrors.Newf(apperrors.ErrMissingCredential, "%s is not set", c.APIKeyEnv())
	}
	return key, nil
}

// UseProvider switches the embedding provider. Model and pricing fields are
// reset to the new provider's defaults and the batch size is capped at its
// limit.
func (c *Config) UseProvider(name string) error {
	if name == c.Embedding.Provider {
		return nil
	}
	if _, ok := knownProviders[name]; !ok {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "unknown embedding provider %q", name)
	}
	e := &c.Embedding
	e.Provider = name
	e.Model, e.Dimension = "", 0
	e.PricePer1K, e.Currency, e.FreeQuota, e.ExchangeRate = 0, "", 0, 0
	c.applyProviderDefaults()
	if limit := e.MaxBatchSize(); e.BatchSize > limit {
		e.BatchSize = limit
	}
	return c.Validate()
}
