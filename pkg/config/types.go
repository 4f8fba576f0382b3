// Package config loads and validates the process configuration from the
// environment, the way cmd/tarsy/main.go loads an optional .env file and
// falls back to defaults for everything else.
package config

import "time"

// DatabaseConfig holds Postgres connection and pool settings.
type DatabaseConfig struct {
	// DSN, when non-empty (set via DATABASE_URL), overrides the discrete
	// Host/Port/... fields entirely.
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// BusConfig holds event-bus (NATS JetStream) connection settings.
type BusConfig struct {
	URL           string
	ConsumerGroup string
	PublishRetry  RetryConfig
}

// RetryConfig is the shared exponential-backoff shape used by the bus
// publisher and the LLM gateway's provider retry loop.
type RetryConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	WallClockCap   time.Duration
}

// RegistryConfig holds symbol-registry defaults.
type RegistryConfig struct {
	DefaultTTL time.Duration
}

// RetrievalConfig holds hybrid-search defaults and the Redis dense/dedup store.
type RetrievalConfig struct {
	RedisAddr     string
	DefaultK      int
	DefaultAlpha  float64
	SnippetCap    int
	SnippetCacheN int
}

// LLMConfig holds the LLM gateway's backend selection and cache directory.
type LLMConfig struct {
	Backend      LLMBackend
	CacheDir     string
	Model        string
	Temperature  float64
	CallTimeout  time.Duration
	AnthropicKey string
	OllamaURL    string
}

// LLMBackend selects a concrete chat provider. Unknown values are a Fatal
// startup error (§7), never a silent fallback.
type LLMBackend string

const (
	LLMBackendAnthropic LLMBackend = "anthropic"
	LLMBackendOllama LLMBackend = "ollama"
	LLMBackendDummy  LLMBackend = "dummy"
)

// EmbeddingBackend selects the embedder used by the retrieval engine's
// ingestion path.
type EmbeddingBackend string

const (
	EmbeddingBackendSentenceTransformers EmbeddingBackend = "sentence_transformers"
	EmbeddingBackendOpenAI               EmbeddingBackend = "openai"
)

// GitAdapterConfig holds settings for shallow-clone caching and remotes.
type GitAdapterConfig struct {
	RemoteRepo   string
	MirrorCache  string
	GitCacheRef  string
	CloneTimeout time.Duration
}

// QueueConfig controls the coding-agent / CI-runner worker pools, mirroring
// tarsy's pkg/config/queue.go shape.
type QueueConfig struct {
	WorkerCount        int
	MaxConcurrent      int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	TaskTimeout        time.Duration
	MaxRetries         int
}

// Config is the umbrella object returned by Load, analogous to tarsy's
// pkg/config/config.go Config type.
type Config struct {
	HTTPPort  string
	ConfigDir string

	Database  DatabaseConfig
	Bus       BusConfig
	Registry  RegistryConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Embedding EmbeddingBackend
	Git       GitAdapterConfig
	Queue     QueueConfig

	ArtefactRoot string
}
