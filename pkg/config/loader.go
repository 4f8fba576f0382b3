package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file from configDir, then builds a Config from
// the environment. It mirrors cmd/tarsy/main.go's load-then-fall-back-to-
// defaults shape: a missing .env is logged by the caller and not fatal, but a
// required variable left unset after loading *is* fatal (§7, Fatal errors
// terminate the worker at startup).
func Load(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	_ = godotenv.Load(envPath) // best-effort; absence is not an error

	cfg := &Config{
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		ConfigDir:    configDir,
		Database:     defaultDatabase(),
		Bus:          BusConfig{URL: getEnv("NATS_URL", "nats://localhost:4222"), ConsumerGroup: getEnv("BUS_CONSUMER_GROUP", "orchestrator"), PublishRetry: defaultRetry()},
		Registry:     RegistryConfig{DefaultTTL: 600 * time.Second},
		Retrieval:    defaultRetrieval(),
		Embedding:    EmbeddingBackend(getEnv("EMBEDDING_BACKEND", string(EmbeddingBackendSentenceTransformers))),
		Queue:        defaultQueue(),
		ArtefactRoot: getEnv("ARTEFACT_ROOT", "./artefacts"),
	}

	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		// DATABASE_URL, when present, is parsed by pkg/dbx directly; loader
		// only needs to know one was supplied so validation doesn't demand
		// the discrete DATABASE_HOST/PORT/... vars.
		cfg.Database.DSN = v
	}

	cfg.Git = GitAdapterConfig{
		RemoteRepo:   os.Getenv("REMOTE_REPO"),
		MirrorCache:  getEnv("GIT_CACHE", "./git-cache"),
		GitCacheRef:  os.Getenv("GIT_CACHE_REF"),
		CloneTimeout: 10 * time.Minute,
	}

	llmBackend := LLMBackend(getEnv("LLM_BACKEND", string(LLMBackendDummy)))
	cfg.LLM = LLMConfig{
		Backend:      llmBackend,
		CacheDir:     getEnv("LLM_CACHE_DIR", ".llm_cache"),
		Model:        getEnv("LLM_MODEL", "claude-3-5-sonnet-latest"),
		Temperature:  0.1,
		CallTimeout:  120 * time.Second,
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434"),
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, newFieldError("LLM_TEMPERATURE", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		cfg.LLM.Temperature = t
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, newFieldError("MAX_RETRIES", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		cfg.Queue.MaxRetries = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces startup-time invariants. Any failure here is a Fatal
// error per §7 — the process must not start with an unusable configuration.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case LLMBackendAnthropic, LLMBackendOllama, LLMBackendDummy:
	default:
		return newFieldError("LLM_BACKEND", fmt.Errorf("%w: unknown backend %q", ErrInvalidValue, c.LLM.Backend))
	}
	if c.LLM.Backend == LLMBackendAnthropic && c.LLM.AnthropicKey == "" {
		return newFieldError("ANTHROPIC_API_KEY", ErrMissingRequiredEnv)
	}
	switch c.Embedding {
	case EmbeddingBackendSentenceTransformers, EmbeddingBackendOpenAI:
	default:
		return newFieldError("EMBEDDING_BACKEND", fmt.Errorf("%w: unknown backend %q", ErrInvalidValue, c.Embedding))
	}
	if c.Retrieval.DefaultAlpha < 0 || c.Retrieval.DefaultAlpha > 1 {
		return newFieldError("retrieval.alpha", fmt.Errorf("%w: must be within [0,1]", ErrInvalidValue))
	}
	if c.Queue.MaxRetries < 0 {
		return newFieldError("MAX_RETRIES", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
