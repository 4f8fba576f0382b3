// Package llmgateway implements the LLM gateway (component D): a
// polymorphic chat provider with content-hash caching, json_mode, and
// cost accounting, fronted by a circuit breaker per provider.
//
// Grounded on jordigilh-kubernaut's go.mod, the only pack repo wiring both
// anthropics/anthropic-sdk-go and sony/gobreaker together, and on
// original_source/clients/llm_client/{base.py,cache.py,dummy_provider.py}
// for the exact cache-key shape and the deterministic stub's response
// contract. Provider selection is a small registry-of-constructors keyed
// by config.LLMBackend (NewProvider below), never a lazy string-indexed
// lookup.
package llmgateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/retry"
)

// Message is one chat turn in a messages[] conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the optional per-call chat knobs.
type ChatOptions struct {
	Temperature float64        `json:"temperature"`
	JSONMode    bool           `json:"json_mode"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ChatResponse is the gateway's uniform reply shape across providers.
type ChatResponse struct {
	Content           string  `json:"content"`
	TokensPrompt      int     `json:"tokens_prompt"`
	TokensCompletion  int     `json:"tokens_completion"`
	CostUSD           float64 `json:"cost_usd"`
	FromCache         bool    `json:"-"`
}

// Provider is implemented by every concrete chat backend (hosted, local,
// deterministic stub). None of them see the cache or breaker directly —
// Gateway wraps every call.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (ChatResponse, error)
}

// Gateway is an explicit, constructed-once service object: no cached
// provider or lazily-initialised global state.
type Gateway struct {
	provider Provider
	cache    *DiskCache
	breaker  *gobreaker.CircuitBreaker
	cfg      config.LLMConfig
}

// New constructs a Gateway around provider, wiring the content-addressed
// disk cache and a gobreaker circuit breaker scoped to this provider's name.
func New(provider Provider, cfg config.LLMConfig) (*Gateway, error) {
	cache, err := NewDiskCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open llm cache: %w", err)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llmgateway:" + provider.Name(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm gateway circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
	return &Gateway{provider: provider, cache: cache, breaker: breaker, cfg: cfg}, nil
}

// Chat sends messages to model with the given temperature and json_mode
// options. A cache hit returns immediately with
// no network call and no breaker involvement; a miss retries the provider
// call with exponential backoff (bounded by a 60s wall-clock cap), running
// each attempt through the breaker, and writes the result back to cache
// via an atomic temp-file + rename.
func (g *Gateway) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (ChatResponse, error) {
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	key, err := CacheKey(model, messages, opts)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("compute cache key: %w", err)
	}

	if resp, ok := g.cache.Get(key); ok {
		resp.FromCache = true
		return resp, nil
	}

	retryCfg := config.RetryConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		MaxAttempts:    5,
		WallClockCap:   60 * time.Second,
	}

	var resp ChatResponse
	err = retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		result, berr := g.breaker.Execute(func() (any, error) {
			return g.provider.Chat(ctx, model, messages, opts)
		})
		if berr != nil {
			return berr
		}
		resp = result.(ChatResponse)
		return nil
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("llm gateway chat via %s: %w", g.provider.Name(), err)
	}

	if cerr := g.cache.Put(key, resp); cerr != nil {
		slog.Warn("llm cache write failed", "error", cerr)
	}
	return resp, nil
}

func (g *Gateway) callTimeout() time.Duration {
	if g.cfg.CallTimeout > 0 {
		return g.cfg.CallTimeout
	}
	return 120 * time.Second
}
