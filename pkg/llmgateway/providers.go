package llmgateway

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/aibozo/codeurv2/pkg/config"
)

// NewProvider resolves cfg.Backend to a concrete Provider. This is the
// "small registry-of-constructors keyed by configuration value" REDESIGN
// FLAGS calls for in place of dynamic name-string loading: an unknown
// backend is a startup Fatal error, never a silent fallback (cfg.Validate
// already rejects it before this is reached, but NewProvider re-checks for
// callers that construct a Gateway outside the normal Load path, e.g. tests).
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Backend {
	case config.LLMBackendAnthropic:
		return NewAnthropicProvider(cfg), nil
	case config.LLMBackendOllama:
		return NewOllamaProvider(cfg)
	case config.LLMBackendDummy:
		return NewDummyProvider(), nil
	default:
		return nil, fmt.Errorf("llmgateway: unknown backend %q", cfg.Backend)
	}
}

// AnthropicProvider is the hosted provider variant, grounded on
// jordigilh-kubernaut's go.mod dependency on anthropics/anthropic-sdk-go —
// the only pack repo with an Anthropic SDK dependency.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicKey))
	return &AnthropicProvider{client: client, model: cfg.Model}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (ChatResponse, error) {
	if model == "" {
		model = p.model
	}
	blocks := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		text := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			blocks = append(blocks, anthropic.NewAssistantMessage(text))
		default:
			blocks = append(blocks, anthropic.NewUserMessage(text))
		}
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(opts.Temperature),
		Messages:    blocks,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				content += tb.Text
			}
		}
	}

	return ChatResponse{
		Content:          content,
		TokensPrompt:     int(msg.Usage.InputTokens),
		TokensCompletion: int(msg.Usage.OutputTokens),
		CostUSD:          estimateAnthropicCost(model, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
	}, nil
}

// estimateAnthropicCost is a rough, documented-rate cost estimate; it only
// needs to populate cost_usd, not reconcile against the provider's billing
// API.
func estimateAnthropicCost(_ string, promptTokens, completionTokens int) float64 {
	const inputPerMillion = 3.0
	const outputPerMillion = 15.0
	return float64(promptTokens)/1_000_000*inputPerMillion + float64(completionTokens)/1_000_000*outputPerMillion
}

// OllamaProvider is the local provider variant, grounded on
// jordigilh-kubernaut's go.mod dependency on tmc/langchaingo, used via its
// Ollama integration.
type OllamaProvider struct {
	llm   *ollama.LLM
	model string
}

func NewOllamaProvider(cfg config.LLMConfig) (*OllamaProvider, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.OllamaURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.OllamaURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("construct ollama client: %w", err)
	}
	return &OllamaProvider{llm: llm, model: cfg.Model}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (ChatResponse, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		} else if m.Role == "system" {
			role = llms.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	resp, err := p.llm.GenerateContent(ctx, content, llms.WithTemperature(opts.Temperature))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("ollama chat: empty response")
	}
	return ChatResponse{Content: resp.Choices[0].Content}, nil
}

// DummyProvider is the deterministic stub used by tests and CI, grounded on
// original_source/clients/llm_client/dummy_provider.py's predictable-JSON
// contract: json_mode requests get a minimal valid JSON object back so
// callers exercising the request/code planner's parsing logic don't need a
// live model.
type DummyProvider struct{}

func NewDummyProvider() *DummyProvider { return &DummyProvider{} }

func (DummyProvider) Name() string { return "dummy" }

func (DummyProvider) Chat(_ context.Context, _ string, _ []Message, opts ChatOptions) (ChatResponse, error) {
	if opts.JSONMode {
		return ChatResponse{
			Content:          `{"status":"ok","provider":"dummy"}`,
			TokensPrompt:     10,
			TokensCompletion: 20,
		}, nil
	}
	return ChatResponse{
		Content:          "This is a dummy response from the test provider",
		TokensPrompt:     5,
		TokensCompletion: 10,
	}, nil
}
