package llmgateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/config"
)

// countingProvider counts Chat calls so tests can assert the gateway's
// cache suppresses a second network round-trip.
type countingProvider struct {
	calls int
	resp  ChatResponse
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Chat(_ context.Context, _ string, _ []Message, _ ChatOptions) (ChatResponse, error) {
	p.calls++
	return p.resp, nil
}

func newTestGateway(t *testing.T, provider Provider) *Gateway {
	t.Helper()
	cfg := config.LLMConfig{CacheDir: t.TempDir()}
	gw, err := New(provider, cfg)
	require.NoError(t, err)
	return gw
}

func TestGatewayCacheRoundTrip(t *testing.T) {
	provider := &countingProvider{resp: ChatResponse{Content: "hello", TokensPrompt: 1, TokensCompletion: 2}}
	gw := newTestGateway(t, provider)

	messages := []Message{{Role: "user", Content: "hi"}}
	first, err := gw.Chat(context.Background(), "model-x", messages, ChatOptions{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, provider.calls)

	second, err := gw.Chat(context.Background(), "model-x", messages, ChatOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "hello", second.Content)
	assert.Equal(t, 1, provider.calls, "second identical call must not hit the provider")
}

func TestGatewayCacheKeyVariesWithModelAndMessages(t *testing.T) {
	k1, err := CacheKey("a", []Message{{Role: "user", Content: "x"}}, ChatOptions{})
	require.NoError(t, err)
	k2, err := CacheKey("b", []Message{{Role: "user", Content: "x"}}, ChatOptions{})
	require.NoError(t, err)
	k3, err := CacheKey("a", []Message{{Role: "user", Content: "y"}}, ChatOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestDummyProviderJSONMode(t *testing.T) {
	p := NewDummyProvider()
	resp, err := p.Chat(context.Background(), "", nil, ChatOptions{JSONMode: true})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, `"status":"ok"`)
}

func TestNewProviderRejectsUnknownBackend(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Backend: "nonsense"})
	assert.Error(t, err)
}
