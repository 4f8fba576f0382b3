package testplanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/llmgateway"
	"github.com/aibozo/codeurv2/pkg/models"
)

type fakeRetriever struct {
	snippets []models.ScoredChunk
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ int, _ float64) ([]models.ScoredChunk, error) {
	return f.snippets, nil
}

type fakeChatClient struct {
	content string
}

func (f *fakeChatClient) Chat(_ context.Context, _ string, _ []llmgateway.Message, _ llmgateway.ChatOptions) (llmgateway.ChatResponse, error) {
	return llmgateway.ChatResponse{Content: f.content}, nil
}

func TestPlanBuildsTestSpecFromLLMResponse(t *testing.T) {
	chat := &fakeChatClient{content: `{"target_paths":["pkg/foo/foo.go"],"scenarios":[{"name":"happy path","description":"foo succeeds"}]}`}
	p := New(&fakeRetriever{}, chat, "model")

	plan := models.Plan{ID: "plan-1", Steps: []models.Step{{Order: 1, Goal: "add foo", Path: "pkg/foo/foo.go"}}}
	spec, err := p.Plan(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "plan-1", spec.ParentPlanID)
	assert.Equal(t, []string{"pkg/foo/foo.go"}, spec.TargetPaths)
	require.Len(t, spec.Scenarios, 1)
	assert.Equal(t, "happy path", spec.Scenarios[0].Name)
}

func TestPlanReturnsErrorOnMalformedJSON(t *testing.T) {
	chat := &fakeChatClient{content: `not json`}
	p := New(&fakeRetriever{}, chat, "model")
	_, err := p.Plan(context.Background(), models.Plan{ID: "plan-2"})
	assert.Error(t, err)
}
