package planner

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

type fakeReserver struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeReserver) Reserve(_ context.Context, _ string, sym models.SymbolRecord) (models.SymbolRecord, error) {
	f.calls = append(f.calls, sym.FQName)
	if f.fail[sym.FQName] {
		return models.SymbolRecord{}, assert.AnError
	}
	return sym, nil
}

func TestPlanNumbersStepsDenselyFromOne(t *testing.T) {
	retriever := &fakeRetriever{}
	chat := &fakeChatClient{content: `{"steps":[{"goal":"add handler","kind":"ADD","path":"a.go"},{"goal":"wire route","kind":"MODIFY","path":"b.go"}],"rationale":["because"]}`}
	reserver := &fakeReserver{fail: map[string]bool{}}
	p := New(retriever, chat, reserver, "test-model")

	plan, err := p.Plan(context.Background(), models.ChangeRequest{ID: "cr-1", Repo: "r", Branch: "main", Description: "wire up validate(x) please"})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 1, plan.Steps[0].Order)
	assert.Equal(t, 2, plan.Steps[1].Order)
	assert.Equal(t, plan.ParentRequestID, "cr-1")
}

func TestPlanReservesIdentifierTokensAndContinuesOnConflict(t *testing.T) {
	retriever := &fakeRetriever{}
	chat := &fakeChatClient{content: `{"steps":[],"rationale":[]}`}
	reserver := &fakeReserver{fail: map[string]bool{"validate": true}}
	p := New(retriever, chat, reserver, "test-model")

	_, err := p.Plan(context.Background(), models.ChangeRequest{
		ID: "cr-2", Repo: "r", Branch: "main",
		Description: "call validate(x) then emit(y) and also plain text",
	})
	require.NoError(t, err, "a reservation conflict must not fail the plan")
	assert.ElementsMatch(t, []string{"validate", "emit"}, reserver.calls)
}

func TestIdentifierPatternIgnoresBareWords(t *testing.T) {
	matches := identifierPattern.FindAllString("foo(bar) plain_text Baz(qux)", -1)
	assert.ElementsMatch(t, []string{"foo(", "Baz("}, matches)
}
