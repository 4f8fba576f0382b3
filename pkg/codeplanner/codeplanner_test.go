package codeplanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/models"
)

type fakeRetriever struct {
	byPath map[string][]models.ScoredChunk
}

func (f *fakeRetriever) SearchFiltered(_ context.Context, _ string, _ int, _ float64, path string) ([]models.ScoredChunk, error) {
	return f.byPath[path], nil
}

func chunk(pointID uint64, content string) models.ScoredChunk {
	return models.ScoredChunk{DocChunk: models.DocChunk{PointID: pointID, Content: content}}
}

func TestExpandProducesOneTaskPerStepInOrder(t *testing.T) {
	retriever := &fakeRetriever{byPath: map[string][]models.ScoredChunk{
		"a.go": {chunk(1, "package a\nfunc F() {}")},
		"b.go": {chunk(2, "package b\nfunc G() {}")},
	}}
	p := New(retriever)

	plan := models.Plan{ID: "plan-1", Steps: []models.Step{
		{Order: 1, Goal: "add F", Kind: models.StepAdd, Path: "a.go"},
		{Order: 2, Goal: "add G", Kind: models.StepAdd, Path: "b.go"},
	}}

	tasks, err := p.Expand(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].StepNumber)
	assert.Equal(t, 2, tasks[1].StepNumber)
	assert.Equal(t, []int64{1}, tasks[0].BlobIDs)
}

func TestClassifyEmptyContextIsModerate(t *testing.T) {
	p := New(&fakeRetriever{byPath: map[string][]models.ScoredChunk{}})
	label := p.classify(models.Step{Goal: "x", Path: "missing.go"}, nil)
	assert.Equal(t, models.ComplexityModerate, label)
}

func TestClassifyTrivialForSimpleFunction(t *testing.T) {
	p := New(&fakeRetriever{})
	snippets := []models.ScoredChunk{chunk(1, "package a\nfunc F() int { return 1 }")}
	label := p.classify(models.Step{Goal: "trivial", Path: "a.go"}, snippets)
	assert.Equal(t, models.ComplexityTrivial, label)
}

func TestClassifyComplexForManyBranches(t *testing.T) {
	p := New(&fakeRetriever{})
	src := `package a
func F(x int) int {
	if x == 1 { return 1 }
	if x == 2 { return 2 }
	if x == 3 { return 3 }
	if x == 4 { return 4 }
	if x == 5 { return 5 }
	if x == 6 { return 6 }
	if x == 7 { return 7 }
	if x == 8 { return 8 }
	for i := 0; i < x; i++ {
		if i%2 == 0 { continue }
	}
	return 0
}`
	snippets := []models.ScoredChunk{chunk(1, src)}
	label := p.classify(models.Step{Goal: "complex", Path: "a.go"}, snippets)
	assert.Equal(t, models.ComplexityComplex, label)
}

func TestClassifyIsMemoizedByGoalAndPath(t *testing.T) {
	retriever := &fakeRetriever{byPath: map[string][]models.ScoredChunk{}}
	p := New(retriever)
	step := models.Step{Goal: "memo-goal", Path: "memo.go"}

	first := p.classify(step, []models.ScoredChunk{chunk(1, "package a\nfunc F() {}")})
	second := p.classify(step, nil) // different (empty) snippets, same key: must still hit the memo
	assert.Equal(t, first, second)
}

func TestCyclomaticComplexityOfMalformedSnippetErrors(t *testing.T) {
	_, err := cyclomaticComplexity("func ( this is not valid go")
	assert.Error(t, err)
}
