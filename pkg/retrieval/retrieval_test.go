package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/models"
)

// TestFuseWorkedExample: chunk A scores
// d=0.9, s=2.0; chunk B scores d=0.5, s=1.0; alpha=0.25 must rank B first.
func TestFuseWorkedExample(t *testing.T) {
	dense := []scoredPoint{{pointID: 1, score: 0.9}, {pointID: 2, score: 0.5}}
	sparse := []scoredPoint{{pointID: 1, score: 2.0}, {pointID: 2, score: 1.0}}

	out := fuse(dense, sparse, 0.25)
	require.Len(t, out, 2)

	byID := map[uint64]float64{}
	for _, c := range out {
		byID[c.PointID] = c.Score
	}
	assert.InDelta(t, 0.600, byID[1], 1e-9)
	assert.InDelta(t, 0.875, byID[2], 1e-9)

	assert.Equal(t, uint64(2), out[0].PointID, "B must rank first")
	assert.Equal(t, uint64(1), out[1].PointID)
}

// TestFuseTieBreakByPointID covers the deterministic ordering required
// when two chunks fuse to an identical score.
func TestFuseTieBreakByPointID(t *testing.T) {
	dense := []scoredPoint{{pointID: 5, score: 0.4}, {pointID: 3, score: 0.4}}
	out := fuse(dense, nil, 0.25)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(3), out[0].PointID)
	assert.Equal(t, uint64(5), out[1].PointID)
}

// TestFuseAbsentTermContributesZero covers a chunk present in only one
// store: the absent term contributes 0 rather than erroring.
func TestFuseAbsentTermContributesZero(t *testing.T) {
	dense := []scoredPoint{{pointID: 9, score: 0.8}}
	out := fuse(dense, nil, 0.25)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.2, out[0].Score, 1e-9)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	v1, err := e.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1[0], e.Dim())

	v3, _ := e.Embed(context.Background(), []string{"a different string"})
	assert.NotEqual(t, v1[0], v3[0])
}

func TestSnippetCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	c := newSnippetCache(2)
	c.put(chunk(1))
	c.put(chunk(2))
	// touch 1 so it is the most-recently-accessed entry
	_, _ = c.get(1)
	c.put(chunk(3)) // evicts 2, the least-recently-accessed

	_, ok1 := c.get(1)
	_, ok2 := c.get(2)
	_, ok3 := c.get(3)
	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}

func TestChunkFileSkipsBlankParagraphs(t *testing.T) {
	chunks := ChunkFile("a/b.go", "first\n\n\n\nsecond\n\n   \n\nthird")
	require.Len(t, chunks, 3)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)
	assert.Equal(t, "third", chunks[2].Content)
	assert.Equal(t, PointID("a/b.go", 0), chunks[0].PointID)
}

func chunk(id uint64) models.DocChunk {
	return models.DocChunk{PointID: id}
}
