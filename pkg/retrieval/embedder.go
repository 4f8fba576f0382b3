package retrieval

import (
	"context"
	"crypto/md5"
)

// hashEmbedDim is the fixed dimensionality HashEmbedder produces, matching
// original_source/apps/rag_service/embedding.py's non-OpenAI fallback
// dimension (768).
const hashEmbedDim = 768

// HashEmbedder is the deterministic fallback embedder mandated by the
// spec's Open Questions decision (§9: "mandates the fallback variant for
// determinism in tests"): it never calls an external embedding service, so
// Search results are reproducible across runs with no network dependency.
// Grounded on original_source's _dummy_embed: an md5 digest of the text is
// scattered across the vector's leading bytes, scaled to [0,1], with the
// remainder left at zero.
type HashEmbedder struct{}

// NewHashEmbedder constructs the deterministic embedder.
func NewHashEmbedder() HashEmbedder { return HashEmbedder{} }

func (HashEmbedder) Dim() int { return hashEmbedDim }

func (e HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func hashVector(text string) []float32 {
	sum := md5.Sum([]byte(text))
	v := make([]float32, hashEmbedDim)
	for i, b := range sum {
		v[i] = float32(b) / 255.0
	}
	return v
}
