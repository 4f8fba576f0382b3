package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const denseVectorsKey = "codeurv2:retrieval:vectors"

// upsertDense stores a chunk's dense vector in a Redis hash keyed by
// PointID. Redis has no native nearest-neighbour index in the OSS tier this
// repo targets, so searchDense below does a brute-force cosine scan over
// the (comparatively small, per-repo) candidate set — acceptable at this
// scale and far simpler than standing up a vector extension purely for
// this port.
func (e *Engine) upsertDense(ctx context.Context, pointID uint64, vec []float32) error {
	body, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal dense vector: %w", err)
	}
	return e.redis.HSet(ctx, denseVectorsKey, fmt.Sprint(pointID), body).Err()
}

// searchDense scores every stored vector against the query embedding and
// returns the top n by cosine similarity.
func (e *Engine) searchDense(ctx context.Context, query string, n int) ([]scoredPoint, error) {
	qvec, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	all, err := e.redis.HGetAll(ctx, denseVectorsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("scan dense vectors: %w", err)
	}

	scored := make([]scoredPoint, 0, len(all))
	for idStr, body := range all {
		var vec []float32
		if err := json.Unmarshal([]byte(body), &vec); err != nil {
			continue // skip a corrupted entry rather than fail the whole search
		}
		var id uint64
		if _, err := fmt.Sscan(idStr, &id); err != nil {
			continue
		}
		scored = append(scored, scoredPoint{pointID: id, score: cosine(qvec[0], vec)})
	}

	topN(scored, n)
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// topN partially sorts scored in place, descending by score, so callers can
// slice the first n entries.
func topN(scored []scoredPoint, n int) {
	for i := 0; i < len(scored) && i < n; i++ {
		maxIdx := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].score > scored[maxIdx].score {
				maxIdx = j
			}
		}
		scored[i], scored[maxIdx] = scored[maxIdx], scored[i]
	}
}
