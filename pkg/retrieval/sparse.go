package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aibozo/codeurv2/pkg/models"
)

// uint64ArrayLiteral renders ids as a Postgres array literal ("{1,2,3}")
// suitable for an explicit ::bigint[] cast, avoiding a dependency on a
// driver-specific array encoder for this one query.
func uint64ArrayLiteral(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// searchSparse runs a Postgres full-text query against doc_chunks, ranking
// with ts_rank_cd. ts_rank_cd returns "higher is better" like a similarity
// score, not a BM25 cost — Postgres's own FTS ranking convention, not
// SQLite's bm25() convention original_source uses — so each rank is
// inverted into a cost (1/rank) before fuse applies its (1-alpha)/score_s
// term; rows with a non-positive rank are dropped.
func (e *Engine) searchSparse(ctx context.Context, query string, n int) ([]scoredPoint, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT point_id, ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM doc_chunks
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`,
		query, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query sparse index: %w", err)
	}
	defer rows.Close()

	var out []scoredPoint
	for rows.Next() {
		var sp scoredPoint
		var rank float64
		if err := rows.Scan(&sp.pointID, &rank); err != nil {
			return nil, fmt.Errorf("scan sparse row: %w", err)
		}
		// Inverted so fuse's shared alpha*d + (1-alpha)/s formula applies
		// uniformly: a higher ts_rank_cd becomes a lower "cost", matching
		// the BM25-cost shape fuse expects.
		if rank <= 0 {
			continue
		}
		sp.score = 1 / rank
		out = append(out, sp)
	}
	return out, rows.Err()
}

// hydrate resolves scored point IDs back to full chunk content, consulting
// the snippet cache before hitting Postgres.
func (e *Engine) hydrate(ctx context.Context, scored []scoredPoint) ([]models.ScoredChunk, error) {
	out := make([]models.ScoredChunk, 0, len(scored))
	var misses []scoredPoint
	for _, sp := range scored {
		if chunk, ok := e.cache.get(sp.pointID); ok {
			out = append(out, models.ScoredChunk{DocChunk: chunk, Score: sp.score})
		} else {
			misses = append(misses, sp)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	ids := make([]uint64, len(misses))
	for i, m := range misses {
		ids[i] = m.pointID
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT point_id, path, content, updated_at FROM doc_chunks WHERE point_id = ANY($1::bigint[])`,
		uint64ArrayLiteral(ids))
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[uint64]models.DocChunk, len(misses))
	for rows.Next() {
		var c models.DocChunk
		if err := rows.Scan(&c.PointID, &c.Path, &c.Content, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan hydrated chunk: %w", err)
		}
		if len(c.Content) > e.cfg.SnippetCap {
			c.Content = c.Content[:e.cfg.SnippetCap]
		}
		byID[c.PointID] = c
		e.cache.put(c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range misses {
		if chunk, ok := byID[m.pointID]; ok {
			out = append(out, models.ScoredChunk{DocChunk: chunk, Score: m.score})
		}
	}
	return out, nil
}
