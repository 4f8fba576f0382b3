// Package retrieval implements the hybrid retrieval engine (component C):
// a dense vector store fused with a sparse lexical store behind one
// Search call, plus idempotent ingestion and a small in-process snippet
// cache.
//
// original_source's apps/rag_service splits this the same way (vector.py
// backed by Qdrant, bm25.py backed by a SQLite FTS table); this port keeps
// the split but swaps the two stores for what the example pack actually
// wires: Redis (redis/go-redis/v9, grounded on the pagi-digital-twin
// planner agent's redis.NewClient usage in other_examples) for dense
// nearest-neighbour via a hash of stored vectors scanned by brute-force
// cosine similarity, and Postgres tsvector
// (already required for pkg/dbx) for the sparse side, so the repo does not
// need to stand up a third datastore (Qdrant) beyond what DOMAIN STACK
// already lists.
package retrieval

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/models"
)

// Embedder turns text into a dense vector. HashEmbedder is the only
// implementation, and cmd/orchestratord constructs it whatever the value of
// config.EmbeddingBackend (see decision record in DESIGN.md: matches
// original_source's embedding.py _dummy_embed, which itself falls back to a
// hash vector on any embedding service error).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Engine is the component C service object.
type Engine struct {
	redis    *redis.Client
	db       *sql.DB
	embedder Embedder
	cfg      config.RetrievalConfig
	cache    *snippetCache
}

// New constructs an Engine over a Redis dense store and a Postgres sparse
// store, the way the planner-agent component in the pack dials
// redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}).
func New(db *sql.DB, embedder Embedder, cfg config.RetrievalConfig) *Engine {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return &Engine{
		redis:    rdb,
		db:       db,
		embedder: embedder,
		cfg:      cfg,
		cache:    newSnippetCache(cfg.SnippetCacheN),
	}
}

// Close releases the Redis connection.
func (e *Engine) Close() error { return e.redis.Close() }

// PointID derives the idempotent ingestion key point_id = uint64(md5(path:chunkIndex)[:8]),
// so re-ingesting the same chunk overwrites rather than duplicates it.
func PointID(path string, chunkIndex int) uint64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", path, chunkIndex)))
	return binary.BigEndian.Uint64(sum[:8])
}

// Snippet resolves a single point_id to its chunk content, trimmed to
// radius characters, for the §6 RPC surface's Snippet(point_id, radius)
// call the coding agent uses to hydrate read-only context for blob_ids.
// radius <= 0 returns the full (already cap-truncated) content.
func (e *Engine) Snippet(ctx context.Context, pointID uint64, radius int) (string, error) {
	hydrated, err := e.hydrate(ctx, []scoredPoint{{pointID: pointID}})
	if err != nil {
		return "", fmt.Errorf("resolve snippet %d: %w", pointID, err)
	}
	if len(hydrated) == 0 {
		return "", fmt.Errorf("resolve snippet %d: %w", pointID, sql.ErrNoRows)
	}
	content := hydrated[0].Content
	if radius > 0 && len(content) > radius {
		content = content[:radius]
	}
	return content, nil
}

// Ingest upserts a DocChunk into both the dense and sparse stores, keyed by
// its PointID so repeated ingestion is a no-op change rather than growth.
func (e *Engine) Ingest(ctx context.Context, chunk models.DocChunk) error {
	vecs, err := e.embedder.Embed(ctx, []string{chunk.Content})
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.Path, err)
	}

	if err := e.upsertDense(ctx, chunk.PointID, vecs[0]); err != nil {
		return fmt.Errorf("upsert dense vector: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO doc_chunks (point_id, path, content, content_tsv, updated_at)
		VALUES ($1, $2, $3, to_tsvector('english', $3), now())
		ON CONFLICT (point_id) DO UPDATE SET
			path = EXCLUDED.path, content = EXCLUDED.content,
			content_tsv = EXCLUDED.content_tsv, updated_at = now()`,
		chunk.PointID, chunk.Path, chunk.Content,
	)
	if err != nil {
		return fmt.Errorf("upsert sparse row: %w", err)
	}
	return nil
}

// Search runs dense retrieval, then sparse retrieval, and fuses them via
// S(p) = alpha*score_d + (1-alpha)/score_s, returning the top k chunks.
// alpha <= 0 or > 1 falls back to cfg.DefaultAlpha.
func (e *Engine) Search(ctx context.Context, query string, k int, alpha float64) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if alpha <= 0 || alpha > 1 {
		alpha = e.cfg.DefaultAlpha
	}

	dense, err := e.searchDense(ctx, query, k*2)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	sparse, err := e.searchSparse(ctx, query, k*2)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	fused := fuse(dense, sparse, alpha)
	if len(fused) > k {
		fused = fused[:k]
	}
	return e.hydrate(ctx, fused)
}

// SearchFiltered is Search restricted to chunks whose Path equals path, the
// "filter={path: step.path} if step.path" clause the code planner (§4.G)
// applies. The fusion ranking still runs over the unfiltered candidate
// pool so the path filter never changes which snippets would have ranked
// above the cutoff; it only discards out-of-path hits after hydration,
// fetching extra candidates up front to keep k results likely even when a
// path skews the pool.
func (e *Engine) SearchFiltered(ctx context.Context, query string, k int, alpha float64, path string) ([]models.ScoredChunk, error) {
	if path == "" {
		return e.Search(ctx, query, k, alpha)
	}
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if alpha <= 0 || alpha > 1 {
		alpha = e.cfg.DefaultAlpha
	}

	dense, err := e.searchDense(ctx, query, k*4)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	sparse, err := e.searchSparse(ctx, query, k*4)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	fused := fuse(dense, sparse, alpha)
	hydrated, err := e.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.ScoredChunk, 0, k)
	for _, chunk := range hydrated {
		if chunk.Path != path {
			continue
		}
		filtered = append(filtered, chunk)
		if len(filtered) == k {
			break
		}
	}
	return filtered, nil
}

type scoredPoint struct {
	pointID uint64
	score   float64
}

// fuse combines dense and sparse rankings. Sparse scores arrive as
// BM25-style "lower is more relevant" costs (mirroring SQLite's bm25()
// convention used by original_source's bm25_search), hence the
// 1/score_s term rather than a plain weighted sum of two similarity
// scores.
func fuse(dense, sparse []scoredPoint, alpha float64) []models.ScoredChunk {
	denseByID := make(map[uint64]float64, len(dense))
	for _, d := range dense {
		denseByID[d.pointID] = d.score
	}
	sparseByID := make(map[uint64]float64, len(sparse))
	for _, s := range sparse {
		sparseByID[s.pointID] = s.score
	}

	seen := make(map[uint64]struct{})
	var out []models.ScoredChunk
	for id := range denseByID {
		seen[id] = struct{}{}
	}
	for id := range sparseByID {
		seen[id] = struct{}{}
	}
	for id := range seen {
		sd := denseByID[id]
		ss := sparseByID[id]
		var fusedScore float64
		switch {
		case sd != 0 && ss != 0:
			fusedScore = alpha*sd + (1-alpha)/ss
		case sd != 0:
			fusedScore = alpha * sd
		case ss != 0:
			fusedScore = (1 - alpha) / ss
		}
		out = append(out, models.ScoredChunk{DocChunk: models.DocChunk{PointID: id}, Score: fusedScore})
	}
	// Ties break by point_id ascending for determinism.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PointID < out[j].PointID
	})
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
