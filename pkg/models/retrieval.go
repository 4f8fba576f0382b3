package models

import "time"

// DocChunk is one ingested, chunked unit of repo content indexed by both the
// dense (Redis) and sparse (Postgres tsvector) stores under a shared
// PointID, per component C's idempotent-ingestion requirement.
type DocChunk struct {
	PointID   uint64    `json:"point_id"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredChunk is a DocChunk annotated with the fused relevance score
// S(p) = alpha*score_d + (1-alpha)/score_s computed by pkg/retrieval.
type ScoredChunk struct {
	DocChunk
	Score float64 `json:"score"`
}
