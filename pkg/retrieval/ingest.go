package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aibozo/codeurv2/pkg/models"
)

// paragraphSplit matches two-or-more consecutive newlines, mirroring
// original_source/apps/rag_service/ingest.py's TOKEN_SPLIT regex.
var paragraphSplit = regexp.MustCompile(`\n{2,}`)

// ChunkFile splits a file's text into blank-line-delimited paragraphs,
// pairing each non-blank paragraph with its deterministic PointID. Ingest
// callers (a git-commit ingestion job) read each changed path's content and
// pass the result to IngestChunks.
func ChunkFile(path, text string) []models.DocChunk {
	blocks := paragraphSplit.Split(text, -1)
	chunks := make([]models.DocChunk, 0, len(blocks))
	for i, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		chunks = append(chunks, models.DocChunk{
			PointID: PointID(path, i),
			Path:    path,
			Content: block,
		})
	}
	return chunks
}

// IngestCommit ingests every changed path in a commit: changedFiles maps a
// repo-relative path to its full text content (the caller resolves this via
// the git adapter's ReadFile). Re-calling IngestCommit for the same commit
// overwrites existing rows by PointID rather than duplicating them, so
// ingestion stays idempotent under retries.
func (e *Engine) IngestCommit(ctx context.Context, changedFiles map[string]string) error {
	for path, text := range changedFiles {
		for _, chunk := range ChunkFile(path, text) {
			chunk.UpdatedAt = time.Now()
			if err := e.Ingest(ctx, chunk); err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
		}
	}
	return nil
}
