package retrieval

import (
	"sync"
	"time"

	"github.com/aibozo/codeurv2/pkg/models"
)

// snippetCache is a size-bounded, mutex-guarded map, replacing tarsy's
// process-wide RAG client cache (a mutating dict with no eviction).
// Capacity defaults to 2048; eviction drops the least-recently-accessed
// entry, not the oldest inserted one, so a hot chunk re-queried across
// many searches survives.
type snippetCache struct {
	mu       sync.Mutex
	cap      int
	entries  map[uint64]models.DocChunk
	accessed map[uint64]time.Time
}

func newSnippetCache(capacity int) *snippetCache {
	if capacity <= 0 {
		capacity = 2048
	}
	return &snippetCache{
		cap:      capacity,
		entries:  make(map[uint64]models.DocChunk, capacity),
		accessed: make(map[uint64]time.Time, capacity),
	}
}

func (c *snippetCache) get(id uint64) (models.DocChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunk, ok := c.entries[id]
	if ok {
		c.accessed[id] = time.Now()
	}
	return chunk, ok
}

func (c *snippetCache) put(chunk models.DocChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[chunk.PointID]; !exists && len(c.entries) >= c.cap {
		c.evictLocked()
	}
	c.entries[chunk.PointID] = chunk
	c.accessed[chunk.PointID] = time.Now()
}

// evictLocked removes the entry with the oldest access time. Called with
// c.mu already held.
func (c *snippetCache) evictLocked() {
	var oldestID uint64
	var oldestAt time.Time
	first := true
	for id, at := range c.accessed {
		if first || at.Before(oldestAt) {
			oldestID, oldestAt, first = id, at, false
		}
	}
	if !first {
		delete(c.entries, oldestID)
		delete(c.accessed, oldestID)
	}
}
