package llmgateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DiskCache is a content-addressed, per-process-persistent cache:
// key = sha256(model || canonical_json(messages) || opts), writes are
// atomic (temp-file + rename). Grounded on
// original_source/clients/llm_client/cache.py's identical key derivation;
// re-expressed with os.CreateTemp+os.Rename since Go has no direct
// analogue in tarsy for a disk-backed response cache.
type DiskCache struct {
	dir string
}

// NewDiskCache ensures dir exists and returns a cache rooted there.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create llm cache dir %q: %w", dir, err)
	}
	return &DiskCache{dir: dir}, nil
}

// CacheKey computes the cache's content address. Messages and opts are
// marshalled through encoding/json, which serializes struct fields in
// declaration order — stable across calls, matching
// original_source's json.dumps(..., sort_keys=True) canonicalization intent.
func CacheKey(model string, messages []Message, opts ChatOptions) (string, error) {
	type keyInput struct {
		Model    string        `json:"model"`
		Messages []Message     `json:"messages"`
		Opts     ChatOptions   `json:"opts"`
	}
	body, err := json.Marshal(keyInput{Model: model, Messages: messages, Opts: opts})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached response for key, if present. A corrupted cache
// file is treated as a miss rather than an error — the cache is a latency
// optimization, so a bad file should never fail the call.
func (c *DiskCache) Get(key string) (ChatResponse, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return ChatResponse{}, false
	}
	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ChatResponse{}, false
	}
	return resp, true
}

// Put writes resp for key via a temp-file-then-rename so concurrent writers
// to the same key never observe a partial file (§5: "concurrent writers to
// the same key are safe because the final rename is atomic").
func (c *DiskCache) Put(key string, resp ChatResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "llmcache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file into place: %w", err)
	}
	return nil
}
