// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// FETCH CACHE
// =============================================================================

// cacheEntry is the on-disk record for one fetched URL.
type cacheEntry struct {
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// cache is a two-level fetch cache: an in-memory map in front of JSON files
// under a cache directory, keyed by a short hash of the URL. Entries carry
// their fetch time; freshness is judged against the caller's TTL, so the
// same entry can be fresh for one source and stale for another.
type cache struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	mem map[string]cacheEntry
}

func newCache(dir string, logger *slog.Logger) *cache {
	return &cache{
		dir:    dir,
		logger: logger,
		mem:    make(map[string]cacheEntry),
	}
}

// cacheKey derives the filename-safe key for a URL.
func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// get returns the cached content for url if an entry exists and is younger
// than ttl. Misses in memory fall through to disk.
func (c *cache) get(url string, ttl time.Duration) (string, bool) {
	key := cacheKey(url)

	c.mu.Lock()
	entry, ok := c.mem[key]
	c.mu.Unlock()

	if !ok {
		data, err := os.ReadFile(c.path(key))
		if err != nil {
			return "", false
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
			return "", false
		}
		c.mu.Lock()
		c.mem[key] = entry
		c.mu.Unlock()
	}

	if time.Since(entry.FetchedAt) > ttl {
		return "", false
	}
	return entry.Content, true
}

// put stores content for url in memory and on disk. A disk write failure is
// logged and tolerated; the memory entry still serves this process.
func (c *cache) put(url, content string) {
	key := cacheKey(url)
	entry := cacheEntry{URL: url, Content: content, FetchedAt: time.Now()}

	c.mu.Lock()
	c.mem[key] = entry
	c.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		c.logger.Warn("failed to create cache directory", "dir", c.dir, "error", err)
		return
	}
	if err := util.AtomicWriteFile(c.path(key), data, 0644); err != nil {
		c.logger.Warn("failed to persist cache entry", "key", key, "error", err)
	}
}
