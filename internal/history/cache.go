// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package history implements the History Index & Cache: a per-file
// mtime-keyed cache over the on-disk, append-only JSON-lines conversation
// files a supervised assistant CLI writes, with single-flight refresh.
package history

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kaidlee/assistantctl/internal/jsonl"
)

// Record is one parsed line of a conversation file. Only the fields the
// cache itself interprets are named; everything else is pass-through via
// Raw, matching spec.md §3's "opaque JSON value" ConversationRecord model.
type Record struct {
	Type       string          `json:"type"`
	Summary    string          `json:"summary,omitempty"`
	CWD        string          `json:"cwd,omitempty"`
	DurationMs float64         `json:"durationMs,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// FileCacheEntry is the cache's unit of storage, keyed by absolute path.
type FileCacheEntry struct {
	Path          string
	ModTime       time.Time
	SourceProject string
	Records       []Record
}

// Cache is the mtime-keyed parse cache described in spec.md §4.5.1. The
// zero value is not usable; construct with NewCache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]FileCacheEntry
	group   singleflight.Group

	// parsed counts fresh-parse operations since construction; tests use
	// it to assert the "zero parse work on an unchanged mtime" property.
	parsed int
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]FileCacheEntry)}
}

// candidate is one file the refresh pass should consider.
type candidate struct {
	path    string
	project string
}

// Refresh performs the single-flighted cache sync described in spec.md
// §4.5.1: stat every candidate, reuse cached parsedRecords when the mtime
// is unchanged, parse fresh otherwise, then evict entries for paths no
// longer present. At most one refresh runs at a time; concurrent callers
// await the in-flight result, and a failed pass clears the in-flight handle
// so the next caller retries.
func (c *Cache) Refresh(candidates []candidate) ([]FileCacheEntry, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(candidates)
	})
	if err != nil {
		return nil, err
	}
	return v.([]FileCacheEntry), nil
}

func (c *Cache) doRefresh(candidates []candidate) ([]FileCacheEntry, error) {
	currentMtimes := make(map[string]time.Time, len(candidates))
	projectOf := make(map[string]string, len(candidates))
	for _, cand := range candidates {
		info, err := os.Stat(cand.path)
		if err != nil {
			// File disappeared between discovery and stat; treat as absent
			// rather than failing the whole pass.
			continue
		}
		currentMtimes[cand.path] = info.ModTime()
		projectOf[cand.path] = cand.project
	}

	out := make([]FileCacheEntry, 0, len(currentMtimes))

	for path, mtime := range currentMtimes {
		c.mu.Lock()
		cached, ok := c.entries[path]
		c.mu.Unlock()

		if ok && cached.ModTime.Equal(mtime) {
			out = append(out, cached)
			continue
		}

		records, err := parseFile(path)
		if err != nil {
			// Per spec.md §7: a file-level read failure (the file vanished,
			// permissions changed, ...) is logged and contributes zero
			// records rather than failing the whole refresh pass. Malformed
			// individual lines never reach here: jsonl.RawMessages already
			// skips and logs those itself.
			log.Printf("history: skipping %s: %v", path, err)
			records = nil
		}

		entry := FileCacheEntry{Path: path, ModTime: mtime, SourceProject: projectOf[path], Records: records}
		c.mu.Lock()
		c.entries[path] = entry
		c.parsed++
		c.mu.Unlock()
		out = append(out, entry)
	}

	c.mu.Lock()
	for path := range c.entries {
		if _, ok := currentMtimes[path]; !ok {
			delete(c.entries, path)
		}
	}
	c.mu.Unlock()

	return out, nil
}

func parseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raws, err := jsonl.RawMessages(f)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var rec Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
			continue
		}
		rec.Raw = raw
		records = append(records, rec)
	}
	return records, nil
}

// ParseCount returns the number of fresh (non-cache-hit) file parses
// performed since construction. Exposed for tests asserting the "unchanged
// mtime means zero parse work" property.
func (c *Cache) ParseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parsed
}

// Invalidate drops the cache entry for path, if any, forcing the next
// Refresh to parse it fresh. Used by the optional fsnotify-driven
// invalidation; never required for correctness since Refresh always
// re-stats every candidate.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, filepath.Clean(path))
	c.mu.Unlock()
}
