// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher primes the cache by invalidating a file's entry as soon as
// fsnotify observes a write, so the next listConversations call parses it
// fresh rather than waiting to notice the mtime change on its own stat
// pass. It is purely an optimization: Refresh's own mtime comparison is
// always authoritative, so a missed or coalesced event just degrades to
// plain poll-on-request behavior (SPEC_FULL.md §history).
type Watcher struct {
	fsw   *fsnotify.Watcher
	cache *Cache
	done  chan struct{}
}

// WatchIndex starts watching ix's root and the project directories that
// exist under it at call time for writes, invalidating matching cache
// entries. Project directories created later are not added to the watch;
// their files are picked up by Refresh's mtime comparison alone. Callers
// must call Close when done. A failure to start the watcher is logged and
// treated as non-fatal: the index still works via plain polling.
func WatchIndex(ix *Index) *Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("history: fsnotify unavailable, falling back to poll-only cache invalidation: %v", err)
		return nil
	}

	if err := fsw.Add(ix.root); err != nil {
		log.Printf("history: watch root %s: %v", ix.root, err)
	}
	if entries, err := ix.discover(); err == nil {
		seen := make(map[string]struct{})
		for _, c := range entries {
			dir := filepath.Dir(c.path)
			if _, ok := seen[dir]; ok {
				continue
			}
			seen[dir] = struct{}{}
			if err := fsw.Add(dir); err != nil {
				log.Printf("history: watch project dir %s: %v", dir, err)
			}
		}
	}

	w := &Watcher{fsw: fsw, cache: ix.cache, done: make(chan struct{})}
	go w.loop()
	return w
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(evt.Name) == ".jsonl" {
				w.cache.Invalidate(evt.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("history: fsnotify error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	return w.fsw.Close()
}
