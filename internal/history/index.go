// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kaidlee/assistantctl/internal/registry"
)

// projectEncoder replicates the assistant CLI's own project-path encoding:
// "/" is replaced with "-" one-way (spec.md §6's Persisted-state layout).
// "." is folded in too, matching the CLI's own directory-naming scheme, so
// a project path containing a dot (e.g. a domain-like directory name)
// doesn't collide with the decode step.
var projectEncoder = strings.NewReplacer("/", "-", ".", "-")

// EncodeProject returns the directory name the assistant CLI uses to store
// projectPath's conversations under Root.
func EncodeProject(projectPath string) string {
	return projectEncoder.Replace(projectPath)
}

// DecodeProject inverts EncodeProject for display only; the transform is
// lossy (both "/" and "." collapse to "-"), so this is a best-effort
// reconstruction, never a canonical project path.
func DecodeProject(encoded string) string {
	return strings.ReplaceAll(encoded, "-", "/")
}

// Summary is one entry in a listConversations result.
type Summary struct {
	SessionID    string
	ProjectPath  string
	Summary      string
	MessageCount int
	Status       registry.Status
	StreamID     string
	CreatedAt    int64 // unix nanos; drawn from file mtime when on disk
	UpdatedAt    int64
}

// Metadata is the result of getMetadata.
type Metadata struct {
	Summary      string
	ProjectPath  string
	Model        string
	TotalDuration float64
}

// Filter narrows and orders listConversations results.
type Filter struct {
	ProjectPath     string
	Archived        *bool
	Pinned          *bool
	HasContinuation *bool
	SortBy          string // "created" | "updated"
	Order           string // "asc" | "desc"
	Limit           int
	Offset          int
}

// Index is the History Index & Cache. The zero value is not usable;
// construct with NewIndex.
type Index struct {
	root     string
	cache    *Cache
	registry *registry.Registry
}

// NewIndex constructs an Index rooted at root (e.g.
// "<home>/.assistantctl/projects"), merging in optimistic conversations from
// reg.
func NewIndex(root string, reg *registry.Registry) *Index {
	return &Index{root: root, cache: NewCache(), registry: reg}
}

// Root returns the conversations root directory.
func (ix *Index) Root() string { return ix.root }

// discover walks the root for every "<project>/<sessionID>.jsonl" file.
func (ix *Index) discover() ([]candidate, error) {
	entries, err := os.ReadDir(ix.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read root %s: %w", ix.root, err)
	}

	var out []candidate
	for _, projEntry := range entries {
		if !projEntry.IsDir() {
			continue
		}
		projDir := filepath.Join(ix.root, projEntry.Name())
		files, err := os.ReadDir(projDir)
		if err != nil {
			log.Printf("history: read project dir %s: %v", projDir, err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			out = append(out, candidate{
				path:    filepath.Join(projDir, f.Name()),
				project: projEntry.Name(),
			})
		}
	}
	return out, nil
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, ".jsonl")
}

// ListConversations enumerates on-disk conversations plus any active
// sessions not yet flushed to disk, applies filter, sorts, and paginates.
func (ix *Index) ListConversations(filter Filter) (summaries []Summary, total int, err error) {
	candidates, err := ix.discover()
	if err != nil {
		return nil, 0, err
	}

	entries, err := ix.cache.Refresh(candidates)
	if err != nil {
		return nil, 0, err
	}

	existing := make(map[string]struct{}, len(entries))
	all := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		sessionID := sessionIDFromPath(entry.Path)
		existing[sessionID] = struct{}{}
		all = append(all, summarize(sessionID, entry))
	}

	if ix.registry != nil {
		for _, s := range ix.registry.ConversationsNotOnDisk(existing) {
			all = append(all, Summary{
				SessionID:    s.SessionID,
				ProjectPath:  s.ProjectPath,
				MessageCount: s.MessageCount,
				Status:       s.Status,
				StreamID:     s.StreamID,
				CreatedAt:    s.StartedAt.UnixNano(),
				UpdatedAt:    s.StartedAt.UnixNano(),
			})
		}
	}

	filtered := applyFilter(all, filter)
	total = len(filtered)
	sortSummaries(filtered, filter)
	return paginate(filtered, filter), total, nil
}

func summarize(sessionID string, entry FileCacheEntry) Summary {
	s := Summary{
		SessionID: sessionID,
		Status:    registry.StatusCompleted,
		CreatedAt: entry.ModTime.UnixNano(),
		UpdatedAt: entry.ModTime.UnixNano(),
	}
	for _, rec := range entry.Records {
		if rec.Type == "summary" && s.Summary == "" {
			s.Summary = rec.Summary
		}
		if rec.CWD != "" && s.ProjectPath == "" {
			s.ProjectPath = rec.CWD
		}
		if rec.Type == "user" || rec.Type == "assistant" {
			s.MessageCount++
		}
	}
	if s.ProjectPath == "" {
		s.ProjectPath = DecodeProject(entry.SourceProject)
	}
	return s
}

func applyFilter(in []Summary, f Filter) []Summary {
	out := make([]Summary, 0, len(in))
	for _, s := range in {
		if f.ProjectPath != "" && s.ProjectPath != f.ProjectPath {
			continue
		}
		out = append(out, s)
	}
	return out
}

func sortSummaries(s []Summary, f Filter) {
	key := func(x Summary) int64 {
		if f.SortBy == "created" {
			return x.CreatedAt
		}
		return x.UpdatedAt
	}
	asc := f.Order == "asc"
	sort.SliceStable(s, func(i, j int) bool {
		if asc {
			return key(s[i]) < key(s[j])
		}
		return key(s[i]) > key(s[j])
	})
}

func paginate(s []Summary, f Filter) []Summary {
	if f.Offset > 0 {
		if f.Offset >= len(s) {
			return nil
		}
		s = s[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(s) {
		s = s[:f.Limit]
	}
	return s
}

// FetchConversation decodes every non-summary line of sessionID's file.
// Returns no records and no error when the session has no on-disk file yet;
// the HTTP handler then falls back to the Registry's active details.
func (ix *Index) FetchConversation(sessionID string) ([]Record, error) {
	path, err := ix.locate(sessionID)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	records, refreshErr := ix.parseOne(path)
	if refreshErr != nil {
		return nil, refreshErr
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Type == "summary" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetMetadata derives summary/projectPath/model/totalDuration for sessionID.
func (ix *Index) GetMetadata(sessionID string) (Metadata, error) {
	path, err := ix.locate(sessionID)
	if err != nil {
		return Metadata{}, err
	}
	if path == "" {
		return Metadata{}, nil
	}

	records, err := ix.parseOne(path)
	if err != nil {
		return Metadata{}, err
	}

	var md Metadata
	for _, r := range records {
		if r.Type == "summary" && md.Summary == "" {
			md.Summary = r.Summary
		}
		if r.CWD != "" && md.ProjectPath == "" {
			md.ProjectPath = r.CWD
		}
		md.TotalDuration += r.DurationMs
		if r.Type == "assistant" && len(r.Message) > 0 {
			var withModel struct {
				Model string `json:"model"`
			}
			if json.Unmarshal(r.Message, &withModel) == nil && withModel.Model != "" {
				md.Model = withModel.Model
			}
		}
	}
	return md, nil
}

// WorkingDirectoryFor returns the cwd recorded in sessionID's file, if any.
func (ix *Index) WorkingDirectoryFor(sessionID string) (string, error) {
	md, err := ix.GetMetadata(sessionID)
	if err != nil {
		return "", err
	}
	return md.ProjectPath, nil
}

// locate scans project directories for "<sessionID>.jsonl" and returns its
// path, or "" if not found on disk.
func (ix *Index) locate(sessionID string) (string, error) {
	candidates, err := ix.discover()
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if sessionIDFromPath(c.path) == sessionID {
			return c.path, nil
		}
	}
	return "", nil
}

// parseOne reads a single conversation file directly. It does not go
// through Cache.Refresh: a one-candidate refresh would evict every other
// cached file and share the list refresh's single-flight result.
func (ix *Index) parseOne(path string) ([]Record, error) {
	return parseFile(path)
}
