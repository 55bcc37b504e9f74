// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaidlee/assistantctl/internal/registry"
)

func writeConversation(t *testing.T, root, project, sessionID, body string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEncodeDecodeProject(t *testing.T) {
	assert.Equal(t, "-Users-alice-src-myapp", EncodeProject("/Users/alice/src/myapp"))
	assert.Equal(t, "/Users/alice/src/myapp", DecodeProject("-Users-alice-src-myapp"))
}

func TestListConversations_Basic(t *testing.T) {
	root := t.TempDir()
	writeConversation(t, root, "-w", "Z1",
		`{"type":"summary","summary":"first chat"}`+"\n"+
			`{"type":"user","cwd":"/w","message":{"role":"user"}}`+"\n"+
			`{"type":"assistant","cwd":"/w","message":{"role":"assistant"}}`+"\n")

	ix := NewIndex(root, nil)
	summaries, total, err := ix.ListConversations(Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Z1", summaries[0].SessionID)
	assert.Equal(t, "first chat", summaries[0].Summary)
	assert.Equal(t, "/w", summaries[0].ProjectPath)
	assert.Equal(t, 2, summaries[0].MessageCount)
}

func TestListConversations_UnchangedMtimeSkipsParse(t *testing.T) {
	root := t.TempDir()
	writeConversation(t, root, "-w", "Z1", `{"type":"user","cwd":"/w"}`+"\n")

	ix := NewIndex(root, nil)
	_, _, err := ix.ListConversations(Filter{})
	require.NoError(t, err)
	first := ix.cache.ParseCount()
	require.Equal(t, 1, first)

	_, _, err = ix.ListConversations(Filter{})
	require.NoError(t, err)
	assert.Equal(t, first, ix.cache.ParseCount(), "second call with unchanged mtime must perform zero parse work")
}

func TestListConversations_MergesNotOnDisk(t *testing.T) {
	root := t.TempDir()
	reg := registry.New()
	reg.Bind("S1", "Z-active", &registry.Context{WorkingDirectory: "/active", StartedAt: time.Now()})

	ix := NewIndex(root, reg)
	summaries, total, err := ix.ListConversations(Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "Z-active", summaries[0].SessionID)
	assert.Equal(t, registry.StatusOngoing, summaries[0].Status)
}

func TestFetchConversation_SkipsSummaryLine(t *testing.T) {
	root := t.TempDir()
	writeConversation(t, root, "-w", "Z1",
		`{"type":"summary","summary":"s"}`+"\n"+`{"type":"user","cwd":"/w"}`+"\n")

	ix := NewIndex(root, nil)
	records, err := ix.FetchConversation("Z1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user", records[0].Type)
}

func TestGetMetadata(t *testing.T) {
	root := t.TempDir()
	writeConversation(t, root, "-w", "Z1",
		`{"type":"summary","summary":"hello"}`+"\n"+
			`{"type":"assistant","cwd":"/w","durationMs":12.5,"message":{"model":"claude-x"}}`+"\n")

	ix := NewIndex(root, nil)
	md, err := ix.GetMetadata("Z1")
	require.NoError(t, err)
	assert.Equal(t, "hello", md.Summary)
	assert.Equal(t, "/w", md.ProjectPath)
	assert.Equal(t, "claude-x", md.Model)
	assert.Equal(t, 12.5, md.TotalDuration)
}

func TestListConversations_FiltersByProjectPath(t *testing.T) {
	root := t.TempDir()
	writeConversation(t, root, "-w1", "Z1", `{"type":"user","cwd":"/w1"}`+"\n")
	writeConversation(t, root, "-w2", "Z2", `{"type":"user","cwd":"/w2"}`+"\n")

	ix := NewIndex(root, nil)
	summaries, total, err := ix.ListConversations(Filter{ProjectPath: "/w2"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Z2", summaries[0].SessionID)
}
