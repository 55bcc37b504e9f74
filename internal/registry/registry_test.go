// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindUnbind_RoundTrip(t *testing.T) {
	r := New()
	r.Bind("S1", "Z1", &Context{WorkingDirectory: "/w"})
	r.Unbind("S1")

	assert.Equal(t, "", r.SessionIDFor("S1"))
	assert.Equal(t, "", r.StreamIDFor("Z1"))
	_, ok := r.ContextFor("Z1")
	assert.False(t, ok)
}

func TestBind_ResumeStealsMapping(t *testing.T) {
	r := New()
	r.Bind("S1", "Z1", nil)
	r.Bind("S2", "Z1", nil) // resume: S2 steals Z1 from S1

	assert.Equal(t, "", r.SessionIDFor("S1"))
	assert.Equal(t, "Z1", r.SessionIDFor("S2"))
	assert.Equal(t, "S2", r.StreamIDFor("Z1"))
}

func TestBind_StreamRebindDropsPriorContext(t *testing.T) {
	r := New()
	r.Bind("S1", "Z1", &Context{WorkingDirectory: "/w1"})
	r.Bind("S1", "Z2", &Context{WorkingDirectory: "/w2"})

	assert.Equal(t, "Z2", r.SessionIDFor("S1"))
	_, ok := r.ContextFor("Z1")
	assert.False(t, ok, "prior context must be dropped on stream rebind")
}

func TestMutualInverseInvariant(t *testing.T) {
	r := New()
	r.Bind("S1", "Z1", nil)
	r.Bind("S2", "Z2", nil)
	r.Unbind("S1")

	for streamID, sessionID := range r.forward {
		assert.Equal(t, streamID, r.reverse[sessionID])
	}
	for sessionID, streamID := range r.reverse {
		assert.Equal(t, sessionID, r.forward[streamID])
	}
}

func TestStatusFor(t *testing.T) {
	r := New()
	assert.Equal(t, StatusCompleted, r.StatusFor("unknown"))
	r.Bind("S1", "Z1", nil)
	assert.Equal(t, StatusOngoing, r.StatusFor("Z1"))
	r.Unbind("S1")
	assert.Equal(t, StatusCompleted, r.StatusFor("Z1"))
}

func TestConversationsNotOnDisk(t *testing.T) {
	r := New()
	started := time.Now()
	r.Bind("S1", "Z1", &Context{WorkingDirectory: "/w", StartedAt: started})
	r.Bind("S2", "Z2", nil) // no context: must not appear

	out := r.ConversationsNotOnDisk(map[string]struct{}{"Z3": {}})
	require.Len(t, out, 1)
	assert.Equal(t, "Z1", out[0].SessionID)
	assert.Equal(t, "/w", out[0].ProjectPath)
	assert.Equal(t, StatusOngoing, out[0].Status)

	out = r.ConversationsNotOnDisk(map[string]struct{}{"Z1": {}})
	assert.Empty(t, out, "already-on-disk sessions must not be synthesized")
}

func TestActiveDetailsFor(t *testing.T) {
	r := New()
	r.Bind("S1", "Z1", &Context{
		InitialPrompt: "hi",
		InheritedMessages: []InheritedMessage{
			{Type: "assistant", Message: "prior"},
		},
	})

	d, ok := r.ActiveDetailsFor("Z1")
	require.True(t, ok)
	require.Len(t, d.Messages, 2)
	assert.Equal(t, "assistant", d.Messages[0].Type)
	assert.Equal(t, "user", d.Messages[1].Type)

	_, ok = r.ActiveDetailsFor("unknown")
	assert.False(t, ok)
}

type recordingListener struct {
	started, ended []string
}

func (l *recordingListener) SessionStarted(streamID, sessionID string) {
	l.started = append(l.started, streamID+":"+sessionID)
}

func (l *recordingListener) SessionEnded(streamID, sessionID string) {
	l.ended = append(l.ended, streamID+":"+sessionID)
}

func TestListenerNotifications(t *testing.T) {
	r := New()
	l := &recordingListener{}
	r.AddListener(l)

	r.Bind("S1", "Z1", nil)
	r.Unbind("S1")

	assert.Equal(t, []string{"S1:Z1"}, l.started)
	assert.Equal(t, []string{"S1:Z1"}, l.ended)
}
