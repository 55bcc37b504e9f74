// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_DefaultsUnknownStream(t *testing.T) {
	b := New()
	req := b.Notify("Bash", map[string]string{"command": "ls"}, "")
	assert.Equal(t, "unknown", req.StreamID)
	assert.Equal(t, StatusPending, req.Status)
	assert.NotEmpty(t, req.ID)
}

func TestListFiltersByStreamAndStatus(t *testing.T) {
	b := New()
	r1 := b.Notify("Bash", nil, "S1")
	r2 := b.Notify("Edit", nil, "S2")
	b.UpdateStatus(r1.ID, StatusApproved, Update{})

	all := b.List(Filter{})
	assert.Len(t, all, 2)

	byStream := b.List(Filter{StreamID: "S2"})
	require.Len(t, byStream, 1)
	assert.Equal(t, r2.ID, byStream[0].ID)

	pending := b.List(Filter{Status: StatusPending})
	require.Len(t, pending, 1)
	assert.Equal(t, r2.ID, pending[0].ID)
}

func TestUpdateStatus_UnknownReturnsFalse(t *testing.T) {
	b := New()
	assert.False(t, b.UpdateStatus("nonexistent", StatusApproved, Update{}))
}

func TestRemoveByStreamID_OnlyDropsPending(t *testing.T) {
	b := New()
	r1 := b.Notify("Bash", nil, "S1")
	r2 := b.Notify("Edit", nil, "S1")
	b.UpdateStatus(r1.ID, StatusApproved, Update{})

	removed := b.RemoveByStreamID("S1")
	assert.Equal(t, 1, removed, "only the still-pending request should be removed")

	_, ok := b.Get(r2.ID)
	assert.False(t, ok)
	_, ok = b.Get(r1.ID)
	assert.True(t, ok, "approved request must survive RemoveByStreamID")
}

type recordingListener struct {
	requested []Request
	updated   []Request
}

func (l *recordingListener) PermissionRequested(req Request) { l.requested = append(l.requested, req) }
func (l *recordingListener) PermissionUpdated(req Request)   { l.updated = append(l.updated, req) }

func TestListenerNotifications(t *testing.T) {
	b := New()
	l := &recordingListener{}
	b.AddListener(l)

	req := b.Notify("Bash", nil, "S1")
	b.UpdateStatus(req.ID, StatusDenied, Update{DenyReason: "no"})

	require.Len(t, l.requested, 1)
	require.Len(t, l.updated, 1)
	assert.Equal(t, StatusDenied, l.updated[0].Status)
}
