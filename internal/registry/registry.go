// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the Session Status Registry: a bidirectional
// map between the supervisor's internal StreamIDs and the assistant-assigned
// SessionIDs, plus pre-history context for sessions that have not yet been
// flushed to disk.
package registry

import (
	"sync"
	"time"
)

// Status is a session's lifecycle state as seen by the registry.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	// StatusPending is reserved. The registry never returns it today; see
	// DESIGN.md for why it is kept but unused.
	StatusPending Status = "pending"
)

// Context is the pre-history state stashed for a session while its
// conversation file has not yet appeared on disk.
type Context struct {
	InitialPrompt     string
	WorkingDirectory  string
	Model             string
	StartedAt         time.Time
	InheritedMessages []InheritedMessage
}

// InheritedMessage is a message carried over from a resumed session, used to
// fabricate ActiveDetails before the new file exists on disk.
type InheritedMessage struct {
	Type    string
	Message interface{}
}

// Summary is a synthesized listing entry for a session that is running but
// has no on-disk file yet ("optimistic conversation" in the glossary).
type Summary struct {
	SessionID    string
	ProjectPath  string
	StartedAt    time.Time
	MessageCount int
	Status       Status
	StreamID     string
}

// Details fabricates the conversation-details payload for an active,
// not-yet-persisted session.
type Details struct {
	Messages []InheritedMessage
}

// Listener is notified of binding changes. Implementations must not block;
// the registry calls listeners synchronously while holding no lock.
type Listener interface {
	SessionStarted(streamID, sessionID string)
	SessionEnded(streamID, sessionID string)
}

// Registry is the Session Status Registry. The zero value is not usable;
// construct with New.
type Registry struct {
	mu sync.Mutex

	forward map[string]string  // streamID -> sessionID
	reverse map[string]string  // sessionID -> streamID
	ctx     map[string]Context // sessionID -> context

	listeners []Listener
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		forward: make(map[string]string),
		reverse: make(map[string]string),
		ctx:     make(map[string]Context),
	}
}

// AddListener registers l to receive session-started/session-ended
// notifications. Safe to call concurrently with Bind/Unbind; a listener
// added during a Bind or Unbind may or may not see that call's event.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Bind establishes streamID <-> sessionID. If sessionID is already bound to
// a different streamID, that prior binding is stolen (move semantics: a
// resume steals the mapping). If streamID is already bound to a different
// sessionID, that prior binding is dropped along with its context. When two
// concurrent binds race for the same sessionID, last call wins and the
// earlier context is discarded.
func (r *Registry) Bind(streamID, sessionID string, context *Context) {
	r.mu.Lock()
	var notify []func()

	if priorStream, ok := r.reverse[sessionID]; ok && priorStream != streamID {
		delete(r.forward, priorStream)
	}
	if priorSession, ok := r.forward[streamID]; ok && priorSession != sessionID {
		delete(r.reverse, priorSession)
		delete(r.ctx, priorSession)
	}

	r.forward[streamID] = sessionID
	r.reverse[sessionID] = streamID
	if context != nil {
		r.ctx[sessionID] = *context
	}

	notify = append(notify, func() { r.fireStarted(streamID, sessionID) })
	r.mu.Unlock()

	for _, f := range notify {
		f()
	}
}

// Unbind removes both directions of streamID's binding and its context.
// Unbinding an unknown streamID is a no-op.
func (r *Registry) Unbind(streamID string) {
	r.mu.Lock()
	sessionID, ok := r.forward[streamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.forward, streamID)
	delete(r.reverse, sessionID)
	delete(r.ctx, sessionID)
	r.mu.Unlock()

	r.fireEnded(streamID, sessionID)
}

func (r *Registry) fireStarted(streamID, sessionID string) {
	r.mu.Lock()
	ls := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range ls {
		l.SessionStarted(streamID, sessionID)
	}
}

func (r *Registry) fireEnded(streamID, sessionID string) {
	r.mu.Lock()
	ls := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range ls {
		l.SessionEnded(streamID, sessionID)
	}
}

// StreamIDFor returns the streamID currently bound to sessionID, or "".
func (r *Registry) StreamIDFor(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reverse[sessionID]
}

// SessionIDFor returns the sessionID currently bound to streamID, or "".
func (r *Registry) SessionIDFor(streamID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forward[streamID]
}

// ContextFor returns the stored context for sessionID, if any.
func (r *Registry) ContextFor(sessionID string) (Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.ctx[sessionID]
	return c, ok
}

// StatusFor reports whether sessionID is currently bound (ongoing) or not
// (completed). StatusPending is reserved and never returned.
func (r *Registry) StatusFor(sessionID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reverse[sessionID]; ok {
		return StatusOngoing
	}
	return StatusCompleted
}

// ConversationsNotOnDisk synthesizes a Summary for every currently-bound
// sessionID that is absent from existingSessionIDs and has stored context.
// It gives the UI visibility into conversations that have not yet been
// flushed to the log files.
func (r *Registry) ConversationsNotOnDisk(existingSessionIDs map[string]struct{}) []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Summary
	for sessionID, streamID := range r.reverse {
		if _, exists := existingSessionIDs[sessionID]; exists {
			continue
		}
		c, ok := r.ctx[sessionID]
		if !ok {
			continue
		}
		out = append(out, Summary{
			SessionID:    sessionID,
			ProjectPath:  c.WorkingDirectory,
			StartedAt:    c.StartedAt,
			MessageCount: 1,
			Status:       StatusOngoing,
			StreamID:     streamID,
		})
	}
	return out
}

// ActiveDetailsFor fabricates a conversation-details payload for a bound,
// not-yet-persisted session: inherited messages followed by a single
// synthetic user message carrying the initial prompt. Returns false if
// sessionID is unbound or has no stored context.
func (r *Registry) ActiveDetailsFor(sessionID string) (Details, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.ctx[sessionID]
	if !ok {
		return Details{}, false
	}

	msgs := append([]InheritedMessage(nil), c.InheritedMessages...)
	msgs = append(msgs, InheritedMessage{
		Type: "user",
		Message: map[string]interface{}{
			"role":    "user",
			"content": c.InitialPrompt,
		},
	})
	return Details{Messages: msgs}, true
}
