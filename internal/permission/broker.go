// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package permission implements the Permission Broker: an in-memory
// registry of tool-use permission requests that arrive out-of-band from a
// companion permission-server process, correlated to active streams and
// forwarded to observers (the Stream Fan-out, in production wiring).
package permission

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a PermissionRequest's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Request is a single tool-use permission request.
type Request struct {
	ID            string
	StreamID      string
	ToolName      string
	ToolInput     interface{}
	CreatedAt     time.Time
	Status        Status
	ModifiedInput interface{}
	DenyReason    string
}

// Filter narrows List results.
type Filter struct {
	StreamID string // empty matches any
	Status   Status // empty matches any
}

// Update carries the optional fields attachable to an approve/deny decision.
type Update struct {
	ModifiedInput interface{}
	DenyReason    string
}

// Listener is notified of broker activity. Implementations must not block.
type Listener interface {
	PermissionRequested(req Request)
	PermissionUpdated(req Request)
}

// Broker is the Permission Broker. The zero value is not usable; construct
// with New.
type Broker struct {
	mu        sync.Mutex
	requests  map[string]*Request
	listeners []Listener
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{requests: make(map[string]*Request)}
}

// AddListener registers l to receive permission_request/permission_updated
// notifications.
func (b *Broker) AddListener(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Notify records a new out-of-band permission request. A missing streamID
// is stored as "unknown" per spec.md §4.6.
func (b *Broker) Notify(toolName string, toolInput interface{}, streamID string) Request {
	if streamID == "" {
		streamID = "unknown"
	}
	req := Request{
		ID:        uuid.New().String(),
		StreamID:  streamID,
		ToolName:  toolName,
		ToolInput: toolInput,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}

	b.mu.Lock()
	b.requests[req.ID] = &req
	ls := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range ls {
		l.PermissionRequested(req)
	}
	return req
}

// List returns every request matching filter, in no particular order.
func (b *Broker) List(filter Filter) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.requests))
	for _, r := range b.requests {
		if filter.StreamID != "" && r.StreamID != filter.StreamID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Get returns the request with the given id, if any.
func (b *Broker) Get(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// UpdateStatus mutates a request's status to approved/denied with optional
// extra fields, and emits permission_updated. Returns false if id is
// unknown.
func (b *Broker) UpdateStatus(id string, status Status, upd Update) bool {
	b.mu.Lock()
	r, ok := b.requests[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	r.Status = status
	r.ModifiedInput = upd.ModifiedInput
	r.DenyReason = upd.DenyReason
	snapshot := *r
	ls := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range ls {
		l.PermissionUpdated(snapshot)
	}
	return true
}

// RemoveByStreamID drops every pending request belonging to streamID and
// returns the number removed. Called when a stream closes, so no pending
// PermissionRequest ever outlives its StreamID (spec.md §3 invariant 4).
func (b *Broker) RemoveByStreamID(streamID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, r := range b.requests {
		if r.StreamID == streamID && r.Status == StatusPending {
			delete(b.requests, id)
			removed++
		}
	}
	return removed
}
