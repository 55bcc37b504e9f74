// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package fanout implements the Stream Fan-out: per-StreamID subscriber
// sets with Server-Sent Events framing, heartbeat, and slow-subscriber
// eviction.
package fanout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HeartbeatInterval is how often a comment-line keepalive is sent to every
// subscriber. Exposed as a var (not a const) so app wiring can override it
// from configuration; see SPEC_FULL.md's Open Question on hard-coded timing.
var HeartbeatInterval = 30 * time.Second

// subscriberBuffer bounds how many unread events a subscriber may fall
// behind before it is considered slow. Matches the buffer depth the teacher
// uses for its own per-session subscriber channels.
const subscriberBuffer = 100

// Event is a single SSE payload. Type is set on every event that does not
// carry a Record; the remaining fields are populated according to spec.md
// §6's SSE event schema.
type Event struct {
	Type        string      `json:"type"`
	StreamingID string      `json:"streamingId,omitempty"`
	Timestamp   time.Time   `json:"timestamp,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`

	// Record is a pass-through subprocess record; when set, it is marshaled
	// in place of the wrapper struct (broadcast of a raw ConversationRecord).
	Record json.RawMessage `json:"-"`
}

// MarshalJSON implements the "pass subprocess records through verbatim"
// rule from spec.md §6: a broadcast Event carrying a Record serializes as
// that record's own bytes, not wrapped in the Event envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Record != nil {
		return e.Record, nil
	}
	type alias Event
	return json.Marshal(alias(e))
}

// connectedEvent is the one SSE frame that uses streaming_id (snake_case)
// instead of streamingId, matching spec.md §4.4/§6/§8 Scenario 1's wire
// contract for the initial handshake frame.
type connectedEvent struct {
	Type      string    `json:"type"`
	StreamID  string    `json:"streaming_id"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriber is one live SSE response.
type subscriber struct {
	ch chan Event
}

// FanOut is the Stream Fan-out. The zero value is not usable; construct
// with New.
type FanOut struct {
	mu          sync.Mutex
	streams     map[string]map[*subscriber]struct{}
	heartbeatOn bool
	stopHB      chan struct{}
}

// New constructs an empty FanOut.
func New() *FanOut {
	return &FanOut{streams: make(map[string]map[*subscriber]struct{})}
}

// addSubscriber registers a new subscriber for streamID and returns it; its
// channel carries the events to relay. The caller is responsible for writing
// an initial "connected" event and driving the SSE write loop; use Serve for
// that in the common HTTP case.
func (f *FanOut) addSubscriber(streamID string) *subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.streams[streamID]
	if !ok {
		set = make(map[*subscriber]struct{})
		f.streams[streamID] = set
	}
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	set[sub] = struct{}{}
	f.ensureHeartbeatLocked()
	return sub
}

func (f *FanOut) removeSubscriber(streamID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.streams[streamID]
	if !ok {
		return
	}
	if _, ok := set[sub]; ok {
		delete(set, sub)
		close(sub.ch)
	}
	if len(set) == 0 {
		delete(f.streams, streamID)
	}
	f.stopHeartbeatIfIdleLocked()
}

// Broadcast queues event on the channel of every subscriber of streamID;
// each subscriber's Serve loop serializes and writes it. If there are no
// subscribers, the event is dropped silently (spec.md §9's resolved Open
// Question). A subscriber whose buffer is full is not removed here: it
// simply misses this one event, and it is removed only when its Serve loop
// returns (a failed write, a closed request context, or the stream closing).
func (f *FanOut) Broadcast(streamID string, event Event) {
	f.mu.Lock()
	set := f.streams[streamID]
	subs := make([]*subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			// Slow subscriber: drop this event rather than block the
			// broadcaster. Eviction happens when its write to the HTTP
			// response actually fails (see Serve).
		}
	}
}

// CloseStream sends a final "closed" event to every subscriber of streamID
// and ends each subscriber's channel, then removes the stream's entry.
func (f *FanOut) CloseStream(streamID string) {
	f.mu.Lock()
	set, ok := f.streams[streamID]
	if !ok {
		f.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	delete(f.streams, streamID)
	f.mu.Unlock()

	closedEvt := Event{Type: "closed", StreamingID: streamID, Timestamp: time.Now()}
	for _, s := range subs {
		select {
		case s.ch <- closedEvt:
		default:
		}
		close(s.ch)
	}

	f.mu.Lock()
	f.stopHeartbeatIfIdleLocked()
	f.mu.Unlock()
}

// DisconnectAll calls CloseStream for every known streamID. Used during
// graceful shutdown.
func (f *FanOut) DisconnectAll() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.streams))
	for id := range f.streams {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.CloseStream(id)
	}
}

// SubscriberCount returns the number of live subscribers for streamID.
func (f *FanOut) SubscriberCount(streamID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[streamID])
}

// TotalSubscriberCount returns the number of live subscribers across every
// stream.
func (f *FanOut) TotalSubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, set := range f.streams {
		total += len(set)
	}
	return total
}

func (f *FanOut) ensureHeartbeatLocked() {
	if f.heartbeatOn {
		return
	}
	f.heartbeatOn = true
	f.stopHB = make(chan struct{})
	go f.heartbeatLoop(f.stopHB)
}

func (f *FanOut) stopHeartbeatIfIdleLocked() {
	if !f.heartbeatOn || len(f.streams) > 0 {
		return
	}
	f.heartbeatOn = false
	close(f.stopHB)
	f.stopHB = nil
}

func (f *FanOut) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			allSubs := make([]*subscriber, 0)
			for _, set := range f.streams {
				for s := range set {
					allSubs = append(allSubs, s)
				}
			}
			f.mu.Unlock()
			for _, s := range allSubs {
				select {
				case s.ch <- Event{Type: "__heartbeat__"}:
				default:
				}
			}
		}
	}
}

// Serve drives a subscriber's SSE write loop against an http.ResponseWriter
// until the request context is done, the stream closes, or a write fails.
// It sets the SSE response headers, writes the initial "connected" event,
// then relays broadcast events and heartbeats as they arrive.
func (f *FanOut) Serve(w http.ResponseWriter, req *http.Request, streamID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("fanout: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub := f.addSubscriber(streamID)
	defer f.removeSubscriber(streamID, sub)

	if err := writeEvent(w, connectedEvent{Type: "connected", StreamID: streamID, Timestamp: time.Now()}); err != nil {
		return err
	}
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return nil
		case evt, ok := <-sub.ch:
			if !ok {
				return nil
			}
			if evt.Type == "__heartbeat__" {
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return err
				}
				flusher.Flush()
				continue
			}
			if err := writeEvent(w, evt); err != nil {
				return err
			}
			flusher.Flush()
			if evt.Type == "closed" {
				return nil
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt interface{}) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
