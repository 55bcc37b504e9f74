// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_NoSubscribers_Dropped(t *testing.T) {
	f := New()
	// Must not panic or block.
	f.Broadcast("S1", Event{Type: "assistant"})
}

func TestServe_ConnectedThenBroadcastThenClosed(t *testing.T) {
	f := New()

	req := httptest.NewRequest(http.MethodGet, "/stream/S1", nil)
	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Serve(rec, req, "S1")
	}()

	require.Eventually(t, func() bool { return f.SubscriberCount("S1") == 1 }, time.Second, time.Millisecond)

	f.Broadcast("S1", Event{Type: "assistant", StreamingID: "S1"})
	f.CloseStream("S1")
	wg.Wait()

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, `"type":"assistant"`)
	assert.Contains(t, body, `"type":"closed"`)
	assert.Equal(t, 0, f.SubscriberCount("S1"))
}

// Serve requires an http.Flusher; httptest.ResponseRecorder already
// implements it, which is sufficient for these tests.
var _ http.Flusher = httptest.NewRecorder()

func TestDisconnectAll(t *testing.T) {
	f := New()
	req1 := httptest.NewRequest(http.MethodGet, "/stream/S1", nil)
	req2 := httptest.NewRequest(http.MethodGet, "/stream/S2", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = f.Serve(httptest.NewRecorder(), req1, "S1") }()
	go func() { defer wg.Done(); _ = f.Serve(httptest.NewRecorder(), req2, "S2") }()

	require.Eventually(t, func() bool { return f.TotalSubscriberCount() == 2 }, time.Second, time.Millisecond)

	f.DisconnectAll()
	wg.Wait()

	assert.Equal(t, 0, f.TotalSubscriberCount())
}

func TestRecordPassThrough(t *testing.T) {
	evt := Event{Record: []byte(`{"type":"assistant","session_id":"Z"}`)}
	data, err := evt.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"assistant","session_id":"Z"}`, string(data))
}
