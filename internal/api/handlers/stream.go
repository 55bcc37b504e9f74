// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kaidlee/assistantctl/internal/fanout"
)

// StreamHandler implements GET /api/stream/:streamingId.
type StreamHandler struct {
	fan *fanout.FanOut
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(fan *fanout.FanOut) *StreamHandler {
	return &StreamHandler{fan: fan}
}

// Serve drives the SSE response for one subscriber until the client
// disconnects or the stream closes.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamingId"]
	if err := h.fan.Serve(w, r, streamID); err != nil {
		log.Printf("stream %s: %v", streamID, err)
	}
}
