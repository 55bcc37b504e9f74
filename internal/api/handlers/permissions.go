// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kaidlee/assistantctl/internal/permission"
)

// PermissionsHandler implements /api/permissions/notify and
// /api/permissions, grounded on the teacher's notify.go endpoint shape but
// backed by the Permission Broker instead of the generic event bus.
type PermissionsHandler struct {
	broker *permission.Broker
}

// NewPermissionsHandler constructs a PermissionsHandler.
func NewPermissionsHandler(broker *permission.Broker) *PermissionsHandler {
	return &PermissionsHandler{broker: broker}
}

// notifyRequest is the body of POST /api/permissions/notify.
type notifyRequest struct {
	ToolName    string      `json:"toolName"`
	ToolInput   interface{} `json:"toolInput"`
	StreamingID string      `json:"streamingId,omitempty"`
}

// Notify records a new out-of-band permission request, called by the
// companion permission subprocess.
func (h *PermissionsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
		return
	}
	if req.ToolName == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "toolName is required")
		return
	}

	request := h.broker.Notify(req.ToolName, req.ToolInput, req.StreamingID)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      request.ID,
	})
}

// List handles GET /api/permissions.
func (h *PermissionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := permission.Filter{
		StreamID: q.Get("streamingId"),
		Status:   permission.Status(q.Get("status")),
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"permissions": h.broker.List(filter),
	})
}
