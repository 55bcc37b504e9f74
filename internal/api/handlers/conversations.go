// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kaidlee/assistantctl/internal/history"
	"github.com/kaidlee/assistantctl/internal/registry"
	"github.com/kaidlee/assistantctl/internal/supervisor"
)

// validPermissionModes are the permissionMode values the subprocess
// contract accepts; anything else is a validation error (spec.md §7).
var validPermissionModes = map[string]bool{
	"":                 true,
	"default":          true,
	"acceptEdits":      true,
	"bypassPermissions": true,
	"plan":             true,
}

// ConversationsHandler implements the /api/conversations endpoints of
// spec.md §6; /api/stream is served by StreamHandler.
type ConversationsHandler struct {
	sup *supervisor.Supervisor
	reg *registry.Registry
	idx *history.Index
}

// NewConversationsHandler constructs a ConversationsHandler.
func NewConversationsHandler(sup *supervisor.Supervisor, reg *registry.Registry, idx *history.Index) *ConversationsHandler {
	return &ConversationsHandler{sup: sup, reg: reg, idx: idx}
}

// StartRequest is the body of POST /api/conversations/start.
type StartRequest struct {
	WorkingDirectory  string   `json:"workingDirectory"`
	InitialPrompt     string   `json:"initialPrompt"`
	Model             string   `json:"model,omitempty"`
	AllowedTools      []string `json:"allowedTools,omitempty"`
	DisallowedTools   []string `json:"disallowedTools,omitempty"`
	SystemPrompt      string   `json:"systemPrompt,omitempty"`
	PermissionMode    string   `json:"permissionMode,omitempty"`
	MaxTurns          int      `json:"maxTurns,omitempty"`
	ResumedSessionID  string   `json:"resumedSessionId,omitempty"`
	Message           string   `json:"message,omitempty"`
}

// Start handles POST /api/conversations/start: a resume when
// resumedSessionId is present, a fresh start otherwise.
func (h *ConversationsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
		return
	}

	if req.WorkingDirectory == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "workingDirectory is required")
		return
	}
	if !validPermissionModes[req.PermissionMode] {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "unknown permissionMode")
		return
	}

	resume := req.ResumedSessionID != ""
	if resume && req.Message == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "message is required when resuming")
		return
	}
	if !resume && req.InitialPrompt == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "initialPrompt is required")
		return
	}

	cfg := supervisor.StartConfig{
		WorkingDirectory: req.WorkingDirectory,
		InitialPrompt:    req.InitialPrompt,
		Model:            req.Model,
		AllowedTools:     req.AllowedTools,
		DisallowedTools:  req.DisallowedTools,
		SystemPrompt:     req.SystemPrompt,
		PermissionMode:   req.PermissionMode,
		MaxTurns:         req.MaxTurns,
		ResumedSessionID: req.ResumedSessionID,
		Message:          req.Message,
	}

	var (
		streamID string
		initRaw  json.RawMessage
		err      error
	)
	if resume {
		cfg.PriorMessages = h.inheritedMessages(req.ResumedSessionID)
		streamID, initRaw, err = h.sup.ResumeConversation(cfg)
	} else {
		streamID, initRaw, err = h.sup.StartConversation(cfg)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrSupervisor, err.Error())
		return
	}

	var initFields map[string]interface{}
	if err := json.Unmarshal(initRaw, &initFields); err != nil {
		initFields = map[string]interface{}{}
	}

	sessionID, _ := initFields["session_id"].(string)
	if sessionID != "" {
		h.reg.Bind(streamID, sessionID, &registry.Context{
			InitialPrompt:     req.InitialPrompt,
			WorkingDirectory:  req.WorkingDirectory,
			Model:             req.Model,
			StartedAt:         time.Now(),
			InheritedMessages: cfg.PriorMessages,
		})
	}

	initFields["streamingId"] = streamID
	initFields["streamUrl"] = fmt.Sprintf("/api/stream/%s", streamID)
	WriteJSON(w, http.StatusOK, initFields)
}

func (h *ConversationsHandler) inheritedMessages(sessionID string) []registry.InheritedMessage {
	records, err := h.idx.FetchConversation(sessionID)
	if err != nil {
		return nil
	}
	out := make([]registry.InheritedMessage, 0, len(records))
	for _, rec := range records {
		var msg interface{}
		if len(rec.Message) > 0 {
			_ = json.Unmarshal(rec.Message, &msg)
		}
		out = append(out, registry.InheritedMessage{Type: rec.Type, Message: msg})
	}
	return out
}

// Stop handles POST /api/conversations/:streamingId/stop. An unknown
// stream is not an error; it returns success:false (spec.md §7).
func (h *ConversationsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamingId"]
	ok := h.sup.StopConversation(streamID)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// List handles GET /api/conversations.
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := history.Filter{
		ProjectPath: q.Get("projectPath"),
		SortBy:      q.Get("sortBy"),
		Order:       q.Get("order"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := q.Get("archived"); v != "" {
		b, _ := strconv.ParseBool(v)
		filter.Archived = &b
	}
	if v := q.Get("pinned"); v != "" {
		b, _ := strconv.ParseBool(v)
		filter.Pinned = &b
	}
	if v := q.Get("hasContinuation"); v != "" {
		b, _ := strconv.ParseBool(v)
		filter.HasContinuation = &b
	}

	conversations, total, err := h.idx.ListConversations(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"total":         total,
	})
}

// Get handles GET /api/conversations/:sessionId: on-disk transcript plus
// metadata, falling through to the Registry's active-details synthesis for
// a session that has no file on disk yet.
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	messages, err := h.idx.FetchConversation(sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	if len(messages) == 0 {
		if details, ok := h.reg.ActiveDetailsFor(sessionID); ok {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"messages":    details.Messages,
				"summary":     "",
				"projectPath": "",
				"metadata":    map[string]interface{}{},
			})
			return
		}
		WriteError(w, http.StatusNotFound, ErrNotFound, "unknown sessionId")
		return
	}

	md, err := h.idx.GetMetadata(sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages":    messages,
		"summary":     md.Summary,
		"projectPath": md.ProjectPath,
		"metadata": map[string]interface{}{
			"model":         md.Model,
			"totalDuration": md.TotalDuration,
		},
	})
}
