// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the Process Supervisor: spawning and
// lifecycle management of assistant CLI subprocesses, with graceful/forced
// shutdown and crash reporting.
package supervisor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaidlee/assistantctl/internal/registry"
)

// Config configures the Supervisor itself, independent of any one
// conversation.
type Config struct {
	// Command is the assistant CLI executable to invoke. Generalized from
	// the teacher's hard-coded "claude" binary so the control plane can
	// target any compatible CLI.
	Command string

	// PermissionPromptTool is passed as --permission-prompt-tool so the
	// subprocess routes tool-use prompts to the companion permission
	// server instead of blocking on a TTY.
	PermissionPromptTool string

	// SpawnGrace is unused as a timeout (start/resume does not time out
	// while waiting for the init record); it documents the window within
	// which a bad spawn is expected to surface as an early exit.
	SpawnGrace time.Duration
	// StopGrace is the pause after requesting cooperative shutdown before
	// a soft termination signal is sent.
	StopGrace time.Duration
	// StopHardDeadline is how long after the soft signal the supervisor
	// waits before sending an unconditional kill.
	StopHardDeadline time.Duration

	// MCPConfigPath, if set, is passed via --mcp-config on every start.
	// Mutated at runtime by SetMCPConfigPath.
	MCPConfigPath string

	// CrashDir, if non-empty, enables crash report capture.
	CrashDir      string
	CrashMaxAge   time.Duration
	CrashMaxCount int
}

// DefaultConfig returns the spec's hard-coded timing constants packaged as
// configuration (see SPEC_FULL.md's resolution of the heartbeat/timing Open
// Question: exposed as configuration, defaulting to the spec's constants).
func DefaultConfig(command string) Config {
	return Config{
		Command:          command,
		SpawnGrace:       100 * time.Millisecond,
		StopGrace:        100 * time.Millisecond,
		StopHardDeadline: 5 * time.Second,
		CrashMaxAge:      7 * 24 * time.Hour,
		CrashMaxCount:    100,
	}
}

// StartConfig describes a single conversation to launch.
type StartConfig struct {
	WorkingDirectory string
	InitialPrompt    string
	Model            string
	AllowedTools     []string
	DisallowedTools  []string
	SystemPrompt     string
	PermissionMode   string
	MaxTurns         int

	// ResumedSessionID, if set, makes this a resume: argv carries a resume
	// selector and the previous session ID, and Message (rather than
	// InitialPrompt) is sent as the continuation prompt.
	ResumedSessionID string
	Message          string

	// PriorMessages is stashed into the Registry as inherited context for
	// the new session, drawn from the resumed session's on-disk file.
	PriorMessages []registry.InheritedMessage
}

// MessageEvent is emitted once per parsed stdout line.
type MessageEvent struct {
	StreamID string
	Record   json.RawMessage
}

// ClosedEvent is emitted exactly once per successful start/resume, after the
// subprocess has exited and its streams are drained.
type ClosedEvent struct {
	StreamID string
	ExitCode int
}

// ErrorEvent is emitted once per stderr chunk or unexpected I/O or parse
// error. It does not itself close the stream.
type ErrorEvent struct {
	StreamID string
	Reason   string
}

// SpawnError is returned synchronously from Start/Resume when the
// subprocess could not be launched or exited before emitting its init
// record.
type SpawnError struct {
	Kind   string // "executable_not_found" | "spawn_failed"
	Reason string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("supervisor: %s: %s", e.Kind, e.Reason)
}
