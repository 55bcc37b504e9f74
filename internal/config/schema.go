// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the control plane.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Version    string           `json:"version"`
	Server     ServerConfig     `json:"server"`
	Supervisor SupervisorConfig `json:"supervisor"`
	History    HistoryConfig    `json:"history"`
	Crashes    CrashesConfig    `json:"crashes"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port   int    `json:"port"`
	Host   string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
	// TLSTailscale, if true, serves HTTPS using an automatically fetched
	// Tailscale certificate instead of a file-based cert/key pair.
	TLSTailscale bool `json:"tls_tailscale"`
}

// SupervisorConfig configures the Process Supervisor.
type SupervisorConfig struct {
	// Command is the assistant CLI executable to spawn.
	Command string `json:"command"`
	// PermissionPromptTool is passed to the CLI as --permission-prompt-tool.
	PermissionPromptTool string `json:"permission_prompt_tool"`
	// MCPConfigPath is passed to the CLI as --mcp-config, if set.
	MCPConfigPath string `json:"mcp_config_path"`
	// StopGrace and StopHardDeadline stage stopConversation's shutdown;
	// HeartbeatInterval paces the Stream Fan-out's SSE keepalive. Exposed
	// as configuration per SPEC_FULL.md's resolution of the timing Open
	// Question; empty strings fall back to the spec's hard-coded defaults.
	StopGrace         string `json:"stop_grace"`
	StopHardDeadline  string `json:"stop_hard_deadline"`
	HeartbeatInterval string `json:"heartbeat_interval"`
}

// HistoryConfig configures the History Index & Cache.
type HistoryConfig struct {
	// Root is the conversations directory the cache reads from. Empty
	// means "<home>/.assistantctl/projects" (see defaultHistoryRoot in
	// loader.go).
	Root string `json:"root"`
	// Watch enables the fsnotify-driven push-assisted cache invalidation.
	Watch bool `json:"watch"`
}

// CrashesConfig configures crash report capture and retention.
type CrashesConfig struct {
	ReportsDir string `json:"reports_dir"`
	MaxAge     string `json:"max_age"`
	MaxCount   int    `json:"max_count"`
}

// LoggingConfig configures the ambient request/server logger.
type LoggingConfig struct {
	// File, if set, rotates through lumberjack instead of writing to
	// stderr.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ParseDuration parses a duration string, returning a default if empty or
// malformed.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
