// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for assistantctl.hjson first, then assistantctl.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"assistantctl.hjson",
		"assistantctl.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for assistantctl.hjson, assistantctl.json)")
}

// defaultHistoryRoot returns "<home>/.assistantctl/projects", matching the
// assistant CLI's own on-disk conversation layout (SPEC_FULL.md §history).
func defaultHistoryRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assistantctl/projects"
	}
	return filepath.Join(home, ".assistantctl", "projects")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8443
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	if cfg.Supervisor.Command == "" {
		cfg.Supervisor.Command = "claude"
	}
	if cfg.Supervisor.PermissionPromptTool == "" {
		cfg.Supervisor.PermissionPromptTool = "mcp__assistantctl__permission_prompt"
	}
	if cfg.Supervisor.StopGrace == "" {
		cfg.Supervisor.StopGrace = "100ms"
	}
	if cfg.Supervisor.StopHardDeadline == "" {
		cfg.Supervisor.StopHardDeadline = "5s"
	}
	if cfg.Supervisor.HeartbeatInterval == "" {
		cfg.Supervisor.HeartbeatInterval = "30s"
	}

	if cfg.History.Root == "" {
		cfg.History.Root = defaultHistoryRoot()
	}

	if cfg.Crashes.ReportsDir == "" {
		cfg.Crashes.ReportsDir = "crashes"
	}
	if cfg.Crashes.MaxAge == "" {
		cfg.Crashes.MaxAge = "7d"
	}
	if cfg.Crashes.MaxCount == 0 {
		cfg.Crashes.MaxCount = 200
	}

	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}
