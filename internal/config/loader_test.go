// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		server: {
			port: 8443
			host: "127.0.0.1"
		}
		supervisor: {
			command: "claude"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude", cfg.Supervisor.Command)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Test HJSON-specific features: comments, unquoted keys, trailing commas
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		server: {
			port: 8443,
			host: 127.0.0.1,
		}

		supervisor: {
			command: claude,
		},
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Supervisor.Command)
}

func TestLoader_Load_AllSections(t *testing.T) {
	configContent := `{
		version: "1.0"

		server: {
			port: 9000
			host: "0.0.0.0"
			tls_tailscale: true
		}

		supervisor: {
			command: "claude"
			permission_prompt_tool: "mcp__assistantctl__permission_prompt"
			mcp_config_path: "/etc/assistantctl/mcp.json"
			stop_grace: "200ms"
			stop_hard_deadline: "10s"
			heartbeat_interval: "15s"
		}

		history: {
			root: "/var/lib/assistantctl/projects"
			watch: true
		}

		crashes: {
			reports_dir: "/var/lib/assistantctl/crashes"
			max_age: "14d"
			max_count: 50
		}

		logging: {
			file: "/var/log/assistantctl/server.log"
			max_size_mb: 100
			max_backups: 3
			max_age_days: 14
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.TLSTailscale)

	assert.Equal(t, "claude", cfg.Supervisor.Command)
	assert.Equal(t, "mcp__assistantctl__permission_prompt", cfg.Supervisor.PermissionPromptTool)
	assert.Equal(t, "/etc/assistantctl/mcp.json", cfg.Supervisor.MCPConfigPath)
	assert.Equal(t, "200ms", cfg.Supervisor.StopGrace)
	assert.Equal(t, "10s", cfg.Supervisor.StopHardDeadline)
	assert.Equal(t, "15s", cfg.Supervisor.HeartbeatInterval)

	assert.Equal(t, "/var/lib/assistantctl/projects", cfg.History.Root)
	assert.True(t, cfg.History.Watch)

	assert.Equal(t, "/var/lib/assistantctl/crashes", cfg.Crashes.ReportsDir)
	assert.Equal(t, "14d", cfg.Crashes.MaxAge)
	assert.Equal(t, 50, cfg.Crashes.MaxCount)

	assert.Equal(t, "/var/log/assistantctl/server.log", cfg.Logging.File)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
}

func TestLoader_Load_Defaults(t *testing.T) {
	configContent := `{
		version: "1.0"
	}`

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), writeTestConfig(t, configContent))
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude", cfg.Supervisor.Command)
	assert.Equal(t, "100ms", cfg.Supervisor.StopGrace)
	assert.Equal(t, "5s", cfg.Supervisor.StopHardDeadline)
	assert.Equal(t, "30s", cfg.Supervisor.HeartbeatInterval)
	assert.NotEmpty(t, cfg.History.Root)
	assert.Equal(t, "crashes", cfg.Crashes.ReportsDir)
	assert.Equal(t, 200, cfg.Crashes.MaxCount)
}

func TestLoader_Load_FileNotFound(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/nonexistent/path/config.hjson")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	configContent := `{
		version: "1.0"
		invalid json here {{{
	}`

	loader := NewLoader()
	path := writeTestConfig(t, configContent)
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	originalWd, _ := os.Getwd()
	defer os.Chdir(originalWd)
	os.Chdir(dir)

	loader := NewLoader()

	_, err := loader.FindConfig()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistantctl.hjson"), []byte(`{}`), 0644))
	path, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "assistantctl.hjson")

	os.Remove(filepath.Join(dir, "assistantctl.hjson"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistantctl.json"), []byte(`{}`), 0644))
	path, err = loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "assistantctl.json")
}

// Helper functions

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := writeTestConfig(t, content)
	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "assistantctl.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
