// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"strconv"
	"strings"
)

// buildArgv computes the subprocess argv per spec.md §6's subprocess
// contract: a print-mode selector, the prompt (or resume selector + prior
// session + message), stream-json in/out selectors, verbose flag, and the
// optional tool/model/system-prompt/max-turns/permission-prompt-tool flags.
func buildArgv(sup Config, cfg StartConfig, resume bool) []string {
	argv := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}

	if resume {
		argv = append(argv, "--resume", cfg.ResumedSessionID)
		argv = append(argv, cfg.Message)
	} else {
		argv = append(argv, cfg.InitialPrompt)
	}

	if cfg.Model != "" {
		argv = append(argv, "--model", cfg.Model)
	}
	if len(cfg.AllowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if len(cfg.DisallowedTools) > 0 {
		argv = append(argv, "--disallowedTools", strings.Join(cfg.DisallowedTools, ","))
	}
	if cfg.SystemPrompt != "" {
		argv = append(argv, "--system-prompt", cfg.SystemPrompt)
	}
	if cfg.MaxTurns > 0 {
		argv = append(argv, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if sup.PermissionPromptTool != "" {
		argv = append(argv, "--permission-prompt-tool", sup.PermissionPromptTool)
	}
	if sup.MCPConfigPath != "" {
		argv = append(argv, "--mcp-config", sup.MCPConfigPath)
	}
	if cfg.WorkingDirectory != "" {
		argv = append(argv, "--add-dir", cfg.WorkingDirectory)
	}

	return argv
}
