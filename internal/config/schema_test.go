// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		def      time.Duration
		expected time.Duration
	}{
		{"500ms", 100 * time.Millisecond, 500 * time.Millisecond},
		{"1m", 100 * time.Millisecond, time.Minute},
		{"", 100 * time.Millisecond, 100 * time.Millisecond},
		{"invalid", 100 * time.Millisecond, 100 * time.Millisecond},
		{"1h30m", 100 * time.Millisecond, 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDuration(tt.input, tt.def))
		})
	}
}
