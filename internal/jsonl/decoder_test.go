// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package jsonl

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SkipsBlankLines(t *testing.T) {
	in := "\n  \n{\"a\":1}\n\n{\"a\":2}\n"
	d := NewDecoder(strings.NewReader(in))

	var v map[string]int
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 1, v["a"])
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 2, v["a"])
	assert.ErrorIs(t, d.Next(&v), io.EOF)
}

func TestDecoder_ParseErrorThenContinues(t *testing.T) {
	in := "{\"a\":1}\nnot json\n{\"a\":2}\n"
	d := NewDecoder(strings.NewReader(in))

	var v map[string]int
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 1, v["a"])

	err := d.Next(&v)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "not json", string(pe.Line))

	require.NoError(t, d.Next(&v))
	assert.Equal(t, 2, v["a"])
}

func TestDecoder_TrailingNonNewlineLineIsParsed(t *testing.T) {
	// No trailing newline on the final record; it must still be emitted.
	in := "{\"a\":1}"
	d := NewDecoder(strings.NewReader(in))

	var v map[string]int
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 1, v["a"])
	assert.ErrorIs(t, d.Next(&v), io.EOF)
}

func TestDecoder_ChunkBoundaryIndependence(t *testing.T) {
	lines := []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}
	whole := strings.Join(lines, "\n") + "\n"

	want := decodeAll(t, strings.NewReader(whole))

	// Split the byte string at every possible boundary and confirm the
	// decoded sequence never changes.
	for split := 1; split < len(whole); split++ {
		r := io.MultiReader(bytes.NewReader([]byte(whole[:split])), strings.NewReader(whole[split:]))
		got := decodeAll(t, r)
		require.Equal(t, want, got, "split at byte %d", split)
	}
}

func TestDecoder_Reset(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString(`{"a":1}` + "\n")
	d := NewDecoder(buf)

	var v map[string]int
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 1, v["a"])

	buf.WriteString(`{"a":2}` + "\n")
	d.Reset()
	require.NoError(t, d.Next(&v))
	assert.Equal(t, 2, v["a"])
}

func decodeAll(t *testing.T, r io.Reader) []map[string]int {
	t.Helper()
	d := NewDecoder(r)
	var out []map[string]int
	for {
		var v map[string]int
		err := d.Next(&v)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestRawMessages(t *testing.T) {
	in := "{\"a\":1}\n\n{\"b\":2}\n"
	msgs, err := RawMessages(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var a struct{ A int `json:"a"` }
	require.NoError(t, json.Unmarshal(msgs[0], &a))
	assert.Equal(t, 1, a.A)
}
