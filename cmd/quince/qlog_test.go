package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintQlog(t *testing.T) {
	input := strings.NewReader(
		`{"time":"2026-07-31T00:00:00Z","level":"debug","msg":"recv_frame","cid":"abc123","frame_type":"stream","stream_id":4}` + "\n" +
			`not json` + "\n" +
			`{"time":"2026-07-31T00:00:01Z","level":"info","msg":"handshake_done","cid":"abc123"}` + "\n",
	)
	var out bytes.Buffer
	err := printQlog(&out, input)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2, "the malformed line is skipped")
	assert.Contains(t, lines[0], "recv_frame")
	assert.Contains(t, lines[0], "cid=abc123")
	assert.Contains(t, lines[0], "frame_type=stream")
	assert.Contains(t, lines[1], "handshake_done")
}
