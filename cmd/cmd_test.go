// cmd/cmd_test.go

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixChunkSize(t *testing.T) {
	for kib, want := range map[int]int{
		0:        1 << 10,
		1:        1 << 10,
		3:        2 << 10,
		256:      256 << 10,
		300:      256 << 10,
		64 << 10: 16 << 20,
	} {
		assert.Equal(t, want, fixChunkSize(kib), "%d KiB", kib)
	}
}

func TestParseMetadata(t *testing.T) {
	m, err := parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = parseMetadata([]string{"owner=alice", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"owner": "alice", "note": "a=b"}, m)

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseMetadata([]string{"=x"})
	assert.Error(t, err)
}

func TestFusermountArgs(t *testing.T) {
	assert.Equal(t, []string{"-u", "/mnt/x"}, fusermountArgs("/mnt/x", false))
	assert.Equal(t, []string{"-uz", "/mnt/x"}, fusermountArgs("/mnt/x", true))
}

func TestLocalName(t *testing.T) {
	for stored, want := range map[string]string{
		"report.pdf":     "report.pdf",
		"dir/report.pdf": "report.pdf",
		"../../.bashrc":  ".bashrc",
		"/etc/passwd":    "passwd",
		"..":             "",
		"":               "",
		"a/../..":        "",
		"./notes.txt":    "notes.txt",
	} {
		assert.Equal(t, want, localName(stored), stored)
	}
}
