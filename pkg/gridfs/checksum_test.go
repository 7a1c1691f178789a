// pkg/gridfs/checksum_test.go

package gridfs

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	a, err := newAccumulator("")
	require.NoError(t, err)
	assert.Equal(t, ChecksumMD5, a.algo)

	_, err = a.digest()
	assert.ErrorIs(t, err, ErrFieldNotReady)
	a.update([]byte("hello "))
	a.update([]byte("world"))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", a.finish())
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", a.finish())
	sum, err := a.digest()
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
	assert.Panics(t, func() { a.update([]byte("more")) })

	_, err = newAccumulator("sha1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func drain(t *testing.T, s Source, max int) []string {
	t.Helper()
	var out []string
	for {
		p, err := s.NextChunk(max)
		if len(p) > 0 {
			out = append(out, string(p))
		}
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestSources(t *testing.T) {
	assert.Equal(t, []string{"hel", "lo ", "wor", "ld"}, drain(t, FromBytes([]byte("hello world")), 3))
	assert.Equal(t, []string{"hel", "lo ", "wor", "ld"}, drain(t, FromReader(strings.NewReader("hello world")), 3))
	assert.Empty(t, drain(t, FromBytes(nil), 3))
	assert.Empty(t, drain(t, FromReader(strings.NewReader("")), 3))

	p, err := FromReader(strings.NewReader("x")).NextChunk(0)
	assert.NoError(t, err)
	assert.Empty(t, p)
}
