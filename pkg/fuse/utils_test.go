// pkg/fuse/utils_test.go

package fuse

import (
	"context"
	"syscall"
	"testing"
	"time"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrno(t *testing.T) {
	assert.Equal(t, syscall.Errno(0), errno(nil))
	assert.Equal(t, syscall.ENOENT, errno(errors.Wrap(gridfs.ErrNotFound, "x")))
	assert.Equal(t, syscall.EINVAL, errno(gridfs.ErrInvalidOffset))
	assert.Equal(t, syscall.EINVAL, errno(gridfs.ErrAlreadyClosed))
	assert.Equal(t, syscall.EIO, errno(gridfs.ErrCorruptChunk))
}

func TestAttrToStat(t *testing.T) {
	date := time.UnixMilli(1700000000123)
	var attr fuse.Attr
	attrToStat(&gridfs.FileRecord{Length: 1025, UploadDate: date}, &attr)
	assert.EqualValues(t, syscall.S_IFREG|0444, attr.Mode)
	assert.EqualValues(t, 1025, attr.Size)
	assert.EqualValues(t, 3, attr.Blocks)
	assert.EqualValues(t, date.Unix(), attr.Mtime)

	var dir fuse.Attr
	dirStat(&dir)
	assert.EqualValues(t, syscall.S_IFDIR|0555, dir.Mode)
}

func TestHandleRead(t *testing.T) {
	ctx := context.Background()
	fs, err := gridfs.New(ctx, meta.NewMemStore(), &gridfs.Config{ChunkSize: 4})
	require.NoError(t, err)
	id, err := fs.Put(ctx, gridfs.FromBytes([]byte("hello world")), nil)
	require.NoError(t, err)
	r, err := fs.Open(ctx, id)
	require.NoError(t, err)

	h := &handle{r: r}
	res, st := h.Read(ctx, make([]byte, 5), 3)
	require.Equal(t, syscall.Errno(0), st)
	data, status := res.Bytes(nil)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "lo wo", string(data))

	res, st = h.Read(ctx, make([]byte, 5), 20)
	require.Equal(t, syscall.Errno(0), st)
	data, _ = res.Bytes(nil)
	assert.Empty(t, data)

	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	_, err = r.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, gridfs.ErrAlreadyClosed)
}
