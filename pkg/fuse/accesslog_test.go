// pkg/fuse/accesslog_test.go

package fuse

import (
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLog(t *testing.T) {
	ctx := fuse.NewContext(context.Background(), &fuse.Caller{Owner: fuse.Owner{Uid: 1, Gid: 2}, Pid: 3})
	al := newAccessLog()

	// nobody is reading
	al.logit(ctx, time.Now(), "lookup (%s)", "a")
	r := al.open()
	buf := make([]byte, 1024)
	assert.Equal(t, "#\n", string(buf[:r.read(buf, time.Millisecond)]))

	al.logit(ctx, time.Now(), "lookup (%s)", "b")
	line := string(buf[:r.read(buf, time.Millisecond)])
	assert.Contains(t, line, "[uid:1,gid:2,pid:3] lookup (b) <")
	assert.True(t, strings.HasSuffix(line, ">\n"))
	assert.NotContains(t, line, "lookup (a)")

	// a short buffer keeps the rest for the next read
	al.logit(ctx, time.Now(), "read (%d)", 12345)
	small := make([]byte, 8)
	first := string(small[:r.read(small, time.Millisecond)])
	rest := string(buf[:r.read(buf, time.Millisecond)])
	assert.Len(t, first, 8)
	assert.Contains(t, first+rest, "read (12345)")

	al.close(r)
	al.logit(ctx, time.Now(), "release")
	assert.Empty(t, r.buffer)

	var none *accessLog
	assert.NotPanics(t, func() { none.logit(ctx, time.Now(), "dropped") })
}

func TestAccessLogFile(t *testing.T) {
	ctx := context.Background()
	f := &accessLogFile{log: newAccessLog()}

	var out fuse.AttrOut
	assert.Equal(t, syscall.Errno(0), f.Getattr(ctx, nil, &out))
	assert.EqualValues(t, syscall.S_IFREG|0400, out.Mode)
	_, _, st := f.Open(ctx, syscall.O_WRONLY)
	assert.Equal(t, syscall.EROFS, st)

	fh, flags, st := f.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), st)
	assert.NotZero(t, flags&fuse.FOPEN_DIRECT_IO)
	h := fh.(*logHandle)
	f.log.logit(ctx, time.Now(), "open (%d)", 7)
	res, st := h.Read(ctx, make([]byte, 256), 0)
	require.Equal(t, syscall.Errno(0), st)
	data, _ := res.Bytes(nil)
	assert.Contains(t, string(data), "open (7)")

	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Empty(t, f.log.readers)
}

func TestRootVirtualEntries(t *testing.T) {
	ctx := context.Background()
	fs, err := gridfs.New(ctx, meta.NewMemStore(), nil)
	require.NoError(t, err)
	_, err = fs.Put(ctx, gridfs.FromBytes([]byte("hello")), &gridfs.Options{Name: "greeting"})
	require.NoError(t, err)

	r := &root{fs: fs, log: newAccessLog()}
	gofs.NewNodeFS(r, &gofs.Options{})
	reader := r.log.open()

	var out fuse.EntryOut
	ch, st := r.Lookup(ctx, AccessLog, &out)
	require.Equal(t, syscall.Errno(0), st)
	assert.IsType(t, &accessLogFile{}, ch.Operations())
	assert.EqualValues(t, syscall.S_IFREG|0400, out.Mode)

	ch, st = r.Lookup(ctx, IDDir, &out)
	require.Equal(t, syscall.Errno(0), st)
	assert.IsType(t, &idDir{}, ch.Operations())

	ch, st = r.Lookup(ctx, "greeting", &out)
	require.Equal(t, syscall.Errno(0), st)
	assert.IsType(t, &file{}, ch.Operations())
	assert.EqualValues(t, 5, out.Size)
	_, st = r.Lookup(ctx, "missing", &out)
	assert.Equal(t, syscall.ENOENT, st)

	buf := make([]byte, 4096)
	lines := string(buf[:reader.read(buf, time.Millisecond)])
	assert.Contains(t, lines, "lookup (greeting)")
	assert.Contains(t, lines, "lookup (missing)")
	assert.NotContains(t, lines, "lookup (.accesslog)")

	ds, st := r.Readdir(ctx)
	require.Equal(t, syscall.Errno(0), st)
	var names []string
	for ds.HasNext() {
		e, _ := ds.Next()
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{IDDir, AccessLog, "greeting"}, names)
}
