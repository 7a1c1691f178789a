// pkg/fuse/accesslog.go

package fuse

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"AveGrid/pkg/utils"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// AccessLog is the virtual file in the root streaming the operations served
// by the mount.
const AccessLog = ".accesslog"

const slowOperation = time.Second * 10

type logReader struct {
	sync.Mutex
	buffer chan []byte
	last   []byte
}

type accessLog struct {
	sync.Mutex
	readers map[*logReader]struct{}
}

func newAccessLog() *accessLog {
	return &accessLog{readers: make(map[*logReader]struct{})}
}

// logit records an operation that started at start. Lines are only built
// when someone reads the log or the operation was slow. A nil log drops
// everything.
func (a *accessLog) logit(ctx context.Context, start time.Time, format string, args ...interface{}) {
	if a == nil {
		return
	}
	used := time.Since(start)
	a.Lock()
	defer a.Unlock()
	if len(a.readers) == 0 && used < slowOperation {
		return
	}

	cmd := fmt.Sprintf(format, args...)
	cmd += fmt.Sprintf(" <%.6f>", used.Seconds())
	var caller fuse.Caller
	if c, ok := fuse.FromContext(ctx); ok {
		caller = *c
	}
	if caller.Pid != 0 && used >= slowOperation {
		logger.Infof("slow operation: %s", cmd)
	}
	ts := utils.Now().Format("2006.01.02 15:04:05.000000")
	line := []byte(fmt.Sprintf("%s [uid:%d,gid:%d,pid:%d] %s\n", ts, caller.Uid, caller.Gid, caller.Pid, cmd))
	for r := range a.readers {
		select {
		case r.buffer <- line:
		default:
		}
	}
}

func (a *accessLog) open() *logReader {
	r := &logReader{buffer: make(chan []byte, 10240)}
	a.Lock()
	a.readers[r] = struct{}{}
	a.Unlock()
	return r
}

func (a *accessLog) close(r *logReader) {
	a.Lock()
	delete(a.readers, r)
	a.Unlock()
}

// read fills buf with pending lines. When nothing arrives within wait it
// returns a "#" line so readers like tail keep going.
func (r *logReader) read(buf []byte, wait time.Duration) int {
	r.Lock()
	defer r.Unlock()
	var n int
	if len(r.last) > 0 {
		n = copy(buf, r.last)
		r.last = r.last[n:]
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	for n < len(buf) {
		select {
		case line := <-r.buffer:
			l := copy(buf[n:], line)
			n += l
			if l < len(line) {
				r.last = line[l:]
				return n
			}
		case <-t.C:
			if n == 0 {
				n = copy(buf, "#\n")
			}
			return n
		}
	}
	return n
}

type accessLogFile struct {
	gofs.Inode
	log *accessLog
}

var _ gofs.NodeGetattrer = (*accessLogFile)(nil)
var _ gofs.NodeOpener = (*accessLogFile)(nil)

func (f *accessLogFile) Getattr(ctx context.Context, fh gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0400
	out.Nlink = 1
	out.Blksize = blockSize
	return 0
}

func (f *accessLogFile) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return &logHandle{log: f.log, r: f.log.open()}, fuse.FOPEN_DIRECT_IO, 0
}

type logHandle struct {
	log *accessLog
	r   *logReader
}

var _ gofs.FileReader = (*logHandle)(nil)
var _ gofs.FileReleaser = (*logHandle)(nil)

func (h *logHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n := h.r.read(dest, time.Second)
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *logHandle) Release(ctx context.Context) syscall.Errno {
	h.log.close(h.r)
	return 0
}
