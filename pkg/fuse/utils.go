// pkg/fuse/utils.go

package fuse

import (
	"syscall"

	"AveGrid/pkg/gridfs"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
)

const blockSize = 0x10000

func attrToStat(rec *gridfs.FileRecord, out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | 0444
	out.Nlink = 1
	out.Size = uint64(rec.Length)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize
	t := rec.UploadDate
	out.SetTimes(&t, &t, &t)
}

func dirStat(out *fuse.Attr) {
	out.Mode = syscall.S_IFDIR | 0555
	out.Nlink = 2
	out.Blksize = blockSize
}

// errno maps store errors to what the kernel understands.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gridfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, gridfs.ErrInvalidOffset), errors.Is(err, gridfs.ErrInvalidInput):
		return syscall.EINVAL
	default:
		logger.Errorf("fuse: %s", err)
		return syscall.EIO
	}
}
