// pkg/fuse/fs.go

package fuse

import (
	"context"
	"strconv"
	"strings"
	"syscall"
	"time"

	"AveGrid/pkg/gridfs"
	"AveGrid/pkg/meta"
	"AveGrid/pkg/utils"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var logger = utils.GetLogger("avegrid")

// IDDir lists every file by its id, next to the newest version of each
// name in the root.
const IDDir = ".id"

// Config of a mount.
type Config struct {
	Mountpoint string
	Name       string // volume name shown in the mount table
	Options    string // comma separated FUSE options
	AttrTimeout,
	EntryTimeout,
	DirEntryTimeout time.Duration
	AllowOther bool
	Debug      bool
}

type root struct {
	gofs.Inode
	fs  *gridfs.FS
	log *accessLog
}

var _ gofs.NodeOnAdder = (*root)(nil)
var _ gofs.NodeLookuper = (*root)(nil)
var _ gofs.NodeReaddirer = (*root)(nil)
var _ gofs.NodeGetattrer = (*root)(nil)

func (r *root) OnAdd(ctx context.Context) {
	ids := r.NewPersistentInode(ctx, &idDir{fs: r.fs, log: r.log}, gofs.StableAttr{Mode: syscall.S_IFDIR})
	r.AddChild(IDDir, ids, true)
	al := r.NewPersistentInode(ctx, &accessLogFile{log: r.log}, gofs.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild(AccessLog, al, true)
}

func (r *root) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	dirStat(&out.Attr)
	return 0
}

func (r *root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (ino *gofs.Inode, st syscall.Errno) {
	// the virtual entries added in OnAdd are not looked up by the bridge
	// once a node implements Lookup
	if ch := r.GetChild(name); ch != nil {
		if ga, ok := ch.Operations().(gofs.NodeGetattrer); ok {
			var a fuse.AttrOut
			ga.Getattr(ctx, nil, &a)
			out.Attr = a.Attr
		}
		return ch, 0
	}
	defer func(start time.Time) { r.log.logit(ctx, start, "lookup (%s): %s", name, st) }(time.Now())
	rd, err := r.fs.OpenByName(ctx, name, -1)
	if err != nil {
		return nil, errno(err)
	}
	rec := rd.Record()
	_ = rd.Close()
	return newFile(ctx, &r.Inode, r.fs, r.log, &rec, out), 0
}

func (r *root) Readdir(ctx context.Context) (ds gofs.DirStream, st syscall.Errno) {
	var n int
	defer func(start time.Time) { r.log.logit(ctx, start, "readdir (/): %s (%d)", st, n) }(time.Now())
	names, err := r.fs.List(ctx)
	if err != nil {
		return nil, errno(err)
	}
	entries := []fuse.DirEntry{{Name: IDDir, Mode: syscall.S_IFDIR}, {Name: AccessLog, Mode: syscall.S_IFREG}}
	for _, name := range names {
		if name == "" || name == IDDir || name == AccessLog || strings.ContainsRune(name, '/') {
			logger.Debugf("file name %q cannot be shown", name)
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFREG})
	}
	n = len(entries)
	return gofs.NewListDirStream(entries), 0
}

type idDir struct {
	gofs.Inode
	fs  *gridfs.FS
	log *accessLog
}

var _ gofs.NodeLookuper = (*idDir)(nil)
var _ gofs.NodeReaddirer = (*idDir)(nil)
var _ gofs.NodeGetattrer = (*idDir)(nil)

func (d *idDir) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	dirStat(&out.Attr)
	return 0
}

// Lookup tries name as a string id first and then as an integer id.
func (d *idDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (ino *gofs.Inode, st syscall.Errno) {
	defer func(start time.Time) { d.log.logit(ctx, start, "lookup (%s/%s): %s", IDDir, name, st) }(time.Now())
	candidates := []interface{}{name}
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		candidates = append(candidates, n)
	}
	for _, id := range candidates {
		recs, err := d.fs.Find(ctx, meta.Filter{gridfs.FieldID: id}, &meta.FindOptions{Limit: 1})
		if err != nil {
			return nil, errno(err)
		}
		if len(recs) > 0 {
			return newFile(ctx, &d.Inode, d.fs, d.log, recs[0], out), 0
		}
	}
	return nil, syscall.ENOENT
}

func (d *idDir) Readdir(ctx context.Context) (ds gofs.DirStream, st syscall.Errno) {
	var n int
	defer func(start time.Time) { d.log.logit(ctx, start, "readdir (%s): %s (%d)", IDDir, st, n) }(time.Now())
	recs, err := d.fs.Find(ctx, nil, nil)
	if err != nil {
		return nil, errno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(recs))
	for _, rec := range recs {
		switch id := rec.ID.(type) {
		case string:
			if id != "" && !strings.ContainsRune(id, '/') {
				entries = append(entries, fuse.DirEntry{Name: id, Mode: syscall.S_IFREG})
			}
		case int64, uint64:
			entries = append(entries, fuse.DirEntry{Name: strconv.FormatInt(toInt64(id), 10), Mode: syscall.S_IFREG})
		}
	}
	n = len(entries)
	return gofs.NewListDirStream(entries), 0
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case uint64:
		return int64(x)
	}
	return 0
}

type file struct {
	gofs.Inode
	fs  *gridfs.FS
	log *accessLog
	rec *gridfs.FileRecord
}

var _ gofs.NodeGetattrer = (*file)(nil)
var _ gofs.NodeOpener = (*file)(nil)

func newFile(ctx context.Context, parent *gofs.Inode, fs *gridfs.FS, log *accessLog, rec *gridfs.FileRecord, out *fuse.EntryOut) *gofs.Inode {
	attrToStat(rec, &out.Attr)
	return parent.NewInode(ctx, &file{fs: fs, log: log, rec: rec}, gofs.StableAttr{Mode: syscall.S_IFREG})
}

func (f *file) Getattr(ctx context.Context, fh gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attrToStat(f.rec, &out.Attr)
	return 0
}

func (f *file) Open(ctx context.Context, flags uint32) (fh gofs.FileHandle, fl uint32, st syscall.Errno) {
	defer func(start time.Time) { f.log.logit(ctx, start, "open (%v,%#x): %s", f.rec.ID, flags, st) }(time.Now())
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// the handle outlives the request, so it must not use its context
	r, err := f.fs.OpenRecord(context.Background(), f.rec.Record())
	if err != nil {
		return nil, 0, errno(err)
	}
	return &handle{r: r, log: f.log}, fuse.FOPEN_KEEP_CACHE, 0
}

type handle struct {
	r   *gridfs.Reader
	log *accessLog
}

var _ gofs.FileReader = (*handle)(nil)
var _ gofs.FileReleaser = (*handle)(nil)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (rr fuse.ReadResult, st syscall.Errno) {
	var n int
	defer func(start time.Time) {
		h.log.logit(ctx, start, "read (%v,%d,%d): %s (%d)", h.r.ID(), len(dest), off, st, n)
	}(time.Now())
	n, err := h.r.ReadAt(dest, off)
	if err != nil && n == 0 && off < h.r.Length() {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	defer func(start time.Time) { h.log.logit(ctx, start, "release (%v)", h.r.ID()) }(time.Now())
	return errno(h.r.Close())
}

// Serve mounts fs read-only and blocks until it is unmounted.
func Serve(fs *gridfs.FS, conf *Config) error {
	opts := &gofs.Options{
		AttrTimeout:     &conf.AttrTimeout,
		EntryTimeout:    &conf.EntryTimeout,
		NegativeTimeout: &conf.DirEntryTimeout,
		MountOptions: fuse.MountOptions{
			FsName:        conf.Name,
			Name:          "avegrid",
			AllowOther:    conf.AllowOther,
			Debug:         conf.Debug,
			DisableXAttrs: true,
			MaxReadAhead:  1 << 20,
			Options:       []string{"ro"},
		},
	}
	for _, o := range strings.Split(conf.Options, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts.MountOptions.Options = append(opts.MountOptions.Options, o)
		}
	}
	server, err := gofs.Mount(conf.Mountpoint, &root{fs: fs, log: newAccessLog()}, opts)
	if err != nil {
		return err
	}
	logger.Infof("%s is mounted read-only at %s", conf.Name, conf.Mountpoint)
	server.Wait()
	return nil
}
