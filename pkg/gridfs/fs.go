// pkg/gridfs/fs.go

package gridfs

import (
	"context"
	"sort"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/meta"
	"AveGrid/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("avegrid")

// DefaultChunkSize is used when neither the bucket nor the file sets one.
const DefaultChunkSize = 256 << 10

// Config of a bucket.
type Config struct {
	Prefix    string // collections are <Prefix>.files and <Prefix>.chunks
	ChunkSize int
	Checksum  string
	Chunk     chunk.Config
}

// FS is a bucket of files stored in a meta.Store.
type FS struct {
	conf   Config
	meta   meta.Store
	files  meta.Collection
	chunks chunk.Store
}

// New opens the bucket described by conf, creating its indexes.
func New(ctx context.Context, m meta.Store, conf *Config) (*FS, error) {
	c := Config{}
	if conf != nil {
		c = *conf
	}
	if c.Prefix == "" {
		c.Prefix = "fs"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize < 0 || c.ChunkSize > chunk.MaxSize {
		return nil, errors.Wrapf(ErrInvalidInput, "chunk size %d", c.ChunkSize)
	}
	if c.Checksum == "" {
		c.Checksum = ChecksumMD5
	}
	if _, err := newAccumulator(c.Checksum); err != nil {
		return nil, err
	}
	chunks := meta.Collection(c.Prefix + ".chunks")
	fs := &FS{
		conf:   c,
		meta:   m,
		files:  meta.Collection(c.Prefix + ".files"),
		chunks: chunk.NewStore(m, chunks, &c.Chunk),
	}
	for _, idx := range chunk.Indexes() {
		if err := m.EnsureIndex(ctx, chunks, idx); err != nil {
			return nil, errors.Wrapf(err, "index %s", idx.Name)
		}
	}
	byName := meta.Index{Name: "filename_uploadDate", Fields: []string{FieldFilename}, Order: FieldUploadDate}
	if err := m.EnsureIndex(ctx, fs.files, byName); err != nil {
		return nil, errors.Wrapf(err, "index %s", byName.Name)
	}
	logger.Debugf("opened bucket %s on %s: chunk size %d, %s", c.Prefix, m.Name(), c.ChunkSize, c.Checksum)
	return fs, nil
}

// Create starts a new file. Nothing is visible until the writer is closed.
func (fs *FS) Create(ctx context.Context, opts *Options) (*Writer, error) {
	return newWriter(ctx, fs, opts)
}

// Put stores everything from src as one file and returns its id.
func (fs *FS) Put(ctx context.Context, src Source, opts *Options) (interface{}, error) {
	w, err := fs.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err = w.WriteSource(src); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return w.ID(), nil
}

// Open returns a reader of the file with the given id.
func (fs *FS) Open(ctx context.Context, id interface{}) (*Reader, error) {
	nid, err := meta.Normalize(id)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid id %v", id)
	}
	r, err := fs.meta.FindOne(ctx, fs.files, meta.Filter{FieldID: nid})
	if errors.Is(err, meta.ErrNoRecord) {
		return nil, errors.Wrapf(ErrNotFound, "file %v", id)
	}
	if err != nil {
		return nil, err
	}
	return fs.OpenRecord(ctx, r)
}

// OpenRecord returns a reader of a file record that was already fetched.
func (fs *FS) OpenRecord(ctx context.Context, r meta.Record) (*Reader, error) {
	rec, err := parseRecord(r)
	if err != nil {
		return nil, err
	}
	return newReader(ctx, fs, rec), nil
}

// OpenByName returns a reader of one version of the files named name.
// Versions count from 0 for the oldest, negative versions from -1 for the
// newest. Files closed in the same millisecond are ordered by id.
func (fs *FS) OpenByName(ctx context.Context, name string, version int) (*Reader, error) {
	desc := version < 0
	opts := &meta.FindOptions{
		Sort:  []meta.Order{{Field: FieldUploadDate, Desc: desc}, {Field: FieldID, Desc: desc}},
		Skip:  version,
		Limit: 1,
	}
	if desc {
		opts.Skip = -version - 1
	}
	rs, err := fs.meta.FindMany(ctx, fs.files, meta.Filter{FieldFilename: name}, opts)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "version %d of %q", version, name)
	}
	return fs.OpenRecord(ctx, rs[0])
}

// Exists reports whether a file matches. q is either an id or a meta.Filter.
func (fs *FS) Exists(ctx context.Context, q interface{}) (bool, error) {
	f, ok := q.(meta.Filter)
	if !ok {
		id, err := meta.Normalize(q)
		if err != nil {
			return false, errors.Wrapf(ErrInvalidInput, "invalid id %v", q)
		}
		f = meta.Filter{FieldID: id}
	}
	_, err := fs.meta.FindOne(ctx, fs.files, f)
	if errors.Is(err, meta.ErrNoRecord) {
		return false, nil
	}
	return err == nil, err
}

// Find returns the file records matching f. Records that cannot be read
// back are skipped.
func (fs *FS) Find(ctx context.Context, f meta.Filter, opts *meta.FindOptions) ([]*FileRecord, error) {
	rs, err := fs.meta.FindMany(ctx, fs.files, f, opts)
	if err != nil {
		return nil, err
	}
	recs := make([]*FileRecord, 0, len(rs))
	for _, r := range rs {
		rec, err := parseRecord(r)
		if err != nil {
			logger.Warnf("skip file record %v: %s", r[FieldID], err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// List returns the distinct file names in the bucket, sorted.
func (fs *FS) List(ctx context.Context) ([]string, error) {
	rs, err := fs.meta.FindMany(ctx, fs.files, meta.Filter{FieldFilename: meta.Ne(nil)}, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, r := range rs {
		if name, ok := r[FieldFilename].(string); ok {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a file and its chunks. The file record goes first, so an
// interrupted delete leaves orphans rather than a broken file.
func (fs *FS) Delete(ctx context.Context, id interface{}) error {
	nid, err := meta.Normalize(id)
	if err != nil {
		return errors.Wrapf(ErrInvalidInput, "invalid id %v", id)
	}
	if _, err = fs.meta.DeleteMany(ctx, fs.files, meta.Filter{FieldID: nid}); err != nil {
		return errors.Wrapf(err, "delete file %v", id)
	}
	n, err := fs.chunks.Remove(ctx, nid)
	if err != nil {
		return errors.Wrapf(err, "delete chunks of %v", id)
	}
	logger.Debugf("deleted file %v with %d chunks", id, n)
	return nil
}

// Orphan describes chunks whose file was never committed or was deleted
// halfway.
type Orphan struct {
	FileID interface{}
	Chunks int
	Size   int64
}

// Orphans lists chunks without a file record.
func (fs *FS) Orphans(ctx context.Context) ([]Orphan, error) {
	cs, err := fs.meta.FindMany(ctx, meta.Collection(fs.conf.Prefix+".chunks"), nil, nil)
	if err != nil {
		return nil, err
	}
	byFile := make(map[string]*Orphan)
	var order []string
	for _, r := range cs {
		c, err := chunk.Decode(r)
		if err != nil {
			logger.Warnf("skip chunk %v: %s", r[chunk.FieldID], err)
			continue
		}
		k, err := meta.Marshal(meta.Record{"k": c.FileID})
		if err != nil {
			return nil, err
		}
		o := byFile[string(k)]
		if o == nil {
			o = &Orphan{FileID: c.FileID}
			byFile[string(k)] = o
			order = append(order, string(k))
		}
		o.Chunks++
		o.Size += int64(len(c.Data))
	}
	var orphans []Orphan
	for _, k := range order {
		o := byFile[k]
		ok, err := fs.Exists(ctx, meta.Filter{FieldID: o.FileID})
		if err != nil {
			return nil, err
		}
		if !ok {
			orphans = append(orphans, *o)
		}
	}
	return orphans, nil
}

// RemoveChunks deletes the chunks of fileID, typically an orphan.
func (fs *FS) RemoveChunks(ctx context.Context, fileID interface{}) (int64, error) {
	return fs.chunks.Remove(ctx, fileID)
}

// ChunkSize is the bucket default.
func (fs *FS) ChunkSize() int {
	return fs.conf.ChunkSize
}

// CacheUsed is the payload size held by the shared chunk cache.
func (fs *FS) CacheUsed() int64 {
	return fs.chunks.UsedMemory()
}
