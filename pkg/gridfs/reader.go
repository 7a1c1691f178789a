// pkg/gridfs/reader.go

package gridfs

import (
	"bytes"
	"context"
	"io"
	"iter"
	"sync"
	"time"

	"AveGrid/pkg/chunk"

	"github.com/pkg/errors"
)

// Reader serves a closed file through a movable position. It keeps the
// chunk under the position in memory and fetches others on demand.
type Reader struct {
	ctx context.Context
	fs  *FS
	rec *FileRecord

	mu     sync.Mutex
	pos    int64
	cur    int // index of the chunk in data, -1 when none
	data   []byte
	closed bool
}

func newReader(ctx context.Context, fs *FS, rec *FileRecord) *Reader {
	return &Reader{ctx: ctx, fs: fs, rec: rec, cur: -1}
}

// fetch returns chunk n, checking its size against the file record.
func (r *Reader) fetch(n int) ([]byte, error) {
	if n == r.cur {
		return r.data, nil
	}
	data, err := r.fs.chunks.Get(r.ctx, r.rec.ID, n)
	if errors.Is(err, chunk.ErrNoChunk) {
		return nil, errors.Wrapf(ErrCorruptChunk, "file %v misses chunk %d", r.rec.ID, n)
	}
	if err != nil {
		return nil, err
	}
	if want := chunk.Expected(n, r.rec.Length, r.rec.ChunkSize); len(data) != want {
		return nil, errors.Wrapf(ErrCorruptChunk, "chunk %d of %v has %d bytes, expected %d", n, r.rec.ID, len(data), want)
	}
	r.cur, r.data = n, data
	return data, nil
}

// readAt copies bytes at off into p, stopping at the end of the file.
func (r *Reader) readAt(p []byte, off int64) (int, error) {
	var done int
	for done < len(p) && off < r.rec.Length {
		idx, in := chunk.Locate(off, r.rec.ChunkSize)
		data, err := r.fetch(idx)
		if err != nil {
			return done, err
		}
		n := copy(p[done:], data[in:])
		done += n
		off += int64(n)
	}
	return done, nil
}

func (r *Reader) remaining() int64 {
	if r.pos >= r.rec.Length {
		return 0
	}
	return r.rec.Length - r.pos
}

// ReadN returns up to n bytes from the position and advances it. A negative
// n reads to the end. At or past the end the result is empty.
func (r *Reader) ReadN(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.WithStack(ErrAlreadyClosed)
	}
	rest := r.remaining()
	if n < 0 || int64(n) > rest {
		n = int(rest)
	}
	p := make([]byte, n)
	got, err := r.readAt(p, r.pos)
	r.pos += int64(got)
	return p[:got], err
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.WithStack(ErrAlreadyClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.remaining() == 0 {
		return 0, io.EOF
	}
	n, err := r.readAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// ReadAt implements io.ReaderAt; the position is left alone.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrInvalidOffset, "offset %d", off)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.WithStack(ErrAlreadyClosed)
	}
	n, err := r.readAt(p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// ReadLine returns the bytes up to and including the next '\n', at most
// size bytes when size is positive.
func (r *Reader) ReadLine(size int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.WithStack(ErrAlreadyClosed)
	}
	var line []byte
	for r.pos < r.rec.Length && (size <= 0 || len(line) < size) {
		idx, in := chunk.Locate(r.pos, r.rec.ChunkSize)
		data, err := r.fetch(idx)
		if err != nil {
			return line, err
		}
		seg := data[in:]
		if size > 0 && len(seg) > size-len(line) {
			seg = seg[:size-len(line)]
		}
		if i := bytes.IndexByte(seg, '\n'); i >= 0 {
			seg = seg[:i+1]
			line = append(line, seg...)
			r.pos += int64(len(seg))
			break
		}
		line = append(line, seg...)
		r.pos += int64(len(seg))
	}
	if line == nil {
		line = []byte{}
	}
	return line, nil
}

// Seek moves the position. Positions past the end are allowed and read
// nothing.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = r.rec.Length
	default:
		return r.pos, errors.Wrapf(ErrInvalidInput, "whence %d", whence)
	}
	if base+offset < 0 {
		return r.pos, errors.Wrapf(ErrInvalidOffset, "seek to %d", base+offset)
	}
	r.pos = base + offset
	return r.pos, nil
}

// Tell returns the position.
func (r *Reader) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Chunks yields whole chunks, starting with the one holding the position,
// up to the end of the file. The position does not move. Each call starts
// a new pass.
func (r *Reader) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		r.mu.Lock()
		start := r.pos
		r.mu.Unlock()
		if start >= r.rec.Length {
			return
		}
		first, _ := chunk.Locate(start, r.rec.ChunkSize)
		total := chunk.Count(r.rec.Length, r.rec.ChunkSize)
		for n := first; n < total; n++ {
			r.mu.Lock()
			var data []byte
			var err error
			if r.closed {
				err = errors.WithStack(ErrAlreadyClosed)
			} else if data, err = r.fetch(n); err == nil {
				data = append([]byte(nil), data...)
			}
			r.mu.Unlock()
			if !yield(data, err) || err != nil {
				return
			}
		}
	}
}

// WriteTo copies the rest of the file to w chunk by chunk and moves the
// position to the end.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.WithStack(ErrAlreadyClosed)
	}
	var total int64
	for r.pos < r.rec.Length {
		idx, in := chunk.Locate(r.pos, r.rec.ChunkSize)
		data, err := r.fetch(idx)
		if err != nil {
			return total, err
		}
		n, err := w.Write(data[in:])
		total += int64(n)
		r.pos += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close drops the cached chunk. Further reads fail.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cur, r.data = -1, nil
	return nil
}

func (r *Reader) ID() interface{}       { return r.rec.ID }
func (r *Reader) Length() int64         { return r.rec.Length }
func (r *Reader) ChunkSize() int        { return r.rec.ChunkSize }
func (r *Reader) UploadDate() time.Time { return r.rec.UploadDate }
func (r *Reader) Checksum() string      { return r.rec.Checksum }
func (r *Reader) ChecksumAlgo() string  { return r.rec.ChecksumAlgo }
func (r *Reader) Name() string          { return r.rec.Filename }
func (r *Reader) ContentType() string   { return r.rec.ContentType }
func (r *Reader) Aliases() []string     { return r.rec.Aliases }
func (r *Reader) Record() FileRecord    { return *r.rec }
func (r *Reader) Metadata() map[string]interface{} {
	return r.rec.Metadata
}

// Get returns a field by its record name.
func (r *Reader) Get(key string) (interface{}, error) {
	v, ok := r.rec.get(key)
	if !ok {
		return nil, errors.Wrap(ErrUnknownField, key)
	}
	return v, nil
}

// Set always fails: a stored file cannot be changed through a reader.
func (r *Reader) Set(key string, value interface{}) error {
	return errors.Wrap(ErrImmutable, key)
}
