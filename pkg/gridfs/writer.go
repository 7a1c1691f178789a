// pkg/gridfs/writer.go

package gridfs

import (
	"context"
	"io"
	"time"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/meta"
	"AveGrid/pkg/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Options of a new file.
type Options struct {
	ID          interface{} // a UUIDv7 string when nil
	Name        string
	ContentType string
	ChunkSize   int // bucket default when zero
	Aliases     []string
	Metadata    map[string]interface{}
	// Extra holds arbitrary fields. Names of descriptive fields set them,
	// names of write-once fields are rejected.
	Extra    map[string]interface{}
	Encoding string // IANA name of the encoding used by WriteText
	Checksum string // md5 (default) or blake3
}

type state uint8

const (
	stateOpen state = iota
	stateClosed
)

// Writer splits a byte stream into chunks. The file record is committed
// by Close, before that the file is invisible to readers.
type Writer struct {
	ctx      context.Context
	fs       *FS
	rec      FileRecord
	state    state
	buf      []byte
	next     int // index of the next chunk
	length   int64
	sum      *accumulator
	encoding string
}

func newWriter(ctx context.Context, fs *FS, opts *Options) (*Writer, error) {
	if opts == nil {
		opts = &Options{}
	}
	o := *opts
	w := &Writer{ctx: ctx, fs: fs, encoding: o.Encoding}

	for k, v := range o.Extra {
		kind, known := knownFields[k]
		if !known {
			continue
		}
		if kind == fieldWriteOnce {
			return nil, errors.Wrapf(ErrInvalidInput, "%s is set when the file is closed", k)
		}
		if err := o.take(k, v); err != nil {
			return nil, err
		}
	}

	if o.ID == nil {
		// time-ordered, so versions closed within one millisecond keep their order
		u, err := uuid.NewV7()
		if err != nil {
			return nil, errors.Wrap(err, "generate id")
		}
		o.ID = u.String()
	}
	id, err := meta.Normalize(o.ID)
	if err != nil || id == nil {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid id %v", o.ID)
	}
	w.rec.ID = id

	if o.ChunkSize == 0 {
		o.ChunkSize = fs.conf.ChunkSize
	}
	if o.ChunkSize <= 0 || o.ChunkSize > chunk.MaxSize {
		return nil, errors.Wrapf(ErrInvalidInput, "chunk size must be in (0, %d], got %d", chunk.MaxSize, o.ChunkSize)
	}
	w.rec.ChunkSize = o.ChunkSize

	if o.Checksum == "" {
		o.Checksum = fs.conf.Checksum
	}
	if w.sum, err = newAccumulator(o.Checksum); err != nil {
		return nil, err
	}
	w.rec.ChecksumAlgo = w.sum.algo

	if o.Encoding != "" {
		if _, err := lookupEncoding(o.Encoding); err != nil {
			return nil, err
		}
	}

	w.rec.Filename = o.Name
	w.rec.ContentType = o.ContentType
	if o.Aliases != nil {
		w.rec.Aliases = append([]string{}, o.Aliases...)
	}
	if o.Metadata != nil {
		if err := w.rec.setDescriptive(FieldMetadata, o.Metadata); err != nil {
			return nil, err
		}
	}
	for k, v := range o.Extra {
		if _, known := knownFields[k]; known {
			continue
		}
		if err := w.rec.setDescriptive(k, v); err != nil {
			return nil, err
		}
	}
	w.buf = make([]byte, 0, w.rec.ChunkSize)
	return w, nil
}

// take moves a named field given in Extra to its option. A field given both
// ways is rejected.
func (o *Options) take(k string, v interface{}) error {
	twice := errors.Wrapf(ErrInvalidInput, "%s is given twice", k)
	badType := errors.Wrapf(ErrInvalidInput, "%s cannot be a %T", k, v)
	switch k {
	case FieldID:
		if o.ID != nil {
			return twice
		}
		o.ID = v
	case FieldChunkSize:
		if o.ChunkSize != 0 {
			return twice
		}
		cs, ok := toInt64(v)
		if !ok || cs <= 0 || cs > chunk.MaxSize {
			return errors.Wrapf(ErrInvalidInput, "chunkSize %v", v)
		}
		o.ChunkSize = int(cs)
	case FieldChecksumAlgo:
		if o.Checksum != "" {
			return twice
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return badType
		}
		o.Checksum = s
	case FieldFilename, FieldContentType:
		dst := &o.Name
		if k == FieldContentType {
			dst = &o.ContentType
		}
		if *dst != "" {
			return twice
		}
		s, ok := v.(string)
		if !ok {
			return badType
		}
		*dst = s
	case FieldAliases:
		if o.Aliases != nil {
			return twice
		}
		a, ok := v.([]string)
		if !ok {
			return badType
		}
		o.Aliases = a
	case FieldMetadata:
		if o.Metadata != nil {
			return twice
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return badType
		}
		o.Metadata = m
	}
	return nil
}

// lookupEncoding resolves an IANA charset name. Names the index knows but
// cannot encode are unsupported as well.
func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.Wrapf(ErrInvalidInput, "unsupported encoding %q", name)
	}
	return enc, nil
}

// ID returns the identity of the file.
func (w *Writer) ID() interface{} {
	return w.rec.ID
}

func (w *Writer) ChunkSize() int {
	return w.rec.ChunkSize
}

func (w *Writer) ChecksumAlgo() string {
	return w.rec.ChecksumAlgo
}

// Closed reports whether Close has committed the file.
func (w *Writer) Closed() bool {
	return w.state == stateClosed
}

func (w *Writer) notReady(field string) error {
	return errors.Wrap(ErrFieldNotReady, field)
}

// Length is the number of bytes written, known once closed.
func (w *Writer) Length() (int64, error) {
	if w.state != stateClosed {
		return 0, w.notReady(FieldLength)
	}
	return w.rec.Length, nil
}

// UploadDate is the time the file was closed.
func (w *Writer) UploadDate() (time.Time, error) {
	if w.state != stateClosed {
		return time.Time{}, w.notReady(FieldUploadDate)
	}
	return w.rec.UploadDate, nil
}

// Checksum is the hex digest of the content, known once closed.
func (w *Writer) Checksum() (string, error) {
	if w.state != stateClosed {
		return "", w.notReady(FieldChecksum)
	}
	return w.sum.digest()
}

func (w *Writer) Name() string        { return w.rec.Filename }
func (w *Writer) ContentType() string { return w.rec.ContentType }
func (w *Writer) Aliases() []string   { return w.rec.Aliases }

func (w *Writer) Metadata() map[string]interface{} { return w.rec.Metadata }

func (w *Writer) SetName(name string) error                  { return w.Set(FieldFilename, name) }
func (w *Writer) SetContentType(ct string) error             { return w.Set(FieldContentType, ct) }
func (w *Writer) SetAliases(aliases []string) error          { return w.Set(FieldAliases, aliases) }
func (w *Writer) SetMetadata(m map[string]interface{}) error { return w.Set(FieldMetadata, m) }

// Get returns any field of the file by its record name.
func (w *Writer) Get(key string) (interface{}, error) {
	if kind, known := knownFields[key]; known && kind == fieldWriteOnce && w.state != stateClosed {
		return nil, w.notReady(key)
	}
	v, ok := w.rec.get(key)
	if !ok {
		return nil, errors.Wrap(ErrUnknownField, key)
	}
	return v, nil
}

// Set changes a descriptive or extra field. After Close the change is
// saved to the file record.
func (w *Writer) Set(key string, value interface{}) error {
	if kind, known := knownFields[key]; known && kind != fieldDescriptive {
		return errors.Wrap(ErrImmutable, key)
	}
	old, had := w.rec.get(key)
	if err := w.rec.setDescriptive(key, value); err != nil {
		return err
	}
	if w.state != stateClosed {
		return nil
	}
	v, _ := w.rec.get(key)
	if _, err := w.fs.meta.UpdateOne(w.ctx, w.fs.files, meta.Filter{FieldID: w.rec.ID}, meta.Record{key: v}); err != nil {
		w.rec.restore(key, old, had)
		return errors.Wrapf(err, "update %s", key)
	}
	return nil
}

// Write appends p to the file.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.WriteSource(FromBytes(p))
	return int(n), err
}

// ReadFrom appends everything read from r, pulling one chunk at a time.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	return w.WriteSource(FromReader(r))
}

// WriteText encodes s with the encoding given in Options and appends it.
func (w *Writer) WriteText(s string) (int, error) {
	if w.state == stateClosed {
		return 0, errors.WithStack(ErrAlreadyClosed)
	}
	if w.encoding == "" {
		return 0, errors.Wrap(ErrInvalidInput, "text needs an encoding")
	}
	enc, err := lookupEncoding(w.encoding)
	if err != nil {
		return 0, err
	}
	b, err := enc.NewEncoder().String(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "encode text as %s: %s", w.encoding, err)
	}
	return w.Write([]byte(b))
}

// WriteLines appends every line in order; no separators are added.
func (w *Writer) WriteLines(lines [][]byte) (int64, error) {
	var total int64
	for _, l := range lines {
		n, err := w.Write(l)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteSource appends the content of src. Every time the buffer reaches the
// chunk size a chunk is stored.
func (w *Writer) WriteSource(src Source) (int64, error) {
	if w.state == stateClosed {
		return 0, errors.WithStack(ErrAlreadyClosed)
	}
	if src == nil {
		return 0, errors.Wrap(ErrInvalidInput, "nil source")
	}
	cs := w.rec.ChunkSize
	var written int64
	for {
		data, err := src.NextChunk(cs - len(w.buf))
		if len(data) > 0 {
			if len(w.buf) == 0 && len(data) == cs {
				// a full chunk straight from the source
				if ferr := w.flush(data); ferr != nil {
					return written, ferr
				}
			} else {
				w.buf = append(w.buf, data...)
				if len(w.buf) == cs {
					if ferr := w.flush(w.buf); ferr != nil {
						w.buf = w.buf[:len(w.buf)-len(data)]
						return written, ferr
					}
					w.buf = w.buf[:0]
				}
			}
			written += int64(len(data))
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, errors.Wrap(err, "read source")
		}
	}
}

func (w *Writer) flush(data []byte) error {
	c := &chunk.Chunk{FileID: w.rec.ID, N: w.next, Data: data}
	if err := w.fs.chunks.Put(w.ctx, c, w.rec.ChunkSize); err != nil {
		return err
	}
	w.sum.update(data)
	w.next++
	w.length += int64(len(data))
	return nil
}

// Close stores the buffered tail and commits the file record. Closing a
// closed writer does nothing.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.flush(w.buf); err != nil {
			return err
		}
		w.buf = w.buf[:0]
	}
	// the writer stays usable until the record is committed
	rec := w.rec
	rec.Length = w.length
	rec.Checksum = w.sum.current()
	rec.UploadDate = utils.NowMillis()
	if err := w.fs.meta.InsertRecord(w.ctx, w.fs.files, rec.Record()); err != nil {
		return errors.Wrapf(err, "commit file %v", w.rec.ID)
	}
	w.rec = rec
	w.sum.finish()
	w.state = stateClosed
	w.buf = nil
	logger.Debugf("closed file %v: %d bytes in %d chunks, %s %s", w.rec.ID, w.length, w.next, w.rec.ChecksumAlgo, w.rec.Checksum)
	return nil
}
