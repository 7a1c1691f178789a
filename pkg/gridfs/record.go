// pkg/gridfs/record.go

package gridfs

import (
	"fmt"
	"time"

	"AveGrid/pkg/chunk"
	"AveGrid/pkg/meta"

	"github.com/pkg/errors"
)

// Field names of a file record.
const (
	FieldID           = "_id"
	FieldLength       = "length"
	FieldChunkSize    = "chunkSize"
	FieldUploadDate   = "uploadDate"
	FieldChecksum     = "checksum"
	FieldChecksumAlgo = "checksumAlgo"
	FieldFilename     = "filename"
	FieldContentType  = "contentType"
	FieldAliases      = "aliases"
	FieldMetadata     = "metadata"
)

type fieldKind uint8

const (
	fieldFixed       fieldKind = iota // set at creation, never changes
	fieldWriteOnce                    // set by Close
	fieldDescriptive                  // mutable on the writer
)

var knownFields = map[string]fieldKind{
	FieldID:           fieldFixed,
	FieldChunkSize:    fieldFixed,
	FieldChecksumAlgo: fieldFixed,
	FieldLength:       fieldWriteOnce,
	FieldUploadDate:   fieldWriteOnce,
	FieldChecksum:     fieldWriteOnce,
	FieldFilename:     fieldDescriptive,
	FieldContentType:  fieldDescriptive,
	FieldAliases:      fieldDescriptive,
	FieldMetadata:     fieldDescriptive,
}

// FileRecord describes a complete file.
type FileRecord struct {
	ID           interface{}
	Length       int64
	ChunkSize    int
	UploadDate   time.Time
	Checksum     string
	ChecksumAlgo string
	Filename     string
	ContentType  string
	Aliases      []string
	Metadata     map[string]interface{}
	Extra        map[string]interface{}
}

// Record returns the stored form of f.
func (f *FileRecord) Record() meta.Record {
	r := make(meta.Record, len(f.Extra)+10)
	for k, v := range f.Extra {
		r[k] = v
	}
	r[FieldID] = f.ID
	r[FieldLength] = f.Length
	r[FieldChunkSize] = f.ChunkSize
	r[FieldUploadDate] = f.UploadDate.UnixMilli()
	r[FieldChecksum] = f.Checksum
	r[FieldChecksumAlgo] = f.ChecksumAlgo
	if f.Filename != "" {
		r[FieldFilename] = f.Filename
	}
	if f.ContentType != "" {
		r[FieldContentType] = f.ContentType
	}
	if f.Aliases != nil {
		r[FieldAliases] = f.Aliases
	}
	if f.Metadata != nil {
		r[FieldMetadata] = f.Metadata
	}
	return r
}

// get returns a field by its record name.
func (f *FileRecord) get(key string) (interface{}, bool) {
	switch key {
	case FieldID:
		return f.ID, true
	case FieldLength:
		return f.Length, true
	case FieldChunkSize:
		return f.ChunkSize, true
	case FieldUploadDate:
		return f.UploadDate, true
	case FieldChecksum:
		return f.Checksum, true
	case FieldChecksumAlgo:
		return f.ChecksumAlgo, true
	case FieldFilename:
		return f.Filename, true
	case FieldContentType:
		return f.ContentType, true
	case FieldAliases:
		if f.Aliases == nil {
			return nil, true
		}
		return f.Aliases, true
	case FieldMetadata:
		if f.Metadata == nil {
			return nil, true
		}
		return f.Metadata, true
	}
	v, ok := f.Extra[key]
	return v, ok
}

// setDescriptive validates and sets a mutable field.
func (f *FileRecord) setDescriptive(key string, value interface{}) error {
	switch key {
	case FieldFilename, FieldContentType:
		s, ok := value.(string)
		if !ok && value != nil {
			return errors.Wrapf(ErrInvalidInput, "%s must be a string, got %T", key, value)
		}
		if key == FieldFilename {
			f.Filename = s
		} else {
			f.ContentType = s
		}
	case FieldAliases:
		switch v := value.(type) {
		case nil:
			f.Aliases = nil
		case []string:
			if v == nil {
				f.Aliases = nil
			} else {
				f.Aliases = append([]string{}, v...)
			}
		default:
			return errors.Wrapf(ErrInvalidInput, "aliases must be a []string, got %T", value)
		}
	case FieldMetadata:
		switch v := value.(type) {
		case nil:
			f.Metadata = nil
		case map[string]interface{}:
			if _, err := meta.Normalize(v); err != nil {
				return errors.Wrapf(ErrInvalidInput, "metadata: %s", err)
			}
			f.Metadata = v
		default:
			return errors.Wrapf(ErrInvalidInput, "metadata must be a map[string]interface{}, got %T", value)
		}
	default:
		if key == "" {
			return errors.Wrap(ErrInvalidInput, "empty field name")
		}
		if _, err := meta.Normalize(value); err != nil {
			return errors.Wrapf(ErrInvalidInput, "field %s: %s", key, err)
		}
		if f.Extra == nil {
			f.Extra = make(map[string]interface{})
		}
		f.Extra[key] = value
	}
	return nil
}

// restore puts back a value returned by get before a failed change.
func (f *FileRecord) restore(key string, old interface{}, had bool) {
	if _, known := knownFields[key]; !known && !had {
		delete(f.Extra, key)
		return
	}
	_ = f.setDescriptive(key, old)
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), x <= 1<<63-1
	}
	return 0, false
}

// parseRecord reads a stored file record. Records lacking the fields a
// reader depends on are reported as ErrNotFound.
func parseRecord(r meta.Record) (*FileRecord, error) {
	notFound := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrNotFound, "corrupt file record: %s", fmt.Sprintf(format, args...))
	}
	if r == nil {
		return nil, errors.Wrap(ErrNotFound, "empty file record")
	}
	f := &FileRecord{}
	var ok bool
	if f.ID, ok = r[FieldID]; !ok || f.ID == nil {
		return nil, notFound("no _id")
	}
	if f.Length, ok = toInt64(r[FieldLength]); !ok || f.Length < 0 {
		return nil, notFound("length %v", r[FieldLength])
	}
	cs, ok := toInt64(r[FieldChunkSize])
	if !ok || cs <= 0 || cs > chunk.MaxSize {
		return nil, notFound("chunkSize %v", r[FieldChunkSize])
	}
	f.ChunkSize = int(cs)
	if ms, ok := toInt64(r[FieldUploadDate]); ok {
		f.UploadDate = time.UnixMilli(ms)
	}
	f.Checksum, _ = r[FieldChecksum].(string)
	f.ChecksumAlgo, _ = r[FieldChecksumAlgo].(string)
	if f.ChecksumAlgo == "" {
		f.ChecksumAlgo = ChecksumMD5
	}
	f.Filename, _ = r[FieldFilename].(string)
	f.ContentType, _ = r[FieldContentType].(string)
	if as, ok := r[FieldAliases].([]interface{}); ok {
		f.Aliases = make([]string, 0, len(as))
		for _, a := range as {
			if s, ok := a.(string); ok {
				f.Aliases = append(f.Aliases, s)
			}
		}
	}
	f.Metadata, _ = r[FieldMetadata].(map[string]interface{})
	for k, v := range r {
		if _, known := knownFields[k]; known {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]interface{})
		}
		f.Extra[k] = v
	}
	return f, nil
}
