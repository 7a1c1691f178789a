// pkg/gridfs/errors.go

package gridfs

import "github.com/pkg/errors"

var (
	// ErrInvalidInput is returned for bad arguments to a writer or its options.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyClosed is returned when writing to a closed writer.
	ErrAlreadyClosed = errors.Wrap(ErrInvalidInput, "file is closed")
	// ErrFieldNotReady is returned when reading a write-once field before close.
	ErrFieldNotReady = errors.New("field is not set until the file is closed")
	// ErrImmutable is returned when setting a read-only field.
	ErrImmutable = errors.New("field is read-only")
	// ErrUnknownField is returned when reading a field the file does not have.
	ErrUnknownField = errors.New("no such field")
	// ErrNotFound is returned when no complete file record matches.
	ErrNotFound = errors.New("no such file")
	// ErrInvalidOffset is returned when seeking before the start of a file.
	ErrInvalidOffset = errors.New("invalid offset")
	// ErrCorruptChunk is returned when the stored chunks do not match the file record.
	ErrCorruptChunk = errors.New("corrupt chunk")
)
