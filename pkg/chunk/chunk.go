// pkg/chunk/chunk.go

package chunk

import (
	"fmt"
	"strconv"

	"AveGrid/pkg/meta"
	"AveGrid/pkg/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var logger = utils.GetLogger("avegrid")

// Field names of a chunk record.
const (
	FieldID     = "_id"
	FieldFileID = "files_id"
	FieldN      = "n"
	FieldData   = "data"
)

// MaxSize is the largest chunk size a file may use.
const MaxSize = 16 << 20

// ErrPayloadSize is returned for a chunk payload that does not fit the chunk size.
var ErrPayloadSize = errors.New("invalid chunk payload size")

// Chunk is one fixed-size segment of a file.
type Chunk struct {
	FileID interface{}
	N      int
	Data   []byte
}

// Validate checks the payload against the chunk size of its file: never
// empty and never larger than chunkSize.
func (c *Chunk) Validate(chunkSize int) error {
	if chunkSize <= 0 || chunkSize > MaxSize {
		return errors.Errorf("invalid chunk size %d", chunkSize)
	}
	if c.N < 0 {
		return errors.Errorf("invalid chunk index %d", c.N)
	}
	if len(c.Data) == 0 || len(c.Data) > chunkSize {
		return errors.Wrapf(ErrPayloadSize, "chunk %d has %d bytes, chunk size is %d", c.N, len(c.Data), chunkSize)
	}
	return nil
}

// Record returns the stored form of the chunk with a fresh _id.
func (c *Chunk) Record() meta.Record {
	return meta.Record{
		FieldID:     uuid.NewString(),
		FieldFileID: c.FileID,
		FieldN:      c.N,
		FieldData:   c.Data,
	}
}

// Decode parses a chunk record.
func Decode(r meta.Record) (*Chunk, error) {
	fid, ok := r[FieldFileID]
	if !ok {
		return nil, errors.New("chunk has no files_id")
	}
	n, ok := toInt(r[FieldN])
	if !ok {
		return nil, errors.Errorf("chunk has invalid n: %v", r[FieldN])
	}
	data, ok := r[FieldData].([]byte)
	if !ok {
		return nil, errors.Errorf("chunk %d has no data", n)
	}
	return &Chunk{FileID: fid, N: n, Data: data}, nil
}

func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), x <= 1<<62
	}
	return 0, false
}

// Count is the number of chunks holding length bytes.
func Count(length int64, chunkSize int) int {
	return int(utils.CeilDiv(length, int64(chunkSize)))
}

// Locate maps a logical offset to a chunk index and an offset inside it.
func Locate(off int64, chunkSize int) (int, int) {
	return int(off / int64(chunkSize)), int(off % int64(chunkSize))
}

// Expected is the payload size of chunk n of a file.
func Expected(n int, length int64, chunkSize int) int {
	rest := length - int64(n)*int64(chunkSize)
	if rest > int64(chunkSize) {
		return chunkSize
	}
	if rest < 0 {
		return 0
	}
	return int(rest)
}

func filePrefix(fileID interface{}) string {
	return fmt.Sprintf("%T:%v\x00", fileID, fileID)
}

func key(fileID interface{}, n int) string {
	return filePrefix(fileID) + strconv.Itoa(n)
}
