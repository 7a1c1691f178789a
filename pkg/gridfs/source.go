// pkg/gridfs/source.go

package gridfs

import (
	"io"
)

// Source is the input of a Writer: either a byte buffer (FromBytes) or a
// pull-based stream (FromReader).
type Source interface {
	// NextChunk returns up to max bytes, and io.EOF once the source is drained.
	NextChunk(max int) ([]byte, error)
	source()
}

type bytesSource struct {
	b []byte
}

// FromBytes returns a Source reading b.
func FromBytes(b []byte) Source {
	return &bytesSource{b}
}

func (s *bytesSource) source() {}

func (s *bytesSource) NextChunk(max int) ([]byte, error) {
	if len(s.b) == 0 {
		return nil, io.EOF
	}
	if max > len(s.b) {
		max = len(s.b)
	}
	p := s.b[:max]
	s.b = s.b[max:]
	return p, nil
}

type streamSource struct {
	r io.Reader
}

// FromReader returns a Source pulling from r.
func FromReader(r io.Reader) Source {
	return &streamSource{r}
}

func (s *streamSource) source() {}

func (s *streamSource) NextChunk(max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	buf := make([]byte, max)
	n, err := io.ReadFull(s.r, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return buf[:n], err
}
