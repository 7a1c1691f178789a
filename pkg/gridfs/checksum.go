// pkg/gridfs/checksum.go

package gridfs

import (
	"crypto/md5"
	"encoding/hex"
	"hash"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

const (
	ChecksumMD5    = "md5"
	ChecksumBLAKE3 = "blake3"
)

// accumulator hashes committed bytes; the digest is only available once finished.
type accumulator struct {
	algo string
	h    hash.Hash
	sum  string
	done bool
}

func newAccumulator(algo string) (*accumulator, error) {
	switch algo {
	case "", ChecksumMD5:
		return &accumulator{algo: ChecksumMD5, h: md5.New()}, nil
	case ChecksumBLAKE3:
		return &accumulator{algo: algo, h: blake3.New()}, nil
	}
	return nil, errors.Wrapf(ErrInvalidInput, "unknown checksum algorithm %q", algo)
}

func (a *accumulator) update(p []byte) {
	if a.done {
		panic("checksum updated after finish")
	}
	_, _ = a.h.Write(p)
}

// current returns the digest of the bytes seen so far and keeps accepting
// updates.
func (a *accumulator) current() string {
	if a.done {
		return a.sum
	}
	return hex.EncodeToString(a.h.Sum(nil))
}

func (a *accumulator) finish() string {
	if !a.done {
		a.sum = a.current()
		a.done = true
	}
	return a.sum
}

func (a *accumulator) digest() (string, error) {
	if !a.done {
		return "", errors.Wrap(ErrFieldNotReady, FieldChecksum)
	}
	return a.sum, nil
}
