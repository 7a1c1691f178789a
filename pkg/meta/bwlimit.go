// pkg/meta/bwlimit.go

package meta

import (
	"context"

	"github.com/juju/ratelimit"
)

// bwlimit throttles the payload bytes going through a Store.
type bwlimit struct {
	Store
	upLimit   *ratelimit.Bucket
	downLimit *ratelimit.Bucket
}

// NewLimited limits the upload and download rate (bytes per second) of the
// byte fields of records. Zero means unlimited.
func NewLimited(s Store, up, down int64) Store {
	if up <= 0 && down <= 0 {
		return s
	}
	bw := &bwlimit{Store: s}
	if up > 0 {
		// there are overheads coming from the wire protocol
		bw.upLimit = ratelimit.NewBucketWithRate(float64(up)*0.85, up)
	}
	if down > 0 {
		bw.downLimit = ratelimit.NewBucketWithRate(float64(down)*0.85, down)
	}
	return bw
}

func payloadSize(r Record) int64 {
	var n int64
	for _, v := range r {
		if b, ok := v.([]byte); ok {
			n += int64(len(b))
		}
	}
	return n
}

func wait(b *ratelimit.Bucket, n int64) {
	if b != nil && n > 0 {
		b.Wait(n)
	}
}

func (p *bwlimit) InsertRecord(ctx context.Context, coll Collection, r Record) error {
	wait(p.upLimit, payloadSize(r))
	return p.Store.InsertRecord(ctx, coll, r)
}

func (p *bwlimit) FindOne(ctx context.Context, coll Collection, f Filter) (Record, error) {
	r, err := p.Store.FindOne(ctx, coll, f)
	if err == nil {
		wait(p.downLimit, payloadSize(r))
	}
	return r, err
}

func (p *bwlimit) FindMany(ctx context.Context, coll Collection, f Filter, opts *FindOptions) ([]Record, error) {
	rs, err := p.Store.FindMany(ctx, coll, f, opts)
	var n int64
	for _, r := range rs {
		n += payloadSize(r)
	}
	wait(p.downLimit, n)
	return rs, err
}
