// pkg/chunk/store.go

package chunk

import (
	"context"

	"AveGrid/pkg/meta"

	"github.com/pkg/errors"
)

// ErrNoChunk is returned by Get for a chunk that is not stored.
var ErrNoChunk = errors.New("chunk not found")

// Config of a chunk store.
type Config struct {
	CacheSize int64 // bytes of payload kept in memory, 0 disables the cache
	Prefetch  int   // chunks fetched with one range query on a cache miss
}

// Store persists and fetches the chunks of files.
type Store interface {
	Put(ctx context.Context, c *Chunk, chunkSize int) error
	Get(ctx context.Context, fileID interface{}, n int) ([]byte, error)
	Remove(ctx context.Context, fileID interface{}) (int64, error)
	UsedMemory() int64
}

type cachedStore struct {
	meta  meta.Store
	coll  meta.Collection
	conf  Config
	mem   *memCache
	group Controller
}

// NewStore returns a chunk store keeping chunks in coll of m.
func NewStore(m meta.Store, coll meta.Collection, conf *Config) Store {
	if conf == nil {
		conf = &Config{}
	}
	return &cachedStore{
		meta: m,
		coll: coll,
		conf: *conf,
		mem:  newMemCache(conf.CacheSize),
	}
}

// Indexes are the indexes a chunk collection needs.
func Indexes() []meta.Index {
	return []meta.Index{
		{Name: "files_id_n", Fields: []string{FieldFileID}, Order: FieldN, Unique: true},
	}
}

func (s *cachedStore) Put(ctx context.Context, c *Chunk, chunkSize int) error {
	if err := c.Validate(chunkSize); err != nil {
		return err
	}
	if err := s.meta.InsertRecord(ctx, s.coll, c.Record()); err != nil {
		return errors.Wrapf(err, "insert chunk %d", c.N)
	}
	logger.Tracef("put chunk %d of %v: %d bytes", c.N, c.FileID, len(c.Data))
	return nil
}

func (s *cachedStore) Get(ctx context.Context, fileID interface{}, n int) ([]byte, error) {
	k := key(fileID, n)
	if data, ok := s.mem.load(k); ok {
		return data, nil
	}
	return s.group.Execute(k, func() ([]byte, error) {
		if s.conf.Prefetch > 1 && s.conf.CacheSize > 0 {
			return s.fetchRange(ctx, fileID, n)
		}
		r, err := s.meta.FindOne(ctx, s.coll, meta.Filter{FieldFileID: fileID, FieldN: n})
		if errors.Is(err, meta.ErrNoRecord) {
			return nil, errors.Wrapf(ErrNoChunk, "chunk %d of %v", n, fileID)
		}
		if err != nil {
			return nil, err
		}
		c, err := Decode(r)
		if err != nil {
			return nil, err
		}
		s.mem.cache(k, c.Data)
		return c.Data, nil
	})
}

// fetchRange loads chunk n and the following ones into the cache.
func (s *cachedStore) fetchRange(ctx context.Context, fileID interface{}, n int) ([]byte, error) {
	rs, err := s.meta.FindMany(ctx, s.coll, meta.Filter{
		FieldFileID: fileID,
		FieldN:      []meta.Cond{meta.Gte(n), meta.Lt(n + s.conf.Prefetch)},
	}, &meta.FindOptions{Sort: []meta.Order{{Field: FieldN}}})
	if err != nil {
		return nil, err
	}
	var found []byte
	for _, r := range rs {
		c, err := Decode(r)
		if err != nil {
			return nil, err
		}
		if c.N == n {
			found = c.Data
		}
		s.mem.cache(key(fileID, c.N), c.Data)
	}
	if found == nil {
		return nil, errors.Wrapf(ErrNoChunk, "chunk %d of %v", n, fileID)
	}
	logger.Debugf("prefetched %d chunks of %v from %d", len(rs), fileID, n)
	return found, nil
}

func (s *cachedStore) Remove(ctx context.Context, fileID interface{}) (int64, error) {
	s.mem.removePrefix(filePrefix(fileID))
	return s.meta.DeleteMany(ctx, s.coll, meta.Filter{FieldFileID: fileID})
}

func (s *cachedStore) UsedMemory() int64 {
	return s.mem.usedMemory()
}
