// pkg/chunk/store_test.go

package chunk

import (
	"context"
	"fmt"
	"testing"

	"AveGrid/pkg/meta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts the lookups reaching the record store.
type countingStore struct {
	meta.Store
	finds int
}

func (c *countingStore) FindOne(ctx context.Context, coll meta.Collection, f meta.Filter) (meta.Record, error) {
	c.finds++
	return c.Store.FindOne(ctx, coll, f)
}

func (c *countingStore) FindMany(ctx context.Context, coll meta.Collection, f meta.Filter, opts *meta.FindOptions) ([]meta.Record, error) {
	c.finds++
	return c.Store.FindMany(ctx, coll, f, opts)
}

func newTestStore(t *testing.T, conf *Config) (Store, *countingStore) {
	ctx := context.Background()
	m := &countingStore{Store: meta.NewMemStore()}
	for _, idx := range Indexes() {
		require.NoError(t, m.EnsureIndex(ctx, "fs.chunks", idx))
	}
	return NewStore(m, "fs.chunks", conf), m
}

func putFile(t *testing.T, s Store, id interface{}, chunks int) {
	for n := 0; n < chunks; n++ {
		c := &Chunk{FileID: id, N: n, Data: []byte(fmt.Sprintf("%v-%02d", id, n))}
		require.NoError(t, s.Put(context.Background(), c, 16))
	}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, nil)
	putFile(t, s, "f", 3)

	data, err := s.Get(ctx, "f", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("f-01"), data)
	_, err = s.Get(ctx, "f", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, m.finds, "no cache without a size")

	_, err = s.Get(ctx, "f", 3)
	assert.ErrorIs(t, err, ErrNoChunk)
	_, err = s.Get(ctx, "g", 0)
	assert.ErrorIs(t, err, ErrNoChunk)

	err = s.Put(ctx, &Chunk{FileID: "f", N: 1, Data: []byte("again")}, 16)
	assert.ErrorIs(t, err, meta.ErrDuplicateKey)
	err = s.Put(ctx, &Chunk{FileID: "f", N: 5, Data: make([]byte, 17)}, 16)
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestStoreNumericIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, &Config{CacheSize: 1 << 20})
	putFile(t, s, 7, 2)
	// ids read back from records are uint64
	data, err := s.Get(ctx, uint64(7), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("7-01"), data)
}

func TestStoreCacheAndPrefetch(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, &Config{CacheSize: 1 << 20, Prefetch: 4})
	putFile(t, s, "f", 10)

	for n := 0; n < 10; n++ {
		data, err := s.Get(ctx, "f", n)
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("f-%02d", n)), data)
	}
	assert.Equal(t, 3, m.finds, "chunks 0, 4 and 8 start a range")
	assert.Equal(t, int64(40), s.UsedMemory())

	_, err := s.Get(ctx, "f", 10)
	assert.ErrorIs(t, err, ErrNoChunk)

	n, err := s.Remove(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, int64(0), s.UsedMemory())
	_, err = s.Get(ctx, "f", 0)
	assert.ErrorIs(t, err, ErrNoChunk)
}

func TestStoreCacheOnly(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t, &Config{CacheSize: 1 << 20, Prefetch: 1})
	putFile(t, s, "f", 2)
	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "f", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, m.finds)
}
