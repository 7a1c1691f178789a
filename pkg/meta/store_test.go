// pkg/meta/store_test.go

package meta

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newRedisStoreWithClient(rdb, &Config{Prefix: "t:"}), mr
}

func testEngines(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"mem": NewMemStore,
		"redis": func() Store {
			s, _ := newTestRedis(t)
			return s
		},
	}
}

func forEachEngine(t *testing.T, f func(t *testing.T, s Store)) {
	for name, newStore := range testEngines(t) {
		t.Run(name, func(t *testing.T) {
			f(t, newStore())
		})
	}
}

var chunkIndex = Index{Name: "files_id_n", Fields: []string{"files_id"}, Order: "n", Unique: true}

func TestInsertFind(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertRecord(ctx, "c", Record{"_id": "a", "v": 1, "data": []byte{1, 2}}))
		require.NoError(t, s.InsertRecord(ctx, "c", Record{"_id": "b", "v": 2}))
		require.NoError(t, s.InsertRecord(ctx, "c", Record{"_id": 3, "v": 3}))

		r, err := s.FindOne(ctx, "c", Filter{"_id": "a"})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), r["v"])
		assert.Equal(t, []byte{1, 2}, r["data"])

		r, err = s.FindOne(ctx, "c", Filter{"_id": uint64(3)})
		require.NoError(t, err)
		assert.Equal(t, uint64(3), r["v"])

		_, err = s.FindOne(ctx, "c", Filter{"_id": "zz"})
		assert.ErrorIs(t, err, ErrNoRecord)
		_, err = s.FindOne(ctx, "other", Filter{})
		assert.ErrorIs(t, err, ErrNoRecord)

		rs, err := s.FindMany(ctx, "c", Filter{"v": Gte(2)}, &FindOptions{Sort: []Order{{Field: "v", Desc: true}}})
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.Equal(t, uint64(3), rs[0]["v"])
		assert.Equal(t, "b", rs[1]["_id"])

		err = s.InsertRecord(ctx, "c", Record{"_id": "a"})
		assert.ErrorIs(t, err, ErrDuplicateKey)
		assert.Error(t, s.InsertRecord(ctx, "c", Record{"v": 1}), "records need an _id")
	})
}

func TestIndexes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		// records inserted before the index are covered as well
		require.NoError(t, s.InsertRecord(ctx, "chunks", Record{"_id": "x0", "files_id": "f", "n": 0}))
		require.NoError(t, s.EnsureIndex(ctx, "chunks", chunkIndex))
		require.NoError(t, s.EnsureIndex(ctx, "chunks", chunkIndex))
		for i := 1; i < 10; i++ {
			require.NoError(t, s.InsertRecord(ctx, "chunks", Record{"_id": fmt.Sprintf("x%d", i), "files_id": "f", "n": i}))
			require.NoError(t, s.InsertRecord(ctx, "chunks", Record{"_id": fmt.Sprintf("y%d", i), "files_id": "g", "n": i}))
		}

		err := s.InsertRecord(ctx, "chunks", Record{"_id": "dup", "files_id": "f", "n": 3})
		assert.ErrorIs(t, err, ErrDuplicateKey)
		require.NoError(t, s.InsertRecord(ctx, "chunks", Record{"_id": "other", "files_id": "h", "n": 3}))

		r, err := s.FindOne(ctx, "chunks", Filter{"files_id": "f", "n": 0})
		require.NoError(t, err)
		assert.Equal(t, "x0", r["_id"])

		rs, err := s.FindMany(ctx, "chunks", Filter{"files_id": "f", "n": []Cond{Gte(4), Lt(7)}},
			&FindOptions{Sort: []Order{{Field: "n"}}})
		require.NoError(t, err)
		require.Len(t, rs, 3)
		for i, r := range rs {
			assert.Equal(t, uint64(4+i), r["n"])
		}

		rs, err = s.FindMany(ctx, "chunks", Filter{"files_id": "g", "n": Gt(7)}, nil)
		require.NoError(t, err)
		assert.Len(t, rs, 2)

		n, err := s.DeleteMany(ctx, "chunks", Filter{"files_id": "f"})
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)
		// the slot is free again
		require.NoError(t, s.InsertRecord(ctx, "chunks", Record{"_id": "dup", "files_id": "f", "n": 3}))

		rs, err = s.FindMany(ctx, "chunks", nil, nil)
		require.NoError(t, err)
		assert.Len(t, rs, 11)
	})
}

func TestUpdateOne(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		idx := Index{Name: "name_date", Fields: []string{"name"}, Order: "date"}
		require.NoError(t, s.EnsureIndex(ctx, "files", idx))
		require.NoError(t, s.InsertRecord(ctx, "files", Record{"_id": 1, "name": "a", "date": 10}))

		ok, err := s.UpdateOne(ctx, "files", Filter{"_id": 1}, Record{"name": "b", "extra": "x"})
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.FindOne(ctx, "files", Filter{"name": "a"})
		assert.ErrorIs(t, err, ErrNoRecord)
		r, err := s.FindOne(ctx, "files", Filter{"name": "b"})
		require.NoError(t, err)
		assert.Equal(t, "x", r["extra"])
		assert.Equal(t, uint64(10), r["date"])

		ok, err = s.UpdateOne(ctx, "files", Filter{"_id": 2}, Record{"name": "c"})
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.UpdateOne(ctx, "files", Filter{"_id": 1}, Record{"_id": 5})
		assert.Error(t, err)
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertRecord(ctx, "c", Record{"_id": "a", "v": "old"}))
		r, err := s.FindOne(ctx, "c", Filter{"_id": "a"})
		require.NoError(t, err)
		r["v"] = "changed"
		r, err = s.FindOne(ctx, "c", Filter{"_id": "a"})
		require.NoError(t, err)
		assert.Equal(t, "old", r["v"])
	})
}

func TestFormat(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := Load(ctx, s)
		assert.ErrorIs(t, err, ErrNoRecord)

		f := Format{Name: "vol", UUID: "u1", Bucket: "fs", ChunkSize: 1024, Checksum: "md5", EncryptSalt: "00"}
		require.NoError(t, Init(ctx, s, f, false))
		got, err := Load(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, f, *got)

		// reformatting keeps the identity of the volume
		f2 := f
		f2.UUID, f2.EncryptSalt = "u2", ""
		require.NoError(t, Init(ctx, s, f2, false))
		got, err = Load(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UUID)

		renamed := f
		renamed.Name = "other"
		assert.Error(t, Init(ctx, s, renamed, false))

		f2.ChunkSize = 2048
		assert.Error(t, Init(ctx, s, f2, false))
		require.NoError(t, Init(ctx, s, f2, true))
		got, err = Load(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, f2, *got)
	})
}

func TestNewClient(t *testing.T) {
	s, err := NewClient("mem://", nil)
	require.NoError(t, err)
	assert.Equal(t, "mem", s.Name())

	_, err = NewClient("nosuch://x", nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	s, err = NewClient("redis://"+mr.Addr()+"/0", &Config{ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "redis", s.Name())
	ctx := context.Background()
	assert.NoError(t, s.EnsureIndex(ctx, "c", chunkIndex))
	assert.ErrorIs(t, s.InsertRecord(ctx, "c", Record{"_id": 1}), ErrReadOnly)
	_, err = s.DeleteMany(ctx, "c", nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.UpdateOne(ctx, "c", nil, Record{"a": 1})
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.FindOne(ctx, "c", nil)
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestRedisKeys(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, "fs.chunks", chunkIndex))
	require.NoError(t, s.InsertRecord(ctx, "fs.chunks", Record{"_id": "c0", "files_id": "f", "n": 0, "data": []byte("x")}))
	assert.True(t, mr.Exists("t:dfs.chunks"))
	assert.True(t, mr.Exists("t:ifs.chunks"))
	keys := mr.Keys()
	var indexed int
	for _, k := range keys {
		if len(k) > len("t:xfs.chunks_files_id_n_") && k[:len("t:xfs.chunks_files_id_n_")] == "t:xfs.chunks_files_id_n_" {
			indexed++
		}
	}
	assert.Equal(t, 1, indexed)

	// without the script the range query falls back to plain commands
	s.shaRange = ""
	rs, err := s.FindMany(ctx, "fs.chunks", Filter{"files_id": "f"}, nil)
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(redis.TxFailedErr, false))
	assert.False(t, shouldRetry(nil, true))
	assert.False(t, shouldRetry(context.Canceled, true))
	assert.True(t, shouldRetry(fmt.Errorf("LOADING Redis is loading the dataset in memory"), false))
	assert.False(t, shouldRetry(fmt.Errorf("WRONGTYPE Operation against a key"), true))
}
