// pkg/chunk/chunk_test.go

package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	assert.Equal(t, 0, Count(0, 3))
	assert.Equal(t, 1, Count(1, 3))
	assert.Equal(t, 1, Count(3, 3))
	assert.Equal(t, 4, Count(11, 3))
	assert.Equal(t, 1, Count(11, 256<<10))

	idx, off := Locate(0, 3)
	assert.Equal(t, [2]int{0, 0}, [2]int{idx, off})
	idx, off = Locate(8, 3)
	assert.Equal(t, [2]int{2, 2}, [2]int{idx, off})
	idx, off = Locate(9, 3)
	assert.Equal(t, [2]int{3, 0}, [2]int{idx, off})

	var sizes []int
	for n := 0; n < Count(11, 3); n++ {
		sizes = append(sizes, Expected(n, 11, 3))
	}
	assert.Equal(t, []int{3, 3, 3, 2}, sizes)
	assert.Equal(t, 0, Expected(4, 11, 3))
	assert.Equal(t, 3, Expected(0, 3, 3))
}

func TestValidate(t *testing.T) {
	c := &Chunk{FileID: "f", N: 0, Data: []byte("abc")}
	assert.NoError(t, c.Validate(3))
	assert.NoError(t, c.Validate(4))
	assert.ErrorIs(t, c.Validate(2), ErrPayloadSize)
	assert.Error(t, c.Validate(0))
	assert.Error(t, c.Validate(MaxSize+1))
	assert.ErrorIs(t, (&Chunk{FileID: "f"}).Validate(3), ErrPayloadSize)
	assert.Error(t, (&Chunk{FileID: "f", N: -1, Data: []byte("a")}).Validate(3))
}

func TestRecord(t *testing.T) {
	c := &Chunk{FileID: "f", N: 2, Data: []byte("xy")}
	r1, r2 := c.Record(), c.Record()
	assert.NotEqual(t, r1[FieldID], r2[FieldID])
	assert.Equal(t, "f", r1[FieldFileID])

	d, err := Decode(r1)
	require.NoError(t, err)
	assert.Equal(t, c, d)

	r1[FieldN] = uint64(2)
	d, err = Decode(r1)
	require.NoError(t, err)
	assert.Equal(t, 2, d.N)

	_, err = Decode(map[string]interface{}{FieldN: 1, FieldData: []byte("a")})
	assert.Error(t, err)
	_, err = Decode(map[string]interface{}{FieldFileID: "f", FieldN: "1", FieldData: []byte("a")})
	assert.Error(t, err)
	_, err = Decode(map[string]interface{}{FieldFileID: "f", FieldN: 1})
	assert.Error(t, err)
}

func TestCacheKeys(t *testing.T) {
	assert.NotEqual(t, key("a", 1), key("a_1", 0))
	assert.NotEqual(t, key("1", 0), key(uint64(1), 0))
	assert.NotEqual(t, key("a", 11), key("a", 1))
	assert.True(t, len(filePrefix("a")) < len(key("a", 0)))
}
