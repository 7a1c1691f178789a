// pkg/meta/filter_test.go

package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNumbers(t *testing.T) {
	c, ok := Compare(int(3), uint64(3))
	require.True(t, ok)
	assert.Equal(t, 0, c)

	c, ok = Compare(int64(-1), uint64(1))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(2.5, int32(2))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Compare(uint64(1<<63), int64(1<<62))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare("1", 1)
	assert.False(t, ok)
}

func TestCompareOthers(t *testing.T) {
	c, ok := Compare("a", "b")
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare([]byte{2}, []byte{1})
	require.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Compare(false, true)
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare([]interface{}{"x", uint64(1)}, []interface{}{"x", 1})
	require.True(t, ok)
	assert.Equal(t, 0, c)
}

func TestFilterMatch(t *testing.T) {
	r := Record{"name": "a", "n": uint64(3), "tags": []interface{}{"x"}}

	assert.True(t, Filter{}.Match(r))
	assert.True(t, Filter{"name": "a", "n": 3}.Match(r))
	assert.False(t, Filter{"name": "b"}.Match(r))
	assert.True(t, Filter{"n": Gt(2)}.Match(r))
	assert.False(t, Filter{"n": Gt(3)}.Match(r))
	assert.True(t, Filter{"n": []Cond{Gte(3), Lt(4)}}.Match(r))
	assert.False(t, Filter{"n": []Cond{Gte(1), Lt(3)}}.Match(r))
	assert.True(t, Filter{"n": Lte(3.0)}.Match(r))
	assert.True(t, Filter{"n": Ne(4)}.Match(r))
	assert.True(t, Filter{"tags": []interface{}{"x"}}.Match(r))

	// nil selects missing fields
	assert.True(t, Filter{"missing": nil}.Match(r))
	assert.False(t, Filter{"name": nil}.Match(r))
	assert.True(t, Filter{"name": Ne(nil)}.Match(r))
	assert.False(t, Filter{"missing": Ne(nil)}.Match(r))
	assert.True(t, Filter{"missing": Ne(1)}.Match(r))
	assert.False(t, Filter{"missing": Gt(1)}.Match(r))
}

func TestFindOptions(t *testing.T) {
	rs := []Record{
		{"_id": 1, "n": 3, "g": "b"},
		{"_id": 2, "n": 1, "g": "a"},
		{"_id": 3, "n": 2, "g": "b"},
		{"_id": 4, "n": 2, "g": "a"},
	}
	ids := func(rs []Record) []interface{} {
		var out []interface{}
		for _, r := range rs {
			out = append(out, r["_id"])
		}
		return out
	}
	var nilOpts *FindOptions
	assert.Len(t, nilOpts.apply(append([]Record{}, rs...)), 4)

	out := (&FindOptions{Sort: []Order{{Field: "n"}}}).apply(append([]Record{}, rs...))
	assert.Equal(t, []interface{}{2, 3, 4, 1}, ids(out))

	out = (&FindOptions{Sort: []Order{{Field: "g"}, {Field: "n", Desc: true}}}).apply(append([]Record{}, rs...))
	assert.Equal(t, []interface{}{4, 2, 1, 3}, ids(out))

	out = (&FindOptions{Sort: []Order{{Field: "n", Desc: true}}, Skip: 1, Limit: 2}).apply(append([]Record{}, rs...))
	assert.Equal(t, []interface{}{3, 4}, ids(out))

	assert.Empty(t, (&FindOptions{Skip: 10}).apply(append([]Record{}, rs...)))
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(int(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	v, err = Normalize(map[string]interface{}{"a": []string{"x"}, "b": -1})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": []interface{}{"x"}, "b": int64(-1)}, v)

	_, err = Normalize(make(chan int))
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	r := Record{"_id": "x", "data": []byte("abc"), "n": 7, "m": map[string]interface{}{"k": true}}
	data, err := Marshal(r)
	require.NoError(t, err)
	data2, err := Marshal(Record{"m": map[string]interface{}{"k": true}, "n": 7, "data": []byte("abc"), "_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, data, data2, "encoding is deterministic")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), back["data"])
	assert.Equal(t, uint64(7), back["n"])
	assert.Equal(t, map[string]interface{}{"k": true}, back["m"])

	k1, err := valueKey(int64(7))
	require.NoError(t, err)
	k2, err := valueKey(uint64(7))
	require.NoError(t, err)
	k3, err := valueKey(7.0)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)
}
