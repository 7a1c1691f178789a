// pkg/meta/memory.go

package meta

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// memStore keeps encoded records in process memory. Values take the same
// CBOR round trip as in Redis, so both engines return identical records.
type memStore struct {
	sync.Mutex
	name    string
	colls   map[Collection]map[string]*memDoc
	indexes map[Collection][]Index
}

var _ Store = &memStore{}

// memDoc keeps the decoded form for matching; callers get fresh copies.
type memDoc struct {
	data []byte
	rec  Record
}

func init() {
	Register("mem", newMemStore)
}

func newMemStore(driver, addr string, conf *Config) (Store, error) {
	return NewMemStore(), nil
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() Store {
	return &memStore{
		name:    "mem",
		colls:   make(map[Collection]map[string]*memDoc),
		indexes: make(map[Collection][]Index),
	}
}

func (m *memStore) Name() string {
	return m.name
}

func (m *memStore) EnsureIndex(ctx context.Context, coll Collection, idx Index) error {
	m.Lock()
	defer m.Unlock()
	for _, i := range m.indexes[coll] {
		if i.Name == idx.Name {
			return nil
		}
	}
	m.indexes[coll] = append(m.indexes[coll], idx)
	return nil
}

func (m *memStore) setDoc(coll Collection, key string, data []byte) error {
	r, err := Unmarshal(data)
	if err != nil {
		return err
	}
	docs := m.colls[coll]
	if docs == nil {
		docs = make(map[string]*memDoc)
		m.colls[coll] = docs
	}
	docs[key] = &memDoc{data, r}
	return nil
}

func sameGroup(idx *Index, a, b Record) bool {
	for _, f := range idx.Fields {
		if c, ok := Compare(a[f], b[f]); !ok || c != 0 {
			return false
		}
	}
	if idx.Order != "" {
		if c, ok := Compare(a[idx.Order], b[idx.Order]); !ok || c != 0 {
			return false
		}
	}
	return true
}

func (m *memStore) InsertRecord(ctx context.Context, coll Collection, r Record) error {
	id, ok := r["_id"]
	if !ok {
		return errors.New("record has no _id")
	}
	key, err := valueKey(id)
	if err != nil {
		return errors.Wrap(err, "encode _id")
	}
	data, err := Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	nr, err := Unmarshal(data)
	if err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()
	if _, ok := m.colls[coll][key]; ok {
		return errors.Wrapf(ErrDuplicateKey, "%s _id %v", coll, id)
	}
	for _, idx := range m.indexes[coll] {
		if !idx.Unique || !idx.covers(nr) {
			continue
		}
		for _, old := range m.colls[coll] {
			if sameGroup(&idx, old.rec, nr) {
				return errors.Wrapf(ErrDuplicateKey, "%s index %s", coll, idx.Name)
			}
		}
	}
	return m.setDoc(coll, key, data)
}

func (m *memStore) find(coll Collection, f Filter) []Record {
	var rs []Record
	for _, d := range m.colls[coll] {
		if !f.Match(d.rec) {
			continue
		}
		r, err := Unmarshal(d.data)
		if err != nil {
			logger.Errorf("corrupted record in %s: %s", coll, err)
			continue
		}
		rs = append(rs, r)
	}
	return rs
}

func (m *memStore) FindOne(ctx context.Context, coll Collection, f Filter) (Record, error) {
	rs, err := m.FindMany(ctx, coll, f, &FindOptions{Sort: []Order{{Field: "_id"}}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, ErrNoRecord
	}
	return rs[0], nil
}

func (m *memStore) FindMany(ctx context.Context, coll Collection, f Filter, opts *FindOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Lock()
	rs := m.find(coll, f)
	m.Unlock()
	return opts.apply(rs), nil
}

func (m *memStore) UpdateOne(ctx context.Context, coll Collection, f Filter, set Record) (bool, error) {
	m.Lock()
	defer m.Unlock()
	rs := (&FindOptions{Sort: []Order{{Field: "_id"}}, Limit: 1}).apply(m.find(coll, f))
	if len(rs) == 0 {
		return false, nil
	}
	r := rs[0]
	key, err := valueKey(r["_id"])
	if err != nil {
		return false, err
	}
	for k, v := range set {
		if k == "_id" {
			return false, errors.New("cannot update _id")
		}
		r[k] = v
	}
	data, err := Marshal(r)
	if err != nil {
		return false, errors.Wrap(err, "encode record")
	}
	return true, m.setDoc(coll, key, data)
}

func (m *memStore) DeleteMany(ctx context.Context, coll Collection, f Filter) (int64, error) {
	m.Lock()
	defer m.Unlock()
	var n int64
	for _, r := range m.find(coll, f) {
		key, err := valueKey(r["_id"])
		if err != nil {
			return n, err
		}
		delete(m.colls[coll], key)
		n++
	}
	return n, nil
}
