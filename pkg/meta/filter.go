// pkg/meta/filter.go

package meta

import (
	"bytes"
	"math"
	"reflect"
	"sort"
)

// Op is a comparison operator of a filter condition.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
)

// Cond is a non-equality condition on a single field.
type Cond struct {
	Op    Op
	Value interface{}
}

func Ne(v interface{}) Cond  { return Cond{OpNe, v} }
func Gt(v interface{}) Cond  { return Cond{OpGt, v} }
func Gte(v interface{}) Cond { return Cond{OpGte, v} }
func Lt(v interface{}) Cond  { return Cond{OpLt, v} }
func Lte(v interface{}) Cond { return Cond{OpLte, v} }

// Filter selects records. A plain value means equality, a Cond or a
// []Cond constrains the field further. A nil value matches a missing field.
type Filter map[string]interface{}

func (f Filter) conds(field string) []Cond {
	switch v := f[field].(type) {
	case Cond:
		return []Cond{v}
	case []Cond:
		return v
	default:
		return []Cond{{OpEq, v}}
	}
}

// eq returns the equality value for field, if the filter has one.
func (f Filter) eq(field string) (interface{}, bool) {
	if _, ok := f[field]; !ok {
		return nil, false
	}
	for _, c := range f.conds(field) {
		if c.Op == OpEq && c.Value != nil {
			return c.Value, true
		}
	}
	return nil, false
}

// Match reports whether r satisfies every condition of f.
func (f Filter) Match(r Record) bool {
	for field := range f {
		v, present := r[field]
		for _, c := range f.conds(field) {
			if !c.match(v, present) {
				return false
			}
		}
	}
	return true
}

func (c Cond) match(v interface{}, present bool) bool {
	if c.Value == nil {
		missing := !present || v == nil
		if c.Op == OpNe {
			return !missing
		}
		return c.Op == OpEq && missing
	}
	if !present {
		return c.Op == OpNe
	}
	cmp, ok := Compare(v, c.Value)
	switch c.Op {
	case OpEq:
		return ok && cmp == 0
	case OpNe:
		return !ok || cmp != 0
	case OpGt:
		return ok && cmp > 0
	case OpGte:
		return ok && cmp >= 0
	case OpLt:
		return ok && cmp < 0
	case OpLte:
		return ok && cmp <= 0
	}
	return false
}

type number struct {
	isInt bool
	i     int64
	u     uint64 // set when the value does not fit int64
	big   bool
	f     float64
}

func toNumber(v interface{}) (number, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{isInt: true, i: rv.Int(), f: float64(rv.Int())}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return number{isInt: true, big: true, u: u, f: float64(u)}, true
		}
		return number{isInt: true, i: int64(u), f: float64(u)}, true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			return number{isInt: true, i: int64(f), f: f}, true
		}
		return number{f: f}, true
	}
	return number{}, false
}

func (a number) cmp(b number) int {
	if a.isInt && b.isInt {
		switch {
		case a.big && b.big:
			return cmpOrdered(a.u, b.u)
		case a.big:
			return 1
		case b.big:
			return -1
		}
		return cmpOrdered(a.i, b.i)
	}
	return cmpOrdered(a.f, b.f)
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare orders two record values. Numbers compare by value whatever
// their Go type. The second result is false for values of different kinds.
func Compare(a, b interface{}) (int, bool) {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.cmp(nb), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), true
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			if x == y {
				return 0, true
			}
			if !x {
				return -1, true
			}
			return 1, true
		}
	case nil:
		if b == nil {
			return 0, true
		}
	default:
		ka, err1 := valueKey(a)
		kb, err2 := valueKey(b)
		if err1 == nil && err2 == nil && ka == kb {
			return 0, true
		}
	}
	return 0, false
}

// Order sorts results on one field.
type Order struct {
	Field string
	Desc  bool
}

// FindOptions controls FindMany results.
type FindOptions struct {
	Sort  []Order
	Skip  int
	Limit int // 0 means no limit
}

// apply sorts, skips and limits records in place.
func (o *FindOptions) apply(rs []Record) []Record {
	if o == nil {
		return rs
	}
	if len(o.Sort) > 0 {
		sort.SliceStable(rs, func(i, j int) bool {
			for _, ord := range o.Sort {
				c, ok := Compare(rs[i][ord.Field], rs[j][ord.Field])
				if !ok || c == 0 {
					continue
				}
				if ord.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if o.Skip > 0 {
		if o.Skip >= len(rs) {
			return nil
		}
		rs = rs[o.Skip:]
	}
	if o.Limit > 0 && len(rs) > o.Limit {
		rs = rs[:o.Limit]
	}
	return rs
}
