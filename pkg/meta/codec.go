// pkg/meta/codec.go

package meta

import (
	"encoding/hex"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Records are stored as Core Deterministic CBOR, so the same record always
// produces the same bytes and ids can be used as keys.
var encMode cbor.EncMode

// Untyped maps decode as map[string]interface{}.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("meta: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("meta: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a record.
func Marshal(r Record) ([]byte, error) {
	return encMode.Marshal(map[string]interface{}(r))
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	var m map[string]interface{}
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return Record(m), nil
}

// Normalize returns v as it reads back from a store: integers become
// uint64/int64, arrays []interface{}, maps map[string]interface{}.
func Normalize(v interface{}) (interface{}, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err = decMode.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// valueKey encodes a value into a string usable inside a key.
func valueKey(v interface{}) (string, error) {
	if n, ok := toNumber(v); ok && n.isInt {
		v = n.i
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}
