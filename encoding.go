package ptree

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeMsgpack appends the msgpack encoding of v to buf. Map keys are sorted
// so that equal values always produce equal bytes.
func encodeMsgpack(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

func mustEncodeMsgpack(buf []byte, v any) []byte {
	return must(encodeMsgpack(buf, v))
}

func decodeMsgpack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// decodeAnyMsgpack decodes an untyped value in canonical form: integers become
// int64 (uint64 only above math.MaxInt64), floats become float64, arrays
// become []any and maps become map[string]any.
func decodeAnyMsgpack(buf []byte) (any, error) {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterfaceLoose()
	dec.UseLooseInterfaceDecoding(false)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "failed to decode msgpack value")
	}
	return canonicalInts(v), nil
}

func canonicalInts(v any) any {
	switch v := v.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = canonicalInts(e)
		}
		return v
	case map[string]any:
		for k, e := range v {
			v[k] = canonicalInts(e)
		}
		return v
	default:
		return v
	}
}

// canonicalizeValue returns the persisted encoding of v along with the value a
// later decode will produce.
func canonicalizeValue(v any) ([]byte, any, error) {
	if v != nil {
		switch reflect.TypeOf(v).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
			return nil, nil, fmt.Errorf("unsupported attribute value type %T", v)
		}
	}
	raw, err := encodeMsgpack(nil, v)
	if err != nil {
		return nil, nil, err
	}
	canon, err := decodeAnyMsgpack(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("value of type %T cannot be stored as an attribute: %w", v, err)
	}
	return raw, canon, nil
}
