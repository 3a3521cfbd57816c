package ptree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Type is the element type of a table column or an array.
type Type uint8

const (
	Bool Type = iota + 1
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
)

var typeNames = [...]string{
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
}

var typeSizes = [...]int{
	Bool:    1,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
}

var typeGoTypes = [...]reflect.Type{
	Bool:    reflect.TypeFor[bool](),
	Int8:    reflect.TypeFor[int8](),
	Int16:   reflect.TypeFor[int16](),
	Int32:   reflect.TypeFor[int32](),
	Int64:   reflect.TypeFor[int64](),
	Uint8:   reflect.TypeFor[uint8](),
	Uint16:  reflect.TypeFor[uint16](),
	Uint32:  reflect.TypeFor[uint32](),
	Uint64:  reflect.TypeFor[uint64](),
	Float32: reflect.TypeFor[float32](),
	Float64: reflect.TypeFor[float64](),
	String:  reflect.TypeFor[string](),
}

func (t Type) Valid() bool {
	return t >= Bool && t <= String
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name != "" && name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown type %q", s)
}

// Atom is a fixed-size element type. Len is the byte length of String atoms
// and is ignored for other types.
type Atom struct {
	Type Type `msgpack:"t"`
	Len  int  `msgpack:"l,omitempty"`
}

func (a Atom) String() string {
	if a.Type == String {
		return fmt.Sprintf("string(%d)", a.Len)
	}
	return a.Type.String()
}

func (a Atom) Size() int {
	if a.Type == String {
		return a.Len
	}
	if a.Type.Valid() {
		return typeSizes[a.Type]
	}
	return 0
}

func (a Atom) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("invalid type %v", a.Type)
	}
	if a.Type == String && a.Len <= 0 {
		return fmt.Errorf("string atom needs a positive length, got %d", a.Len)
	}
	return nil
}

func (a Atom) goType() reflect.Type {
	return typeGoTypes[a.Type]
}

func (a Atom) zero() any {
	return reflect.Zero(a.goType()).Interface()
}

// atomOfKind maps a Go element kind to an atom type. Plain int and uint map to
// their 64-bit counterparts.
func atomOfKind(k reflect.Kind) (Type, bool) {
	switch k {
	case reflect.Bool:
		return Bool, true
	case reflect.Int8:
		return Int8, true
	case reflect.Int16:
		return Int16, true
	case reflect.Int32:
		return Int32, true
	case reflect.Int, reflect.Int64:
		return Int64, true
	case reflect.Uint8:
		return Uint8, true
	case reflect.Uint16:
		return Uint16, true
	case reflect.Uint32:
		return Uint32, true
	case reflect.Uint, reflect.Uint64:
		return Uint64, true
	case reflect.Float32:
		return Float32, true
	case reflect.Float64:
		return Float64, true
	case reflect.String:
		return String, true
	default:
		return 0, false
	}
}

// encode writes v into dst, which must be exactly a.Size() bytes long. Values
// that don't fit the atom are rejected rather than truncated.
func (a Atom) encode(dst []byte, v any) error {
	if v == nil {
		return fmt.Errorf("nil value for %v", a)
	}
	rv := reflect.ValueOf(v)
	switch a.Type {
	case Bool:
		if rv.Kind() != reflect.Bool {
			return a.mismatch(v)
		}
		if rv.Bool() {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case Int8, Int16, Int32, Int64:
		n, err := a.intValue(rv, v)
		if err != nil {
			return err
		}
		bits := uint(typeSizes[a.Type] * 8)
		if bits < 64 && (n < -(1<<(bits-1)) || n >= 1<<(bits-1)) {
			return fmt.Errorf("value %v overflows %v", v, a)
		}
		putUint(dst, uint64(n))
	case Uint8, Uint16, Uint32, Uint64:
		n, err := a.uintValue(rv, v)
		if err != nil {
			return err
		}
		bits := uint(typeSizes[a.Type] * 8)
		if bits < 64 && n >= 1<<bits {
			return fmt.Errorf("value %v overflows %v", v, a)
		}
		putUint(dst, n)
	case Float32, Float64:
		var f float64
		switch {
		case rv.CanFloat():
			f = rv.Float()
		case rv.CanInt():
			f = float64(rv.Int())
		case rv.CanUint():
			f = float64(rv.Uint())
		default:
			return a.mismatch(v)
		}
		if a.Type == Float32 {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return fmt.Errorf("value %v overflows %v", v, a)
			}
			binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
		}
	case String:
		var s []byte
		switch {
		case rv.Kind() == reflect.String:
			s = []byte(rv.String())
		case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
			s = rv.Bytes()
		default:
			return a.mismatch(v)
		}
		if len(s) > a.Len {
			return fmt.Errorf("string of %d bytes does not fit %v", len(s), a)
		}
		n := copy(dst, s)
		clear(dst[n:])
	default:
		return fmt.Errorf("invalid type %v", a.Type)
	}
	return nil
}

func (a Atom) intValue(rv reflect.Value, v any) (int64, error) {
	switch {
	case rv.CanInt():
		return rv.Int(), nil
	case rv.CanUint():
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %v overflows %v", v, a)
		}
		return int64(u), nil
	default:
		return 0, a.mismatch(v)
	}
}

func (a Atom) uintValue(rv reflect.Value, v any) (uint64, error) {
	switch {
	case rv.CanUint():
		return rv.Uint(), nil
	case rv.CanInt():
		n := rv.Int()
		if n < 0 {
			return 0, fmt.Errorf("negative value %v for %v", v, a)
		}
		return uint64(n), nil
	default:
		return 0, a.mismatch(v)
	}
}

func (a Atom) mismatch(v any) error {
	return fmt.Errorf("cannot store %T in %v", v, a)
}

// decode reads a value of the atom's Go type from src. Trailing NULs are
// stripped from strings.
func (a Atom) decode(src []byte) any {
	switch a.Type {
	case Bool:
		return src[0] != 0
	case Int8:
		return int8(src[0])
	case Int16:
		return int16(binary.LittleEndian.Uint16(src))
	case Int32:
		return int32(binary.LittleEndian.Uint32(src))
	case Int64:
		return int64(binary.LittleEndian.Uint64(src))
	case Uint8:
		return src[0]
	case Uint16:
		return binary.LittleEndian.Uint16(src)
	case Uint32:
		return binary.LittleEndian.Uint32(src)
	case Uint64:
		return binary.LittleEndian.Uint64(src)
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(src))
	case String:
		return string(bytes.TrimRight(src[:a.Len], "\x00"))
	default:
		panic(fmt.Errorf("invalid type %v", a.Type))
	}
}

func putUint(dst []byte, v uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(dst, v)
	default:
		panic(fmt.Errorf("invalid integer width %d", len(dst)))
	}
}
