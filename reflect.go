package ptree

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

var typeInfoCache sync.Map

type structInfo struct {
	cols   []Column
	fields [][]int
	err    error
}

func reflectType(typ reflect.Type) *structInfo {
	if v, ok := typeInfoCache.Load(typ); ok {
		return v.(*structInfo)
	}
	info := reflectTypeWithoutCache(typ)
	actual, _ := typeInfoCache.LoadOrStore(typ, info)
	return actual.(*structInfo)
}

// reflectTypeWithoutCache maps exported fields to columns. The tag
// `ptree:"name,len=16"` renames a column and sets the length of a string
// column; `ptree:"-"` skips a field.
func reflectTypeWithoutCache(typ reflect.Type) *structInfo {
	if typ.Kind() != reflect.Struct {
		return &structInfo{err: fmt.Errorf("%v is not a struct", typ)}
	}
	info := &structInfo{}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("ptree")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		t, ok := atomOfKind(field.Type.Kind())
		if !ok {
			return &structInfo{err: fmt.Errorf("%v.%s: unsupported field type %v", typ, field.Name, field.Type)}
		}
		col := Column{Name: name, Type: t}
		for _, opt := range strings.Split(opts, ",") {
			if opt == "" {
				continue
			}
			key, value, _ := strings.Cut(opt, "=")
			switch key {
			case "len":
				n, err := strconv.Atoi(value)
				if err != nil || n <= 0 {
					return &structInfo{err: fmt.Errorf("%v.%s: invalid len %q", typ, field.Name, value)}
				}
				col.Len = n
			default:
				return &structInfo{err: fmt.Errorf("%v.%s: unknown tag option %q", typ, field.Name, key)}
			}
		}
		if t == String && col.Len == 0 {
			return &structInfo{err: fmt.Errorf("%v.%s: string fields need a len tag option", typ, field.Name)}
		}
		info.cols = append(info.cols, col)
		info.fields = append(info.fields, field.Index)
	}
	if len(info.cols) == 0 {
		return &structInfo{err: fmt.Errorf("%v has no columns", typ)}
	}
	return info
}

// ColumnsOf derives table columns from the exported fields of struct T.
func ColumnsOf[T any]() ([]Column, error) {
	info := reflectType(reflect.TypeFor[T]())
	if info.err != nil {
		return nil, info.err
	}
	return append([]Column(nil), info.cols...), nil
}

// AppendStruct buffers a row taken from the fields of a struct (or a pointer
// to one) whose columns are described by ColumnsOf.
func (t *Table) AppendStruct(v any) error {
	rv := reflect.Indirect(reflect.ValueOf(v))
	info := reflectType(rv.Type())
	if info.err != nil {
		return nodeErrf(t.Path(), info.err, "")
	}
	rec := make(Record, len(info.cols))
	for i, col := range info.cols {
		rec[col.Name] = rv.FieldByIndex(info.fields[i]).Interface()
	}
	return t.AppendRow(rec)
}

// ReadStructs reads all persisted rows of t into structs of type T. Columns
// without a matching field are skipped.
func ReadStructs[T any](t *Table) ([]T, error) {
	info := reflectType(reflect.TypeFor[T]())
	if info.err != nil {
		return nil, nodeErrf(t.Path(), info.err, "")
	}
	rows, err := t.Read()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(rows))
	for i, col := range info.cols {
		ci, ok := t.colIndex[col.Name]
		if !ok {
			continue
		}
		if col.Type != t.atoms[ci].Type {
			return nil, nodeErrf(t.Path(), ErrWrongKind, "column %q is %v, not %v", col.Name, t.atoms[ci].Type, col.Type)
		}
		for r, row := range rows {
			fv := reflect.ValueOf(&out[r]).Elem().FieldByIndex(info.fields[i])
			fv.Set(reflect.ValueOf(row[ci]).Convert(fv.Type()))
		}
	}
	return out, nil
}
