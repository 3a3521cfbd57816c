package ptree

import (
	"fmt"
	"reflect"
)

// Array is a node holding a one-dimensional sequence of atoms. Plain arrays
// are written once at creation and never compressed; extendable arrays grow
// with Append and use the filters of the node.
type Array struct {
	*Node
	atom      Atom
	length    int64
	nextChunk uint64
}

func newArray(n *Node, atom Atom) *Array {
	a := &Array{Node: n, atom: atom}
	n.array = a
	return a
}

func (a *Array) Atom() Atom       { return a.atom }
func (a *Array) Len() int64       { return a.length }
func (a *Array) Extendable() bool { return a.kind == KindEArray }

// inferAtom derives the atom of a Go slice. Strings get the length of the
// longest element, at least 1.
func inferAtom(data any) (Atom, reflect.Value, error) {
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return Atom{}, rv, fmt.Errorf("array data must be a slice, got %T", data)
	}
	typ, ok := atomOfKind(rv.Type().Elem().Kind())
	if !ok {
		return Atom{}, rv, fmt.Errorf("unsupported array element type %v", rv.Type().Elem())
	}
	atom := Atom{Type: typ}
	if typ == String {
		atom.Len = 1
		for i := 0; i < rv.Len(); i++ {
			atom.Len = max(atom.Len, rv.Index(i).Len())
		}
	}
	return atom, rv, nil
}

func encodeElems(atom Atom, rv reflect.Value) ([]byte, error) {
	size := atom.Size()
	buf := make([]byte, rv.Len()*size)
	for i := 0; i < rv.Len(); i++ {
		if err := atom.encode(buf[i*size:(i+1)*size], rv.Index(i).Interface()); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return buf, nil
}

// CreateArray creates a fixed array holding data, a slice of bools, numbers
// or strings. The element type is inferred from the slice type.
func (f *File) CreateArray(parent any, name string, data any, title string) (*Array, error) {
	p, err := f.checkCreate(parent, name)
	if err != nil {
		return nil, err
	}
	path := joinPath(p.Path(), name)
	atom, rv, err := inferAtom(data)
	if err != nil {
		return nil, nodeErrf(path, err, "")
	}
	raw, err := encodeElems(atom, rv)
	if err != nil {
		return nil, nodeErrf(path, err, "")
	}
	tmpl := &nodeTemplate{
		kind:  KindArray,
		title: title,
		state: nodeState{Atom: atom},
		rows:  int64(rv.Len()),
	}
	if len(raw) > 0 {
		chunk, err := Filters{}.pipeline().Encode(nil, raw, atom.Size())
		if err != nil {
			return nil, nodeErrf(path, err, "")
		}
		tmpl.chunks = [][]byte{chunk}
	}
	n, err := f.createNode(p, name, tmpl)
	if err != nil {
		return nil, err
	}
	return n.array, nil
}

// CreateEArray creates an empty extendable array of atom.
func (f *File) CreateEArray(parent any, name string, atom Atom, title string, filters *Filters) (*Array, error) {
	p, err := f.checkCreate(parent, name)
	if err != nil {
		return nil, err
	}
	path := joinPath(p.Path(), name)
	if atom.Type != String {
		atom.Len = 0
	}
	if err := atom.Validate(); err != nil {
		return nil, nodeErrf(path, err, "")
	}
	if filters != nil {
		if err := filters.Normalize().Validate(); err != nil {
			return nil, nodeErrf(path, err, "")
		}
	}
	n, err := f.createNode(p, name, &nodeTemplate{
		kind:    KindEArray,
		title:   title,
		filters: filters,
		state:   nodeState{Atom: atom},
	})
	if err != nil {
		return nil, err
	}
	return n.array, nil
}

// Append writes data, a slice convertible to the array's atom, as a new chunk.
func (a *Array) Append(data any) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	if a.kind != KindEArray {
		return nodeErrf(a.Path(), ErrWrongKind, "cannot append to a fixed array")
	}
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nodeErrf(a.Path(), nil, "data must be a slice, got %T", data)
	}
	if rv.Len() == 0 {
		return nil
	}
	raw, err := encodeElems(a.atom, rv)
	if err != nil {
		return nodeErrf(a.Path(), err, "")
	}
	f := a.file
	chunks, err := encodeChunks(a.filters, raw, a.atom.Size(), max(len(raw), f.opt.ChunkSize))
	if err != nil {
		return nodeErrf(a.Path(), err, "")
	}

	st := a.persistentState()
	st.Rows += int64(rv.Len())
	st.Chunks += uint64(len(chunks))
	return f.update(func(tx *txn) error {
		nb := tx.nodeBucket(a.Node)
		db := must(nb.CreateBucket(dataBucketKey))
		for i, chunk := range chunks {
			ensure(db.Put(chunkKey(a.nextChunk+uint64(i)), chunk))
		}
		tx.putNodeState(nb, &st)
		a.attrs.setSystem(tx, must(nb.CreateBucket(attrsBucketKey)), "NROWS", st.Rows)
		tx.onCommit(func() {
			a.length = st.Rows
			a.nextChunk = st.Chunks
		})
		return nil
	})
}

// Read returns the whole array as a typed slice, such as []int16 or []string.
func (a *Array) Read() (any, error) {
	return a.ReadRange(0, a.length)
}

// ReadRange returns elements [start, stop) as a typed slice.
func (a *Array) ReadRange(start, stop int64) (any, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	start, stop = clampRange(start, stop, a.length)
	size := a.atom.Size()
	data, err := a.readElems(start, stop, size)
	if err != nil {
		return nil, err
	}
	cnt := len(data) / size
	out := reflect.MakeSlice(reflect.SliceOf(a.atom.goType()), cnt, cnt)
	for i := 0; i < cnt; i++ {
		out.Index(i).Set(reflect.ValueOf(a.atom.decode(data[i*size : (i+1)*size])))
	}
	return out.Interface(), nil
}

// ReadArray reads the whole array into a slice of T, which must match the
// array's element type.
func ReadArray[T any](a *Array) ([]T, error) {
	if want := reflect.TypeFor[T](); want != a.atom.goType() {
		return nil, nodeErrf(a.Path(), ErrWrongKind, "array holds %v, not %v", a.atom, want)
	}
	v, err := a.Read()
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}
