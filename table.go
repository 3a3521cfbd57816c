package ptree

import (
	"fmt"
	"iter"
	"reflect"
)

// Column describes one field of a table. Len is the byte length of String
// columns. A nil Default means the zero value of the column type.
type Column struct {
	Name    string
	Type    Type
	Len     int
	Default any
}

func (c Column) Atom() Atom {
	if c.Type == String {
		return Atom{Type: String, Len: c.Len}
	}
	return Atom{Type: c.Type}
}

type columnState struct {
	Name string `msgpack:"n"`
	Atom Atom   `msgpack:"a"`
	Fill []byte `msgpack:"f"`
}

func columnsFromState(states []columnState) ([]Column, error) {
	cols := make([]Column, len(states))
	for i, cs := range states {
		if err := cs.Atom.Validate(); err != nil {
			return nil, fmt.Errorf("column %q: %w", cs.Name, err)
		}
		if len(cs.Fill) != cs.Atom.Size() {
			return nil, dataErrf(cs.Fill, 0, nil, "column %q: fill value has wrong size", cs.Name)
		}
		cols[i] = Column{Name: cs.Name, Type: cs.Atom.Type, Len: cs.Atom.Len, Default: cs.Atom.decode(cs.Fill)}
		if cs.Atom.Type != String {
			cols[i].Len = 0
		}
	}
	return cols, nil
}

// Record maps column names to values. Missing columns take their defaults.
type Record map[string]any

// Table is a node holding fixed-size records. Appended rows are buffered
// until Flush, Close or until the buffer fills a chunk.
type Table struct {
	*Node
	cols     []Column
	atoms    []Atom
	colIndex map[string]int
	offsets  []int
	recSize  int
	fill     []byte

	pending   []byte
	npending  int
	rows      int64
	nextChunk uint64
}

func newTable(n *Node, cols []Column) (*Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("table needs at least one column")
	}
	t := &Table{
		Node:     n,
		cols:     make([]Column, len(cols)),
		atoms:    make([]Atom, len(cols)),
		colIndex: make(map[string]int, len(cols)),
		offsets:  make([]int, len(cols)),
	}
	for i, col := range cols {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := t.colIndex[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		atom := col.Atom()
		if err := atom.Validate(); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		t.colIndex[col.Name] = i
		t.atoms[i] = atom
		t.offsets[i] = t.recSize
		t.recSize += atom.Size()
	}

	t.fill = make([]byte, t.recSize)
	for i, col := range cols {
		atom := t.atoms[i]
		if col.Default != nil {
			if err := atom.encode(t.fill[t.offsets[i]:t.offsets[i]+atom.Size()], col.Default); err != nil {
				return nil, fmt.Errorf("column %q default: %w", col.Name, err)
			}
		}
		col.Default = atom.decode(t.fill[t.offsets[i] : t.offsets[i]+atom.Size()])
		if atom.Type != String {
			col.Len = 0
		}
		t.cols[i] = col
	}
	n.table = t
	return t, nil
}

func (t *Table) columnStates() []columnState {
	states := make([]columnState, len(t.cols))
	for i, col := range t.cols {
		states[i] = columnState{
			Name: col.Name,
			Atom: t.atoms[i],
			Fill: t.fill[t.offsets[i] : t.offsets[i]+t.atoms[i].Size()],
		}
	}
	return states
}

// Columns returns the schema in column order, with defaults filled in.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.cols...)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, col := range t.cols {
		names[i] = col.Name
	}
	return names
}

// RecordSize is the encoded size of one row in bytes.
func (t *Table) RecordSize() int {
	return t.recSize
}

// NRows counts persisted and buffered rows.
func (t *Table) NRows() int64 {
	return t.rows + int64(t.npending)
}

// PersistedRows counts rows that have been flushed.
func (t *Table) PersistedRows() int64 {
	return t.rows
}

// CreateTable creates a table under parent, which is a group node or a path.
// More columns than Options.MaxColumns produce a performance advisory.
func (f *File) CreateTable(parent any, name string, cols []Column, title string, filters *Filters) (*Table, error) {
	p, err := f.checkCreate(parent, name)
	if err != nil {
		return nil, err
	}
	path := joinPath(p.Path(), name)
	if _, err := newTable(&Node{}, cols); err != nil {
		return nil, nodeErrf(path, err, "")
	}
	if filters != nil {
		if err := filters.Normalize().Validate(); err != nil {
			return nil, nodeErrf(path, err, "")
		}
	}
	if len(cols) > f.opt.MaxColumns {
		w := &Warning{
			Category: PerformanceWarning,
			Path:     path,
			Msg:      fmt.Sprintf("table has %d columns, more than the recommended maximum of %d", len(cols), f.opt.MaxColumns),
		}
		if err := f.warn(w); err != nil {
			return nil, err
		}
	}

	n, err := f.createNode(p, name, &nodeTemplate{
		kind:    KindTable,
		title:   title,
		filters: filters,
		cols:    cols,
	})
	if err != nil {
		return nil, err
	}
	return n.table, nil
}

// AppendRow buffers one row. Unknown column names, values of the wrong type
// and values that don't fit their column are rejected.
func (t *Table) AppendRow(rec Record) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	for name := range rec {
		if _, ok := t.colIndex[name]; !ok {
			return nodeErrf(t.Path(), nil, "no column %q", name)
		}
	}
	off, buf := grow(t.pending, t.recSize)
	row := buf[off:]
	copy(row, t.fill)
	for name, v := range rec {
		if err := t.encodeValue(row, t.colIndex[name], v); err != nil {
			return err
		}
	}
	t.pending = buf
	t.npending++
	return t.flushIfFull()
}

// AppendRows buffers rows given as values in column order. Short rows take
// defaults for the remaining columns. Either all rows are buffered or none.
func (t *Table) AppendRows(rows [][]any) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	start := len(t.pending)
	buf := t.pending
	for r, values := range rows {
		if len(values) > len(t.cols) {
			return nodeErrf(t.Path(), nil, "row %d has %d values for %d columns", r, len(values), len(t.cols))
		}
		var off int
		off, buf = grow(buf, t.recSize)
		row := buf[off:]
		copy(row, t.fill)
		for i, v := range values {
			if err := t.encodeValue(row, i, v); err != nil {
				return fmt.Errorf("row %d: %w", r, err)
			}
		}
	}
	t.pending = buf
	t.npending += (len(buf) - start) / t.recSize
	return t.flushIfFull()
}

func (t *Table) encodeValue(row []byte, i int, v any) error {
	if v == nil {
		return nil
	}
	atom := t.atoms[i]
	if err := atom.encode(row[t.offsets[i]:t.offsets[i]+atom.Size()], v); err != nil {
		return nodeErrf(t.Path(), err, "column %q", t.cols[i].Name)
	}
	return nil
}

func (t *Table) flushIfFull() error {
	if len(t.pending) >= t.file.opt.ChunkSize {
		return t.Flush()
	}
	return nil
}

// RowBuilder collects the fields of one row.
type RowBuilder struct {
	t   *Table
	rec Record
}

// Row starts a new row.
func (t *Table) Row() *RowBuilder {
	return &RowBuilder{t: t, rec: make(Record)}
}

func (r *RowBuilder) Set(name string, v any) *RowBuilder {
	r.rec[name] = v
	return r
}

// Append buffers the row and resets the builder for the next one.
func (r *RowBuilder) Append() error {
	err := r.t.AppendRow(r.rec)
	r.rec = make(Record)
	return err
}

// Flush persists buffered rows in one transaction.
func (t *Table) Flush() error {
	if t.npending == 0 {
		return nil
	}
	if err := t.checkMutable(); err != nil {
		return err
	}
	f := t.file
	chunks, err := encodeChunks(t.filters, t.pending, t.recSize, f.opt.ChunkSize)
	if err != nil {
		return nodeErrf(t.Path(), err, "encoding rows")
	}

	st := t.persistentState()
	st.Rows += int64(t.npending)
	st.Chunks += uint64(len(chunks))
	err = f.update(func(tx *txn) error {
		nb := tx.nodeBucket(t.Node)
		db := must(nb.CreateBucket(dataBucketKey))
		for i, chunk := range chunks {
			ensure(db.Put(chunkKey(t.nextChunk+uint64(i)), chunk))
		}
		tx.putNodeState(nb, &st)
		t.attrs.setSystem(tx, must(nb.CreateBucket(attrsBucketKey)), "NROWS", st.Rows)
		tx.onCommit(func() {
			t.rows = st.Rows
			t.nextChunk = st.Chunks
			t.pending = t.pending[:0]
			t.npending = 0
		})
		return nil
	})
	if err != nil {
		return err
	}
	f.logger.Debug("ptree: flushed", "table", t.Path(), "chunks", len(chunks), "rows", st.Rows)
	return nil
}

// Read returns all persisted rows, each in column order.
func (t *Table) Read() ([][]any, error) {
	return t.ReadRange(0, t.rows)
}

// ReadRange returns persisted rows [start, stop). The range is clamped to the
// persisted rows.
func (t *Table) ReadRange(start, stop int64) ([][]any, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	start, stop = clampRange(start, stop, t.rows)
	data, err := t.readElems(start, stop, t.recSize)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, stop-start)
	for off := 0; off+t.recSize <= len(data); off += t.recSize {
		rows = append(rows, t.decodeRow(data[off:off+t.recSize]))
	}
	return rows, nil
}

func (t *Table) decodeRow(rec []byte) []any {
	row := make([]any, len(t.cols))
	for i, atom := range t.atoms {
		row[i] = atom.decode(rec[t.offsets[i] : t.offsets[i]+atom.Size()])
	}
	return row
}

// ReadRecords returns all persisted rows as records.
func (t *Table) ReadRecords() ([]Record, error) {
	rows, err := t.Read()
	if err != nil {
		return nil, err
	}
	recs := make([]Record, len(rows))
	for r, row := range rows {
		rec := make(Record, len(row))
		for i, v := range row {
			rec[t.cols[i].Name] = v
		}
		recs[r] = rec
	}
	return recs, nil
}

// Scan calls fn for every persisted row, in order, with its row number. It
// stops at the first error from fn or from reading, and returns it.
func (t *Table) Scan(fn func(i int64, row []any) error) error {
	rows, err := t.Read()
	if err != nil {
		return err
	}
	for i, row := range rows {
		if err := fn(int64(i), row); err != nil {
			return err
		}
	}
	return nil
}

// Rows iterates over persisted rows with their row numbers. A read error is
// logged and ends the iteration early; use Scan to receive it.
func (t *Table) Rows() iter.Seq2[int64, []any] {
	return func(yield func(int64, []any) bool) {
		err := t.Scan(func(i int64, row []any) error {
			if !yield(i, row) {
				return errStopScan
			}
			return nil
		})
		if err != nil && err != errStopScan {
			t.file.logger.Error("ptree: reading rows", "table", t.Path(), "err", err)
		}
	}
}

// Col returns the persisted values of one column as a typed slice, such as
// []int32 or []string.
func (t *Table) Col(name string) (any, error) {
	i, ok := t.colIndex[name]
	if !ok {
		return nil, nodeErrf(t.Path(), nil, "no column %q", name)
	}
	rows, err := t.Read()
	if err != nil {
		return nil, err
	}
	out := reflect.MakeSlice(reflect.SliceOf(t.atoms[i].goType()), len(rows), len(rows))
	for r, row := range rows {
		out.Index(r).Set(reflect.ValueOf(row[i]))
	}
	return out.Interface(), nil
}

func (n *Node) persistentState() nodeState {
	st := nodeState{
		OID:      n.oid,
		Kind:     n.kind,
		Explicit: n.explicit,
		Filters:  n.filters,
	}
	switch {
	case n.table != nil:
		st.Columns = n.table.columnStates()
		st.Rows = n.table.rows
		st.Chunks = n.table.nextChunk
	case n.array != nil:
		st.Atom = n.array.atom
		st.Rows = n.array.length
		st.Chunks = n.array.nextChunk
	}
	return st
}

func clampRange(start, stop, n int64) (int64, int64) {
	start = max(start, 0)
	stop = min(stop, n)
	if start > stop {
		start = stop
	}
	return start, stop
}
