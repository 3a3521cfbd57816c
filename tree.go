package ptree

import (
	"fmt"
	"strconv"
)

const flavor = "go"

func groupAttrs(n *Node, title string) []attrKV {
	return []attrKV{
		{"CLASS", "GROUP"},
		{"FILTERS", ResolveFilters(n).String()},
		{"TITLE", title},
		{"VERSION", "1.0"},
	}
}

func tableAttrs(n *Node, cols []Column, nrows int64, title string) []attrKV {
	attrs := make([]attrKV, 0, 2*len(cols)+6)
	attrs = append(attrs, attrKV{"CLASS", "TABLE"})
	for i, col := range cols {
		attrs = append(attrs,
			attrKV{"FIELD_" + strconv.Itoa(i) + "_FILL", col.Default},
			attrKV{"FIELD_" + strconv.Itoa(i) + "_NAME", col.Name})
	}
	return append(attrs,
		attrKV{"FILTERS", n.filters.String()},
		attrKV{"FLAVOR", flavor},
		attrKV{"NROWS", nrows},
		attrKV{"TITLE", title},
		attrKV{"VERSION", "2.0"})
}

func arrayAttrs(title string) []attrKV {
	return []attrKV{
		{"CLASS", "ARRAY"},
		{"FLAVOR", flavor},
		{"TITLE", title},
		{"VERSION", "2.3"},
	}
}

func earrayAttrs(n *Node, nrows int64, title string) []attrKV {
	return []attrKV{
		{"CLASS", "EARRAY"},
		{"EXTDIM", 0},
		{"FILTERS", n.filters.String()},
		{"FLAVOR", flavor},
		{"NROWS", nrows},
		{"TITLE", title},
		{"VERSION", "1.0"},
	}
}

// nodeTemplate describes a node about to be created, either from scratch or
// as a copy of another node.
type nodeTemplate struct {
	kind    Kind
	title   string
	filters *Filters
	state   nodeState

	cols    []Column
	chunks  [][]byte
	rows    int64
	userRaw map[string][]byte
}

// checkCreate runs the validations shared by every creation path, in order:
// file writable, parent is a group, name syntax, existence, then advisories.
func (f *File) checkCreate(parentRef any, name string) (*Node, error) {
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	parent, err := f.resolveGroup(parentRef)
	if err != nil {
		return nil, err
	}
	path := joinPath(parent.Path(), name)
	if err := validateName(name); err != nil {
		return nil, nodeErrf(path, err, "")
	}
	if _, exists := parent.children[name]; exists {
		return nil, nodeErrf(path, ErrNodeExists, "")
	}
	if w := namingAdvisory(path, "node", name); w != nil {
		if err := f.warn(w); err != nil {
			return nil, err
		}
	}
	if depth := parent.Depth() + 1; depth > f.opt.MaxTreeDepth {
		w := &Warning{
			Category: PerformanceWarning,
			Path:     path,
			Msg:      fmt.Sprintf("tree depth %d exceeds the recommended maximum of %d", depth, f.opt.MaxTreeDepth),
		}
		if err := f.warn(w); err != nil {
			return nil, err
		}
	}
	return parent, nil
}

// createNode persists a node described by tmpl in a single transaction and
// links it into the tree once the transaction commits.
func (f *File) createNode(parent *Node, name string, tmpl *nodeTemplate) (*Node, error) {
	var n *Node
	err := f.update(func(tx *txn) error {
		n = f.buildNode(tx, parent, name, tmpl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// buildNode creates the node and its storage inside tx. The node becomes
// visible to lookups only when tx commits.
func (f *File) buildNode(tx *txn, parent *Node, name string, tmpl *nodeTemplate) *Node {
	n := f.newNode(parent.id, name, tmpl.kind)
	tx.built = append(tx.built, n)
	switch {
	case tmpl.kind == KindArray:
	case tmpl.filters != nil:
		n.filters = tmpl.filters.Normalize()
		ensure(n.filters.Validate())
		n.explicit = true
	case tmpl.kind != KindGroup:
		n.filters = ResolveFilters(parent)
	}
	n.oid = tx.allocOID()

	st := tmpl.state
	var sys []attrKV
	switch tmpl.kind {
	case KindGroup:
		sys = groupAttrs(n, tmpl.title)
	case KindTable:
		t := must(newTable(n, tmpl.cols))
		st.Columns = t.columnStates()
		st.Rows = tmpl.rows
		t.rows = tmpl.rows
		sys = tableAttrs(n, t.cols, tmpl.rows, tmpl.title)
	case KindArray:
		a := newArray(n, tmpl.state.Atom)
		a.length = tmpl.rows
		st.Rows = tmpl.rows
		sys = arrayAttrs(tmpl.title)
	case KindEArray:
		a := newArray(n, tmpl.state.Atom)
		a.length = tmpl.rows
		st.Rows = tmpl.rows
		sys = earrayAttrs(n, tmpl.rows, tmpl.title)
	}

	nb := must(tx.subBucket(parent, childrenBucketKey).CreateBucket([]byte(name)))
	if len(tmpl.chunks) > 0 {
		db := must(nb.CreateBucket(dataBucketKey))
		for i, chunk := range tmpl.chunks {
			ensure(db.Put(chunkKey(uint64(i)), chunk))
		}
		st.Chunks = uint64(len(tmpl.chunks))
	}
	switch {
	case n.table != nil:
		n.table.nextChunk = st.Chunks
	case n.array != nil:
		n.array.nextChunk = st.Chunks
	}
	f.writeNode(tx, nb, n, &st, sys)
	for attrName, raw := range tmpl.userRaw {
		n.attrs.initUser(nb.Bucket(attrsBucketKey), attrName, raw)
	}

	tx.onCommit(func() {
		parent.children[name] = n.id
	})
	return n
}

// discard drops a node that was built but never committed.
func (f *File) discard(n *Node) {
	if n == nil || n.removed {
		return
	}
	n.lastPath = n.Path()
	for _, id := range n.children {
		f.discard(f.nodes[id])
	}
	n.removed = true
	delete(f.nodes, n.id)
}

// CreateGroup creates a group under parent, which is a group node or a path.
// Nil filters mean the group inherits the filters of its ancestors.
func (f *File) CreateGroup(parent any, name, title string, filters *Filters) (*Node, error) {
	p, err := f.checkCreate(parent, name)
	if err != nil {
		return nil, err
	}
	if filters != nil {
		if err := filters.Normalize().Validate(); err != nil {
			return nil, nodeErrf(joinPath(p.Path(), name), err, "")
		}
	}
	return f.createNode(p, name, &nodeTemplate{
		kind:    KindGroup,
		title:   title,
		filters: filters,
	})
}

// CreateGroups creates every missing group along path, like os.MkdirAll.
func (f *File) CreateGroups(path string) (*Node, error) {
	n := f.root
	for _, name := range splitPath(path) {
		child, err := n.Child(name)
		if err == nil {
			n = child
			continue
		}
		n, err = f.CreateGroup(n, name, "", nil)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Rename changes the name of n within its parent.
func (n *Node) Rename(newName string) error {
	if n.IsRoot() {
		return nodeErrf("/", ErrAccessDenied, "cannot rename the root group")
	}
	return n.Move(n.Parent(), newName)
}

// Move relocates n and its subtree under newParent with the given name.
// Tables and arrays keep their filters; groups without explicit filters pick
// up the filters of their new ancestors.
func (n *Node) Move(newParent *Node, newName string) error {
	f := n.file
	if err := n.checkMutable(); err != nil {
		return err
	}
	if n.IsRoot() {
		return nodeErrf("/", ErrAccessDenied, "cannot move the root group")
	}
	dst, err := f.checkCreateTarget(newParent, newName, n)
	if err != nil || dst == nil {
		return err
	}
	oldParent := n.Parent()
	oldName := n.name
	if oldParent == dst && oldName == newName {
		return nil
	}
	inherited := inheritingGroups(n, nil)

	return f.update(func(tx *txn) error {
		src := tx.nodeBucket(n)
		dcb := tx.subBucket(dst, childrenBucketKey)
		nb := must(dcb.CreateBucket([]byte(newName)))
		ensure(copyBucket(nb, src))
		ensure(tx.subBucket(oldParent, childrenBucketKey).DeleteBucket([]byte(oldName)))

		tx.onCommit(func() {
			delete(oldParent.children, oldName)
			dst.children[newName] = n.id
			n.parent = dst.id
			n.name = newName
		})

		// group FILTERS descriptors are refreshed relative to the new location
		resolved := ResolveFilters(dst).String()
		for _, g := range inherited {
			ab := nb
			for _, name := range g.names()[n.Depth():] {
				ab = ab.Bucket(childrenBucketKey).Bucket([]byte(name))
			}
			g.attrs.setSystem(tx, ab.Bucket(attrsBucketKey), "FILTERS", resolved)
		}
		return nil
	})
}

// checkCreateTarget validates placing src under parent as name.
func (f *File) checkCreateTarget(parentRef any, name string, src *Node) (*Node, error) {
	parent, err := f.resolveGroup(parentRef)
	if err != nil {
		return nil, err
	}
	if parent.isWithin(src) {
		return nil, nodeErrf(src.Path(), ErrOverlap, "cannot move into own subtree %s", parent.Path())
	}
	if parent == src.Parent() && name == src.name {
		return parent, nil
	}
	if _, err := f.checkCreate(parent, name); err != nil {
		return nil, err
	}
	if h, limit := subtreeHeight(src), f.opt.MaxTreeDepth; h > 0 && parent.Depth()+1+h > limit {
		w := &Warning{
			Category: PerformanceWarning,
			Path:     joinPath(parent.Path(), name),
			Msg:      fmt.Sprintf("tree depth exceeds the recommended maximum of %d", limit),
		}
		if err := f.warn(w); err != nil {
			return nil, err
		}
	}
	return parent, nil
}

func subtreeHeight(n *Node) int {
	var h int
	for child := range n.Walk(false) {
		if ch := 1 + subtreeHeight(child); ch > h {
			h = ch
		}
	}
	return h
}

// inheritingGroups collects n and its descendant groups whose filters come
// from above n.
func inheritingGroups(n *Node, out []*Node) []*Node {
	if n.kind != KindGroup || n.explicit {
		return out
	}
	out = append(out, n)
	for _, child := range n.Children() {
		out = inheritingGroups(child, out)
	}
	return out
}

// Remove deletes n. A group with children is removed only if recursive is set.
func (n *Node) Remove(recursive bool) error {
	f := n.file
	if err := n.checkMutable(); err != nil {
		return err
	}
	if n.IsRoot() {
		return nodeErrf("/", ErrAccessDenied, "cannot remove the root group")
	}
	if len(n.children) > 0 && !recursive {
		return nodeErrf(n.Path(), ErrNotEmpty, "%d children", len(n.children))
	}
	parent := n.Parent()
	return f.update(func(tx *txn) error {
		ensure(tx.subBucket(parent, childrenBucketKey).DeleteBucket([]byte(n.name)))
		tx.onCommit(func() {
			delete(parent.children, n.name)
			f.discard(n)
		})
		return nil
	})
}
