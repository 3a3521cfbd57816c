package ptree

import (
	"fmt"
	"iter"
	"slices"
)

// Kind is the variant of a node.
type Kind uint8

const (
	KindGroup Kind = iota + 1
	KindTable
	KindArray
	KindEArray
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "Group"
	case KindTable:
		return "Table"
	case KindArray:
		return "Array"
	case KindEArray:
		return "EArray"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type nodeID uint64

// nodeState is the persisted description of a node, stored under its bucket's
// metaKey.
type nodeState struct {
	OID      uint64        `msgpack:"o"`
	Kind     Kind          `msgpack:"k"`
	Explicit bool          `msgpack:"x,omitempty"`
	Filters  Filters       `msgpack:"f"`
	Columns  []columnState `msgpack:"cols,omitempty"`
	Atom     Atom          `msgpack:"atom"`
	Rows     int64         `msgpack:"n,omitempty"`
	Chunks   uint64        `msgpack:"ch,omitempty"`
}

// Node is a group, table, array or extendable array in the object tree.
// Nodes are owned by their File and become invalid once removed or once the
// file is closed.
type Node struct {
	file     *File
	id       nodeID
	parent   nodeID
	name     string
	kind     Kind
	oid      uint64
	filters  Filters
	explicit bool
	attrs    *AttributeSet
	children map[string]nodeID
	table    *Table
	array    *Array
	removed  bool
	// lastPath is the path the node had when it was removed.
	lastPath string
}

func (n *Node) File() *File { return n.file }
func (n *Node) Name() string { return n.name }
func (n *Node) Kind() Kind  { return n.kind }

// OID returns the persistent object id of the node. It survives renames and
// reopening, and is never reused.
func (n *Node) OID() uint64 { return n.oid }

func (n *Node) IsGroup() bool { return n.kind == KindGroup }
func (n *Node) IsRoot() bool  { return n.parent == 0 }

// Parent returns nil for the root group.
func (n *Node) Parent() *Node {
	if n.parent == 0 {
		return nil
	}
	return n.file.nodes[n.parent]
}

// names returns the path components of n, root first.
func (n *Node) names() []string {
	var comps []string
	for p := n; p.parent != 0; p = p.Parent() {
		comps = append(comps, p.name)
	}
	slices.Reverse(comps)
	return comps
}

func (n *Node) Path() string {
	if n.removed {
		return n.lastPath
	}
	if n.parent == 0 {
		return "/"
	}
	return joinPath(n.Parent().Path(), n.name)
}

// Depth is 0 for the root group.
func (n *Node) Depth() int {
	var d int
	for p := n; p.parent != 0; p = p.Parent() {
		d++
	}
	return d
}

func (n *Node) Title() string {
	s, _ := n.attrs.mustGet("TITLE").(string)
	return s
}

// Filters returns the filters in effect for the node. Tables and extendable
// arrays keep the filters they were created with; groups without explicit
// filters follow their nearest ancestor with explicit ones.
func (n *Node) Filters() Filters {
	return ResolveFilters(n)
}

// HasExplicitFilters reports whether the filters were given at creation time
// rather than inherited.
func (n *Node) HasExplicitFilters() bool {
	return n.explicit
}

// ResolveFilters returns the filters of the nearest node, starting at n and
// walking up to the root, that has explicit filters. Arrays always resolve to
// trivial filters.
func ResolveFilters(n *Node) Filters {
	switch n.kind {
	case KindArray:
		return Filters{}
	case KindTable, KindEArray:
		return n.filters
	}
	for p := n; p != nil; p = p.Parent() {
		if p.explicit {
			return p.filters
		}
	}
	return Filters{}
}

func (n *Node) Attrs() *AttributeSet { return n.attrs }

func (n *Node) SetAttr(name string, value any) error { return n.attrs.Set(name, value) }
func (n *Node) GetAttr(name string) (any, error)     { return n.attrs.Get(name) }
func (n *Node) DelAttr(name string) error            { return n.attrs.Delete(name) }

// Table returns nil unless the node is a table.
func (n *Node) Table() *Table { return n.table }

// Array returns nil unless the node is an array or an extendable array.
func (n *Node) Array() *Array { return n.array }

// Child looks up a direct child by name. It works for any stored name, natural
// or not.
func (n *Node) Child(name string) (*Node, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if n.kind != KindGroup {
		return nil, nodeErrf(n.Path(), ErrWrongKind, "%v has no children", n.kind)
	}
	id, ok := n.children[name]
	if !ok {
		return nil, nodeErrf(joinPath(n.Path(), name), ErrNoSuchNode, "")
	}
	return n.file.nodes[id], nil
}

// Children returns the direct children sorted by name.
func (n *Node) Children() []*Node {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)
	result := make([]*Node, len(names))
	for i, name := range names {
		result[i] = n.file.nodes[n.children[name]]
	}
	return result
}

// Walk yields the descendants of n in pre-order, siblings sorted by name. n
// itself is not included. Without recursive, only direct children are yielded.
func (n *Node) Walk(recursive bool) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(recursive, yield)
	}
}

func (n *Node) walk(recursive bool, yield func(*Node) bool) bool {
	for _, child := range n.Children() {
		if !yield(child) {
			return false
		}
		if recursive && child.kind == KindGroup {
			if !child.walk(true, yield) {
				return false
			}
		}
	}
	return true
}

// isWithin reports whether n is anc or one of its descendants.
func (n *Node) isWithin(anc *Node) bool {
	for p := n; p != nil; p = p.Parent() {
		if p == anc {
			return true
		}
	}
	return false
}

func (n *Node) checkOpen() error {
	if n.file.closed {
		return ErrClosed
	}
	if n.removed {
		return nodeErrf(n.Path(), ErrNoSuchNode, "node was removed")
	}
	return nil
}

func (n *Node) checkMutable() error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	return n.file.checkWritable()
}

func (n *Node) String() string {
	return fmt.Sprintf("%s (%v)", n.Path(), n.kind)
}

// SetTitle replaces the TITLE system attribute.
func (n *Node) SetTitle(title string) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	return n.file.update(func(tx *txn) error {
		n.attrs.setSystem(tx, tx.subBucket(n, attrsBucketKey), "TITLE", title)
		return nil
	})
}
