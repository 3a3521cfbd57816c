package ptree

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

type DumpFlags uint64

const (
	DumpAttrs = DumpFlags(1 << iota)
	DumpFilters
	DumpData
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the tree below the node named by ref in a human-readable form.
func (f *File) Dump(ref any, flags DumpFlags) (string, error) {
	n, err := f.resolve(ref)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	fmt.Fprintln(&buf, dumpSep1)
	fmt.Fprintf(&buf, "%s (mode %s)\n", f.path, f.mode)
	if err := f.dumpNode(&buf, n, flags); err != nil {
		return "", err
	}
	if n.kind == KindGroup {
		for child := range n.Walk(true) {
			if err := f.dumpNode(&buf, child, flags); err != nil {
				return "", err
			}
		}
	}
	return buf.String(), nil
}

// Describe returns a one-line summary of a node, like
// "/g/t (Table(3 cols, 10 rows)) \"title\"".
func (n *Node) Describe() string {
	var kind string
	switch {
	case n.table != nil:
		kind = fmt.Sprintf("Table(%d cols, %d rows)", len(n.table.cols), n.table.NRows())
	case n.array != nil:
		kind = fmt.Sprintf("%v(%v, %d)", n.kind, n.array.atom, n.array.length)
	default:
		kind = n.kind.String()
	}
	return fmt.Sprintf("%s (%s) %q", n.Path(), kind, n.Title())
}

func (f *File) dumpNode(w *strings.Builder, n *Node, flags DumpFlags) error {
	indent := strings.Repeat(indentStep, n.Depth())
	if flags.Contains(DumpAttrs) || flags.Contains(DumpData) {
		fmt.Fprintln(w, dumpSep2)
	}
	fmt.Fprintf(w, "%s%s\n", indent, n.Describe())
	indent += indentStep

	if flags.Contains(DumpFilters) && n.kind != KindArray {
		explicit := ""
		if n.explicit {
			explicit = " (explicit)"
		}
		fmt.Fprintf(w, "%sfilters: %v%s\n", indent, n.Filters(), explicit)
	}
	if flags.Contains(DumpStats) {
		s, err := f.NodeStats(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%sstats: nodes = %d, rows = %d, chunks = %d, stored = %s, raw = %s, ratio = %.2f\n", indent, s.Nodes, s.Rows, s.Chunks, humanize.IBytes(uint64(s.StoredSize)), humanize.IBytes(uint64(s.RawSize)), s.CompressionRatio())
	}
	if flags.Contains(DumpAttrs) {
		names := n.attrs.List(ScopeAll)
		var width int
		for _, name := range names {
			width = max(width, len(name)+1)
		}
		for _, name := range names {
			label := rpad("."+name, width, ' ')
			v, err := n.attrs.Get(name)
			if err != nil {
				fmt.Fprintf(w, "%s%s = ** ERROR: %v\n", indent, label, err)
				continue
			}
			kind := "user"
			if n.attrs.entries[name].system {
				kind = "sys"
			}
			fmt.Fprintf(w, "%s%s = (%s) %s\n", indent, label, kind, loggableVal(v))
		}
	}
	if flags.Contains(DumpData) {
		switch {
		case n.table != nil:
			rows, err := n.table.Read()
			if err != nil {
				return err
			}
			for i, row := range rows {
				fmt.Fprintf(w, "%s[%d] = %s\n", indent, i, loggableVal(row))
			}
		case n.array != nil:
			data, err := n.array.Read()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%sdata = %s\n", indent, loggableVal(data))
		}
	}
	return nil
}

func loggableVal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
