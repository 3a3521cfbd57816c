package main

import (
	"github.com/andreyvit/ptree"
)

type yamlNode struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"`
	Title    string         `yaml:"title,omitempty"`
	Filters  string         `yaml:"filters,omitempty"`
	Shape    string         `yaml:"shape,omitempty"`
	Columns  []yamlColumn   `yaml:"columns,omitempty"`
	Attrs    map[string]any `yaml:"attrs,omitempty"`
	Stats    *yamlStats     `yaml:"stats,omitempty"`
	Children []*yamlNode    `yaml:"children,omitempty"`
}

type yamlColumn struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type yamlStats struct {
	Rows       int64   `yaml:"rows"`
	Chunks     int     `yaml:"chunks"`
	StoredSize int64   `yaml:"stored"`
	RawSize    int64   `yaml:"raw"`
	Ratio      float64 `yaml:"ratio"`
}

// buildYAML mirrors the subtree of n. Only user attributes are included since
// system ones are already represented by the other fields.
func buildYAML(n *ptree.Node, attrs, stats bool) (*yamlNode, error) {
	y := &yamlNode{
		Name:  n.Name(),
		Kind:  n.Kind().String(),
		Title: n.Title(),
	}
	if n.IsRoot() {
		y.Name = "/"
	}
	if f := n.Filters(); !f.IsTrivial() {
		y.Filters = f.String()
	}
	switch {
	case n.Table() != nil:
		t := n.Table()
		for _, col := range t.Columns() {
			y.Columns = append(y.Columns, yamlColumn{col.Name, col.Atom().String()})
		}
	case n.Array() != nil:
		a := n.Array()
		y.Shape = a.Atom().String()
	}

	if attrs {
		for _, name := range n.Attrs().List(ptree.ScopeUser) {
			v, err := n.GetAttr(name)
			if err != nil {
				return nil, err
			}
			if y.Attrs == nil {
				y.Attrs = make(map[string]any)
			}
			y.Attrs[name] = v
		}
	}

	if stats && !n.IsGroup() {
		s, err := n.File().NodeStats(n)
		if err != nil {
			return nil, err
		}
		y.Stats = &yamlStats{
			Rows:       s.Rows,
			Chunks:     s.Chunks,
			StoredSize: s.StoredSize,
			RawSize:    s.RawSize,
			Ratio:      s.CompressionRatio(),
		}
	}

	for _, child := range n.Children() {
		c, err := buildYAML(child, attrs, stats)
		if err != nil {
			return nil, err
		}
		y.Children = append(y.Children, c)
	}
	return y, nil
}
