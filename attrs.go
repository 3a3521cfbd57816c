package ptree

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// AttrScope selects which attributes List returns.
type AttrScope int

const (
	// ScopeUser lists user attributes in lexicographic order.
	ScopeUser AttrScope = iota
	// ScopeSystem lists system attributes in declaration order.
	ScopeSystem
	// ScopeAll lists system attributes first, then user attributes.
	ScopeAll
)

var reservedAttrNames = map[string]bool{
	"CLASS":   true,
	"EXTDIM":  true,
	"FILTERS": true,
	"FLAVOR":  true,
	"NROWS":   true,
	"TITLE":   true,
	"VERSION": true,
}

// IsSystemAttr reports whether name is reserved for engine-managed metadata.
// Besides the fixed names this includes FIELD_<n>_NAME and FIELD_<n>_FILL.
func IsSystemAttr(name string) bool {
	if reservedAttrNames[name] {
		return true
	}
	rest, ok := strings.CutPrefix(name, "FIELD_")
	if !ok {
		return false
	}
	num, suffix, ok := strings.Cut(rest, "_")
	if !ok || (suffix != "NAME" && suffix != "FILL") || num == "" {
		return false
	}
	_, err := strconv.ParseUint(num, 10, 64)
	return err == nil
}

type attrRecord struct {
	System bool               `msgpack:"s,omitempty"`
	Order  int                `msgpack:"o,omitempty"`
	Value  msgpack.RawMessage `msgpack:"v"`
}

type attrEntry struct {
	system bool
	order  int
	raw    []byte
}

// AttributeSet holds the attributes of a single node. System attributes are
// written by the engine and cannot be changed through the set; everything
// else is a user attribute. Every change is written through to storage.
type AttributeSet struct {
	node    *Node
	entries map[string]*attrEntry
}

func newAttributeSet(n *Node) *AttributeSet {
	return &AttributeSet{node: n, entries: make(map[string]*attrEntry)}
}

func (s *AttributeSet) Node() *Node {
	return s.node
}

func (s *AttributeSet) Has(name string) bool {
	return s.entries[name] != nil
}

// Get returns the value of an attribute in its canonical form: integers as
// int64, floats as float64, arrays as []any and maps as map[string]any.
func (s *AttributeSet) Get(name string) (any, error) {
	if err := s.node.checkOpen(); err != nil {
		return nil, err
	}
	e := s.entries[name]
	if e == nil {
		return nil, nodeErrf(s.node.Path(), ErrNoSuchAttr, "attribute %q", name)
	}
	return decodeAnyMsgpack(e.raw)
}

func (s *AttributeSet) mustGet(name string) any {
	e := s.entries[name]
	if e == nil {
		return nil
	}
	return must(decodeAnyMsgpack(e.raw))
}

func (s *AttributeSet) Len(scope AttrScope) int {
	var n int
	for _, e := range s.entries {
		if scope == ScopeAll || e.system == (scope == ScopeSystem) {
			n++
		}
	}
	return n
}

func (s *AttributeSet) List(scope AttrScope) []string {
	var sys, user []string
	for name, e := range s.entries {
		if e.system {
			sys = append(sys, name)
		} else {
			user = append(user, name)
		}
	}
	slices.SortFunc(sys, func(a, b string) int {
		return s.entries[a].order - s.entries[b].order
	})
	slices.Sort(user)

	switch scope {
	case ScopeUser:
		return user
	case ScopeSystem:
		return sys
	default:
		return append(sys, user...)
	}
}

func (s *AttributeSet) isSystem(name string) bool {
	if e := s.entries[name]; e != nil && e.system {
		return true
	}
	return IsSystemAttr(name)
}

// Set stores a user attribute, replacing any previous value and type.
func (s *AttributeSet) Set(name string, value any) error {
	n := s.node
	if err := n.checkMutable(); err != nil {
		return err
	}
	if err := validateAttrName(name); err != nil {
		return nodeErrf(n.Path(), err, "")
	}
	if s.isSystem(name) {
		return nodeErrf(n.Path(), ErrAccessDenied, "cannot set system attribute %q", name)
	}
	raw, _, err := canonicalizeValue(value)
	if err != nil {
		return nodeErrf(n.Path(), err, "attribute %q", name)
	}
	if w := namingAdvisory(n.Path(), "attribute", name); w != nil {
		if err := n.file.warn(w); err != nil {
			return err
		}
	}

	return n.file.update(func(tx *txn) error {
		ab := tx.subBucket(n, attrsBucketKey)
		s.put(tx, ab, name, &attrEntry{raw: raw})
		return nil
	})
}

func (s *AttributeSet) Delete(name string) error {
	n := s.node
	if err := n.checkMutable(); err != nil {
		return err
	}
	if s.isSystem(name) {
		return nodeErrf(n.Path(), ErrAccessDenied, "cannot delete system attribute %q", name)
	}
	if s.entries[name] == nil {
		return nodeErrf(n.Path(), ErrNoSuchAttr, "attribute %q", name)
	}
	return n.file.update(func(tx *txn) error {
		ab := tx.subBucket(n, attrsBucketKey)
		ensure(ab.Delete([]byte(name)))
		tx.onCommit(func() {
			delete(s.entries, name)
		})
		return nil
	})
}

func (s *AttributeSet) Rename(oldName, newName string) error {
	n := s.node
	if err := n.checkMutable(); err != nil {
		return err
	}
	if s.isSystem(oldName) || s.isSystem(newName) {
		return nodeErrf(n.Path(), ErrAccessDenied, "cannot rename system attribute %q to %q", oldName, newName)
	}
	e := s.entries[oldName]
	if e == nil {
		return nodeErrf(n.Path(), ErrNoSuchAttr, "attribute %q", oldName)
	}
	if oldName == newName {
		return nil
	}
	if err := validateAttrName(newName); err != nil {
		return nodeErrf(n.Path(), err, "")
	}
	if s.entries[newName] != nil {
		return nodeErrf(n.Path(), ErrAttrExists, "attribute %q", newName)
	}
	if w := namingAdvisory(n.Path(), "attribute", newName); w != nil {
		if err := n.file.warn(w); err != nil {
			return err
		}
	}
	return n.file.update(func(tx *txn) error {
		ab := tx.subBucket(n, attrsBucketKey)
		ensure(ab.Delete([]byte(oldName)))
		s.put(tx, ab, newName, e)
		tx.onCommit(func() {
			delete(s.entries, oldName)
		})
		return nil
	})
}

// put writes an attribute record and schedules the in-memory update.
func (s *AttributeSet) put(tx *txn, ab storageBucket, name string, e *attrEntry) {
	rec := attrRecord{System: e.system, Order: e.order, Value: e.raw}
	ensure(ab.Put([]byte(name), mustEncodeMsgpack(nil, &rec)))
	tx.onCommit(func() {
		s.entries[name] = e
	})
}

// setSystem writes a system attribute, keeping its declaration position if it
// already exists.
func (s *AttributeSet) setSystem(tx *txn, ab storageBucket, name string, value any) {
	order := len(s.List(ScopeSystem))
	if e := s.entries[name]; e != nil {
		order = e.order
	}
	raw, _ := must2(canonicalizeValue(value))
	s.put(tx, ab, name, &attrEntry{system: true, order: order, raw: raw})
}

// initSystem populates a brand new set. The node isn't linked yet, so entries
// are updated directly.
func (s *AttributeSet) initSystem(ab storageBucket, attrs []attrKV) {
	for i, kv := range attrs {
		raw, _ := must2(canonicalizeValue(kv.value))
		e := &attrEntry{system: true, order: i, raw: raw}
		rec := attrRecord{System: true, Order: i, Value: raw}
		ensure(ab.Put([]byte(kv.name), mustEncodeMsgpack(nil, &rec)))
		s.entries[kv.name] = e
	}
}

func (s *AttributeSet) initUser(ab storageBucket, name string, raw []byte) {
	e := &attrEntry{raw: raw}
	rec := attrRecord{Value: raw}
	ensure(ab.Put([]byte(name), mustEncodeMsgpack(nil, &rec)))
	s.entries[name] = e
}

func (s *AttributeSet) load(ab storageBucket) error {
	if ab == nil {
		return nil
	}
	c := ab.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var rec attrRecord
		if err := decodeMsgpack(v, &rec); err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}
		s.entries[string(k)] = &attrEntry{
			system: rec.System,
			order:  rec.Order,
			raw:    []byte(rec.Value),
		}
	}
	return nil
}

type attrKV struct {
	name  string
	value any
}
