package ptree

import (
	"errors"
	"testing"
)

func TestUpdate_RollbackLeavesNoTrace(t *testing.T) {
	f := setup(t)
	boom := errors.New("boom")
	var built *Node
	err := f.update(func(tx *txn) error {
		built = f.buildNode(tx, f.Root(), "g", &nodeTemplate{kind: KindGroup})
		return boom
	})
	iserr(t, err, boom)
	deepEqual(t, f.Has("/g"), false)
	deepEqual(t, built.removed, true)

	f = reopen(t, f)
	deepEqual(t, f.Has("/g"), false)
	must(f.CreateGroup("/", "g", "", nil))
}

func TestCreateNode_PanicLeavesNoOrphans(t *testing.T) {
	f := setup(t)
	before := len(f.nodes)
	_, err := f.createNode(f.Root(), "t", &nodeTemplate{kind: KindTable})
	var p panicked
	if !errors.As(err, &p) {
		t.Fatalf("err = %v, wanted panicked", err)
	}
	deepEqual(t, len(f.nodes), before)
	deepEqual(t, f.Has("/t"), false)
	must(f.CreateTable("/", "t", []Column{{Name: "x", Type: Int8}}, "", nil))
	deepEqual(t, len(f.nodes), before+1)
}

func TestUpdate_PanicRollsBack(t *testing.T) {
	f := setup(t)
	g := must(f.CreateGroup("/", "g", "", nil))
	err := f.update(func(tx *txn) error {
		g.attrs.put(tx, tx.subBucket(g, attrsBucketKey), "x", &attrEntry{raw: mustEncodeMsgpack(nil, 1)})
		panic("boom")
	})
	var p panicked
	if !errors.As(err, &p) {
		t.Fatalf("err = %v, wanted panicked", err)
	}
	deepEqual(t, g.Attrs().Has("x"), false)

	f = reopen(t, f)
	deepEqual(t, must(f.Node("/g")).Attrs().Has("x"), false)
}

func TestUpdate_OnCommitOrder(t *testing.T) {
	f := setup(t)
	var order []int
	success(t, f.update(func(tx *txn) error {
		tx.onCommit(func() { order = append(order, 1) })
		tx.onCommit(func() { order = append(order, 2) })
		deepEqual(t, len(order), 0)
		return nil
	}))
	deepEqual(t, order, []int{1, 2})
}

func TestView_ReadOnly(t *testing.T) {
	f := setup(t)
	err := f.view(func(tx *txn) error {
		return tx.top().Put([]byte("x"), []byte("y"))
	})
	if err == nil {
		t.Fatalf("write in a read transaction succeeded")
	}
}

func TestAllocOID_PersistsOnlyOnCommit(t *testing.T) {
	f := setup(t)
	before := f.state.LastOID
	_ = f.update(func(tx *txn) error {
		tx.allocOID()
		return errors.New("abort")
	})
	deepEqual(t, f.state.LastOID, before)

	success(t, f.update(func(tx *txn) error {
		deepEqual(t, tx.allocOID(), before+1)
		return nil
	}))
	deepEqual(t, f.state.LastOID, before+1)
}
