package ptree

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen_Modes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.ptree")

	_, err := Open(path, ModeRead, Options{IsTesting: true})
	iserr(t, err, os.ErrNotExist)
	_, err = Open(path, ModeReadWrite, Options{IsTesting: true})
	iserr(t, err, os.ErrNotExist)

	f := must(Open(path, ModeAppend, Options{IsTesting: true, Title: "first"}))
	success(t, f.Close())

	f = must(Open(path, ModeAppend, Options{IsTesting: true, Title: "ignored"}))
	deepEqual(t, f.Title(), "first")
	must(f.CreateGroup("/", "g", "", nil))
	success(t, f.Close())

	f = must(Open(path, ModeRead, Options{IsTesting: true}))
	deepEqual(t, f.Has("/g"), true)
	_, err = f.CreateGroup("/", "h", "", nil)
	iserr(t, err, ErrReadOnly)
	err = f.Root().SetAttr("a", 1)
	iserr(t, err, ErrReadOnly)
	success(t, f.Close())

	f = must(Open(path, ModeCreate, Options{IsTesting: true, Title: "second"}))
	deepEqual(t, f.Title(), "second")
	deepEqual(t, f.Has("/g"), false)
	success(t, f.Close())

	_, err = Open(path, Mode("x"), Options{})
	if err == nil {
		t.Fatalf("Open with mode x succeeded")
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"r", "r+", "w", "a"} {
		m, err := ParseMode(s)
		if err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = (%q, %v)", s, m, err)
		}
	}
	if _, err := ParseMode("rw"); err == nil {
		t.Errorf("ParseMode(rw) succeeded")
	}
	deepEqual(t, ModeRead.Writable(), false)
	deepEqual(t, ModeAppend.Writable(), true)
}

func TestOpen_Locked(t *testing.T) {
	f := setup(t)
	must(f.CreateGroup("/", "keep", "", nil))
	opt := Options{IsTesting: true, LockTimeout: 50 * time.Millisecond}
	for _, mode := range []Mode{ModeReadWrite, ModeAppend, ModeCreate} {
		_, err := Open(f.Path(), mode, opt)
		iserr(t, err, ErrLocked)
	}

	src := must(Open(filepath.Join(t.TempDir(), "src.ptree"), ModeCreate, Options{IsTesting: true}))
	t.Cleanup(func() { src.Close() })
	err := src.CopyFile(f.Path(), CopyFileOptions{Overwrite: true, Options: opt})
	iserr(t, err, ErrLocked)

	deepEqual(t, f.Has("/keep"), true)
	must(f.CreateGroup("/keep", "more", "", nil))
	f = reopen(t, f)
	deepEqual(t, f.Has("/keep/more"), true)
}

func TestOpen_CreateResetsExisting(t *testing.T) {
	f := setup(t)
	must(f.CreateGroup("/", "old", "", nil))
	path := f.Path()
	success(t, f.Close())

	f = must(Open(path, ModeCreate, Options{IsTesting: true, Title: "new"}))
	defer f.Close()
	deepEqual(t, f.Has("/old"), false)
	deepEqual(t, f.Title(), "new")
	must(f.CreateGroup("/", "old", "", nil))
}

func TestOpen_CreateOverForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	ensure(os.WriteFile(path, []byte(strings.Repeat("not a database ", 1000)), 0666))
	f := must(Open(path, ModeCreate, Options{IsTesting: true}))
	defer f.Close()
	must(f.CreateGroup("/", "g", "", nil))
}

func TestOpen_NotPtree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	ensure(os.WriteFile(path, []byte(strings.Repeat("not a database ", 1000)), 0666))
	_, err := Open(path, ModeReadWrite, Options{IsTesting: true})
	iserr(t, err, ErrNotPtree)
}

func TestOpen_InMemory(t *testing.T) {
	f := must(Open("mem", ModeCreate, Options{InMemory: true, Title: "scratch"}))
	defer f.Close()
	g := must(f.CreateGroup(f.Root(), "g", "", nil))
	tbl := must(f.CreateTable(g, "t", []Column{{Name: "x", Type: Int32}}, "", nil))
	success(t, tbl.AppendRows([][]any{{1}, {2}}))
	success(t, tbl.Flush())
	deepEqual(t, must(tbl.Read()), [][]any{{int32(1)}, {int32(2)}})
	deepEqual(t, f.Title(), "scratch")
	if _, err := os.Stat("mem"); err == nil {
		t.Fatalf("in-memory file touched disk")
	}
}

func TestFile_LongTitle(t *testing.T) {
	title := strings.Repeat("t", 1023)
	path := filepath.Join(t.TempDir(), "title.ptree")
	f := must(Open(path, ModeCreate, Options{IsTesting: true, Title: title}))
	deepEqual(t, f.Title(), title)
	f = reopen(t, f)
	deepEqual(t, f.Title(), title)
	deepEqual(t, must(f.Root().GetAttr("TITLE")), any(title))
}

func TestFile_Close(t *testing.T) {
	f := setup(t)
	g := must(f.CreateGroup("/", "g", "", nil))
	success(t, f.Close())
	success(t, f.Close())
	deepEqual(t, f.IsClosed(), true)

	_, err := f.Node("/g")
	iserr(t, err, ErrClosed)
	_, err = g.GetAttr("TITLE")
	iserr(t, err, ErrClosed)
	_, err = f.CreateGroup("/", "h", "", nil)
	iserr(t, err, ErrClosed)
}

func TestFile_OIDsPersist(t *testing.T) {
	f := setup(t)
	a := must(f.CreateGroup("/", "a", "", nil))
	b := must(f.CreateGroup("/", "b", "", nil))
	if a.OID() == b.OID() || a.OID() == f.Root().OID() {
		t.Fatalf("OIDs not unique: root %d, a %d, b %d", f.Root().OID(), a.OID(), b.OID())
	}
	oa, ob := a.OID(), b.OID()
	success(t, b.Remove(false))

	f = reopen(t, f)
	deepEqual(t, must(f.Node("/a")).OID(), oa)
	c := must(f.CreateGroup("/", "c", "", nil))
	if c.OID() <= ob {
		t.Fatalf("OID %d reused, wanted > %d", c.OID(), ob)
	}
}

func TestFile_SizeGrows(t *testing.T) {
	f := setup(t)
	before := f.Size()
	tbl := must(f.CreateTable("/", "t", []Column{{Name: "s", Type: String, Len: 256}}, "", nil))
	for i := 0; i < 1000; i++ {
		success(t, tbl.AppendRow(Record{"s": strings.Repeat("x", 200)}))
	}
	success(t, f.Flush())
	if f.Size() <= before {
		t.Fatalf("Size = %d, wanted more than %d", f.Size(), before)
	}
}

func TestResolve(t *testing.T) {
	f := setup(t)
	g := must(f.CreateGroup("/", "g", "", nil))
	tbl := must(f.CreateTable(g, "t", []Column{{Name: "x", Type: Int8}}, "", nil))
	arr := must(f.CreateArray(g, "a", []int8{1}, ""))

	for _, ref := range []any{"/g/t", "g/t", tbl, tbl.Node} {
		n, err := f.resolve(ref)
		if err != nil || n != tbl.Node {
			t.Errorf("resolve(%v) = (%v, %v)", ref, n, err)
		}
	}
	deepEqual(t, must(f.resolve(arr)), arr.Node)

	_, err := f.resolve(42)
	if err == nil {
		t.Errorf("resolve(42) succeeded")
	}
	other := setup(t)
	_, err = f.resolve(other.Root())
	iserr(t, err, ErrNoSuchNode)

	_, err = f.CreateGroup(tbl, "x", "", nil)
	iserr(t, err, ErrWrongKind)

	var nerr *NodeError
	if !errors.As(err, &nerr) || nerr.Path != "/g/t" {
		t.Errorf("error %v is not a NodeError for /g/t", err)
	}
}

func TestMustPanics(t *testing.T) {
	assertPanics(t, func() { must(0, errors.New("boom")) })
	assertPanics(t, func() { ensure(errors.New("boom")) })
}
