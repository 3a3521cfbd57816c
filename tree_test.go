package ptree

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

func buildSampleTree(t testing.TB, f *File) {
	t.Helper()
	must(f.CreateGroup("/", "agroup", "Group title", nil))
	must(f.CreateGroup("/agroup", "agroup3", "", nil))
	must(f.CreateGroup("/agroup", "agroup2", "", nil))
	must(f.CreateGroup("/agroup/agroup2", "deep", "", nil))
	must(f.CreateTable("/agroup", "atable", []Column{{Name: "x", Type: Int32}}, "", nil))
	must(f.CreateArray("/", "anarray", []int32{1, 2, 3}, ""))
	must(f.CreateGroup("/", "bgroup", "", nil))
}

func TestTree_Walk(t *testing.T) {
	withReopen(t, func(t *testing.T, f *File) {
		buildSampleTree(t, f)
	}, func(t *testing.T, f *File) {
		deepEqual(t, paths(f.Root()), []string{
			"/agroup",
			"/agroup/agroup2",
			"/agroup/agroup2/deep",
			"/agroup/agroup3",
			"/agroup/atable",
			"/anarray",
			"/bgroup",
		})

		var direct []string
		for n := range f.Root().Walk(false) {
			direct = append(direct, n.Name())
		}
		deepEqual(t, direct, []string{"agroup", "anarray", "bgroup"})

		var first []string
		for n := range f.Root().Walk(true) {
			first = append(first, n.Path())
			if len(first) == 2 {
				break
			}
		}
		deepEqual(t, first, []string{"/agroup", "/agroup/agroup2"})
	})
}

func TestTree_Lookup(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)

	for _, path := range []string{"/agroup/agroup2/deep", "agroup/agroup2/deep", "//agroup//agroup2/deep/"} {
		n, err := f.Node(path)
		if err != nil || n.Path() != "/agroup/agroup2/deep" {
			t.Errorf("Node(%q) = (%v, %v)", path, n, err)
		}
	}
	deepEqual(t, must(f.Node("/")), f.Root())
	deepEqual(t, must(f.Node("")), f.Root())

	_, err := f.Node("/agroup/missing")
	iserr(t, err, ErrNoSuchNode)
	_, err = f.Node("/anarray/below")
	iserr(t, err, ErrNoSuchNode)

	g := must(f.Node("/agroup"))
	deepEqual(t, must(g.Child("atable")).Kind(), KindTable)
	_, err = g.Child("nope")
	iserr(t, err, ErrNoSuchNode)
	_, err = must(f.Node("/anarray")).Child("x")
	iserr(t, err, ErrWrongKind)

	deepEqual(t, g.Parent(), f.Root())
	isnil(t, f.Root().Parent())
	deepEqual(t, must(f.Node("/agroup/agroup2/deep")).Depth(), 3)
	deepEqual(t, f.Root().IsRoot(), true)
	deepEqual(t, g.IsGroup(), true)
	isnonnil(t, must(f.Node("/agroup/atable")).Table())
	isnonnil(t, must(f.Node("/anarray")).Array())
	isnil(t, g.Table())
}

func TestTree_CreateErrors(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)

	_, err := f.CreateGroup("/", "agroup", "", nil)
	iserr(t, err, ErrNodeExists)
	_, err = f.CreateTable("/agroup", "agroup2", []Column{{Name: "x", Type: Int8}}, "", nil)
	iserr(t, err, ErrNodeExists)
	_, err = f.CreateArray("/", "anarray", []int8{1}, "")
	iserr(t, err, ErrNodeExists)
	_, err = f.CreateGroup("/missing", "g", "", nil)
	iserr(t, err, ErrNoSuchNode)
	_, err = f.CreateGroup("/anarray", "g", "", nil)
	iserr(t, err, ErrWrongKind)

	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err = f.CreateGroup("/", name, "", nil)
		iserr(t, err, ErrInvalidName)
	}
}

func TestTree_CreateGroups(t *testing.T) {
	f := setup(t)
	must(f.CreateGroup("/", "a", "", nil))
	g := must(f.CreateGroups("/a/b/c"))
	deepEqual(t, g.Path(), "/a/b/c")
	deepEqual(t, must(f.CreateGroups("a/b/c")), g)
	deepEqual(t, paths(f.Root()), []string{"/a", "/a/b", "/a/b/c"})
}

func TestTree_NaturalNames(t *testing.T) {
	t.Run("default policy", func(t *testing.T) {
		policy, seen := recordingWarnings(WarnLog)
		f := setupWith(t, Options{Warnings: policy})
		for _, name := range []string{"a b", "1st", "_v_hidden", "with-dash"} {
			g, err := f.CreateGroup("/", name, "", nil)
			if err != nil {
				t.Fatalf("CreateGroup(%q) failed: %v", name, err)
			}
			deepEqual(t, must(f.Node("/"+name)), g)
			deepEqual(t, must(f.Root().Child(name)), g)
		}
		deepEqual(t, len(*seen), 4)
		for _, w := range *seen {
			deepEqual(t, w.Category, NamingWarning)
		}

		must(f.CreateGroup("/", "regular_name", "", nil))
		deepEqual(t, len(*seen), 4)
	})

	t.Run("strict", func(t *testing.T) {
		f := setupWith(t, Options{Warnings: StrictWarnings()})
		_, err := f.CreateGroup("/", "a b", "", nil)
		iserr(t, err, ErrNaturalName)
		var w *Warning
		if !asWarning(err, &w) || w.Path != "/a b" {
			t.Fatalf("err = %v, wanted a *Warning for /a b", err)
		}
		deepEqual(t, f.Has("/a b"), false)
	})

	t.Run("ignore", func(t *testing.T) {
		policy, seen := recordingWarnings(WarnIgnore)
		f := setupWith(t, Options{Warnings: policy})
		must(f.CreateGroup("/", "a b", "", nil))
		isempty(t, *seen)
	})
}

func asWarning(err error, target **Warning) bool {
	w, ok := err.(*Warning)
	if ok {
		*target = w
	}
	return ok
}

func TestTree_DepthAdvisory(t *testing.T) {
	policy, seen := recordingWarnings(WarnLog)
	policy.Naming = WarnError
	f := setupWith(t, Options{Warnings: policy, MaxTreeDepth: 3})
	must(f.CreateGroups("/a/b/c"))
	isempty(t, *seen)
	must(f.CreateGroup("/a/b/c", "d", "", nil))
	deepEqual(t, len(*seen), 1)
	deepEqual(t, (*seen)[0].Category, PerformanceWarning)

	strict := setupWith(t, Options{Warnings: StrictWarnings(), MaxTreeDepth: 2})
	must(strict.CreateGroups("/a/b"))
	_, err := strict.CreateGroup("/a/b", "c", "", nil)
	iserr(t, err, ErrPerformance)
	deepEqual(t, strict.Has("/a/b/c"), false)

	must(strict.CreateGroup("/", "x", "", nil))
	err = must(strict.Node("/a")).Move(must(strict.Node("/x")), "a")
	iserr(t, err, ErrPerformance)
	deepEqual(t, strict.Has("/a/b"), true)
}

func TestTree_DeepTree(t *testing.T) {
	f := setup(t)
	g := f.Root()
	for i := 0; i < 64; i++ {
		g = must(f.CreateGroup(g, fmt.Sprintf("level%d", i), "", nil))
	}
	f = reopen(t, f)
	n := f.Root()
	for i := 0; i < 64; i++ {
		n = must(n.Child(fmt.Sprintf("level%d", i)))
	}
	deepEqual(t, n.Depth(), 64)
}

func TestTree_Rename(t *testing.T) {
	withReopen(t, func(t *testing.T, f *File) {
		buildSampleTree(t, f)
		g := must(f.Node("/agroup"))
		success(t, g.SetAttr("kept", "yes"))
		success(t, g.Rename("renamed"))
		deepEqual(t, g.Path(), "/renamed")
		deepEqual(t, must(f.Node("/renamed/agroup2/deep")).Path(), "/renamed/agroup2/deep")
	}, func(t *testing.T, f *File) {
		deepEqual(t, f.Has("/agroup"), false)
		g := must(f.Node("/renamed"))
		deepEqual(t, must(g.GetAttr("kept")), any("yes"))
		deepEqual(t, g.Title(), "Group title")
		deepEqual(t, paths(g), []string{"/renamed/agroup2", "/renamed/agroup2/deep", "/renamed/agroup3", "/renamed/atable"})
	})
}

func TestTree_RenameErrors(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)
	g := must(f.Node("/agroup"))
	iserr(t, g.Rename("bgroup"), ErrNodeExists)
	iserr(t, g.Rename("a/b"), ErrInvalidName)
	iserr(t, f.Root().Rename("x"), ErrAccessDenied)
	success(t, g.Rename("agroup"))
	deepEqual(t, g.Path(), "/agroup")
}

func TestTree_Move(t *testing.T) {
	withReopen(t, func(t *testing.T, f *File) {
		buildSampleTree(t, f)
		tbl := must(f.Node("/agroup/atable")).Table()
		success(t, tbl.AppendRows([][]any{{1}, {2}}))
		success(t, tbl.Flush())
		success(t, tbl.Move(must(f.Node("/bgroup")), "moved"))
		deepEqual(t, tbl.Path(), "/bgroup/moved")
		success(t, tbl.AppendRows([][]any{{3}}))
		success(t, tbl.Flush())
	}, func(t *testing.T, f *File) {
		tbl := must(f.Node("/bgroup/moved")).Table()
		deepEqual(t, must(tbl.Read()), [][]any{{int32(1)}, {int32(2)}, {int32(3)}})
		deepEqual(t, f.Has("/agroup/atable"), false)
	})
}

func TestTree_MoveIntoOwnSubtree(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)
	g := must(f.Node("/agroup"))
	iserr(t, g.Move(must(f.Node("/agroup/agroup2/deep")), "x"), ErrOverlap)
	iserr(t, g.Move(g, "x"), ErrOverlap)
	iserr(t, f.Root().Move(g, "x"), ErrAccessDenied)
	deepEqual(t, g.Path(), "/agroup")
}

func TestTree_Remove(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)
	g := must(f.Node("/agroup"))
	iserr(t, g.Remove(false), ErrNotEmpty)
	iserr(t, f.Root().Remove(true), ErrAccessDenied)

	deep := must(f.Node("/agroup/agroup2/deep"))
	success(t, deep.Remove(false))
	_, err := deep.GetAttr("TITLE")
	iserr(t, err, ErrNoSuchNode)
	deepEqual(t, err.Error(), "/agroup/agroup2/deep: node was removed: no such node")

	atable := must(f.Node("/agroup/atable"))
	success(t, g.Remove(true))
	deepEqual(t, paths(f.Root()), []string{"/anarray", "/bgroup"})
	err = atable.SetAttr("x", 1)
	var ne *NodeError
	if !errors.As(err, &ne) || ne.Path != "/agroup/atable" || !errors.Is(err, ErrNoSuchNode) {
		t.Fatalf("SetAttr on removed table = %v, wanted NodeError for /agroup/atable", err)
	}
	deepEqual(t, atable.Path(), "/agroup/atable")
	must(f.CreateGroup("/", "agroup", "", nil))

	f = reopen(t, f)
	deepEqual(t, paths(f.Root()), []string{"/agroup", "/anarray", "/bgroup"})
	isempty(t, paths(must(f.Node("/agroup"))))
}

func TestTree_ChildrenSorted(t *testing.T) {
	f := setup(t)
	names := []string{"zz", "b", "a1", "a10", "a2", "Z"}
	for _, name := range names {
		must(f.CreateGroup("/", name, "", nil))
	}
	var got []string
	for _, n := range f.Root().Children() {
		got = append(got, n.Name())
	}
	slices.Sort(names)
	deepEqual(t, got, names)
}

func TestNode_String(t *testing.T) {
	f := setup(t)
	buildSampleTree(t, f)
	deepEqual(t, must(f.Node("/agroup/atable")).String(), "/agroup/atable (Table)")
	deepEqual(t, KindEArray.String(), "EArray")
	deepEqual(t, Kind(9).String(), "Kind(9)")
}
