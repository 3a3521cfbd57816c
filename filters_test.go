package ptree

import (
	"testing"

	"github.com/andreyvit/ptree/codec"
)

func TestFilters_StringParse(t *testing.T) {
	tests := []struct {
		f   Filters
		str string
	}{
		{Filters{}, `Filters(complevel=0, complib="none", shuffle=false, fletcher32=false)`},
		{Filters{Level: 5}, `Filters(complevel=5, complib="zlib", shuffle=false, fletcher32=false)`},
		{Filters{Level: 1, Library: codec.Zstd, Shuffle: true, Fletcher32: true}, `Filters(complevel=1, complib="zstd", shuffle=true, fletcher32=true)`},
		{Filters{Library: codec.LZ4, Shuffle: true}, `Filters(complevel=0, complib="none", shuffle=true, fletcher32=false)`},
	}
	for _, tt := range tests {
		if s := tt.f.String(); s != tt.str {
			t.Errorf("%+v.String() = %s, wanted %s", tt.f, s, tt.str)
		}
		parsed, err := ParseFilters(tt.str)
		if err != nil {
			t.Errorf("ParseFilters(%s) failed: %v", tt.str, err)
		} else if !parsed.Equal(tt.f) {
			t.Errorf("ParseFilters(%s) = %+v, wanted %+v", tt.str, parsed, tt.f.Normalize())
		}
	}

	for _, bad := range []string{"", "Filters(", "complevel=1", "Filters(complevel=x)", "Filters(complevel=12)", `Filters(complib="bzip2")`, "Filters(foo=1)"} {
		if _, err := ParseFilters(bad); err == nil {
			t.Errorf("ParseFilters(%q) succeeded", bad)
		}
	}
}

func TestNewFilters(t *testing.T) {
	f, err := NewFilters(3, "lz4", true, false)
	success(t, err)
	deepEqual(t, f, Filters{Level: 3, Library: codec.LZ4, Shuffle: true})
	deepEqual(t, f.IsTrivial(), false)
	deepEqual(t, Filters{Library: codec.Zlib}.IsTrivial(), true)

	_, err = NewFilters(10, "zlib", false, false)
	if err == nil {
		t.Errorf("level 10 accepted")
	}
	_, err = NewFilters(1, "gzip", false, false)
	if err == nil {
		t.Errorf("gzip accepted")
	}
}

func TestFilters_Inheritance(t *testing.T) {
	explicit := Filters{Level: 6, Library: codec.Zstd, Shuffle: true}
	withReopen(t, func(t *testing.T, f *File) {
		g := f.Root()
		for i, name := range []string{"g0", "g1", "g2", "g3", "g4"} {
			var filters *Filters
			if i == 1 {
				filters = &explicit
			}
			g = must(f.CreateGroup(g, name, "", filters))
		}
		must(f.CreateTable("/g0/g1/g2", "t", []Column{{Name: "x", Type: Int64}}, "", nil))
		must(f.CreateEArray("/g0/g1/g2/g3", "e", Atom{Type: Int16}, "", nil))
		must(f.CreateArray("/g0/g1/g2/g3/g4", "a", []float64{1, 2}, ""))
		must(f.CreateTable("/g0", "plain", []Column{{Name: "x", Type: Int64}}, "", nil))
	}, func(t *testing.T, f *File) {
		deepEqual(t, f.Filters(), Filters{})
		deepEqual(t, must(f.Node("/g0")).Filters(), Filters{})
		deepEqual(t, must(f.Node("/g0/plain")).Filters(), Filters{})
		for _, path := range []string{"/g0/g1", "/g0/g1/g2", "/g0/g1/g2/g3/g4", "/g0/g1/g2/t", "/g0/g1/g2/g3/e"} {
			n := must(f.Node(path))
			deepEqual(t, n.Filters(), explicit)
			deepEqual(t, must(n.GetAttr("FILTERS")), any(explicit.String()))
		}
		deepEqual(t, must(f.Node("/g0/g1")).HasExplicitFilters(), true)
		deepEqual(t, must(f.Node("/g0/g1/g2")).HasExplicitFilters(), false)
		deepEqual(t, must(f.Node("/g0/g1/g2/g3/g4/a")).Filters(), Filters{})
	})
}

func TestFilters_RootFromOptions(t *testing.T) {
	root := Filters{Level: 1, Library: codec.Snappy}
	f := setupWith(t, Options{Filters: &root})
	deepEqual(t, f.Filters(), root)
	deepEqual(t, f.Root().HasExplicitFilters(), true)
	g := must(f.CreateGroup("/", "g", "", nil))
	deepEqual(t, g.Filters(), root)

	_, err := Open(f.Path()+"2", ModeCreate, Options{IsTesting: true, Filters: &Filters{Level: 11}})
	if err == nil {
		t.Errorf("invalid root filters accepted")
	}
}

func TestFilters_TableFixedAtCreation(t *testing.T) {
	f := setup(t)
	first := Filters{Level: 2, Library: codec.Zlib}
	g := must(f.CreateGroup("/", "g", "", &first))
	tbl := must(f.CreateTable(g, "t", []Column{{Name: "x", Type: Int32}}, "", nil))
	h := must(f.CreateGroup("/", "h", "", &Filters{Level: 9, Library: codec.Zstd}))
	sub := must(f.CreateGroup(g, "sub", "", nil))

	success(t, tbl.Move(h, "t"))
	success(t, sub.Move(h, "sub"))
	deepEqual(t, tbl.Filters(), first)
	deepEqual(t, sub.Filters(), Filters{Level: 9, Library: codec.Zstd})
	deepEqual(t, must(sub.GetAttr("FILTERS")), any(Filters{Level: 9, Library: codec.Zstd}.String()))

	f = reopen(t, f)
	deepEqual(t, must(f.Node("/h/t")).Filters(), first)
	deepEqual(t, must(f.Node("/h/sub")).Filters(), Filters{Level: 9, Library: codec.Zstd})
}

func TestFilters_InvalidExplicit(t *testing.T) {
	f := setup(t)
	_, err := f.CreateGroup("/", "g", "", &Filters{Level: -1})
	if err == nil {
		t.Fatalf("negative level accepted")
	}
	deepEqual(t, f.Has("/g"), false)
}
