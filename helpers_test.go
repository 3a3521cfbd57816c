package ptree

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func setup(t testing.TB) *File {
	t.Helper()
	return setupWith(t, Options{})
}

func setupWith(t testing.TB, opt Options) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ptree")
	t.Logf("file: %s", path)
	opt.IsTesting = true
	f := must(Open(path, ModeCreate, opt))
	t.Cleanup(func() { f.Close() })
	return f
}

// reopen closes f and opens the same container again in r+ mode.
func reopen(t testing.TB, f *File) *File {
	t.Helper()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	opt := f.opt
	opt.Title, opt.Filters = "", nil
	g, err := Open(f.path, ModeReadWrite, opt)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// withReopen runs body twice: once against the live file and once after the
// container was closed and reopened.
func withReopen(t *testing.T, prepare func(t *testing.T, f *File), body func(t *testing.T, f *File)) {
	t.Run("open", func(t *testing.T) {
		f := setup(t)
		prepare(t, f)
		body(t, f)
	})
	t.Run("reopened", func(t *testing.T) {
		f := setup(t)
		prepare(t, f)
		body(t, reopen(t, f))
	})
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func iserr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func success(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func assertPanics(t testing.TB, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("** no panic")
		}
	}()
	f()
}

// paths returns the paths of every descendant of n in walk order.
func paths(n *Node) []string {
	var out []string
	for c := range n.Walk(true) {
		out = append(out, c.Path())
	}
	return out
}

// recordingWarnings returns a policy with the given action for both categories
// and a pointer to the list of warnings it observes.
func recordingWarnings(act WarningAction) (WarningPolicy, *[]*Warning) {
	var seen []*Warning
	return WarningPolicy{
		Naming:      act,
		Performance: act,
		Handler:     func(w *Warning) { seen = append(seen, w) },
	}, &seen
}
