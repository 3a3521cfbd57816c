package ptree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andreyvit/ptree/codec"
)

// Filters is the compression policy of a node. Filters are fixed when a node
// is created; groups, tables and extendable arrays created without explicit
// filters inherit the nearest ancestor's.
type Filters struct {
	Level      int           `msgpack:"l"`
	Library    codec.Library `msgpack:"lib"`
	Shuffle    bool          `msgpack:"s"`
	Fletcher32 bool          `msgpack:"f"`
}

// NewFilters builds normalized filters from a library name.
func NewFilters(level int, library string, shuffle, fletcher32 bool) (Filters, error) {
	lib, err := codec.ParseLibrary(library)
	if err != nil {
		return Filters{}, err
	}
	f := Filters{Level: level, Library: lib, Shuffle: shuffle, Fletcher32: fletcher32}.Normalize()
	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// Normalize makes equivalent filters compare equal: level 0 means no library,
// and a positive level without a library means zlib.
func (f Filters) Normalize() Filters {
	if f.Level == 0 {
		f.Library = codec.None
	} else if f.Library == codec.None {
		f.Library = codec.Zlib
	}
	return f
}

func (f Filters) Validate() error {
	if f.Level < 0 || f.Level > 9 {
		return fmt.Errorf("compression level %d out of range 0..9", f.Level)
	}
	if !f.Library.Valid() {
		return fmt.Errorf("unsupported compression library %v", f.Library)
	}
	return nil
}

func (f Filters) Equal(other Filters) bool {
	return f.Normalize() == other.Normalize()
}

// IsTrivial reports whether f leaves data untouched.
func (f Filters) IsTrivial() bool {
	return f.Normalize() == Filters{}
}

func (f Filters) String() string {
	f = f.Normalize()
	return fmt.Sprintf("Filters(complevel=%d, complib=%q, shuffle=%v, fletcher32=%v)", f.Level, f.Library.String(), f.Shuffle, f.Fletcher32)
}

// ParseFilters parses the output of Filters.String.
func ParseFilters(s string) (Filters, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), "Filters(")
	if ok {
		body, ok = strings.CutSuffix(body, ")")
	}
	if !ok {
		return Filters{}, fmt.Errorf("invalid filters descriptor %q", s)
	}

	var f Filters
	for _, item := range strings.Split(body, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return Filters{}, fmt.Errorf("invalid filters descriptor %q: missing '=' in %q", s, item)
		}
		var err error
		switch key {
		case "complevel":
			f.Level, err = strconv.Atoi(value)
		case "complib":
			var name string
			name, err = strconv.Unquote(value)
			if err == nil {
				f.Library, err = codec.ParseLibrary(name)
			}
		case "shuffle":
			f.Shuffle, err = strconv.ParseBool(value)
		case "fletcher32":
			f.Fletcher32, err = strconv.ParseBool(value)
		default:
			err = fmt.Errorf("unknown key")
		}
		if err != nil {
			return Filters{}, fmt.Errorf("invalid filters descriptor %q: %s: %w", s, key, err)
		}
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

func (f Filters) pipeline() codec.Pipeline {
	f = f.Normalize()
	return codec.Pipeline{
		Level:    f.Level,
		Library:  f.Library,
		Shuffle:  f.Shuffle,
		Checksum: f.Fletcher32,
	}
}

func filtersPtr(f Filters) *Filters {
	return &f
}
