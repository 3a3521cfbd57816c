package ptree

import (
	"fmt"
	"go/token"
	"strings"

	"go.etcd.io/bbolt"
)

// MaxNameLen is the longest node or attribute name, in bytes. Names are used
// as storage keys.
const MaxNameLen = bbolt.MaxKeySize

var reservedPrefixes = []string{"_v_", "_f_", "_g_", "_c_"}

// validateName reports names that can never be stored. Everything else is
// accepted, though possibly with a naming advisory.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: name is %d bytes long, at most %d allowed", ErrInvalidName, len(name), MaxNameLen)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidName, name)
	}
	return nil
}

func validateAttrName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty attribute name", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: attribute name is %d bytes long, at most %d allowed", ErrInvalidName, len(name), MaxNameLen)
	}
	return nil
}

// IsNaturalName reports whether name is a plain identifier: it starts with a
// letter or underscore, continues with letters, digits or underscores, is not
// a Go keyword and doesn't start with a reserved prefix.
func IsNaturalName(name string) bool {
	if !token.IsIdentifier(name) {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

func namingAdvisory(path, what, name string) *Warning {
	if IsNaturalName(name) {
		return nil
	}
	return &Warning{
		Category: NamingWarning,
		Path:     path,
		Msg:      fmt.Sprintf("%s %q is not a natural identifier; use path-based access for it", what, name),
	}
}
