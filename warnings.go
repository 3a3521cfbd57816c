package ptree

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrNaturalName = errors.New("name is not a natural identifier")
	ErrPerformance = errors.New("performance advisory")
)

// WarningCategory distinguishes the two kinds of advisories the engine emits.
type WarningCategory int

const (
	// NamingWarning reports a node or attribute name that is not a plain
	// identifier. Such nodes are still reachable by path.
	NamingWarning WarningCategory = iota
	// PerformanceWarning reports a structure large enough to hurt performance,
	// like a table with too many columns or a very deep tree.
	PerformanceWarning
)

func (c WarningCategory) String() string {
	switch c {
	case NamingWarning:
		return "naming"
	case PerformanceWarning:
		return "performance"
	default:
		return fmt.Sprintf("WarningCategory(%d)", int(c))
	}
}

// Warning is a non-fatal advisory. It is returned as an error only when the
// policy for its category is WarnError.
type Warning struct {
	Category WarningCategory
	Path     string
	Msg      string
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s warning: %s: %s", w.Category, w.Path, w.Msg)
}

func (w *Warning) Unwrap() error {
	switch w.Category {
	case NamingWarning:
		return ErrNaturalName
	case PerformanceWarning:
		return ErrPerformance
	default:
		return nil
	}
}

type WarningAction int

const (
	WarnLog WarningAction = iota
	WarnIgnore
	WarnError
)

// WarningPolicy configures what happens to each category of advisories. The
// zero value logs every advisory.
type WarningPolicy struct {
	Naming      WarningAction
	Performance WarningAction

	// Handler, if set, observes every advisory that is not ignored.
	Handler func(w *Warning)
}

// StrictWarnings returns a policy that turns every advisory into an error.
func StrictWarnings() WarningPolicy {
	return WarningPolicy{Naming: WarnError, Performance: WarnError}
}

func (p *WarningPolicy) action(cat WarningCategory) WarningAction {
	switch cat {
	case NamingWarning:
		return p.Naming
	case PerformanceWarning:
		return p.Performance
	default:
		return WarnLog
	}
}

// emit applies the policy to w and returns w if the operation must fail.
func (p *WarningPolicy) emit(logger *slog.Logger, w *Warning) error {
	act := p.action(w.Category)
	if act == WarnIgnore {
		return nil
	}
	if p.Handler != nil {
		p.Handler(w)
	}
	if act == WarnError {
		return w
	}
	logger.Warn("ptree: "+w.Msg, "category", w.Category.String(), "path", w.Path)
	return nil
}
