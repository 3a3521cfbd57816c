package ptree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNodeExists        = errors.New("node already exists")
	ErrNoSuchNode        = errors.New("no such node")
	ErrAccessDenied      = errors.New("access denied")
	ErrDestinationExists = errors.New("destination already exists")
	ErrNoSuchAttr        = errors.New("no such attribute")
	ErrAttrExists        = errors.New("attribute already exists")
	ErrNotEmpty          = errors.New("group is not empty")
	ErrWrongKind         = errors.New("wrong node kind")
	ErrInvalidName       = errors.New("invalid name")
	ErrReadOnly          = errors.New("file is read-only")
	ErrClosed            = errors.New("file is closed")
	ErrLocked            = errors.New("file is locked by another writer")
	ErrOverlap           = errors.New("source and destination overlap")
	ErrNotPtree          = errors.New("not a ptree file")

	errStopScan = errors.New("stop scan")
)

// NodeError describes a failed operation on a node.
type NodeError struct {
	Path string
	Msg  string
	Err  error
}

func nodeErrf(path string, err error, format string, args ...any) error {
	return &NodeError{path, fmt.Sprintf(format, args...), err}
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Path)
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DataError reports persisted bytes that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
