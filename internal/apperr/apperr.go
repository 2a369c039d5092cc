// Package apperr defines the error kinds that cross package boundaries.
// Callers branch on the kind with IsKind; the wrapped cause is kept for logs.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindIO
	KindOutOfRange
	KindPrecondition
	KindExtraction
	KindGeometry
	KindFinalize
	KindDegenerate
	KindCanceled
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindOutOfRange:
		return "out of range"
	case KindPrecondition:
		return "precondition"
	case KindExtraction:
		return "extraction"
	case KindGeometry:
		return "geometry"
	case KindFinalize:
		return "finalize"
	case KindDegenerate:
		return "degenerate input"
	case KindCanceled:
		return "canceled"
	case KindTool:
		return "external tool"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failing operation and, for filesystem errors,
// the offending path.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapPath is Wrap for filesystem failures that should report the path.
func WrapPath(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the outermost kind found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Recast changes the kind of err while keeping the chain, so that a stage can
// report e.g. an IO failure as fatal for that stage.
func Recast(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, kind) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
