package workflow

import (
	"errors"
)

// Kind classifies a workflow failure by how it is shown to the user.
type Kind int

const (
	KindNone Kind = iota
	// KindPrecondition means the input was incomplete and nothing ran.
	KindPrecondition
	// KindExternal means an adapter or external tool failed.
	KindExternal
	// KindSoft means the adapter ran but had nothing to show.
	KindSoft
)

// Banner is the page banner class for the kind.
func (k Kind) Banner() string {
	switch k {
	case KindPrecondition:
		return "warning"
	case KindExternal:
		return "error"
	case KindSoft:
		return "info"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindExternal:
		return "external"
	case KindSoft:
		return "soft"
	default:
		return "none"
	}
}

// Error is a classified workflow failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Precondition ...
func Precondition(msg string) error {
	return &Error{Kind: KindPrecondition, Msg: msg}
}

// External ...
func External(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindExternal, Err: err}
}

// Soft ...
func Soft(msg string) error {
	return &Error{Kind: KindSoft, Msg: msg}
}

// Wrap classifies err under kind, keeping it reachable with errors.Is.
// msg replaces err's text when it is not empty.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies any error. Errors from other packages may declare
// themselves preconditions or soft failures with a method of the same
// name; everything else is external.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var pre interface{ Precondition() bool }
	if errors.As(err, &pre) && pre.Precondition() {
		return KindPrecondition
	}
	var soft interface{ Soft() bool }
	if errors.As(err, &soft) && soft.Soft() {
		return KindSoft
	}
	return KindExternal
}
