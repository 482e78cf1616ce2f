package notegen

import (
	"errors"
	"fmt"
)

// Kind classifies a generation failure.
type Kind string

const (
	// KindConfiguration means no usable model is configured. Retrying cannot
	// help.
	KindConfiguration Kind = "configuration"

	// KindTransient covers network failures, non-2xx responses, timeouts and
	// empty response bodies.
	KindTransient Kind = "transient"

	// KindValidation means the reply was JSON but did not match the content
	// block shape.
	KindValidation Kind = "validation"

	// KindParse means the reply was not valid JSON.
	KindParse Kind = "parse"
)

// Error is the error returned by [Generator.Generate].
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notegen: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Only
// configuration errors are final.
func (e *Error) Retryable() bool { return e.Kind != KindConfiguration }

// KindOf returns the kind of the first [*Error] in err's chain, or the empty
// string.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
