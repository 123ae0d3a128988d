// Package cairnerr defines the sentinel error taxonomy shared by every
// component of the orchestrator core. Components wrap lower-level failures
// with fmt.Errorf("%w", ...) against one of the sentinels below so callers
// can classify failures with errors.Is without depending on component
// internals.
package cairnerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the categories the orchestrator
// core and its callers need to branch on.
type Kind string

const (
	// KindNotFound means the requested entity does not exist in the
	// addressed namespace (or any namespace reachable through fallthrough).
	KindNotFound Kind = "not_found"
	// KindAlreadyExists means an entity with the same identity already
	// exists where the operation expected to create one.
	KindAlreadyExists Kind = "already_exists"
	// KindInvalid means the caller supplied a malformed argument, an
	// out-of-range value, or requested an illegal state transition.
	KindInvalid Kind = "invalid"
	// KindTimeout means an operation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindResource means a resource cap (memory, stack depth, disk,
	// concurrency slot) was exceeded.
	KindResource Kind = "resource"
	// KindIO means a filesystem or database operation failed for reasons
	// unrelated to the logical request (disk full, permission denied,
	// corrupt file).
	KindIO Kind = "io"
	// KindExternal means a collaborator supplied by the embedder
	// (CodeGenerator, Executor) returned an error or panicked.
	KindExternal Kind = "external"
)

// Error is the concrete error type produced by every cairn package. Op
// names the failing operation in "component.Method" form.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind, operation name and cause. err
// may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or something it wraps) is a cairnerr.Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound, AlreadyExists, Invalid, Timeout, Resource, IO and External are
// shorthand constructors for the corresponding Kind.
func NotFound(op string, err error) *Error      { return New(KindNotFound, op, err) }
func AlreadyExists(op string, err error) *Error { return New(KindAlreadyExists, op, err) }
func Invalid(op string, err error) *Error       { return New(KindInvalid, op, err) }
func Timeout(op string, err error) *Error       { return New(KindTimeout, op, err) }
func Resource(op string, err error) *Error      { return New(KindResource, op, err) }
func IO(op string, err error) *Error            { return New(KindIO, op, err) }
func External(op string, err error) *Error      { return New(KindExternal, op, err) }
