// Package failure defines the error taxonomy shared by the provisioning stages.
//
// Every stage reports one of four kinds of failure:
//   - Precondition: a required tool or privilege is missing; detected before any mutation
//   - StateConflict: the target path exists but is not the expected kind of repository
//   - ExternalOperation: git, copy or compose failed; output is carried verbatim
//   - MissingDependency: an expected installer or payload directory is absent after sync
//
// None of them is retried. Re-running the whole sequence is the recovery path.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a provisioning failure.
type Kind int

const (
	KindPrecondition Kind = iota + 1
	KindStateConflict
	KindExternalOperation
	KindMissingDependency
)

// Sentinels usable with errors.Is.
var (
	ErrPrecondition      = errors.New("precondition failed")
	ErrStateConflict     = errors.New("state conflict")
	ErrExternalOperation = errors.New("external operation failed")
	ErrMissingDependency = errors.New("missing dependency")
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindStateConflict:
		return "state conflict"
	case KindExternalOperation:
		return "external operation"
	case KindMissingDependency:
		return "missing dependency"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPrecondition:
		return ErrPrecondition
	case KindStateConflict:
		return ErrStateConflict
	case KindExternalOperation:
		return ErrExternalOperation
	case KindMissingDependency:
		return ErrMissingDependency
	default:
		return nil
	}
}

// Error is a classified provisioning failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so callers can write errors.Is(err, failure.ErrStateConflict).
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Precondition wraps err as a precondition failure.
func Precondition(op string, err error) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: err}
}

// StateConflict wraps err as a state conflict.
func StateConflict(op string, err error) error {
	return &Error{Kind: KindStateConflict, Op: op, Err: err}
}

// ExternalOperation wraps err as a failed external operation.
func ExternalOperation(op string, err error) error {
	return &Error{Kind: KindExternalOperation, Op: op, Err: err}
}

// MissingDependency wraps err as a missing dependency.
func MissingDependency(op string, err error) error {
	return &Error{Kind: KindMissingDependency, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// ExitError carries the exit status of a chained installer that must be
// propagated unchanged to the caller.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// ExitCode maps an error returned by a provisioning run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
