package vpc

import (
	"errors"
	"fmt"
)

// Kind classifies controller errors for the CLI.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrivilege
	KindNotFound
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrivilege:
		return "privilege"
	case KindNotFound:
		return "not found"
	case KindExternal:
		return "external"
	}
	return "internal"
}

// ErrPrivilege is wrapped by privilege errors.
var ErrPrivilege = errors.New("this command must run as root")

// Error is a classified controller error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationError(op, format string, args ...any) error {
	return newError(KindValidation, op, fmt.Errorf(format, args...))
}

func notFoundError(op, format string, args ...any) error {
	return newError(KindNotFound, op, fmt.Errorf(format, args...))
}

func externalError(op string, err error) error {
	return newError(KindExternal, op, err)
}

// PrivilegeError reports that op needs root.
func PrivilegeError(op string) error {
	return newError(KindPrivilege, op, ErrPrivilege)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindPrivilege:
		return 2
	case KindExternal:
		return 3
	}
	return 1
}
