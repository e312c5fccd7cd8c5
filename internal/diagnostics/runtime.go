package diagnostics

import (
	"errors"
	"fmt"
)

// RuntimeKind classifies language-level errors surfaced at a use site.
type RuntimeKind int

const (
	NoSuchMethod RuntimeKind = iota
	TypeError
	CyclicInit
	Thrown
	Abstract
	Final
	Undefined
	StackOverflow
)

func (k RuntimeKind) String() string {
	switch k {
	case NoSuchMethod:
		return "NoSuchMethodError"
	case TypeError:
		return "TypeError"
	case CyclicInit:
		return "CyclicInitializationError"
	case Thrown:
		return "Thrown"
	case Abstract:
		return "AbstractClassInstantiationError"
	case Final:
		return "FinalAssignmentError"
	case Undefined:
		return "UndefinedNameError"
	case StackOverflow:
		return "StackOverflowError"
	default:
		return fmt.Sprintf("runtime(%d)", int(k))
	}
}

var (
	ErrNoSuchMethod  = errors.New("no such method")
	ErrTypeError     = errors.New("type error")
	ErrCyclicInit    = errors.New("cyclic initialization")
	ErrThrown        = errors.New("thrown")
	ErrAbstract      = errors.New("abstract class instantiation")
	ErrFinal         = errors.New("final assignment")
	ErrUndefined     = errors.New("undefined name")
	ErrStackOverflow = errors.New("stack overflow")
)

// StackOverflowMessage is what cyclic lazy initialisation and exhausted call
// stacks report.
const StackOverflowMessage = "Stack Overflow"

// RuntimeError is an ordinary language error. Value carries the thrown
// value for Thrown errors.
type RuntimeError struct {
	Kind    RuntimeKind
	Message string
	Value   any
}

func (e *RuntimeError) Error() string { return e.Message }

func (e *RuntimeError) Is(target error) bool {
	switch e.Kind {
	case NoSuchMethod:
		return target == ErrNoSuchMethod
	case TypeError:
		return target == ErrTypeError
	case CyclicInit:
		return target == ErrCyclicInit
	case Thrown:
		return target == ErrThrown
	case Abstract:
		return target == ErrAbstract
	case Final:
		return target == ErrFinal
	case Undefined:
		return target == ErrUndefined
	case StackOverflow:
		return target == ErrStackOverflow
	}
	return false
}

func runtimef(kind RuntimeKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NoSuchMethodf(format string, args ...any) *RuntimeError {
	return runtimef(NoSuchMethod, "NoSuchMethodError: "+format, args...)
}

func TypeErrorf(format string, args ...any) *RuntimeError {
	return runtimef(TypeError, format, args...)
}

func Undefinedf(format string, args ...any) *RuntimeError {
	return runtimef(Undefined, format, args...)
}

func Finalf(format string, args ...any) *RuntimeError {
	return runtimef(Final, format, args...)
}

func Abstractf(format string, args ...any) *RuntimeError {
	return runtimef(Abstract, format, args...)
}

// TypeMismatch builds the checked-read/write error, e.g.
// "type 'int' is not a subtype of type 'double' of 'function result'".
func TypeMismatch(actual, expected, context string) *RuntimeError {
	return runtimef(TypeError, "type '%s' is not a subtype of type '%s' of '%s'", actual, expected, context)
}

// CyclicInitialization is raised when a lazy initialiser re-enters itself.
func CyclicInitialization() *RuntimeError {
	return &RuntimeError{Kind: CyclicInit, Message: StackOverflowMessage}
}

// Overflow is raised when a call stack exceeds its frame limit.
func Overflow() *RuntimeError {
	return &RuntimeError{Kind: StackOverflow, Message: StackOverflowMessage}
}

// Throw wraps a language-level thrown value; msg is its string form.
func Throw(value any, msg string) *RuntimeError {
	return &RuntimeError{Kind: Thrown, Message: msg, Value: value}
}

// IsRuntime reports whether err is a language-level error.
func IsRuntime(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
