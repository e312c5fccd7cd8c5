package diagnostics

import (
	"errors"
	"fmt"
)

// Kind classifies a reload-time rejection.
type Kind int

const (
	KindCompile Kind = iota
	KindIllegalTransition
	KindAllocation
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindIllegalTransition:
		return "illegal-transition"
	case KindAllocation:
		return "allocation"
	case KindBusy:
		return "busy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrCompile           = errors.New("compile error")
	ErrIllegalTransition = errors.New("illegal structural transition")
	ErrAllocation        = errors.New("allocation failure")
	ErrBusy              = errors.New("reload already in progress")
)

// Diagnostic is the error returned by a rejected reload. Message is the
// complete user-facing text; Library and Class locate it when known.
type Diagnostic struct {
	Kind    Kind
	Library string
	Class   string
	Line    int
	Message string
	Err     error
}

func (d *Diagnostic) Error() string {
	if d.Kind == KindCompile && d.Library != "" {
		if d.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", d.Library, d.Line, d.Message)
		}
		return fmt.Sprintf("%s: %s", d.Library, d.Message)
	}
	return d.Message
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// Is matches the sentinel of the diagnostic's kind.
func (d *Diagnostic) Is(target error) bool {
	switch d.Kind {
	case KindCompile:
		return target == ErrCompile
	case KindIllegalTransition:
		return target == ErrIllegalTransition
	case KindAllocation:
		return target == ErrAllocation
	case KindBusy:
		return target == ErrBusy
	}
	return false
}

// Compile reports an invalid source.
func Compile(library string, line int, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:    KindCompile,
		Library: library,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	}
}

// Illegal reports a rejected structural transition of a class. The reason is
// followed by the library/class locator, e.g.
// "Const class cannot remove fields: Library:'file:///a' Class: A".
func Illegal(library, class, reason string) *Diagnostic {
	return &Diagnostic{
		Kind:    KindIllegalTransition,
		Library: library,
		Class:   class,
		Message: fmt.Sprintf("%s: Library:'%s' Class: %s", reason, library, class),
	}
}

// IllegalLimitation reports a transition the engine does not support.
func IllegalLimitation(library, class, what string) *Diagnostic {
	return &Diagnostic{
		Kind:    KindIllegalTransition,
		Library: library,
		Class:   class,
		Message: fmt.Sprintf("Limitation: %s for Library:'%s' Class: %s", what, library, class),
	}
}

// Allocation reports that the heap could not satisfy a migration.
func Allocation(err error) *Diagnostic {
	return &Diagnostic{
		Kind:    KindAllocation,
		Message: fmt.Sprintf("Out of memory during heap migration: %v", err),
		Err:     err,
	}
}

// Busy reports a reload attempted while another one is in progress.
func Busy() *Diagnostic {
	return &Diagnostic{Kind: KindBusy, Message: ErrBusy.Error()}
}

// AsDiagnostic unwraps err into a Diagnostic, wrapping foreign errors as
// compile diagnostics.
func AsDiagnostic(err error) *Diagnostic {
	if err == nil {
		return nil
	}
	var d *Diagnostic
	if errors.As(err, &d) {
		return d
	}
	return &Diagnostic{Kind: KindCompile, Message: err.Error(), Err: err}
}
