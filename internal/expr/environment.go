package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/program"
)

// Dispatcher receives every call made by an expression. Names are resolved
// by the dispatcher at call time, never at compile time.
type Dispatcher interface {
	// CallGlobal handles f(args) and qualified Q.f(args) calls.
	CallGlobal(name string, args []ref.Val) ref.Val
	// CallMember handles recv.f(args) calls.
	CallMember(name string, recv ref.Val, args []ref.Val) ref.Val
}

// EnvOption is a function that modifies the environment options.
type EnvOption func(*envOptions)

type envOptions struct {
	dispatcher Dispatcher
	adapter    types.Adapter
}

// WithDispatcher binds calls to d. Without a dispatcher the environment can
// only type-check expressions.
func WithDispatcher(d Dispatcher) EnvOption {
	return func(opts *envOptions) { opts.dispatcher = d }
}

// WithAdapter installs the adapter used to convert activation values.
func WithAdapter(a types.Adapter) EnvOption {
	return func(opts *envOptions) { opts.adapter = a }
}

// NewEnvironment declares every identifier of the program as a dyn variable
// and every identifier as a global and member function of arity
// 0..MaxCallArity.
func NewEnvironment(names *program.Names, options ...EnvOption) (*cel.Env, error) {
	opts := &envOptions{}
	for _, opt := range options {
		opt(opts)
	}

	declarations := []cel.EnvOption{ext.Strings()}
	if opts.adapter != nil {
		declarations = append(declarations, cel.CustomTypeAdapter(opts.adapter))
	}

	for _, name := range names.Idents {
		declarations = append(declarations,
			cel.Variable(name, cel.DynType),
			cel.Function(name, overloads(name, opts.dispatcher, true)...))
	}
	for _, name := range names.Qualified {
		declarations = append(declarations,
			cel.Variable(name, cel.DynType),
			cel.Function(name, overloads(name, opts.dispatcher, false)...))
	}
	return cel.NewEnv(declarations...)
}

func overloads(name string, d Dispatcher, member bool) []cel.FunctionOpt {
	var out []cel.FunctionOpt
	for arity := 0; arity <= config.MaxCallArity; arity++ {
		args := make([]*cel.Type, arity)
		for i := range args {
			args[i] = cel.DynType
		}
		out = append(out, cel.Overload(fmt.Sprintf("%s/%d", name, arity), args, cel.DynType,
			cel.FunctionBinding(globalBinding(name, d))))

		if member {
			margs := make([]*cel.Type, arity+1)
			for i := range margs {
				margs[i] = cel.DynType
			}
			out = append(out, cel.MemberOverload(fmt.Sprintf("%s/m%d", name, arity), margs, cel.DynType,
				cel.FunctionBinding(memberBinding(name, d))))
		}
	}
	return out
}

func globalBinding(name string, d Dispatcher) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		if d == nil {
			return types.NewErr("no dispatcher bound for %s", name)
		}
		return d.CallGlobal(name, args)
	}
}

func memberBinding(name string, d Dispatcher) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		if d == nil {
			return types.NewErr("no dispatcher bound for %s", name)
		}
		return d.CallMember(name, args[0], args[1:])
	}
}
