package vm

import (
	"fmt"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/program"
)

// builtin runs one of the functions every library can call. ok is false
// when name is not a builtin.
func (t *Thread) builtin(f *continuity.Frame, name string, args []any) (v any, ok bool, err error) {
	arity := func(n int) error {
		if len(args) != n {
			return diagnostics.NoSuchMethodf("No top-level method '%s' with matching arguments declared.", name)
		}
		return nil
	}
	switch name {
	case config.IdenticalFuncName:
		if err := arity(2); err != nil {
			return nil, true, err
		}
		return identical(args[0], args[1]), true, nil

	case config.ConstantFuncName:
		if len(args) == 0 {
			return nil, true, arity(1)
		}
		cname, isStr := args[0].(string)
		if !isStr {
			return nil, true, diagnostics.TypeMismatch(typeName(args[0]), config.StringTypeName, "className")
		}
		o, err := t.constant(f, cname, args[1:])
		return o, true, err

	case config.StrFuncName:
		if err := arity(1); err != nil {
			return nil, true, err
		}
		s, err := t.str(args[0])
		return s, true, err

	case config.ThrowFuncName:
		if err := arity(1); err != nil {
			return nil, true, err
		}
		s, err := t.str(args[0])
		if err != nil {
			return nil, true, err
		}
		return nil, true, diagnostics.Throw(args[0], s)

	case config.CallFuncName:
		if len(args) == 0 {
			return nil, true, arity(1)
		}
		v, err := t.callValue(args[0], args[1:])
		return v, true, err

	case config.ReloadFuncName:
		if err := arity(0); err != nil {
			return nil, true, err
		}
		return t.reload(), true, nil

	case config.PrintFuncName:
		if err := arity(1); err != nil {
			return nil, true, err
		}
		s, err := t.str(args[0])
		if err != nil {
			return nil, true, err
		}
		fmt.Fprintln(t.vm.opts.Stdout, s)
		return nil, true, nil

	case config.IsFuncName:
		if err := arity(2); err != nil {
			return nil, true, err
		}
		typ, isStr := args[1].(string)
		if !isStr {
			return nil, true, diagnostics.TypeMismatch(typeName(args[1]), config.StringTypeName, "type")
		}
		return t.is(args[0], typ), true, nil
	}
	return nil, false, nil
}

// is implements the is(x, 'T') test. Unlike checked stores, null only
// satisfies nullable and top types.
func (t *Thread) is(v any, typ string) bool {
	if v == nil {
		_, nullable := program.SplitNullable(typ)
		switch program.BaseTypeName(typ) {
		case "", config.DynamicTypeName, config.NullTypeName:
			return true
		}
		return nullable
	}
	return t.isType(v, typ)
}

// reload runs the embedder's reload hook from inside a running frame and
// reports whether it succeeded. A failed reload leaves the program as it
// was, so it is not an error for the calling code.
func (t *Thread) reload() bool {
	hook := t.vm.reloadHook()
	if hook == nil {
		t.log.Info("reload requested but no reload hook is installed")
		return false
	}
	if err := hook(t); err != nil {
		t.log.Error(err, "reload requested by running code failed")
		return false
	}
	return true
}
