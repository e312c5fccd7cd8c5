package vm

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"

	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/statics"
)

// body is a function body compiled for one thread.
type body struct {
	steps []step
}

type step struct {
	op     program.StepOp
	name   string
	field  string
	target *expr.Expression
	value  *expr.Expression
}

// env returns the expression environment of p bound to this thread.
func (t *Thread) env(p *program.Program) (*cel.Env, error) {
	if env, ok := t.envs[p]; ok {
		return env, nil
	}
	env, err := expr.NewEnvironment(p.Names(), expr.WithDispatcher(t), expr.WithAdapter(t.adapter))
	if err != nil {
		return nil, fmt.Errorf("building environment for generation %d: %w", p.Generation, err)
	}
	t.envs[p] = env
	return env, nil
}

// body compiles code against the program that declared it.
func (t *Thread) body(code *continuity.Code) (*body, error) {
	if b, ok := t.bodies[code]; ok {
		return b, nil
	}
	p := code.Program
	if p == nil {
		p = t.vm.Program()
	}
	env, err := t.env(p)
	if err != nil {
		return nil, err
	}
	b := &body{steps: make([]step, 0, len(code.Decl.Body))}
	for _, st := range code.Decl.Body {
		s := step{op: st.Op, name: st.Name, field: st.Field}
		if st.Target != nil {
			if s.target, err = expr.Compile(env, st.Target); err != nil {
				return nil, fmt.Errorf("compiling %s: %w", code.Name(), err)
			}
		}
		if st.Value != nil {
			if s.value, err = expr.Compile(env, st.Value); err != nil {
				return nil, fmt.Errorf("compiling %s: %w", code.Name(), err)
			}
		}
		b.steps = append(b.steps, s)
	}
	t.bodies[code] = b
	return b, nil
}

// call runs decl in a new frame. The caller has checked the arity.
func (t *Thread) call(decl *program.Function, library string, class program.ClassKey, p *program.Program, recv *heap.Object, args []any) (any, error) {
	if decl.Abstract {
		return nil, diagnostics.NoSuchMethodf("Cannot call abstract method '%s'.", decl.Name)
	}
	code := t.vm.codes.Lookup(decl, library, class, p)
	f := continuity.NewFrame(code, recv)
	for i, name := range decl.Params {
		if i < len(args) {
			f.Locals[name] = args[i]
		}
	}
	if err := t.stack.Push(f); err != nil {
		return nil, err
	}
	defer t.stack.Pop()
	return t.run(f)
}

// run executes the steps of f. A frame keeps running the code it was
// called with; reloads between steps only change what its calls resolve to.
func (t *Thread) run(f *continuity.Frame) (any, error) {
	b, err := t.body(f.Code)
	if err != nil {
		return nil, err
	}
	noted := false
	for f.Step < len(b.steps) {
		t.mutator.Poll()
		if f.Deoptimized && !noted {
			noted = true
			t.log.V(2).Info("frame deoptimized", "code", f.Code.Name(), "step", f.Step)
		}
		s := b.steps[f.Step]
		f.Step++

		var target any
		if s.target != nil {
			if target, err = t.eval(f, s.target); err != nil {
				return nil, err
			}
		}
		v, err := t.eval(f, s.value)
		if err != nil {
			return nil, err
		}
		switch s.op {
		case program.StepLet:
			f.Locals[s.name] = v
		case program.StepAssign:
			if err := t.assign(f, s.name, v); err != nil {
				return nil, err
			}
		case program.StepSet:
			if err := t.setMember(f, target, s.field, v); err != nil {
				return nil, err
			}
		case program.StepReturn:
			return v, nil
		}
	}
	return nil, nil
}

// eval evaluates one expression in the scope of f.
func (t *Thread) eval(f *continuity.Frame, e *expr.Expression) (any, error) {
	t.fault = nil
	out, _, err := e.Program.Eval(&activation{t: t, frame: f})
	if err != nil {
		return nil, t.failure(err)
	}
	t.fault = nil
	return expr.ToNative(out), nil
}

// failure recovers the language error behind a failed evaluation.
func (t *Thread) failure(err error) error {
	fault := t.fault
	t.fault = nil
	var re *diagnostics.RuntimeError
	if errors.As(err, &re) {
		return re
	}
	if fault != nil {
		return fault
	}
	return fmt.Errorf("evaluation failed: %w", err)
}

// raise hands err to the running expression as a CEL error value.
func (t *Thread) raise(err error) ref.Val {
	t.fault = err
	return types.NewErr("%s", err.Error())
}

// assign stores into a local, a field of this, a static of the enclosing
// class chain or a top-level variable, whichever the name denotes first.
// An unknown name becomes a new local.
func (t *Thread) assign(f *continuity.Frame, name string, v any) error {
	if _, ok := f.Locals[name]; ok {
		f.Locals[name] = v
		return nil
	}
	if f.Receiver != nil {
		if ok, err := t.setField(f, f.Receiver, name, v); ok || err != nil {
			return err
		}
	}
	p := t.vm.Program()
	if !f.Code.Class.IsZero() {
		if sv, _, owner := p.ResolveStatic(f.Code.Class, name); sv != nil {
			return t.writeStatic(statics.ClassKey(owner.Key(), name), sv, v)
		}
	}
	if m, ok := t.scope(f).Lookup(name); ok && m.Kind == program.MemberVariable {
		return t.writeStatic(statics.LibraryKey(m.Library, name), m.Variable, v)
	}
	f.Locals[name] = v
	return nil
}

// activation resolves the free variables of an expression lazily, against
// the program current at the time of the read.
type activation struct {
	t     *Thread
	frame *continuity.Frame
}

func (a *activation) ResolveName(name string) (any, bool) {
	v, err := a.t.resolveName(a.frame, name)
	if err != nil {
		return a.t.raise(err), true
	}
	return a.t.toVal(v), true
}

func (a *activation) Parent() interpreter.Activation { return nil }
