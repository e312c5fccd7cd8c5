package vm

import (
	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/statics"
)

// Invoke calls a top-level function of library.
func (t *Thread) Invoke(library, name string, args ...any) (any, error) {
	defer t.enter()()
	p := t.vm.Program()
	if p == nil || p.Library(library) == nil {
		return nil, diagnostics.Undefinedf("library '%s' not found", library)
	}
	fn := p.Library(library).Function(name)
	if fn == nil {
		return nil, diagnostics.NoSuchMethodf("No top-level method '%s' declared.", name)
	}
	if len(args) != len(fn.Params) {
		return nil, diagnostics.NoSuchMethodf("No top-level method '%s' with matching arguments declared.", name)
	}
	return t.call(fn, library, program.ClassKey{}, p, nil, args)
}

// InvokeMethod calls an instance method, getter or callable field of obj.
func (t *Thread) InvokeMethod(obj *heap.Object, name string, args ...any) (any, error) {
	defer t.enter()()
	return t.callObject(nil, obj, name, args, program.ClassKey{})
}

// New constructs an instance of a class declared in library.
func (t *Thread) New(library, class string, args ...any) (*heap.Object, error) {
	defer t.enter()()
	p := t.vm.Program()
	decl := p.Class(program.ClassKey{Library: library, Name: class})
	if decl == nil {
		return nil, diagnostics.NoSuchMethodf("No constructor '%s.' declared in class '%s'.", class, class)
	}
	return t.construct(decl, args)
}

// ReadField reads a field or getter of obj, running lazy initialisers.
func (t *Thread) ReadField(obj *heap.Object, name string) (any, error) {
	defer t.enter()()
	v, ok, err := t.getMember(nil, obj, name, program.ClassKey{})
	if err == nil && !ok {
		err = noGetter(obj.Class().Name(), name)
	}
	return v, err
}

// ReadGlobal reads a top-level variable of library.
func (t *Thread) ReadGlobal(library, name string) (any, error) {
	defer t.enter()()
	l := t.vm.Program().Library(library)
	if l == nil || l.Variable(name) == nil {
		return nil, diagnostics.NoSuchMethodf("No top-level getter '%s' declared.", name)
	}
	return t.readStatic(nil, statics.LibraryKey(library, name), l.Variable(name), library, program.ClassKey{})
}

// ReadStatic reads a static variable of a class.
func (t *Thread) ReadStatic(key program.ClassKey, name string) (any, error) {
	defer t.enter()()
	c := t.vm.Program().Class(key)
	if c == nil || c.Static(name) == nil {
		return nil, diagnostics.NoSuchMethodf("No static getter '%s' declared in class '%s'.", name, key.Name)
	}
	return t.readStatic(nil, statics.ClassKey(key, name), c.Static(name), key.Library, key)
}

// Eval evaluates a single expression in the top-level scope of library.
func (t *Thread) Eval(library, src string) (any, error) {
	defer t.enter()()
	p := t.vm.Program()
	if p == nil || p.Library(library) == nil {
		return nil, diagnostics.Undefinedf("library '%s' not found", library)
	}
	env, err := t.env(p)
	if err != nil {
		return nil, err
	}
	e, err := expr.Compile(env, &program.Expr{Source: src, Line: 1})
	if err != nil {
		return nil, err
	}
	code := &continuity.Code{Decl: &program.Function{Name: "<eval>"}, Library: library, Program: p}
	f := continuity.NewFrame(code, nil)
	if err := t.stack.Push(f); err != nil {
		return nil, err
	}
	defer t.stack.Pop()
	return t.eval(f, e)
}

// Str converts v to a string the way str() does.
func (t *Thread) Str(v any) (string, error) {
	defer t.enter()()
	return t.str(v)
}

func noGetter(class, name string) error {
	return diagnostics.NoSuchMethodf("Class '%s' has no instance getter '%s'.", class, name)
}
