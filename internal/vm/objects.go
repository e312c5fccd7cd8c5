package vm

import (
	"runtime"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/statics"
)

// getMember reads name on obj: a field, a getter or a method tear-off,
// looked up along the linearization of its class after skip. ok is false
// when obj has no such member.
func (t *Thread) getMember(f *continuity.Frame, obj *heap.Object, name string, skip program.ClassKey) (v any, ok bool, err error) {
	cls := obj.Class()
	p := cls.Program()
	lin := p.Linearization(cls.Key)
	if !skip.IsZero() {
		lin = after(lin, skip)
	}
	for _, c := range lin {
		if c.Field(name) != nil {
			v, err := t.readField(f, obj, name)
			return v, true, err
		}
		m := c.Method(name)
		if m == nil || m.Static {
			continue
		}
		if m.Getter {
			v, err := t.call(m, c.Library, c.Key(), p, obj, nil)
			return v, true, err
		}
		return t.vm.methodTearOff(obj, name), true, nil
	}
	if skip.IsZero() && cls.Slot(name) >= 0 {
		v, err := t.readField(f, obj, name)
		return v, true, err
	}
	if name == config.HashCodeName {
		return int64(obj.Hash()), true, nil
	}
	return nil, false, nil
}

// getValue reads name on any value.
func (t *Thread) getValue(f *continuity.Frame, v any, name string) (any, error) {
	switch x := v.(type) {
	case *heap.Object:
		r, ok, err := t.getMember(f, x, name, program.ClassKey{})
		if err == nil && !ok {
			err = noGetter(x.Class().Name(), name)
		}
		return r, err
	case *heap.Closure:
		if name == config.HashCodeName {
			return int64(closureHash(x)), nil
		}
	case nil:
		return nil, diagnostics.NoSuchMethodf("The getter '%s' was called on null.", name)
	}
	return nil, noGetter(typeName(v), name)
}

// slot returns the slot of name in cls, through the code cache of f.
func slot(f *continuity.Frame, cls *heap.Class, name string) int {
	if f == nil {
		return cls.Slot(name)
	}
	return f.Code.Slot(cls, name)
}

// readField reads a field, running its initialiser the first time. Reads
// of fields whose declared type changed are checked.
func (t *Thread) readField(f *continuity.Frame, obj *heap.Object, name string) (any, error) {
	cls := obj.Class()
	i := slot(f, cls, name)
	if i < 0 {
		return nil, noGetter(cls.Name(), name)
	}
	sf := cls.Layout()[i]
	return t.initialize(LazyField, sf.Type,
		func() (heap.Slot, bool) { return obj.Field(name) },
		func(fn func(*heap.Slot)) { obj.UpdateField(name, fn) },
		func() (any, error) { return t.runFieldInit(obj, sf) })
}

func (t *Thread) runFieldInit(obj *heap.Object, sf program.ShapeField) (any, error) {
	// The layout may predate a reload that only changed the initializer.
	cls := obj.Class()
	if cur, ok := cls.Program().ShapeField(cls.Key, sf.Name); ok {
		sf = cur
	}
	if sf.Field == nil || sf.Field.Init == nil {
		if sf.Field != nil && sf.Field.Late {
			return nil, diagnostics.Undefinedf("LateInitializationError: Field '%s' has not been initialized.", sf.Name)
		}
		return nil, nil
	}
	fn := t.vm.initializer(sf.Field.Init, sf.Name)
	return t.call(fn, sf.Owner.Library, sf.Owner, cls.Program(), obj, nil)
}

// setField stores into a field of obj. ok is false when obj has no such
// field.
func (t *Thread) setField(f *continuity.Frame, obj *heap.Object, name string, v any) (ok bool, err error) {
	cls := obj.Class()
	i := slot(f, cls, name)
	if i < 0 {
		return false, nil
	}
	sf := cls.Layout()[i]
	if sf.Field != nil && sf.Field.Final {
		if s, _ := obj.Field(name); s.State != heap.Uninitialized || !sf.Field.Late {
			return true, diagnostics.Finalf("Cannot assign to final field '%s'.", name)
		}
	}
	if !t.isType(v, sf.Type) {
		return true, diagnostics.TypeMismatch(typeName(v), sf.Type, "value")
	}
	obj.SetField(name, v)
	return true, nil
}

// setMember implements the set step.
func (t *Thread) setMember(f *continuity.Frame, target any, name string, v any) error {
	obj, ok := target.(*heap.Object)
	if !ok {
		return diagnostics.NoSuchMethodf("Class '%s' has no instance setter '%s='.", typeName(target), name)
	}
	ok, err := t.setField(f, obj, name, v)
	if err == nil && !ok {
		err = diagnostics.NoSuchMethodf("Class '%s' has no instance setter '%s='.", obj.Class().Name(), name)
	}
	return err
}

// readStatic reads a top-level variable or class static, running its
// initialiser the first time. Code reading a const binding inlines it.
func (t *Thread) readStatic(f *continuity.Frame, key statics.Key, decl *program.Variable, library string, owner program.ClassKey) (any, error) {
	cell := t.vm.statics.Lookup(key)
	if cell == nil {
		cell = t.vm.statics.Register(key, decl)
	}
	d := cell.Decl()
	if d.Const && f != nil {
		if v, ok := f.Code.Const(key.String()); ok {
			return v, nil
		}
	}
	v, err := t.initialize(LazyStatic, d.Type,
		func() (heap.Slot, bool) { return cell.Slot(), true },
		cell.Update,
		func() (any, error) {
			if d.Init == nil {
				if d.Late {
					return nil, diagnostics.Undefinedf("LateInitializationError: Field '%s' has not been initialized.", d.Name)
				}
				return nil, nil
			}
			return t.call(t.vm.initializer(d.Init, d.Name), library, owner, t.vm.Program(), nil, nil)
		})
	if err == nil && d.Const && f != nil {
		f.Code.InlineConst(key.String(), v)
	}
	return v, err
}

// writeStatic assigns a top-level variable or class static.
func (t *Thread) writeStatic(key statics.Key, decl *program.Variable, v any) error {
	cell := t.vm.statics.Lookup(key)
	if cell == nil {
		cell = t.vm.statics.Register(key, decl)
	}
	d := cell.Decl()
	if d.Const || d.Final {
		if !d.Late || d.Init != nil || cell.Slot().State != heap.Uninitialized {
			return diagnostics.Finalf("Cannot assign to final variable '%s'.", d.Name)
		}
	}
	if !t.isType(v, d.Type) {
		return diagnostics.TypeMismatch(typeName(v), d.Type, "value")
	}
	cell.Set(v)
	return nil
}

// initialize implements lazy initialisation of one slot: the initialiser
// runs at most once per successful initialisation, a re-entrant read by
// the initialising thread is a cycle, other threads wait, and a failed
// initialiser leaves the slot uninitialized so the next read retries.
func (t *Thread) initialize(kind LazyKind, typ string, load func() (heap.Slot, bool), update func(func(*heap.Slot)), init func() (any, error)) (any, error) {
	me := t.mutator.ID()
	for {
		s, ok := load()
		if !ok {
			return nil, diagnostics.Undefinedf("slot removed while initializing")
		}
		switch s.State {
		case heap.Initialized:
			if s.CheckOnRead {
				if !t.isType(s.Value, typ) {
					return nil, diagnostics.TypeMismatch(typeName(s.Value), typ, "function result")
				}
				update(func(sl *heap.Slot) {
					if sl.State == heap.Initialized {
						sl.CheckOnRead = false
					}
				})
			}
			return s.Value, nil
		case heap.Initializing:
			if s.Owner == me {
				return nil, diagnostics.CyclicInitialization()
			}
			t.mutator.Poll()
			runtime.Gosched()
		case heap.Uninitialized:
			claimed := false
			update(func(sl *heap.Slot) {
				if sl.State == heap.Uninitialized {
					*sl = heap.Slot{State: heap.Initializing, Owner: me}
					claimed = true
				}
			})
			if !claimed {
				continue
			}
			v, err := init()
			if err == nil && !t.isType(v, typ) {
				err = diagnostics.TypeMismatch(typeName(v), typ, "value")
			}
			if err != nil {
				update(func(sl *heap.Slot) {
					if sl.State == heap.Initializing && sl.Owner == me {
						*sl = heap.Slot{}
					}
				})
				return nil, err
			}
			update(func(sl *heap.Slot) { *sl = heap.Slot{Value: v, State: heap.Initialized} })
			t.vm.lazyInit(kind)
			return v, nil
		}
	}
}

// functionTearOff returns the canonical closure of a top-level function.
func (vm *VM) functionTearOff(library, name string) *heap.Closure {
	return vm.identity.TearOff(identity.TearOffKey{Owner: library, Name: name}, func() *heap.Closure {
		return vm.heap.NewClosure(heap.Closure{Library: library, Name: name})
	})
}

// staticTearOff returns the canonical closure of a static method.
func (vm *VM) staticTearOff(class program.ClassKey, name string) *heap.Closure {
	return vm.identity.TearOff(identity.TearOffKey{Owner: class.String(), Name: name}, func() *heap.Closure {
		return vm.heap.NewClosure(heap.Closure{Library: class.Library, Class: class, Name: name, Static: true})
	})
}

// methodTearOff binds an instance method to its receiver. Bound closures
// are not canonicalised in the identity table: each tear-off allocates,
// and identical and hashCode key on (receiver, class, method) instead.
func (vm *VM) methodTearOff(obj *heap.Object, name string) *heap.Closure {
	cls := obj.Class()
	return vm.heap.NewClosure(heap.Closure{Library: cls.Key.Library, Class: cls.Key, Name: name, Receiver: obj})
}

// constant returns the canonical const instance of a class for args.
func (t *Thread) constant(f *continuity.Frame, name string, args []any) (*heap.Object, error) {
	decl, err := t.classNamed(f, name)
	if err != nil {
		return nil, err
	}
	c := t.current(decl)
	if !c.Const {
		return nil, diagnostics.NoSuchMethodf("No const constructor declared in class '%s'.", c.Name)
	}
	if len(args) != len(c.Constructor) {
		return nil, diagnostics.NoSuchMethodf("No constructor '%s.' with matching arguments declared in class '%s'.", c.Name, c.Name)
	}
	rc := t.vm.identity.Class(c.Key())
	if rc == nil {
		return nil, diagnostics.Undefinedf("class '%s' is not loaded", c.Name)
	}
	formals := make(map[string]any, len(args))
	for i, n := range c.Constructor {
		formals[n] = args[i]
	}
	layout := rc.Layout()
	values := make([]any, len(layout))
	for i, sf := range layout {
		if v, ok := formals[sf.Name]; ok {
			if !t.isType(v, sf.Type) {
				return nil, diagnostics.TypeMismatch(typeName(v), sf.Type, sf.Name)
			}
			values[i] = v
			continue
		}
		if sf.Field != nil && sf.Field.Init != nil {
			v, err := t.call(t.vm.initializer(sf.Field.Init, sf.Name), sf.Owner.Library, sf.Owner, t.vm.Program(), nil, nil)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
	}
	return t.vm.identity.Constant(rc.ID, values, func() (*heap.Object, error) {
		o, err := t.vm.heap.Allocate(rc)
		if err != nil {
			return nil, err
		}
		for i, sf := range layout {
			o.SetField(sf.Name, values[i])
		}
		return o, nil
	})
}

// classNamed resolves "C" or "p.C" in the scope of f.
func (t *Thread) classNamed(f *continuity.Frame, name string) (*program.Class, error) {
	sc := t.scope(f)
	var (
		m  program.Member
		ok bool
	)
	if prefix, rest, qualified := cut(name); qualified {
		m, ok = sc.LookupPrefixed(prefix, rest)
	} else {
		m, ok = sc.Lookup(name)
	}
	if !ok || m.Kind != program.MemberClass {
		return nil, diagnostics.NoSuchMethodf("No class '%s' declared.", name)
	}
	return m.Class, nil
}
