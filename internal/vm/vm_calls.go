package vm

import (
	"strings"

	"github.com/google/cel-go/common/types/ref"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/continuity"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/statics"
)

// CallGlobal implements expr.Dispatcher.
func (t *Thread) CallGlobal(name string, args []ref.Val) ref.Val {
	v, err := t.callGlobal(t.stack.Top(), name, natives(args))
	if err != nil {
		return t.raise(err)
	}
	return t.toVal(v)
}

// CallMember implements expr.Dispatcher.
func (t *Thread) CallMember(name string, recv ref.Val, args []ref.Val) ref.Val {
	v, err := t.callMember(t.stack.Top(), name, expr.ToNative(recv), natives(args))
	if err != nil {
		return t.raise(err)
	}
	return t.toVal(v)
}

func natives(args []ref.Val) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = expr.ToNative(a)
	}
	return out
}

// scope is the top-level namespace the code of f resolves names in. Code
// of a library that no longer exists keeps the scope it was compiled in.
func (t *Thread) scope(f *continuity.Frame) *program.Scope {
	p := t.vm.Program()
	if f == nil {
		return p.Scope(p.Root)
	}
	if p.Library(f.Code.Library) == nil && f.Code.Program != nil {
		return f.Code.Program.Scope(f.Code.Library)
	}
	return p.Scope(f.Code.Library)
}

func codeID(f *continuity.Frame) uint64 {
	if f == nil {
		return 0
	}
	return f.Code.ID
}

func receiver(f *continuity.Frame) *heap.Object {
	if f == nil {
		return nil
	}
	return f.Receiver
}

func hasLocal(f *continuity.Frame, name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.Local(name)
	return ok
}

func enclosing(f *continuity.Frame) program.ClassKey {
	if f == nil {
		return program.ClassKey{}
	}
	return f.Code.Class
}

// resolveName reads a free variable: a local, this, a member of this, a
// static of the enclosing class chain or a top-level member.
func (t *Thread) resolveName(f *continuity.Frame, name string) (any, error) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return t.resolveQualified(f, name[:i], name[i+1:])
	}
	if f != nil {
		if v, ok := f.Local(name); ok {
			return v, nil
		}
	}
	recv := receiver(f)
	if name == config.ThisName {
		if recv == nil {
			return nil, diagnostics.Undefinedf("'this' is not available here")
		}
		return recv, nil
	}
	if recv != nil {
		if v, ok, err := t.getMember(f, recv, name, program.ClassKey{}); ok || err != nil {
			return v, err
		}
	}
	if cls := enclosing(f); !cls.IsZero() {
		if sv, sm, owner := t.vm.Program().ResolveStatic(cls, name); owner != nil {
			if sv != nil {
				return t.readStatic(f, statics.ClassKey(owner.Key(), name), sv, owner.Library, owner.Key())
			}
			return t.vm.staticTearOff(owner.Key(), sm.Name), nil
		}
	}
	if m, ok := t.scope(f).Lookup(name); ok {
		return t.topLevel(f, m, name)
	}
	return nil, diagnostics.NoSuchMethodf("No top-level getter '%s' declared.", name)
}

// resolveQualified reads q.rest: a super member, a member of a prefixed
// import, a class static or enum value, or a getter of the value q names.
func (t *Thread) resolveQualified(f *continuity.Frame, q, rest string) (any, error) {
	if q == config.SuperName {
		recv := receiver(f)
		if recv == nil {
			return nil, diagnostics.Undefinedf("'super' is not available here")
		}
		v, ok, err := t.getMember(f, recv, rest, enclosing(f))
		if err == nil && !ok {
			err = diagnostics.NoSuchMethodf("Super class of class '%s' has no instance getter '%s'.", enclosing(f).Name, rest)
		}
		return v, err
	}
	sc := t.scope(f)
	if sc.HasPrefix(q) {
		head, tail, _ := strings.Cut(rest, ".")
		m, ok := sc.LookupPrefixed(q, head)
		if !ok {
			return nil, diagnostics.NoSuchMethodf("No top-level getter '%s.%s' declared.", q, head)
		}
		if tail != "" {
			if m.Kind != program.MemberClass {
				return nil, diagnostics.NoSuchMethodf("No top-level getter '%s.%s' declared.", q, rest)
			}
			return t.classMember(f, m.Class, tail)
		}
		return t.topLevel(f, m, head)
	}
	if m, ok := sc.Lookup(q); ok && m.Kind == program.MemberClass {
		if !hasLocal(f, q) {
			return t.classMember(f, m.Class, rest)
		}
	}
	v, err := t.resolveName(f, q)
	if err != nil {
		return nil, err
	}
	return t.getValue(f, v, rest)
}

// topLevel reads a top-level declaration as a value.
func (t *Thread) topLevel(f *continuity.Frame, m program.Member, name string) (any, error) {
	switch m.Kind {
	case program.MemberVariable:
		return t.readStatic(f, statics.LibraryKey(m.Library, name), m.Variable, m.Library, program.ClassKey{})
	case program.MemberFunction:
		return t.vm.functionTearOff(m.Library, name), nil
	case program.MemberClass:
		rc := t.vm.identity.Class(m.Class.Key())
		if rc == nil {
			return nil, diagnostics.Undefinedf("class '%s' is not loaded", m.Class.Name)
		}
		return t.vm.identity.Type(rc, nil), nil
	case program.MemberTypedef:
		return m.Typedef.Type, nil
	}
	return nil, diagnostics.NoSuchMethodf("No top-level getter '%s' declared.", name)
}

// current returns the declaration of decl's class in the current program,
// or decl itself when the class was removed.
func (t *Thread) current(decl *program.Class) *program.Class {
	if c := t.vm.Program().Class(decl.Key()); c != nil {
		return c
	}
	return decl
}

// classMember reads C.name: an enum value, the enum's values, a static
// variable or a static method tear-off.
func (t *Thread) classMember(f *continuity.Frame, decl *program.Class, name string) (any, error) {
	c := t.current(decl)
	if c.IsEnum {
		if name == config.ValuesName {
			return t.enumValues(c)
		}
		if c.EnumIndex(name) >= 0 {
			return t.enumValue(c, name)
		}
	}
	if s := c.Static(name); s != nil {
		return t.readStatic(f, statics.ClassKey(c.Key(), name), s, c.Library, c.Key())
	}
	if m := c.Method(name); m != nil && m.Static {
		return t.vm.staticTearOff(c.Key(), name), nil
	}
	return nil, diagnostics.NoSuchMethodf("No static getter '%s' declared in class '%s'.", name, c.Name)
}

// callGlobal handles f(args) and Q.f(args).
func (t *Thread) callGlobal(f *continuity.Frame, name string, args []any) (any, error) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return t.callQualified(f, name[:i], name[i+1:], args)
	}
	if f != nil {
		if v, ok := f.Local(name); ok {
			return t.callValue(v, args)
		}
	}
	site := continuity.Site{Code: codeID(f), Name: name, Arity: len(args), Unqualified: true}
	if recv := receiver(f); recv != nil {
		site.Receiver = recv.Class().ID
	}
	if target, ok := t.lookupSite(site); ok {
		return t.callTarget(f, target, args)
	}

	// Instance members of this, looked up on the receiver's class.
	if recv := receiver(f); recv != nil {
		cls := recv.Class()
		for _, c := range cls.Program().Linearization(cls.Key) {
			if c.Field(name) != nil {
				return t.callField(f, recv, name, args)
			}
			m := c.Method(name)
			if m == nil || m.Static {
				continue
			}
			if m.Getter {
				v, err := t.call(m, c.Library, c.Key(), cls.Program(), recv, nil)
				if err != nil {
					return nil, err
				}
				return t.callValue(v, args)
			}
			target := continuity.Target{Kind: continuity.TargetMethod, Library: c.Library, Class: c.Key(), Decl: m, Owner: c}
			t.storeSite(site, target)
			return t.callTarget(f, target, args)
		}
	}
	// Statics of the enclosing class chain.
	if cls := enclosing(f); !cls.IsZero() {
		if sv, sm, owner := t.vm.Program().ResolveStatic(cls, name); owner != nil {
			if sv != nil {
				v, err := t.readStatic(f, statics.ClassKey(owner.Key(), name), sv, owner.Library, owner.Key())
				if err != nil {
					return nil, err
				}
				return t.callValue(v, args)
			}
			target := continuity.Target{Kind: continuity.TargetStatic, Library: owner.Library, Class: owner.Key(), Decl: sm, Owner: owner}
			t.storeSite(site, target)
			return t.callTarget(f, target, args)
		}
	}
	if m, ok := t.scope(f).Lookup(name); ok {
		return t.callDecl(f, site, m, name, args)
	}
	if v, ok, err := t.builtin(f, name, args); ok {
		return v, err
	}
	return nil, diagnostics.NoSuchMethodf("No top-level method '%s' declared.", name)
}

// callDecl calls a top-level declaration: a function, a class constructor
// or a variable holding a closure.
func (t *Thread) callDecl(f *continuity.Frame, site continuity.Site, m program.Member, name string, args []any) (any, error) {
	var target continuity.Target
	switch m.Kind {
	case program.MemberFunction:
		target = continuity.Target{Kind: continuity.TargetFunction, Library: m.Library, Decl: m.Function}
	case program.MemberClass:
		target = continuity.Target{Kind: continuity.TargetConstructor, Library: m.Library, Class: m.Class.Key(), Owner: m.Class}
	case program.MemberVariable:
		v, err := t.topLevel(f, m, name)
		if err != nil {
			return nil, err
		}
		return t.callValue(v, args)
	default:
		return nil, diagnostics.NoSuchMethodf("'%s' is not a function.", name)
	}
	t.storeSite(site, target)
	return t.callTarget(f, target, args)
}

// callTarget invokes a resolved call site target.
func (t *Thread) callTarget(f *continuity.Frame, target continuity.Target, args []any) (any, error) {
	p := t.vm.Program()
	switch target.Kind {
	case continuity.TargetMethod:
		recv := receiver(f)
		if len(args) != len(target.Decl.Params) {
			return nil, diagnostics.NoSuchMethodf("Class '%s' has no instance method '%s' with matching arguments.", recv.Class().Name(), target.Decl.Name)
		}
		return t.call(target.Decl, target.Library, target.Class, recv.Class().Program(), recv, args)
	case continuity.TargetStatic:
		if len(args) != len(target.Decl.Params) {
			return nil, diagnostics.NoSuchMethodf("No static method '%s' with matching arguments declared in class '%s'.", target.Decl.Name, target.Class.Name)
		}
		return t.call(target.Decl, target.Library, target.Class, p, nil, args)
	case continuity.TargetFunction:
		if len(args) != len(target.Decl.Params) {
			return nil, diagnostics.NoSuchMethodf("No top-level method '%s' with matching arguments declared.", target.Decl.Name)
		}
		return t.call(target.Decl, target.Library, program.ClassKey{}, p, nil, args)
	case continuity.TargetConstructor:
		return t.construct(target.Owner, args)
	}
	return nil, diagnostics.Undefinedf("unknown call target")
}

// callQualified handles super.m(..), p.f(..), p.C.m(..), C.m(..) and
// calls on the value named by q.
func (t *Thread) callQualified(f *continuity.Frame, q, rest string, args []any) (any, error) {
	if q == config.SuperName {
		recv := receiver(f)
		if recv == nil {
			return nil, diagnostics.Undefinedf("'super' is not available here")
		}
		return t.callObject(f, recv, rest, args, enclosing(f))
	}
	sc := t.scope(f)
	site := continuity.Site{Code: codeID(f), Name: q + "." + rest, Arity: len(args)}
	if sc.HasPrefix(q) {
		head, tail, _ := strings.Cut(rest, ".")
		m, ok := sc.LookupPrefixed(q, head)
		if !ok {
			return nil, diagnostics.NoSuchMethodf("No top-level method '%s.%s' declared.", q, head)
		}
		if tail != "" {
			if m.Kind != program.MemberClass {
				return nil, diagnostics.NoSuchMethodf("No top-level method '%s.%s' declared.", q, rest)
			}
			return t.callStatic(f, site, m.Class, tail, args)
		}
		return t.callDecl(f, site, m, head, args)
	}
	if m, ok := sc.Lookup(q); ok && m.Kind == program.MemberClass {
		if !hasLocal(f, q) {
			return t.callStatic(f, site, m.Class, rest, args)
		}
	}
	v, err := t.resolveName(f, q)
	if err != nil {
		return nil, err
	}
	return t.callMember(f, rest, v, args)
}

// callStatic handles C.m(args). Statics are looked up on C only.
func (t *Thread) callStatic(f *continuity.Frame, site continuity.Site, decl *program.Class, name string, args []any) (any, error) {
	if target, ok := t.lookupSite(site); ok {
		return t.callTarget(f, target, args)
	}
	c := t.current(decl)
	if m := c.Method(name); m != nil && m.Static {
		target := continuity.Target{Kind: continuity.TargetStatic, Library: c.Library, Class: c.Key(), Decl: m, Owner: c}
		t.storeSite(site, target)
		return t.callTarget(f, target, args)
	}
	if s := c.Static(name); s != nil {
		v, err := t.readStatic(f, statics.ClassKey(c.Key(), name), s, c.Library, c.Key())
		if err != nil {
			return nil, err
		}
		return t.callValue(v, args)
	}
	return nil, diagnostics.NoSuchMethodf("No static method '%s' declared in class '%s'.", name, c.Name)
}

// callMember handles recv.name(args).
func (t *Thread) callMember(f *continuity.Frame, name string, recv any, args []any) (any, error) {
	switch r := recv.(type) {
	case *heap.Object:
		return t.callObject(f, r, name, args, program.ClassKey{})
	case *heap.Closure:
		if name == "call" {
			return t.callClosure(r, args)
		}
	case nil:
		return nil, diagnostics.NoSuchMethodf("The method '%s' was called on null.", name)
	}
	if name == config.ToStringName && len(args) == 0 {
		return t.str(recv)
	}
	return nil, diagnostics.NoSuchMethodf("Class '%s' has no instance method '%s'.", typeName(recv), name)
}

// callObject calls an instance member of obj, looked up along the
// linearization of its class after skip.
func (t *Thread) callObject(f *continuity.Frame, obj *heap.Object, name string, args []any, skip program.ClassKey) (any, error) {
	cls := obj.Class()
	site := continuity.Site{Code: codeID(f), Name: name, Arity: len(args), Receiver: cls.ID}
	if skip.IsZero() {
		if target, ok := t.lookupSite(site); ok {
			return t.call(target.Decl, target.Library, target.Class, cls.Program(), obj, args)
		}
	}
	p := cls.Program()
	lin := p.Linearization(cls.Key)
	if !skip.IsZero() {
		lin = after(lin, skip)
	}
	for _, c := range lin {
		if c.Field(name) != nil {
			return t.callField(f, obj, name, args)
		}
		m := c.Method(name)
		if m == nil || m.Static {
			continue
		}
		if m.Getter {
			v, err := t.call(m, c.Library, c.Key(), p, obj, nil)
			if err != nil {
				return nil, err
			}
			return t.callValue(v, args)
		}
		if m.Abstract || len(args) != len(m.Params) {
			break
		}
		if skip.IsZero() {
			t.storeSite(site, continuity.Target{Kind: continuity.TargetMethod, Library: c.Library, Class: c.Key(), Decl: m, Owner: c})
		}
		return t.call(m, c.Library, c.Key(), p, obj, args)
	}
	if skip.IsZero() && cls.Slot(name) >= 0 {
		return t.callField(f, obj, name, args)
	}
	if name == config.ToStringName && len(args) == 0 {
		return t.str(obj)
	}
	return nil, diagnostics.NoSuchMethodf("Class '%s' has no instance method '%s' with matching arguments.", cls.Name(), name)
}

// after returns the classes of lin following skip.
func after(lin []*program.Class, skip program.ClassKey) []*program.Class {
	for i, c := range lin {
		if c.Key() == skip {
			return lin[i+1:]
		}
	}
	return nil
}

func (t *Thread) callField(f *continuity.Frame, obj *heap.Object, name string, args []any) (any, error) {
	v, err := t.readField(f, obj, name)
	if err != nil {
		return nil, err
	}
	return t.callValue(v, args)
}

// callValue calls a closure value.
func (t *Thread) callValue(v any, args []any) (any, error) {
	c, ok := v.(*heap.Closure)
	if !ok {
		return nil, diagnostics.NoSuchMethodf("Class '%s' has no instance method 'call'.", typeName(v))
	}
	return t.callClosure(c, args)
}

// callClosure calls a method reference. The target is looked up again in
// the current program, so a tear-off taken before a reload calls the new
// declaration.
func (t *Thread) callClosure(c *heap.Closure, args []any) (any, error) {
	p := t.vm.Program()
	switch {
	case c.Receiver != nil:
		cls := c.Receiver.Class()
		m, owner := cls.Program().ResolveMethod(cls.Key, c.Name, program.ClassKey{})
		if m == nil || m.Getter || m.Abstract || len(args) != len(m.Params) {
			return nil, diagnostics.NoSuchMethodf("Class '%s' has no instance method '%s' with matching arguments.", cls.Name(), c.Name)
		}
		return t.call(m, owner.Library, owner.Key(), cls.Program(), c.Receiver, args)
	case c.Static:
		decl := p.Class(c.Class)
		var m *program.Function
		if decl != nil {
			m = decl.Method(c.Name)
		}
		if m == nil || !m.Static {
			return nil, diagnostics.NoSuchMethodf("No static method '%s' declared in class '%s'.", c.Name, c.Class.Name)
		}
		if len(args) != len(m.Params) {
			return nil, diagnostics.NoSuchMethodf("Closure call with mismatched arguments: function '%s.%s'", c.Class.Name, c.Name)
		}
		return t.call(m, c.Library, c.Class, p, nil, args)
	default:
		var m *program.Function
		if l := p.Library(c.Library); l != nil {
			m = l.Function(c.Name)
		}
		if m == nil {
			return nil, diagnostics.NoSuchMethodf("No top-level method '%s' declared.", c.Name)
		}
		if len(args) != len(m.Params) {
			return nil, diagnostics.NoSuchMethodf("Closure call with mismatched arguments: function '%s'", c.Name)
		}
		return t.call(m, c.Library, program.ClassKey{}, p, nil, args)
	}
}

// construct instantiates decl as declared in the current program.
func (t *Thread) construct(decl *program.Class, args []any) (*heap.Object, error) {
	c := t.vm.Program().Class(decl.Key())
	if c == nil {
		return nil, diagnostics.NoSuchMethodf("No constructor '%s.' declared in class '%s'.", decl.Name, decl.Name)
	}
	if c.IsEnum {
		return nil, diagnostics.NoSuchMethodf("No constructor '%s.' declared in enum '%s'.", c.Name, c.Name)
	}
	if c.Abstract {
		return nil, diagnostics.Abstractf("Class '%s' is abstract and cannot be instantiated.", c.Name)
	}
	if len(args) != len(c.Constructor) {
		return nil, diagnostics.NoSuchMethodf("No constructor '%s.' with matching arguments declared in class '%s'.", c.Name, c.Name)
	}
	rc := t.vm.identity.Class(c.Key())
	if rc == nil {
		return nil, diagnostics.Undefinedf("class '%s' is not loaded", c.Name)
	}
	obj, err := t.vm.heap.Allocate(rc)
	if err != nil {
		return nil, err
	}
	if err := t.initObject(obj, c, args); err != nil {
		return nil, err
	}
	return obj, nil
}

// initObject stores constructor arguments into their fields and runs the
// initialisers of the other non-late fields.
func (t *Thread) initObject(obj *heap.Object, c *program.Class, args []any) error {
	formals := make(map[string]any, len(args))
	for i, name := range c.Constructor {
		formals[name] = args[i]
	}
	for _, sf := range obj.Class().Layout() {
		if v, ok := formals[sf.Name]; ok {
			if !t.isType(v, sf.Type) {
				return diagnostics.TypeMismatch(typeName(v), sf.Type, sf.Name)
			}
			obj.SetField(sf.Name, v)
			continue
		}
		if sf.Field != nil && sf.Field.Late {
			continue
		}
		if sf.Field != nil && sf.Field.Init != nil {
			if _, err := t.readField(nil, obj, sf.Name); err != nil {
				return err
			}
			continue
		}
		obj.SetField(sf.Name, nil)
	}
	return nil
}

// lookupSite and storeSite consult the dispatch cache for call sites in
// registered code. Calls from the embedding API and Eval have no site.
func (t *Thread) lookupSite(site continuity.Site) (continuity.Target, bool) {
	if site.Code == 0 {
		return continuity.Target{}, false
	}
	return t.cache.Lookup(site)
}

func (t *Thread) storeSite(site continuity.Site, target continuity.Target) {
	if site.Code != 0 {
		t.cache.Store(site, target)
	}
}
