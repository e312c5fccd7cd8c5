package program

import (
	"sort"

	"github.com/funvibe/hotreload/internal/config"
)

// Builtins are the names every expression can call.
var Builtins = []string{
	config.IdenticalFuncName,
	config.ConstantFuncName,
	config.StrFuncName,
	config.ThrowFuncName,
	config.CallFuncName,
	config.ReloadFuncName,
	config.PrintFuncName,
	config.IsFuncName,
}

// Names lists every identifier an expression of this program may use.
// Idents are plain names; Qualified are "Q.N" forms for class statics,
// enum members, prefixed imports and super members.
type Names struct {
	Idents    []string
	Qualified []string
}

// Names collects the identifier sets of the program. The result is cached.
func (p *Program) Names() *Names {
	p.namesOnce.Do(func() { p.names = p.collectNames() })
	return p.names
}

func (p *Program) collectNames() *Names {
	idents := map[string]struct{}{}
	qualified := map[string]struct{}{}
	add := func(set map[string]struct{}, names ...string) {
		for _, n := range names {
			if n != "" {
				set[n] = struct{}{}
			}
		}
	}
	addBody := func(f *Function) {
		add(idents, f.Name)
		add(idents, f.Params...)
		for _, st := range f.Body {
			if st.Op == StepLet || st.Op == StepAssign {
				add(idents, st.Name)
			}
		}
	}

	add(idents, Builtins...)
	add(idents, config.ThisName, config.ToStringName, config.HashCodeName, config.IndexFieldName)

	var instanceMembers []string
	for _, l := range p.Libraries() {
		for _, v := range l.Variables {
			add(idents, v.Name)
		}
		for _, f := range l.Functions {
			addBody(f)
		}
		for _, td := range l.Typedefs {
			add(idents, td.Name)
		}
		for _, imp := range l.Imports {
			if imp.Prefix == "" {
				continue
			}
			add(idents, imp.Prefix)
			for name, m := range p.exportedMembers(imp.URI, map[string]bool{}) {
				if !imp.Admits(name) {
					continue
				}
				add(qualified, imp.Prefix+"."+name)
				if m.Kind == MemberClass {
					for _, n := range classQualifiers(m.Class) {
						add(qualified, imp.Prefix+"."+name+"."+n)
					}
				}
			}
		}
		for _, c := range l.Classes {
			add(idents, c.Name)
			add(idents, c.Constructor...)
			for _, f := range c.Fields {
				add(idents, f.Name)
				instanceMembers = append(instanceMembers, f.Name)
			}
			for _, s := range c.Statics {
				add(idents, s.Name)
			}
			for _, m := range c.Methods {
				addBody(m)
				if !m.Static {
					instanceMembers = append(instanceMembers, m.Name)
				}
			}
			add(idents, c.EnumMembers...)
			for _, n := range classQualifiers(c) {
				add(qualified, c.Name+"."+n)
			}
		}
	}
	instanceMembers = append(instanceMembers, config.ToStringName, config.HashCodeName)
	for _, n := range instanceMembers {
		add(qualified, config.SuperName+"."+n)
	}

	return &Names{Idents: sortedKeys(idents), Qualified: sortedKeys(qualified)}
}

// classQualifiers are the member names reachable as C.name.
func classQualifiers(c *Class) []string {
	var out []string
	for _, s := range c.Statics {
		out = append(out, s.Name)
	}
	for _, m := range c.Methods {
		if m.Static {
			out = append(out, m.Name)
		}
	}
	if c.IsEnum {
		out = append(out, c.EnumMembers...)
		out = append(out, config.ValuesName)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
